package throttle

import (
	"sync"
	"time"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

// hostBudget is the rolling-failure-window circuit breaker state for a
// single host.
type hostBudget struct {
	mu            sync.Mutex
	failureTimes  []time.Time
	lockExpiresAt time.Time
}

// Budget tracks per-host failure windows and trips a lockout when a host
// persistently fails. Keyed independently of Manager's rate state because
// the two concerns decay on different clocks.
type Budget struct {
	mu    sync.Mutex
	hosts map[string]*hostBudget
	cfg   *config.Config
}

// NewBudget constructs a Budget manager.
func NewBudget(cfg *config.Config) *Budget {
	return &Budget{hosts: make(map[string]*hostBudget), cfg: cfg}
}

func (b *Budget) stateFor(host string) *hostBudget {
	b.mu.Lock()
	defer b.mu.Unlock()
	hb, ok := b.hosts[host]
	if !ok {
		hb = &hostBudget{}
		b.hosts[host] = hb
	}
	return hb
}

// RecordFailure registers a failed fetch against the host's rolling
// window. 404/410 responses must not be passed here; a gone page says
// nothing about the host's health.
func (b *Budget) RecordFailure(host string) {
	hb := b.stateFor(host)
	hb.mu.Lock()
	defer hb.mu.Unlock()

	now := time.Now()
	hb.failureTimes = append(hb.failureTimes, now)
	hb.failureTimes = ageOut(hb.failureTimes, now, b.cfg.HostBudget.WindowMs)

	if len(hb.failureTimes) >= b.cfg.HostBudget.MaxErrors {
		hb.lockExpiresAt = now.Add(b.cfg.HostBudget.LockoutMs)
	}
}

// RecordSuccess ages out the host's failure window. A success does not
// reset the counter directly — the window itself decays old failures out
// on every read.
func (b *Budget) RecordSuccess(host string) {
	hb := b.stateFor(host)
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.failureTimes = ageOut(hb.failureTimes, time.Now(), b.cfg.HostBudget.WindowMs)
}

// IsLocked implements queue.HostGate: reports whether the host's circuit
// is currently tripped.
func (b *Budget) IsLocked(host string) bool {
	hb := b.stateFor(host)
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if hb.lockExpiresAt.IsZero() {
		return false
	}
	return hb.lockExpiresAt.After(time.Now())
}

// Failures returns the current (window-aged) failure count for a host.
func (b *Budget) Failures(host string) int {
	hb := b.stateFor(host)
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.failureTimes = ageOut(hb.failureTimes, time.Now(), b.cfg.HostBudget.WindowMs)
	return len(hb.failureTimes)
}

// BudgetSnapshot is a point-in-time copy of one host's failure-window
// state, shaped after the persisted host_budget row. The rolling window
// itself (every individual failure timestamp) is not persisted — only
// its aggregate shape.
type BudgetSnapshot struct {
	Host          string
	Failures      int
	WindowStart   time.Time
	LockExpiresAt time.Time
}

// Snapshot returns a copy of every known host's current budget state.
func (b *Budget) Snapshot() []BudgetSnapshot {
	b.mu.Lock()
	hosts := make(map[string]*hostBudget, len(b.hosts))
	for h, hb := range b.hosts {
		hosts[h] = hb
	}
	b.mu.Unlock()

	out := make([]BudgetSnapshot, 0, len(hosts))
	for host, hb := range hosts {
		hb.mu.Lock()
		hb.failureTimes = ageOut(hb.failureTimes, time.Now(), b.cfg.HostBudget.WindowMs)
		var windowStart time.Time
		if len(hb.failureTimes) > 0 {
			windowStart = hb.failureTimes[0]
		}
		out = append(out, BudgetSnapshot{
			Host:          host,
			Failures:      len(hb.failureTimes),
			WindowStart:   windowStart,
			LockExpiresAt: hb.lockExpiresAt,
		})
		hb.mu.Unlock()
	}
	return out
}

// Restore rehydrates budget state from a prior Snapshot. Since only the
// failure count (not each timestamp) survives a checkpoint round-trip,
// restored failures are synthesized at windowStart — conservative in that
// they age out together rather than individually, which only matters in
// the narrow window right after a restart.
func (b *Budget) Restore(snaps []BudgetSnapshot) {
	for _, snap := range snaps {
		hb := b.stateFor(snap.Host)
		hb.mu.Lock()
		hb.failureTimes = hb.failureTimes[:0]
		if snap.Failures > 0 && !snap.WindowStart.IsZero() {
			for i := 0; i < snap.Failures; i++ {
				hb.failureTimes = append(hb.failureTimes, snap.WindowStart)
			}
		}
		hb.lockExpiresAt = snap.LockExpiresAt
		hb.mu.Unlock()
	}
}

// ageOut drops failure timestamps older than windowMs relative to now.
func ageOut(times []time.Time, now time.Time, windowMs time.Duration) []time.Time {
	cutoff := now.Add(-windowMs)
	kept := times[:0:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
