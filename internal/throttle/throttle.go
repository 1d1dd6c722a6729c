// Package throttle implements the per-host adaptive-RPM rate manager
// and failure-budget circuit breaker. Both are keyed by host and
// collaborate to gate the fetch pipeline: the rate manager
// smooths request pacing, the budget manager trips a hard lockout when a
// host is persistently failing.
package throttle

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

const (
	defaultRPM         = 30
	minRPM             = 1
	maxRPM             = 300
	rpmGrowthTrigger   = 100 // consecutive successes before growth
	rpmGrowthFactor    = 1.10
	default429Blackout = 45 * time.Second
)

// hostState is the adaptive-RPM state for a single host.
type hostState struct {
	mu sync.Mutex

	rpm           float64
	limiter       *rate.Limiter
	successStreak int
	err429Streak  int
	isLimited     bool
	backoffUntil  time.Time
	nextRequestAt time.Time
}

func newHostState() *hostState {
	hs := &hostState{
		rpm: defaultRPM,
	}
	hs.limiter = rate.NewLimiter(rate.Limit(defaultRPM)/60, 1)
	return hs
}

// Manager owns per-host throttle state. Safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	hosts map[string]*hostState
	cfg   *config.Config
	rng   *rand.Rand
	rngMu sync.Mutex
}

// New constructs a throttle Manager.
func New(cfg *config.Config) *Manager {
	return &Manager{
		hosts: make(map[string]*hostState),
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *Manager) stateFor(host string) *hostState {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs, ok := m.hosts[host]
	if !ok {
		hs = newHostState()
		m.hosts[host] = hs
	}
	return hs
}

// NextRequestAt implements queue.HostGate.
func (m *Manager) NextRequestAt(host string) time.Time {
	hs := m.stateFor(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.nextRequestAt
}

// BackoffUntil implements queue.HostGate.
func (m *Manager) BackoffUntil(host string) time.Time {
	hs := m.stateFor(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.backoffUntil
}

// Is429Limited implements queue.HostGate.
func (m *Manager) Is429Limited(host string) bool {
	hs := m.stateFor(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.isLimited
}

// AcquireDomainToken blocks until a per-host token is available, or
// returns immediately with ok=false if the host is in backoff. ctx
// cancellation aborts the wait without consuming a token.
func (m *Manager) AcquireDomainToken(ctx context.Context, host string) (ok bool, retryAfterMs int64) {
	hs := m.stateFor(host)

	hs.mu.Lock()
	if !hs.backoffUntil.IsZero() && hs.backoffUntil.After(time.Now()) {
		wait := time.Until(hs.backoffUntil).Milliseconds()
		hs.mu.Unlock()
		return false, wait
	}
	limiter := hs.limiter
	hs.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return false, 0
	}
	return true, 0
}

// RecordSuccess updates a host's throttle state after a successful fetch.
func (m *Manager) RecordSuccess(host string) {
	hs := m.stateFor(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()

	hs.successStreak++
	hs.err429Streak = 0

	if hs.isLimited && hs.successStreak > rpmGrowthTrigger {
		hs.rpm = min(hs.rpm*rpmGrowthFactor, maxRPM)
		hs.limiter.SetLimit(rate.Limit(hs.rpm) / 60)
		hs.successStreak = 0
		hs.isLimited = false
	}

	hs.nextRequestAt = time.Now().Add(time.Duration(60_000/hs.rpm) * time.Millisecond)
}

// RecordRateLimited updates a host's throttle state after a 429
// response. retryAfterMs is the server's Retry-After value in
// milliseconds, or 0 if absent.
func (m *Manager) RecordRateLimited(host string, retryAfterMs int64) {
	hs := m.stateFor(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()

	hs.err429Streak++
	hs.isLimited = true

	blackout := retryAfterMs
	if blackout <= 0 {
		blackout = default429Blackout.Milliseconds()
	}
	if esc := escalationMs(hs.err429Streak); esc > blackout {
		blackout = esc
	}

	jitterRatio := m.jitter(0.10)
	blackout = int64(float64(blackout) * (1 + jitterRatio))

	hs.backoffUntil = time.Now().Add(time.Duration(blackout) * time.Millisecond)
	hs.rpm = max(minRPM, hs.rpm*0.25)
	hs.limiter.SetLimit(rate.Limit(hs.rpm) / 60)
}

// escalationMs returns the minimum blackout duration implied by a
// consecutive 429 streak: at least 5 minutes at 2, 15 minutes at 3+.
func escalationMs(streak int) int64 {
	switch {
	case streak >= 3:
		return (15 * time.Minute).Milliseconds()
	case streak == 2:
		return (5 * time.Minute).Milliseconds()
	default:
		return 0
	}
}

// StateSnapshot is a point-in-time copy of one host's adaptive-RPM
// state, shaped field-for-field after the persisted host_state row so
// internal/engine can persist/restore it through internal/store without
// translation.
type StateSnapshot struct {
	Host          string
	RPM           float64
	NextRequestAt time.Time
	BackoffUntil  time.Time
	Err429Streak  int
	SuccessStreak int
}

// Snapshot returns a copy of every known host's current state, for
// checkpointing.
func (m *Manager) Snapshot() []StateSnapshot {
	m.mu.Lock()
	hosts := make(map[string]*hostState, len(m.hosts))
	for h, hs := range m.hosts {
		hosts[h] = hs
	}
	m.mu.Unlock()

	out := make([]StateSnapshot, 0, len(hosts))
	for host, hs := range hosts {
		hs.mu.Lock()
		out = append(out, StateSnapshot{
			Host:          host,
			RPM:           hs.rpm,
			NextRequestAt: hs.nextRequestAt,
			BackoffUntil:  hs.backoffUntil,
			Err429Streak:  hs.err429Streak,
			SuccessStreak: hs.successStreak,
		})
		hs.mu.Unlock()
	}
	return out
}

// Restore rehydrates host state from a prior Snapshot, e.g. after a
// restart resuming a checkpointed crawl.
func (m *Manager) Restore(snaps []StateSnapshot) {
	for _, snap := range snaps {
		hs := m.stateFor(snap.Host)
		hs.mu.Lock()
		hs.rpm = snap.RPM
		if hs.rpm <= 0 {
			hs.rpm = defaultRPM
		}
		hs.nextRequestAt = snap.NextRequestAt
		hs.backoffUntil = snap.BackoffUntil
		hs.err429Streak = snap.Err429Streak
		hs.successStreak = snap.SuccessStreak
		hs.isLimited = snap.Err429Streak > 0
		hs.limiter.SetLimit(rate.Limit(hs.rpm) / 60)
		hs.mu.Unlock()
	}
}

func (m *Manager) jitter(ratio float64) float64 {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return (m.rng.Float64()*2 - 1) * ratio
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
