// Package headless manages a pool of headless-browser sessions used as the
// fetch pipeline's fallback path for JS-rendered or bot-challenged pages:
// bounded concurrency per browser, session recycling, and crash recovery
// with a degraded-mode cooldown.
package headless

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

// launchFunc starts a browser process and returns its control URL. Replaced
// in tests to avoid spawning a real Chromium.
type launchFunc func() (string, error)

// connectFunc connects to a control URL and returns a usable browser handle.
// Replaced in tests with a fake.
type connectFunc func(controlURL string) (browserHandle, error)

// browserHandle is the subset of *rod.Browser the pool needs, so tests can
// substitute a fake without a real browser process.
type browserHandle interface {
	Page(proto.TargetCreateTarget) (*rod.Page, error)
	Close() error
}

type instance struct {
	mu                sync.Mutex
	browser           browserHandle
	controlURL        string
	createdAt         time.Time
	pagesServed       int
	consecutiveErrors int
	degradedUntil     time.Time
	pageSlots         chan struct{}
}

func (i *instance) isDegraded(now time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return now.Before(i.degradedUntil)
}

// Pool manages MaxBrowsers browser instances, each allowing up to
// MaxPagesPerBrowser concurrent pages.
type Pool struct {
	cfg     config.HeadlessConfig
	logger  *slog.Logger
	launch  launchFunc
	connect connectFunc

	mu        sync.Mutex
	instances []*instance
	rrCursor  int
}

// New launches cfg.MaxBrowsers browser instances and returns a ready Pool.
func New(cfg config.HeadlessConfig, logger *slog.Logger) (*Pool, error) {
	return newWithFuncs(cfg, logger, defaultLaunch, defaultConnect)
}

func newWithFuncs(cfg config.HeadlessConfig, logger *slog.Logger, launch launchFunc, connect connectFunc) (*Pool, error) {
	p := &Pool{
		cfg:     cfg,
		logger:  logger.With("component", "headless_pool"),
		launch:  launch,
		connect: connect,
	}
	if err := p.fillTo(cfg.MaxBrowsers); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func defaultLaunch() (string, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-web-security").
		Set("disable-features", "IsolateOrigins,site-per-process").
		Set("disable-blink-features", "AutomationControlled")
	return l.Launch()
}

func defaultConnect(controlURL string) (browserHandle, error) {
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	return browser, nil
}

func (p *Pool) fillTo(n int) error {
	for len(p.instances) < n {
		inst, err := p.spawn()
		if err != nil {
			return fmt.Errorf("spawn browser %d: %w", len(p.instances), err)
		}
		p.instances = append(p.instances, inst)
	}
	return nil
}

func (p *Pool) spawn() (*instance, error) {
	controlURL, err := p.launch()
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	browser, err := p.connect(controlURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &instance{
		browser:    browser,
		controlURL: controlURL,
		createdAt:  time.Now(),
		pageSlots:  make(chan struct{}, p.cfg.MaxPagesPerBrowser),
	}, nil
}

// Lease is a checked-out page. Callers MUST call Release exactly once,
// typically via defer, regardless of whether the fetch succeeded.
type Lease struct {
	Page *rod.Page
	pool *Pool
	inst *instance
}

// Acquire checks out a page from the next non-degraded instance, in
// round-robin order, that has a free page slot. It blocks until a slot is
// free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	for {
		inst, ok := p.pickInstance()
		if !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(25 * time.Millisecond):
				continue
			}
		}

		select {
		case inst.pageSlots <- struct{}{}:
			page, err := p.newPage(inst)
			if err != nil {
				<-inst.pageSlots
				p.recordError(inst)
				continue
			}
			return &Lease{Page: page, pool: p, inst: inst}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			continue
		}
	}
}

// newPage opens a page on inst, applying stealth patches when the
// underlying handle is a real *rod.Browser; test fakes fall back to a
// plain page.
func (p *Pool) newPage(inst *instance) (*rod.Page, error) {
	if rb, ok := inst.browser.(*rod.Browser); ok && p.cfg.Enabled {
		return stealth.Page(rb)
	}
	return inst.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
}

// pickInstance returns the first non-degraded instance with at least one
// free page slot, scanning round-robin from the instance after the last
// pick. It does not compare how many slots each instance has free.
func (p *Pool) pickInstance() (*instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	n := len(p.instances)
	for i := 0; i < n; i++ {
		idx := (p.rrCursor + i) % n
		inst := p.instances[idx]
		if inst.isDegraded(now) {
			continue
		}
		if len(inst.pageSlots) < cap(inst.pageSlots) {
			p.rrCursor = (idx + 1) % n
			return inst, true
		}
	}
	return nil, false
}

// Release returns a leased page to its instance, recycling the underlying
// browser session if it has aged out or served its page quota, and
// recording the outcome for degraded-mode tracking.
func (l *Lease) Release(failed bool) {
	if l.Page != nil {
		_ = l.Page.Close()
	}
	l.pool.release(l.inst, failed)
}

// release performs the bookkeeping half of Release, split out so tests can
// exercise recycling/degradation logic without a real *rod.Page.
func (p *Pool) release(inst *instance, failed bool) {
	defer func() { <-inst.pageSlots }()

	if failed {
		p.recordError(inst)
	} else {
		p.recordSuccess(inst)
	}

	if p.shouldRecycle(inst) {
		p.recycle(inst)
	}
}

func (p *Pool) recordError(inst *instance) {
	inst.mu.Lock()
	inst.consecutiveErrors++
	trip := inst.consecutiveErrors >= p.cfg.MaxConsecutiveErrors
	if trip {
		inst.degradedUntil = time.Now().Add(p.cfg.DegradedCooldownMs)
	}
	inst.mu.Unlock()
	if trip {
		p.logger.Warn("browser instance degraded", "consecutive_errors", inst.consecutiveErrors, "cooldown", p.cfg.DegradedCooldownMs)
	}
}

func (p *Pool) recordSuccess(inst *instance) {
	inst.mu.Lock()
	inst.consecutiveErrors = 0
	inst.pagesServed++
	inst.mu.Unlock()
}

// shouldRecycle reports whether an instance has exceeded its session age
// or page-activation budget.
func (p *Pool) shouldRecycle(inst *instance) bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if p.cfg.MaxSessionAgeMs > 0 && time.Since(inst.createdAt) >= p.cfg.MaxSessionAgeMs {
		return true
	}
	if p.cfg.RecycleAfterPages > 0 && inst.pagesServed >= p.cfg.RecycleAfterPages {
		return true
	}
	return false
}

func (p *Pool) recycle(old *instance) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fresh, err := p.spawn()
	if err != nil {
		p.logger.Warn("failed to recycle browser instance, keeping old one", "error", err)
		return
	}
	for i, inst := range p.instances {
		if inst == old {
			p.instances[i] = fresh
			break
		}
	}
	_ = old.browser.Close()
	p.logger.Info("recycled browser instance", "pages_served", old.pagesServed, "age", time.Since(old.createdAt))
}

// HealthCheck probes every degraded instance and restarts ones whose
// cooldown has elapsed but which still fail a trivial page-open check.
// Intended to be run on config.HeadlessConfig.HealthCheckIntervalMs.
func (p *Pool) HealthCheck(ctx context.Context) {
	p.mu.Lock()
	snapshot := append([]*instance(nil), p.instances...)
	p.mu.Unlock()

	now := time.Now()
	for _, inst := range snapshot {
		inst.mu.Lock()
		degraded := now.Before(inst.degradedUntil)
		cooldownElapsed := !inst.degradedUntil.IsZero() && !degraded
		inst.mu.Unlock()
		if !cooldownElapsed {
			continue
		}
		page, err := inst.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			p.recycle(inst)
			continue
		}
		_ = page.Close()
		inst.mu.Lock()
		inst.consecutiveErrors = 0
		inst.degradedUntil = time.Time{}
		inst.mu.Unlock()
	}
}

// RunHealthLoop runs HealthCheck on cfg.HealthCheckIntervalMs until ctx is
// done.
func (p *Pool) RunHealthLoop(ctx context.Context) {
	interval := p.cfg.HealthCheckIntervalMs
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.HealthCheck(ctx)
		}
	}
}

// Close shuts down every browser instance in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, inst := range p.instances {
		if inst.browser == nil {
			continue
		}
		if err := inst.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.instances = nil
	return firstErr
}
