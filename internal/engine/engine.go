// Package engine implements the crawl orchestrator: a bounded worker
// pool pulling from internal/queue, running each item through
// internal/fetch and internal/classifier, persisting results via
// internal/store, and reporting progress via internal/telemetry.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ishaanstalk/newscrawler/internal/cache"
	"github.com/ishaanstalk/newscrawler/internal/classifier"
	"github.com/ishaanstalk/newscrawler/internal/config"
	"github.com/ishaanstalk/newscrawler/internal/fetch"
	"github.com/ishaanstalk/newscrawler/internal/headless"
	"github.com/ishaanstalk/newscrawler/internal/queue"
	"github.com/ishaanstalk/newscrawler/internal/store"
	"github.com/ishaanstalk/newscrawler/internal/telemetry"
	"github.com/ishaanstalk/newscrawler/internal/throttle"
	"github.com/ishaanstalk/newscrawler/internal/urlutil"
)

// Phase is the crawl lifecycle phase reported via crawl:phase:changed.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhasePlanning     Phase = "planning"
	PhaseDiscovering  Phase = "discovering"
	PhaseCrawling     Phase = "crawling"
	PhaseProcessing   Phase = "processing"
	PhaseFinalizing   Phase = "finalizing"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
	PhasePaused       Phase = "paused"
	PhaseStopped      Phase = "stopped"
)

// state is the engine's internal lifecycle gate, distinct from the
// externally-reported Phase: it only needs enough granularity to decide
// which transitions are legal.
type state int32

const (
	stateIdle state = iota
	stateRunning
	statePaused
	stateStopping
	stateStopped
)

// Stats tracks crawl statistics as lock-free atomic counters.
type Stats struct {
	URLsVisited     atomic.Int64
	URLsFailed      atomic.Int64
	URLsSkipped     atomic.Int64
	URLsEnqueued    atomic.Int64
	BytesDownloaded atomic.Int64
	ActiveWorkers   atomic.Int32
	StartTime       time.Time
}

// Snapshot returns a copy of stats safe for reading, keyed the way
// internal/telemetry's crawl:progress event data is shaped.
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"urlsVisited":     s.URLsVisited.Load(),
		"urlsFailed":      s.URLsFailed.Load(),
		"urlsSkipped":     s.URLsSkipped.Load(),
		"urlsEnqueued":    s.URLsEnqueued.Load(),
		"bytesDownloaded": s.BytesDownloaded.Load(),
		"activeWorkers":   s.ActiveWorkers.Load(),
		"elapsed":         time.Since(s.StartTime).String(),
	}
}

// Engine is the crawl orchestrator.
type Engine struct {
	cfg    *config.Config
	live   *config.LiveConfig
	logger *slog.Logger

	queue      *queue.Manager
	rate       *throttle.Manager
	budget     *throttle.Budget
	gate       *throttle.Gate
	cache      *cache.Cache
	pipeline   *fetch.Pipeline
	classifier *classifier.Classifier
	headless   *headless.Pool
	store      *store.Store // may be nil: persistence is optional
	bus        *telemetry.Bus
	jobID      string

	state atomic.Int32
	phase atomic.Value // Phase
	stats *Stats

	stoppedOnce sync.Once

	ctx        context.Context
	cancel     context.CancelFunc
	hardCtx    context.Context
	hardCancel context.CancelFunc
	wg         sync.WaitGroup

	lastProgress atomic.Int64 // unix nanos, updated on every dispatched item
	paused       atomic.Bool
	resumeCh     chan struct{}
	resumeMu     sync.Mutex
}

// Options bundles the components New wires into an Engine. Store and
// Headless are optional (nil-able) to keep the constructor usable without
// a live Mongo instance or headless browser during tests. New builds the
// telemetry Bus itself.
type Options struct {
	Cfg      *config.Config
	Live     *config.LiveConfig
	Logger   *slog.Logger
	JobID    string
	Store    *store.Store
	Headless *headless.Pool
	Tree     *classifier.Tree
}

// New constructs an Engine and wires every subsystem: queue, throttle
// gate, cache, fetch pipeline, classifier, and telemetry bus.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	jobID := opts.JobID
	if jobID == "" {
		jobID = fmt.Sprintf("job-%d", time.Now().UnixNano())
	}

	bus := telemetry.New(opts.Cfg.Telemetry, jobID, logger)

	var durable cache.DurableStore
	if opts.Store != nil {
		durable = opts.Store
	}
	cacheLayer := cache.New(opts.Cfg.Cache, durable)

	rate := throttle.New(opts.Cfg)
	budget := throttle.NewBudget(opts.Cfg)
	gate := throttle.NewGate(rate, budget, cacheLayer.HasFreshEntry)

	q := queue.New(opts.Cfg, gate)

	var headlessFetcher fetch.HeadlessFetcher
	if opts.Headless != nil {
		headlessFetcher = headless.NewFetcher(opts.Headless, opts.Cfg.Headless, logger)
	}

	var validator fetch.ContentValidator
	if opts.Live != nil {
		validator = classifier.NewSignatureValidator(opts.Live)
	} else {
		validator = classifier.NewStaticSignatureValidator(opts.Cfg.Classifier)
	}

	var global fetch.GlobalLimiter
	if gl := newGlobalLimiter(opts.Cfg.Engine.RateLimitMs); gl != nil {
		global = gl
	}

	pipeline := fetch.New(fetch.Options{
		Cfg:       opts.Cfg,
		Cache:     cacheLayer,
		Throttle:  rate,
		Budget:    budget,
		Global:    global,
		Validator: validator,
		Headless:  headlessFetcher,
		Events:    bus,
		Logger:    logger,
	})

	classifierEngine := classifier.New(opts.Tree, opts.Live, headlessFetcher, logger)

	e := &Engine{
		cfg:        opts.Cfg,
		live:       opts.Live,
		logger:     logger,
		queue:      q,
		rate:       rate,
		budget:     budget,
		gate:       gate,
		cache:      cacheLayer,
		pipeline:   pipeline,
		classifier: classifierEngine,
		headless:   opts.Headless,
		store:      opts.Store,
		bus:        bus,
		jobID:      jobID,
		stats:      &Stats{},
		resumeCh:   make(chan struct{}),
	}
	e.phase.Store(PhaseIdle)
	return e
}

// Bus exposes the telemetry bus so a caller can attach an SSE server or
// subscribe directly.
func (e *Engine) Bus() *telemetry.Bus { return e.bus }

// JobID returns this engine's telemetry job identifier.
func (e *Engine) JobID() string { return e.jobID }

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(p)
	e.bus.Publish(telemetry.Event{Type: telemetry.TypePhaseChanged, Data: map[string]any{"phase": string(p)}})
}

// GetPhase returns the current crawl phase.
func (e *Engine) GetPhase() Phase {
	return e.phase.Load().(Phase)
}

// GetStats returns a snapshot of crawl statistics.
func (e *Engine) GetStats() map[string]any {
	return e.stats.Snapshot()
}

// Seed adds a seed URL to the crawl frontier at depth 0, highest priority.
func (e *Engine) Seed(rawURL string) error {
	normalized, err := urlutil.Normalize(rawURL)
	if err != nil {
		return err
	}
	host := urlutil.Host(normalized)
	zero := int64(0)
	res := e.queue.Enqueue(queue.EnqueueRequest{
		URL: normalized, Host: host, Depth: 0, Kind: queue.KindHubSeed, Priority: &zero,
	})
	if !res.Enqueued {
		return fmt.Errorf("seed not enqueued: %s", res.Reason)
	}
	e.stats.URLsEnqueued.Add(1)
	e.bus.Publish(telemetry.Event{Type: telemetry.TypeURLQueued, Data: map[string]any{"url": normalized, "kind": string(queue.KindHubSeed)}})
	return nil
}

// Start begins crawling: the worker pool, stall watchdog, periodic
// checkpointing (if a store is wired), and the headless pool's health
// loop (if a pool is wired).
func (e *Engine) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(stateIdle), int32(stateRunning)) {
		return fmt.Errorf("engine already started")
	}

	e.setPhase(PhaseInitializing)
	e.stats.StartTime = time.Now()
	e.lastProgress.Store(time.Now().UnixNano())

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.hardCtx, e.hardCancel = context.WithCancel(context.Background())

	if e.store != nil {
		e.restoreCheckpoint(e.ctx)
	}

	e.bus.Publish(telemetry.Event{Type: telemetry.TypeCrawlStarted, Data: map[string]any{"jobId": e.jobID}})
	e.setPhase(PhaseDiscovering)

	concurrency := e.cfg.Engine.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	e.wg.Add(1)
	go e.runWorkers(e.ctx, concurrency)

	e.wg.Add(1)
	go e.runStallWatchdog(e.ctx)

	if e.store != nil && e.cfg.Store.CheckpointInterval > 0 {
		e.wg.Add(1)
		go e.runCheckpointLoop(e.ctx)
	}

	if e.headless != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.headless.RunHealthLoop(e.ctx)
		}()
	}

	return nil
}

// Wait blocks until the crawl finishes (worker pool drains the queue or
// the engine is stopped), then tears down background goroutines.
func (e *Engine) Wait() {
	e.wg.Wait()
	aborted := e.state.Load() == int32(stateStopping)
	e.state.Store(int32(stateStopped))
	if e.headless != nil {
		if err := e.headless.Close(); err != nil {
			e.logger.Error("headless pool close error", "error", err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error("store close error", "error", err)
		}
	}
	if aborted {
		e.emitStopped(PhaseStopped)
	} else {
		e.emitStopped(PhaseCompleted)
	}
}

// Stop requests a graceful abort: no new pulls
// start, in-flight fetches observe ctx cancellation at their next
// suspension point, and no queued item is dispatched after the request.
// The queue is not emptied: its items stay in place, so the final
// checkpoint still records them. If the grace period elapses before
// workers finish, Stop hard-cancels.
func (e *Engine) Stop() {
	if !e.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)) &&
		!e.state.CompareAndSwap(int32(statePaused), int32(stateStopping)) {
		return
	}
	e.logger.Info("engine stopping")
	e.setPhase(PhaseFinalizing)
	e.cancel()

	grace := e.cfg.Engine.ShutdownGraceMs
	if grace <= 0 {
		grace = 10 * time.Second
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		e.logger.Warn("shutdown grace period elapsed, hard stopping")
		e.hardCancel()
		<-done
	}
}

// Pause suspends the worker pool without cancelling in-flight fetches.
func (e *Engine) Pause() {
	if e.state.CompareAndSwap(int32(stateRunning), int32(statePaused)) {
		e.paused.Store(true)
		e.setPhase(PhasePaused)
		e.bus.Publish(telemetry.Event{Type: telemetry.TypeCrawlPaused})
	}
}

// Resume resumes a paused engine.
func (e *Engine) Resume() {
	if e.state.CompareAndSwap(int32(statePaused), int32(stateRunning)) {
		e.paused.Store(false)
		e.resumeMu.Lock()
		close(e.resumeCh)
		e.resumeCh = make(chan struct{})
		e.resumeMu.Unlock()
		e.setPhase(PhaseCrawling)
		e.bus.Publish(telemetry.Event{Type: telemetry.TypeCrawlResumed})
	}
}

// emitStopped publishes the crawl's terminal events exactly once,
// regardless of how many callers race to tear the engine down: a
// crawl:completed on a natural drain, then crawl:stopped either way.
func (e *Engine) emitStopped(finalPhase Phase) {
	e.stoppedOnce.Do(func() {
		e.setPhase(finalPhase)
		if finalPhase == PhaseCompleted {
			e.bus.Publish(telemetry.Event{Type: telemetry.TypeCrawlCompleted, Data: map[string]any{"stats": e.stats.Snapshot()}})
		}
		e.bus.Publish(telemetry.Event{Type: telemetry.TypeCrawlStopped, Data: map[string]any{"stats": e.stats.Snapshot()}})
		e.bus.Close()
	})
}
