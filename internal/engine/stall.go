package engine

import (
	"context"
	"time"

	"github.com/ishaanstalk/newscrawler/internal/telemetry"
)

// stallCheckInterval is how often the watchdog compares lastProgress
// against the stall threshold.
const stallCheckInterval = 2 * time.Second

// runStallWatchdog detects a stalled crawl: if no item is
// dispatched for StallThreshold, it emits a structured crawl:stalled
// diagnostic event. It never stops the crawl itself — that decision is
// left to whatever is consuming the telemetry stream (cmd/newscrawler,
// an operator, an external controller).
func (e *Engine) runStallWatchdog(ctx context.Context) {
	defer e.wg.Done()

	threshold := e.cfg.Engine.StallThreshold
	if threshold <= 0 {
		return
	}

	ticker := time.NewTicker(stallCheckInterval)
	defer ticker.Stop()

	stalled := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idleFor := time.Since(time.Unix(0, e.lastProgress.Load()))
			switch {
			case idleFor >= threshold && !stalled:
				stalled = true
				e.logger.Warn("crawl stalled", "idle_for", idleFor)
				e.bus.Publish(telemetry.Event{
					Type: telemetry.TypeStalled,
					Data: map[string]any{"idleForMs": idleFor.Milliseconds(), "stats": e.stats.Snapshot()},
				})
			case idleFor < threshold && stalled:
				stalled = false
			}
		}
	}
}
