package engine

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/ishaanstalk/newscrawler/internal/classifier"
	"github.com/ishaanstalk/newscrawler/internal/fetch"
	"github.com/ishaanstalk/newscrawler/internal/queue"
	"github.com/ishaanstalk/newscrawler/internal/retry"
	"github.com/ishaanstalk/newscrawler/internal/telemetry"
	"github.com/ishaanstalk/newscrawler/internal/urlutil"
)

// pollInterval is how often an idle worker retries PullNext when the
// queue reported no immediately-eligible item.
const pollInterval = 50 * time.Millisecond

// idleWakeCap bounds how long a worker sleeps waiting on a host's
// next-eligible-at time before re-checking the queue and ctx.
const idleWakeCap = 200 * time.Millisecond

// idleRoundsBeforeExit is how many consecutive fully-idle PullNext polls
// (no item, no pending wake time) a worker waits out before concluding the
// frontier is drained and returning. Several rounds, not one, avoids a
// worker exiting on a transient gap while a sibling worker is mid-dispatch
// and about to enqueue more work.
const idleRoundsBeforeExit = 5

// runWorkers launches the bounded worker pool — at most concurrency
// fetch pipelines run at once — using golang.org/x/sync/errgroup for
// fan-out, then waits for every worker to either drain the frontier or
// observe ctx cancellation.
func (e *Engine) runWorkers(ctx context.Context, concurrency int) {
	defer e.wg.Done()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		workerID := i
		g.Go(func() error {
			e.worker(gctx, workerID)
			return nil
		})
	}
	_ = g.Wait()

	// Frontier drained (or ctx cancelled): cancel the engine context so
	// the watchdog and checkpoint loops exit and Wait can return.
	e.cancel()
}

// worker pulls items from the queue and dispatches them until the queue
// is exhausted (no item and no pending wake time, confirmed over several
// consecutive idle checks) or ctx is cancelled.
func (e *Engine) worker(ctx context.Context, id int) {
	logger := e.logger.With("worker_id", id)
	idleStreak := 0

	for {
		if ctx.Err() != nil {
			return
		}

		e.waitIfPaused(ctx)
		if ctx.Err() != nil {
			return
		}

		pull := e.queue.PullNext()
		if pull.Item == nil {
			if pull.WakeAt.IsZero() {
				idleStreak++
				if idleStreak >= idleRoundsBeforeExit {
					return
				}
			} else {
				idleStreak = 0
			}
			e.sleepUntilOrCancel(ctx, pull.WakeAt)
			continue
		}
		idleStreak = 0

		if pull.HostLocked {
			e.stats.URLsSkipped.Add(1)
			e.bus.Publish(telemetry.Event{Type: telemetry.TypeURLSkipped, Data: map[string]any{"url": pull.Item.URL, "reason": "host-locked"}})
			continue
		}

		e.stats.ActiveWorkers.Add(1)
		e.dispatch(ctx, logger, pull.Item)
		e.stats.ActiveWorkers.Add(-1)
		e.lastProgress.Store(time.Now().UnixNano())
		e.bus.Publish(telemetry.Event{Type: telemetry.TypeProgress, Data: e.stats.Snapshot()})

		if e.cfg.Engine.MaxDownloads > 0 && e.stats.URLsVisited.Load() >= int64(e.cfg.Engine.MaxDownloads) {
			logger.Info("max downloads reached, stopping")
			go e.Stop()
			return
		}
	}
}

// waitIfPaused blocks a worker goroutine while the engine is paused,
// waking on Resume or ctx cancellation.
func (e *Engine) waitIfPaused(ctx context.Context) {
	if !e.paused.Load() {
		return
	}
	e.resumeMu.Lock()
	ch := e.resumeCh
	e.resumeMu.Unlock()
	select {
	case <-ctx.Done():
	case <-ch:
	}
}

func (e *Engine) sleepUntilOrCancel(ctx context.Context, wakeAt time.Time) {
	var wait time.Duration
	if wakeAt.IsZero() {
		wait = pollInterval
	} else {
		wait = time.Until(wakeAt)
		if wait <= 0 {
			return
		}
		if wait > idleWakeCap {
			wait = idleWakeCap
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// dispatch runs the fetch→classify→discover sequence for a single item.
func (e *Engine) dispatch(ctx context.Context, logger *slog.Logger, item *queue.Item) {
	logger = logger.With("url", item.URL, "kind", item.Kind, "depth", item.Depth)

	rc := retry.Context{AttemptIndex: 0, MaxAttempts: e.cfg.Retry.MaxAttempts}
	result := e.pipeline.Fetch(ctx, item.URL, string(item.Kind), rc)

	switch result.Status {
	case fetch.StatusSuccess, fetch.StatusNotModified:
		e.stats.URLsVisited.Add(1)
		e.stats.BytesDownloaded.Add(result.Timing.BytesDownloaded)
	case fetch.StatusHostLocked:
		e.stats.URLsSkipped.Add(1)
		e.queue.Forget(item.URL)
		return
	case fetch.StatusSkipped:
		e.stats.URLsSkipped.Add(1)
		return
	default:
		e.stats.URLsFailed.Add(1)
		logger.Warn("fetch failed permanently", "error", result.Err)
		return
	}

	if len(result.Body) == 0 {
		return
	}

	verdict := e.classifier.Classify(ctx, item.URL, result.Body, classifier.ClassifyOptions{})
	logger.Debug("classified", "label", verdict.Label, "confidence", verdict.Confidence)

	e.discoverLinks(item, result.Body)
}

// discoverLinks extracts outbound links from a fetched page and enqueues
// them as depth+1 discovery work. Children are
// enqueued with the default kind; the classifier re-evaluates each once
// it is actually fetched rather than trusting the parent's guess.
func (e *Engine) discoverLinks(item *queue.Item, body []byte) {
	links := extractLinks(item.URL, body)
	for _, link := range links {
		normalized, err := urlutil.Normalize(link)
		if err != nil {
			continue
		}
		host := urlutil.Host(normalized)
		res := e.queue.Enqueue(queue.EnqueueRequest{
			URL: normalized, Host: host, Depth: item.Depth + 1, Kind: queue.KindDefault,
			Meta: queue.Meta{DiscoveryMethod: "link"},
		})
		switch {
		case res.Enqueued:
			e.stats.URLsEnqueued.Add(1)
			e.bus.Publish(telemetry.Event{Type: telemetry.TypeURLQueued, Data: map[string]any{"url": normalized, "parent": item.URL}})
		case res.Reason == "queue-full" || res.Reason == "ineligible":
			e.bus.Publish(telemetry.Event{Type: telemetry.TypeURLSkipped, Data: map[string]any{"url": normalized, "reason": res.Reason}})
		}
	}
}

// extractLinks parses HTML with goquery and resolves every <a href> to an
// absolute http(s) URL against baseURL.
func extractLinks(baseURL string, body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		links = append(links, resolved.String())
	})
	return links
}
