package engine

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ishaanstalk/newscrawler/internal/queue"
	"github.com/ishaanstalk/newscrawler/internal/store"
	"github.com/ishaanstalk/newscrawler/internal/telemetry"
	"github.com/ishaanstalk/newscrawler/internal/throttle"
)

// runCheckpointLoop periodically persists the crawl's resumable state
// (queue snapshot, visited set, per-host throttle/budget state, stats) to
// internal/store.
func (e *Engine) runCheckpointLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.cfg.Store.CheckpointInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.saveCheckpoint(e.hardCtx)
			return
		case <-ticker.C:
			e.saveCheckpoint(ctx)
		}
	}
}

// saveCheckpoint snapshots the queue (non-destructive — items stay
// enqueued) and per-host throttle/budget state and upserts them.
func (e *Engine) saveCheckpoint(ctx context.Context) {
	items := e.queue.Snapshot()
	blob, err := bson.Marshal(bson.M{"items": items})
	if err != nil {
		e.logger.Error("checkpoint: marshal queue snapshot failed", "error", err)
		return
	}

	rec := store.CheckpointRecord{
		JobID:         e.jobID,
		SavedAt:       time.Now(),
		QueueSnapshot: bson.Raw(blob),
		VisitedSet:    e.queue.Seen(),
		Stats: map[string]int64{
			"urlsVisited":     e.stats.URLsVisited.Load(),
			"urlsFailed":      e.stats.URLsFailed.Load(),
			"urlsSkipped":     e.stats.URLsSkipped.Load(),
			"urlsEnqueued":    e.stats.URLsEnqueued.Load(),
			"bytesDownloaded": e.stats.BytesDownloaded.Load(),
		},
	}
	if err := e.store.SaveCheckpoint(ctx, rec); err != nil {
		e.logger.Error("checkpoint: save failed", "error", err)
		return
	}

	for _, snap := range e.rate.Snapshot() {
		if err := e.store.PutHostState(ctx, store.HostStateRecord{
			Host: snap.Host, RPM: snap.RPM, NextRequestAt: snap.NextRequestAt,
			BackoffUntil: snap.BackoffUntil, Err429Streak: snap.Err429Streak, SuccessStreak: snap.SuccessStreak,
		}); err != nil {
			e.logger.Error("checkpoint: save host state failed", "host", snap.Host, "error", err)
		}
	}
	for _, snap := range e.budget.Snapshot() {
		if err := e.store.PutHostBudget(ctx, store.HostBudgetRecord{
			Host: snap.Host, Failures: snap.Failures, WindowStart: snap.WindowStart, LockExpiresAt: snap.LockExpiresAt,
		}); err != nil {
			e.logger.Error("checkpoint: save host budget failed", "host", snap.Host, "error", err)
		}
	}

	e.bus.Publish(telemetry.Event{Type: telemetry.TypeCheckpointSaved, Data: map[string]any{"jobId": e.jobID, "queueSize": len(items)}})
}

// restoreCheckpoint loads a prior checkpoint (if any) for this job ID and
// rehydrates the queue and throttle/budget state before the worker pool
// starts pulling.
func (e *Engine) restoreCheckpoint(ctx context.Context) {
	rec, ok, err := e.store.LoadCheckpoint(ctx, e.jobID)
	if err != nil {
		e.logger.Error("checkpoint: load failed", "error", err)
		return
	}
	if !ok {
		return
	}

	var decoded struct {
		Items []queue.Item `bson:"items"`
	}
	if err := bson.Unmarshal(rec.QueueSnapshot, &decoded); err != nil {
		e.logger.Error("checkpoint: decode queue snapshot failed", "error", err)
	} else {
		e.queue.Restore(decoded.Items)
	}

	hostStates, err := e.store.AllHostStates(ctx)
	if err != nil {
		e.logger.Error("checkpoint: load host states failed", "error", err)
	} else {
		snaps := make([]throttle.StateSnapshot, 0, len(hostStates))
		for _, hs := range hostStates {
			snaps = append(snaps, throttle.StateSnapshot{
				Host: hs.Host, RPM: hs.RPM, NextRequestAt: hs.NextRequestAt,
				BackoffUntil: hs.BackoffUntil, Err429Streak: hs.Err429Streak, SuccessStreak: hs.SuccessStreak,
			})
		}
		e.rate.Restore(snaps)
	}

	hostBudgets, err := e.store.AllHostBudgets(ctx)
	if err != nil {
		e.logger.Error("checkpoint: load host budgets failed", "error", err)
	} else {
		snaps := make([]throttle.BudgetSnapshot, 0, len(hostBudgets))
		for _, hb := range hostBudgets {
			snaps = append(snaps, throttle.BudgetSnapshot{
				Host: hb.Host, Failures: hb.Failures, WindowStart: hb.WindowStart, LockExpiresAt: hb.LockExpiresAt,
			})
		}
		e.budget.Restore(snaps)
	}

	for k, v := range rec.Stats {
		switch k {
		case "urlsVisited":
			e.stats.URLsVisited.Store(v)
		case "urlsFailed":
			e.stats.URLsFailed.Store(v)
		case "urlsSkipped":
			e.stats.URLsSkipped.Store(v)
		case "urlsEnqueued":
			e.stats.URLsEnqueued.Store(v)
		case "bytesDownloaded":
			e.stats.BytesDownloaded.Store(v)
		}
	}

	e.bus.Publish(telemetry.Event{Type: telemetry.TypeCheckpointRestored, Data: map[string]any{"jobId": e.jobID, "queueSize": len(decoded.Items)}})
}
