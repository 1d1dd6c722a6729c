package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

// subscriberBuffer bounds how far a slow subscriber can lag before events
// are dropped for it; the bus never blocks a publisher on a stalled reader.
const subscriberBuffer = 512

// Bus is the crawl event bus: progress events coalesce on
// an interval, per-URL events batch by size-or-interval into a single
// crawl:url:batch event unless per-URL broadcast is enabled, and a bounded
// history ring lets a subscriber that attaches mid-crawl replay what it
// missed before receiving live events.
type Bus struct {
	cfg    config.TelemetryConfig
	jobID  string
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
	history     []Event

	progressMu sync.Mutex
	pending    *Event
	progressAt *time.Timer

	urlMu      sync.Mutex
	urlBatch   []Event
	urlBatchAt *time.Timer
}

// New constructs a Bus for one crawl job.
func New(cfg config.TelemetryConfig, jobID string, logger *slog.Logger) *Bus {
	return &Bus{
		cfg:         cfg,
		jobID:       jobID,
		logger:      logger.With("component", "telemetry"),
		subscribers: make(map[int]chan Event),
	}
}

// Emit satisfies internal/fetch's EventSink interface, so a *Bus can be
// passed directly as fetch.Options.Events.
func (b *Bus) Emit(event string, fields map[string]any) {
	b.Publish(Event{Type: event, Data: fields})
}

// Publish routes ev through the bus's batching rules and, if it doesn't
// need to wait for a batch window, broadcasts it immediately. Callers may
// leave ID, TimestampMs, SchemaVersion, and JobID unset; Publish fills them.
func (b *Bus) Publish(ev Event) {
	ev.SchemaVersion = SchemaVersion
	if ev.ID == "" {
		ev.ID = primitive.NewObjectID().Hex()
	}
	if ev.TimestampMs == 0 {
		ev.TimestampMs = nowMs()
	}
	if ev.JobID == "" {
		ev.JobID = b.jobID
	}

	switch {
	case ev.Type == TypeProgress:
		b.queueProgress(ev)
	case isURLEvent(ev.Type) && !b.cfg.PerURLBroadcastEnabled:
		b.queueURLBatch(ev)
	default:
		b.broadcast(ev)
	}
}

// queueProgress implements the "latest state wins" coalescing rule: a
// burst of progress events inside one ProgressBatchInterval window
// collapses to a single flush carrying the most recent payload.
func (b *Bus) queueProgress(ev Event) {
	b.progressMu.Lock()
	defer b.progressMu.Unlock()

	b.pending = &ev
	if b.progressAt != nil {
		return
	}
	interval := b.cfg.ProgressBatchInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	b.progressAt = time.AfterFunc(interval, b.flushProgress)
}

func (b *Bus) flushProgress() {
	b.progressMu.Lock()
	pending := b.pending
	b.pending = nil
	b.progressAt = nil
	b.progressMu.Unlock()

	if pending != nil {
		b.broadcast(*pending)
	}
}

// queueURLBatch implements the max-size-or-max-interval batching rule: a
// batch flushes the moment it reaches URLBatchMaxSize, or when
// URLBatchMaxInterval elapses since the first event in the open batch.
func (b *Bus) queueURLBatch(ev Event) {
	b.urlMu.Lock()
	b.urlBatch = append(b.urlBatch, ev)
	maxSize := b.cfg.URLBatchMaxSize
	if maxSize <= 0 {
		maxSize = 50
	}
	full := len(b.urlBatch) >= maxSize
	if !full && b.urlBatchAt == nil {
		interval := b.cfg.URLBatchMaxInterval
		if interval <= 0 {
			interval = 200 * time.Millisecond
		}
		b.urlBatchAt = time.AfterFunc(interval, b.FlushURLBatch)
	}
	b.urlMu.Unlock()

	if full {
		b.FlushURLBatch()
	}
}

// FlushURLBatch emits the pending per-URL events, if any, as one
// crawl:url:batch event and resets the batch window. It is safe to call
// concurrently and safe to call when no batch is pending (a no-op).
func (b *Bus) FlushURLBatch() {
	b.urlMu.Lock()
	batch := b.urlBatch
	b.urlBatch = nil
	if b.urlBatchAt != nil {
		b.urlBatchAt.Stop()
		b.urlBatchAt = nil
	}
	b.urlMu.Unlock()

	if len(batch) == 0 {
		return
	}
	b.broadcast(Event{
		Type:          TypeURLBatch,
		Topic:         "crawl:url",
		SchemaVersion: SchemaVersion,
		ID:            primitive.NewObjectID().Hex(),
		TimestampMs:   nowMs(),
		JobID:         b.jobID,
		Data: map[string]any{
			"count":  len(batch),
			"events": batch,
		},
	})
}

func (b *Bus) broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, ev)
	historySize := b.cfg.HistorySize
	if historySize <= 0 {
		historySize = 200
	}
	if len(b.history) > historySize {
		b.history = b.history[len(b.history)-historySize:]
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("telemetry subscriber buffer full, dropping event", "subscriber", id, "event_type", ev.Type)
		}
	}
}

// Subscribe registers a new listener and atomically replays the bounded
// history into its channel before any subsequent live event can arrive,
// so a late subscriber never sees a gap between "what happened before I
// joined" and "what happens from now on". The returned func unsubscribes
// and must be called to release the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer+len(b.history))
	for _, ev := range b.history {
		ch <- ev
	}

	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// History returns a snapshot copy of the bounded event ring.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// Close flushes any pending batches so no buffered event is lost when a
// crawl ends.
func (b *Bus) Close() {
	b.progressMu.Lock()
	if b.progressAt != nil {
		b.progressAt.Stop()
	}
	pending := b.pending
	b.pending = nil
	b.progressAt = nil
	b.progressMu.Unlock()
	if pending != nil {
		b.broadcast(*pending)
	}
	b.FlushURLBatch()
}
