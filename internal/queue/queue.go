// Package queue implements the bounded, deduplicated, priority-ordered
// work queue that sits between discovery (link extraction) and
// acquisition (fetch) in the crawl engine.
//
// Two logical queues are maintained — discovery (hub, nav, default,
// hub-seed kinds) and acquisition (article, refresh, history kinds) —
// each a min-heap keyed by priority (lower value = more urgent), with
// enqueuedAt then a monotonic sequence number as tiebreakers.
package queue

import (
	"container/heap"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

// Kind identifies the category of a queued item, which in turn decides
// which of the two logical queues it belongs to.
type Kind string

const (
	KindArticle Kind = "article"
	KindRefresh Kind = "refresh"
	KindHistory Kind = "history"
	KindHub     Kind = "hub"
	KindHubSeed Kind = "hub-seed"
	KindNav     Kind = "nav"
	KindDefault Kind = "default"
)

func isAcquisition(k Kind) bool {
	switch k {
	case KindArticle, KindRefresh, KindHistory:
		return true
	default:
		return false
	}
}

// Meta carries the scoring inputs and bookkeeping data attached to an item.
type Meta struct {
	DiscoveryMethod string
	EstimatedCostMs float64
	Country         string
	CountryRelated  bool
	Tokens          []string
	DeferredUntil   time.Time
	ForceCache      bool
}

// Item is a unit of scheduled work.
type Item struct {
	URL      string
	Host     string
	Depth    int
	Kind     Kind
	Meta     Meta
	Priority int64

	enqueuedAt time.Time
	seq        uint64
	index      int
}

// EnqueueRequest is the input to Enqueue.
type EnqueueRequest struct {
	URL      string
	Host     string
	Depth    int
	Kind     Kind
	Meta     Meta
	Priority *int64 // caller-supplied priority overrides the formula when non-nil
}

// EnqueueResult is the output of Enqueue.
type EnqueueResult struct {
	Enqueued bool
	Reason   string // invalid-url, queue-full, max-depth, ineligible, duplicate
	Priority int64
}

// PullResult is the output of PullNext.
type PullResult struct {
	Item   *Item
	WakeAt time.Time // zero if an item was returned
	// HostLocked signals the pulled item's host tripped the budget circuit;
	// the caller should not fetch it and may re-enqueue later.
	HostLocked bool
}

// HostGate answers scheduling questions about a host's throttle/budget
// state. The queue never owns this state; it's implemented by
// internal/throttle and injected so PullNext can apply its scheduling
// rules without a hard package dependency.
type HostGate interface {
	// NextRequestAt returns the time a request to host may proceed.
	NextRequestAt(host string) time.Time
	// BackoffUntil returns the time a host's 429 backoff clears, zero if none.
	BackoffUntil(host string) time.Time
	// Is429Limited reports whether the host is currently rate-limited.
	Is429Limited(host string) bool
	// IsLocked reports whether the host's budget circuit is tripped.
	IsLocked(host string) bool
	// HasFreshCache reports whether a non-stale cache entry exists for url.
	HasFreshCache(url string) bool
}

// EligibilityPolicy vetoes enqueue requests (allow-lists, robots
// verdicts fed in from outside, operator URL filters). A nil policy
// admits everything.
type EligibilityPolicy func(req EnqueueRequest) bool

// ScorerHooks are optional pluggable bonuses in the priority formula.
// A nil hook contributes zero.
type ScorerHooks struct {
	GapPredictionBonus  func(url string) int64
	ClusterBoost        func(url string) int64
	KnowledgeReuseBonus func(meta Meta) int64
}

const (
	maxPriority = 1_000_000_000
	minPriority = -1_000_000_000

	countryFloor = 5_000_000
)

// Manager is the thread-safe, bounded, deduplicated priority queue.
type Manager struct {
	mu sync.Mutex

	cfg    *config.Config
	hosts  HostGate
	hooks  ScorerHooks
	policy EligibilityPolicy

	discovery   itemHeap
	acquisition itemHeap
	seen        map[string]struct{} // normalized URL -> present (dedup across both queues + in-flight)

	seqCounter uint64
	lastQueue  string // which logical queue was served last, for ratio alternation
	burstCount int

	maxQueue int
}

// New constructs a Manager. hosts and hooks may be swapped later via SetHostGate/SetHooks.
func New(cfg *config.Config, hosts HostGate) *Manager {
	m := &Manager{
		cfg:      cfg,
		hosts:    hosts,
		seen:     make(map[string]struct{}),
		maxQueue: cfg.Engine.MaxQueue,
	}
	heap.Init(&m.discovery)
	heap.Init(&m.acquisition)
	return m
}

// SetHooks installs optional scorer hooks.
func (m *Manager) SetHooks(h ScorerHooks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = h
}

// SetPolicy installs an eligibility policy consulted on every Enqueue.
func (m *Manager) SetPolicy(p EligibilityPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = p
}

// Enqueue adds an item to the appropriate logical queue, computing its
// priority unless the caller supplied one.
func (m *Manager) Enqueue(req EnqueueRequest) EnqueueResult {
	if req.URL == "" {
		return EnqueueResult{Reason: "invalid-url"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.seen[req.URL]; dup {
		return EnqueueResult{Reason: "duplicate"}
	}

	if m.discovery.Len()+m.acquisition.Len() >= m.maxQueue {
		return EnqueueResult{Reason: "queue-full"}
	}

	if req.Depth > m.cfg.Engine.MaxDepth && !shouldBypassDepth(req.Kind) {
		return EnqueueResult{Reason: "max-depth"}
	}

	if m.policy != nil && !m.policy(req) {
		return EnqueueResult{Reason: "ineligible"}
	}

	priority := m.priorityFor(req)

	item := &Item{
		URL:        req.URL,
		Host:       req.Host,
		Depth:      req.Depth,
		Kind:       req.Kind,
		Meta:       req.Meta,
		Priority:   priority,
		enqueuedAt: now(),
		seq:        m.nextSeq(),
	}

	m.seen[req.URL] = struct{}{}
	if isAcquisition(req.Kind) {
		heap.Push(&m.acquisition, item)
	} else {
		heap.Push(&m.discovery, item)
	}

	return EnqueueResult{Enqueued: true, Priority: priority}
}

// shouldBypassDepth allows certain kinds (refresh of already-known
// articles, operator-seeded hubs) to exceed max depth.
func shouldBypassDepth(k Kind) bool {
	return k == KindRefresh || k == KindHubSeed
}

// priorityFor computes an item's scheduling priority (lower = sooner).
func (m *Manager) priorityFor(req EnqueueRequest) int64 {
	if req.Priority != nil {
		return clampPriority(*req.Priority)
	}

	weights := m.cfg.Priority.TypeWeights
	typeWeight, ok := weights[string(req.Kind)]
	if !ok {
		typeWeight = weights["default"]
	}

	base := float64(typeWeight) + float64(req.Depth) + float64(now().UnixMilli())*1e-9

	final := base
	final -= float64(m.cfg.Priority.DiscoveryBonuses[req.Meta.DiscoveryMethod])

	if m.hooks.GapPredictionBonus != nil && m.cfg.Priority.Features.GapDrivenPrioritization {
		final -= float64(m.hooks.GapPredictionBonus(req.URL))
	}
	if m.hooks.ClusterBoost != nil && m.cfg.Priority.Features.ProblemClustering {
		final -= float64(m.hooks.ClusterBoost(req.URL))
	}
	if m.hooks.KnowledgeReuseBonus != nil && m.cfg.Priority.Features.KnowledgeReuse {
		final -= float64(m.hooks.KnowledgeReuseBonus(req.Meta))
	}
	if m.cfg.Priority.Features.CostAwarePriority && req.Meta.EstimatedCostMs != 0 {
		final += req.Meta.EstimatedCostMs / 1000.0
	}

	if m.cfg.Queue.TotalPrioritisation {
		final += totalPrioritisationFloor(req.Meta, m.cfg.Queue.FocusTokens)
	}

	return clampPriority(int64(math.Round(final)))
}

// totalPrioritisationFloor implements the "total prioritisation" mode:
// a large floor is added to work that doesn't match the operator's focus
// tokens, effectively excluding it from contention.
func totalPrioritisationFloor(meta Meta, focusTokens []string) float64 {
	if len(focusTokens) == 0 {
		return 0
	}
	if meta.CountryRelated {
		return 0
	}
	for _, tok := range meta.Tokens {
		for _, focus := range focusTokens {
			if strings.EqualFold(tok, focus) {
				return 0
			}
		}
	}
	return countryFloor
}

func clampPriority(p int64) int64 {
	if p > maxPriority {
		return maxPriority
	}
	if p < minPriority {
		return minPriority
	}
	return p
}

// PullNext alternates between the two logical queues under a
// configurable ratio with a burst cap, scanning at most MaxScan items
// for one whose host is currently eligible.
func (m *Manager) PullNext() PullResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxScan := m.cfg.Queue.MaxScan
	if maxScan <= 0 {
		maxScan = 64
	}

	order := m.queueOrder()

	var deferredRestore []*Item
	var minWake time.Time

	for _, which := range order {
		q := m.queueFor(which)
		scanned := 0
		for q.Len() > 0 && scanned < maxScan {
			scanned++
			item := heap.Pop(q).(*Item)

			host := item.Host
			nextAt := m.hosts.NextRequestAt(host)
			backoff := m.hosts.BackoffUntil(host)
			deferredUntil := laterOf(nextAt, backoff)

			if !deferredUntil.IsZero() && deferredUntil.After(now()) {
				if m.hosts.Is429Limited(host) && m.hosts.HasFreshCache(item.URL) {
					item.Meta.ForceCache = true
					m.commitPull(which)
					return PullResult{Item: item}
				}
				item.Meta.DeferredUntil = deferredUntil
				deferredRestore = append(deferredRestore, item)
				if minWake.IsZero() || deferredUntil.Before(minWake) {
					minWake = deferredUntil
				}
				continue
			}

			if m.hosts.IsLocked(host) {
				delete(m.seen, item.URL)
				return PullResult{Item: item, HostLocked: true}
			}

			m.commitPull(which)
			return PullResult{Item: item}
		}
	}

	for _, item := range deferredRestore {
		if isAcquisition(item.Kind) {
			heap.Push(&m.acquisition, item)
		} else {
			heap.Push(&m.discovery, item)
		}
	}

	return PullResult{WakeAt: minWake}
}

// queueOrder decides which logical queue to try first (and second),
// alternating under the configured discovery:acquisition ratio with a
// burst cap.
func (m *Manager) queueOrder() []string {
	dr, ar := m.cfg.Queue.DiscoveryRatio, m.cfg.Queue.AcquisitionRatio
	if dr <= 0 {
		dr = 1
	}
	if ar <= 0 {
		ar = 1
	}
	burstCap := m.cfg.Queue.BurstCap
	if burstCap <= 0 {
		burstCap = 4
	}

	primary := "discovery"
	if m.lastQueue == "discovery" && m.burstCount < dr*burstCap {
		primary = "discovery"
	} else if m.lastQueue == "acquisition" && m.burstCount < ar*burstCap {
		primary = "acquisition"
	} else if m.lastQueue == "discovery" {
		primary = "acquisition"
	} else {
		primary = "discovery"
	}

	if primary == "discovery" {
		return []string{"discovery", "acquisition"}
	}
	return []string{"acquisition", "discovery"}
}

func (m *Manager) commitPull(which string) {
	if which == m.lastQueue {
		m.burstCount++
	} else {
		m.lastQueue = which
		m.burstCount = 1
	}
}

func (m *Manager) queueFor(which string) *itemHeap {
	if which == "acquisition" {
		return &m.acquisition
	}
	return &m.discovery
}

func laterOf(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() {
		return a
	}
	if a.After(b) {
		return a
	}
	return b
}

func (m *Manager) nextSeq() uint64 {
	m.seqCounter++
	return m.seqCounter
}

// Size returns the number of items in each logical queue.
func (m *Manager) Size() (discovery, acquisition int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discovery.Len(), m.acquisition.Len()
}

// Heatmap returns a per-host item count across both queues, for
// observability.
func (m *Manager) Heatmap() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	heat := make(map[string]int)
	for _, it := range m.discovery {
		heat[it.Host]++
	}
	for _, it := range m.acquisition {
		heat[it.Host]++
	}
	return heat
}

// Snapshot returns every item currently queued (both logical queues),
// for checkpointing. The returned items are copies; mutating them has no
// effect on the queue.
func (m *Manager) Snapshot() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Item, 0, m.discovery.Len()+m.acquisition.Len())
	for _, it := range m.discovery {
		out = append(out, *it)
	}
	for _, it := range m.acquisition {
		out = append(out, *it)
	}
	return out
}

// Seen returns every URL currently tracked in the dedup set, including
// in-flight items not presently in either heap. Feeds the checkpoint's
// visited set.
func (m *Manager) Seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.seen))
	for url := range m.seen {
		out = append(out, url)
	}
	return out
}

// Restore re-enqueues a prior Snapshot's items, preserving their original
// priority (bypassing priorityFor). Items are re-enqueued in the order
// given, which becomes their order among equal priorities; Snapshot lists
// items in heap order, not in their original enqueue order. Used to resume
// a checkpointed crawl; should only be called on a freshly constructed,
// empty Manager.
func (m *Manager) Restore(items []Item) {
	for _, it := range items {
		priority := it.Priority
		m.Enqueue(EnqueueRequest{
			URL: it.URL, Host: it.Host, Depth: it.Depth, Kind: it.Kind,
			Meta: it.Meta, Priority: &priority,
		})
	}
}

// Forget removes a URL from the dedup set, allowing it to be re-enqueued.
// Used by the engine when a host-locked pull needs the item retried later.
func (m *Manager) Forget(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, url)
}

var nowFn = time.Now

func now() time.Time { return nowFn() }

// --- heap.Interface implementation ---

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	if !h[i].enqueuedAt.Equal(h[j].enqueuedAt) {
		return h[i].enqueuedAt.Before(h[j].enqueuedAt)
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	n := len(*h)
	item := x.(*Item)
	item.index = n
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
