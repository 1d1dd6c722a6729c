package throttle

import "time"

// FreshCacheChecker reports whether a non-stale cache entry exists for a
// URL. Implemented by internal/cache; injected here so Gate can satisfy
// queue.HostGate without throttle importing cache.
type FreshCacheChecker func(url string) bool

// Gate composes the rate Manager and failure Budget into the single
// queue.HostGate interface the scheduler consults on every PullNext.
type Gate struct {
	Rate     *Manager
	Budget   *Budget
	HasCache FreshCacheChecker
}

// NewGate builds a Gate. hasCache may be nil, in which case no item is
// ever force-cached on 429.
func NewGate(rate *Manager, budget *Budget, hasCache FreshCacheChecker) *Gate {
	if hasCache == nil {
		hasCache = func(string) bool { return false }
	}
	return &Gate{Rate: rate, Budget: budget, HasCache: hasCache}
}

func (g *Gate) NextRequestAt(host string) time.Time { return g.Rate.NextRequestAt(host) }
func (g *Gate) BackoffUntil(host string) time.Time  { return g.Rate.BackoffUntil(host) }
func (g *Gate) Is429Limited(host string) bool       { return g.Rate.Is429Limited(host) }
func (g *Gate) IsLocked(host string) bool           { return g.Budget.IsLocked(host) }
func (g *Gate) HasFreshCache(url string) bool       { return g.HasCache(url) }
