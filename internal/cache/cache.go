// Package cache implements the two-tier article cache: an
// in-memory LRU in front of a durable store, with a known-404 marker and
// in-flight request de-duplication so concurrent fetches of the same URL
// share a single durable-store round trip.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"

	"github.com/ishaanstalk/newscrawler/internal/config"
	"github.com/ishaanstalk/newscrawler/internal/fetch"
)

// Entry is the cached representation of a fetched URL.
type Entry = fetch.CacheEntry

// DurableStore is the persistence contract internal/store's Mongo adapter
// satisfies.
type DurableStore interface {
	Get(ctx context.Context, url string) (Entry, bool, error)
	Put(ctx context.Context, url string, entry Entry) error
	Known404At(ctx context.Context, url string) (time.Time, bool, error)
	MarkKnown404(ctx context.Context, url string, at time.Time) error
}

// Cache is the two-tier article cache. It implements internal/fetch's
// CacheStore contract.
type Cache struct {
	cfg     config.CacheConfig
	mu      sync.Mutex
	lru     *lru.Cache
	durable DurableStore
	group   singleflight.Group
}

// New constructs a Cache. durable may be nil, in which case the cache is
// memory-only (useful for tests and the memory store driver).
func New(cfg config.CacheConfig, durable DurableStore) *Cache {
	size := cfg.LRUSize
	if size <= 0 {
		size = 1000
	}
	return &Cache{cfg: cfg, lru: lru.New(size), durable: durable}
}

// Get implements fetch.CacheStore: an in-memory hit short-circuits; a
// durable-store hit is memoised before being returned. Concurrent Gets for
// the same URL share one durable-store round trip via singleflight.
func (c *Cache) Get(url string) (Entry, bool) {
	if entry, ok := c.getMemo(url); ok {
		return entry, true
	}
	if c.durable == nil {
		return Entry{}, false
	}

	v, err, _ := c.group.Do(url, func() (any, error) {
		entry, ok, err := c.durable.Get(context.Background(), url)
		if err != nil || !ok {
			return nil, err
		}
		c.putMemo(url, entry)
		return entry, nil
	})
	if err != nil || v == nil {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Put implements fetch.CacheStore: writes through both tiers.
func (c *Cache) Put(url string, entry Entry) {
	c.putMemo(url, entry)
	if c.durable != nil {
		_ = c.durable.Put(context.Background(), url, entry)
	}
}

// MarkKnown404 implements fetch.CacheStore: records that url returned
// 404/410 so the fetch pipeline, through IsKnown404, can skip refetching
// it within Known404TTL.
func (c *Cache) MarkKnown404(url string) {
	if c.durable != nil {
		_ = c.durable.MarkKnown404(context.Background(), url, time.Now())
	}
}

// IsKnown404 reports whether url was recently marked 404/410, within
// cfg.Known404TTL.
func (c *Cache) IsKnown404(url string) bool {
	if c.durable == nil {
		return false
	}
	at, ok, err := c.durable.Known404At(context.Background(), url)
	if err != nil || !ok {
		return false
	}
	return time.Since(at) <= c.cfg.Known404TTL
}

// HasFreshEntry reports whether a cached entry exists for url and passes
// the cache-decision function for kind. Used as internal/throttle's
// FreshCacheChecker, wiring the scheduler's force-cache-on-429 rule to
// this cache's actual contents.
func (c *Cache) HasFreshEntry(url string) bool {
	entry, ok := c.Get(url)
	if !ok {
		return false
	}
	return ShouldUseCache(c.cfg.PreferCache, c.maxAgeFor(entry.Kind), entry.FetchedAt, time.Now())
}

func (c *Cache) maxAgeFor(kind string) time.Duration {
	switch kind {
	case "article":
		if c.cfg.MaxAgeArticleMs >= 0 {
			return c.cfg.MaxAgeArticleMs
		}
	case "hub", "hub-seed", "nav":
		if c.cfg.MaxAgeHubMs >= 0 {
			return c.cfg.MaxAgeHubMs
		}
	}
	return c.cfg.MaxAgeMs
}

func (c *Cache) getMemo(url string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(url)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

func (c *Cache) putMemo(url string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(url, entry)
}

// Len reports the number of entries currently memoised in-process.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
