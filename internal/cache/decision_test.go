package cache

import (
	"testing"
	"time"
)

// TestShouldUseCacheIsPure checks that ShouldUseCache depends only on
// its arguments, never on a wall-clock read or ambient config.
func TestShouldUseCacheIsPure(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name        string
		preferCache bool
		maxAgeMs    time.Duration
		crawledAt   time.Time
		want        bool
	}{
		{"positive maxAge, within window", false, time.Hour, now.Add(-30 * time.Minute), true},
		{"positive maxAge, exactly at boundary", false, time.Hour, now.Add(-time.Hour), true},
		{"positive maxAge, just past boundary", false, time.Hour, now.Add(-time.Hour - time.Millisecond), false},
		{"zero maxAge, crawled now", false, 0, now, true},
		{"zero maxAge, crawled a moment ago", false, 0, now.Add(-time.Millisecond), false},
		{"negative maxAge, preferCache true", true, -1, now.Add(-24 * time.Hour), true},
		{"negative maxAge, preferCache false", false, -1, now.Add(-time.Millisecond), false},
		{"negative maxAge, preferCache true, crawled far in the past", true, -1, time.Time{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ShouldUseCache(tc.preferCache, tc.maxAgeMs, tc.crawledAt, now)
			if got != tc.want {
				t.Errorf("ShouldUseCache(%v, %v, %v, %v) = %v, want %v",
					tc.preferCache, tc.maxAgeMs, tc.crawledAt, now, got, tc.want)
			}
		})
	}
}

// TestShouldUseCacheDeterministicAcrossCalls confirms repeated calls with
// identical arguments always agree.
func TestShouldUseCacheDeterministicAcrossCalls(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	crawledAt := now.Add(-5 * time.Minute)

	first := ShouldUseCache(true, 10*time.Minute, crawledAt, now)
	for i := 0; i < 100; i++ {
		if got := ShouldUseCache(true, 10*time.Minute, crawledAt, now); got != first {
			t.Fatalf("call %d diverged: got %v, want %v", i, got, first)
		}
	}
}
