package engine

import (
	"context"

	"golang.org/x/time/rate"
)

// globalLimiter adapts golang.org/x/time/rate into internal/fetch's
// GlobalLimiter contract, gating all hosts behind one shared minimum
// interval. rateLimitMs = 0 disables it (newGlobalLimiter returns nil).
type globalLimiter struct {
	limiter *rate.Limiter
}

func newGlobalLimiter(intervalMs int) *globalLimiter {
	if intervalMs <= 0 {
		return nil
	}
	perSecond := 1000.0 / float64(intervalMs)
	return &globalLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

func (g *globalLimiter) Acquire(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
