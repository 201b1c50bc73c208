package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// MemoryLimiter is an in-process fixed window limiter. It backs up the Redis
// limiter when Redis is not configured or unreachable; counts are per instance.
type MemoryLimiter struct {
	store limiter.Store
}

// NewMemoryLimiter builds a limiter over ulule's memory store.
func NewMemoryLimiter(prefix string) *MemoryLimiter {
	return &MemoryLimiter{store: memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          prefix,
		CleanUpInterval: time.Minute,
	})}
}

// Allow registers an event for key under a max-per-window rate.
func (m *MemoryLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	if max <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: max, ResetAt: time.Now().Add(window)}, nil
	}
	lctx, err := m.store.Get(ctx, key, limiter.Rate{Period: window, Limit: int64(max)})
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit memory: %w", err)
	}
	return Decision{
		Allowed:   !lctx.Reached,
		Remaining: clampRemaining(int(lctx.Remaining)),
		ResetAt:   time.Unix(lctx.Reset, 0),
	}, nil
}
