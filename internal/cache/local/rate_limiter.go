package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// RateLimiter is an in-process sliding window limiter.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter returns a limiter whose Wait allows limit requests per
// window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a request against key if the window has room.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-window)
	kept := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return false, nil
	}
	rl.hits[key] = append(kept, now)
	return true, nil
}

// Wait polls Allow with the default limit until it succeeds or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, _ := rl.Allow(ctx, key, rl.limit, rl.window)
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
