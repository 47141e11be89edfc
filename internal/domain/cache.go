package domain

import (
	"context"
	"errors"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. Acquire fails fast with
// ErrLockHeld when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// AuctionCache holds the latest committed snapshot of hot auctions so
// observers can read state without touching the database.
type AuctionCache interface {
	// Set stores a unless the cached snapshot has a higher Version.
	Set(ctx context.Context, a Auction) error
	Get(ctx context.Context, id string) (Auction, error)
	Invalidate(ctx context.Context, id string) error
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// AcquireWithin retries lm.Acquire until it succeeds, ctx ends, or wait
// elapses. It returns ErrLockHeld if the lock never became free.
func AcquireWithin(ctx context.Context, lm LockManager, key string, ttl, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	delay := 5 * time.Millisecond
	for {
		unlock, err := lm.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		if time.Now().Add(delay).After(deadline) {
			return nil, ErrLockHeld
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if delay < 100*time.Millisecond {
			delay *= 2
		}
	}
}
