// Package local provides in-process implementations of the coordination
// interfaces for single-node deployments and tests. They honour the same
// contracts as the Redis adapters: fail-fast locks with TTL, glob pattern
// subscriptions and time-ordered stream ids.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

type lease struct {
	token   uint64
	expires time.Time
}

// LockManager is a keyed lock table. A lease that outlives its TTL is treated
// as released, matching Redis key expiry.
type LockManager struct {
	mu     sync.Mutex
	leases map[string]lease
	next   uint64
	now    func() time.Time
}

// NewLockManager returns an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{leases: make(map[string]lease), now: time.Now}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lm.mu.Lock()
	now := lm.now()
	if l, ok := lm.leases[key]; ok && now.Before(l.expires) {
		lm.mu.Unlock()
		return nil, domain.ErrLockHeld
	}
	lm.next++
	token := lm.next
	lm.leases[key] = lease{token: token, expires: now.Add(ttl)}
	lm.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.leases[key]; ok && l.token == token {
				delete(lm.leases, key)
			}
		})
	}, nil
}

// Held reports whether key is currently leased.
func (lm *LockManager) Held(key string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.leases[key]
	return ok && lm.now().Before(l.expires)
}

var _ domain.LockManager = (*LockManager)(nil)
