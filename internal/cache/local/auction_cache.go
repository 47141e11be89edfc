package local

import (
	"context"
	"sync"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// AuctionCache keeps auction snapshots in a map.
type AuctionCache struct {
	mu    sync.RWMutex
	snaps map[string]domain.Auction
}

// NewAuctionCache returns an empty cache.
func NewAuctionCache() *AuctionCache {
	return &AuctionCache{snaps: make(map[string]domain.Auction)}
}

func (c *AuctionCache) Set(_ context.Context, a domain.Auction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.snaps[a.ID]; ok && cur.Version > a.Version {
		return nil
	}
	c.snaps[a.ID] = a
	return nil
}

func (c *AuctionCache) Get(_ context.Context, id string) (domain.Auction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.snaps[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (c *AuctionCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.snaps, id)
	c.mu.Unlock()
	return nil
}

var _ domain.AuctionCache = (*AuctionCache)(nil)
