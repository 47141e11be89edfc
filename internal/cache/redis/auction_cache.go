package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/auction_set.lua
var auctionSetLua string

const auctionTTL = 10 * time.Minute

// AuctionCache implements domain.AuctionCache using Redis hashes holding the
// JSON snapshot plus a few scalar fields for cheap polling.
//
// Key schema:
//
//	auction:snap:{id} - hash with fields "version", "data", "current_bid", "end_time"
type AuctionCache struct {
	rdb *redis.Client
	set *redis.Script
}

// NewAuctionCache creates an AuctionCache backed by the given Client.
func NewAuctionCache(c *Client) *AuctionCache {
	return &AuctionCache{rdb: c.Underlying(), set: redis.NewScript(auctionSetLua)}
}

func auctionKey(id string) string { return "auction:snap:" + id }

// Set stores the snapshot unless a higher version is cached. Terminal
// auctions are kept only briefly.
func (ac *AuctionCache) Set(ctx context.Context, a domain.Auction) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: marshal auction %s: %w", a.ID, err)
	}

	currentBid := ""
	if a.CurrentBid != nil {
		currentBid = a.CurrentBid.String()
	}
	ttl := auctionTTL
	if a.Status.Terminal() {
		ttl = time.Minute
	}

	err = ac.set.Run(ctx, ac.rdb,
		[]string{auctionKey(a.ID)},
		a.Version,
		data,
		currentBid,
		a.EndTime.UTC().Format(time.RFC3339Nano),
		ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set auction %s: %w", a.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound when the snapshot is missing or expired.
func (ac *AuctionCache) Get(ctx context.Context, id string) (domain.Auction, error) {
	data, err := ac.rdb.HGet(ctx, auctionKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("redis: get auction %s: %w", id, err)
	}

	var a domain.Auction
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.Auction{}, fmt.Errorf("redis: unmarshal auction %s: %w", id, err)
	}
	return a, nil
}

// Invalidate removes the snapshot.
func (ac *AuctionCache) Invalidate(ctx context.Context, id string) error {
	if err := ac.rdb.Del(ctx, auctionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate auction %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AuctionCache = (*AuctionCache)(nil)
