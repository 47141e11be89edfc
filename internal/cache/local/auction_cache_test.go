package local

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

func TestAuctionCache_OlderVersionDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	c := NewAuctionCache()

	high := decimal.NewFromInt(250000)
	low := decimal.NewFromInt(200000)
	require.NoError(t, c.Set(ctx, domain.Auction{ID: "a1", Version: 3, CurrentBid: &high, CurrentBidderID: "vendor-b"}))
	require.NoError(t, c.Set(ctx, domain.Auction{ID: "a1", Version: 2, CurrentBid: &low, CurrentBidderID: "vendor-a"}))

	got, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, "vendor-b", got.CurrentBidderID)

	require.NoError(t, c.Set(ctx, domain.Auction{ID: "a1", Version: 3, WatchingCount: 4, CurrentBid: &high}))
	got, err = c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.WatchingCount, "an equal version replaces the snapshot")

	require.NoError(t, c.Invalidate(ctx, "a1"))
	_, err = c.Get(ctx, "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
