package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/cache/local"
	"github.com/alanyoungcy/salvagebid/internal/domain"
)

func TestPlaceBid_AcceptedBidsStrictlyIncrease(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway})
	f.vendor(t, "vendor-a", domain.VendorTier2, 0)
	f.vendor(t, "vendor-b", domain.VendorTier2, 0)
	a := f.auction(t, "case-1", 300000)

	_, err := f.bid(a.ID, "vendor-a", 299999, "10.0.0.1")
	assert.Equal(t, domain.ReasonBelowReserve, domain.ReasonOf(err))

	res, err := f.bid(a.ID, "vendor-a", 300000, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Auction.CurrentBid.Equal(naira(300000)))

	_, err = f.bid(a.ID, "vendor-b", 309999, "10.0.0.2")
	var rej *domain.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, domain.ReasonBelowMinimumIncrement, rej.Reason)
	require.NotNil(t, rej.MinimumNext)
	assert.True(t, rej.MinimumNext.Equal(naira(310000)))
	require.NotNil(t, rej.CurrentBid)
	assert.True(t, rej.CurrentBid.Equal(naira(300000)))

	for i, amount := range []int64{310000, 320000, 400000} {
		vendor := "vendor-b"
		if i%2 == 1 {
			vendor = "vendor-a"
		}
		_, err := f.bid(a.ID, vendor, amount, "")
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	bids, err := f.lifecycle.Bids(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, bids, 4)
	for i := 1; i < len(bids); i++ {
		assert.True(t, bids[i].Amount.GreaterThanOrEqual(bids[i-1].Amount.Add(naira(10000))),
			"bid %d (%s) must exceed bid %d (%s) by the increment", i, bids[i].Amount, i-1, bids[i-1].Amount)
		assert.Greater(t, bids[i].ID, bids[i-1].ID)
	}

	outbid := f.queue.sent("vendor-a", domain.TemplateOutbid)
	require.NotEmpty(t, outbid)
	assert.Equal(t, 5*time.Second, outbid[0].Budget)

	v, err := f.db.Vendors().Get(context.Background(), "vendor-b")
	require.NoError(t, err)
	assert.Equal(t, 2, v.TotalBids)
}

func TestPlaceBid_PreChecks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway})
	f.vendor(t, "small-yard", domain.VendorTier1, 0)
	f.vendor(t, "banned", domain.VendorTier2, 0)
	require.NoError(t, f.db.Vendors().SetStatus(context.Background(), "banned", domain.VendorSuspended))
	a := f.auction(t, "case-1", 300000)

	tests := []struct {
		name   string
		req    domain.BidRequest
		reason domain.RejectReason
	}{
		{
			name:   "otp not verified",
			req:    domain.BidRequest{AuctionID: a.ID, VendorID: "small-yard", Amount: naira(300000)},
			reason: domain.ReasonOTPNotVerified,
		},
		{
			name:   "suspended vendor",
			req:    domain.BidRequest{AuctionID: a.ID, VendorID: "banned", Amount: naira(300000), OTPVerified: true},
			reason: domain.ReasonVendorSuspended,
		},
		{
			name:   "tier ceiling",
			req:    domain.BidRequest{AuctionID: a.ID, VendorID: "small-yard", Amount: naira(500001), OTPVerified: true},
			reason: domain.ReasonTierCeilingExceeded,
		},
		{
			name:   "non-positive amount",
			req:    domain.BidRequest{AuctionID: a.ID, VendorID: "small-yard", Amount: naira(0), OTPVerified: true},
			reason: domain.ReasonInvalidAmount,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bids.PlaceBid(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, tt.reason, domain.ReasonOf(err))
		})
	}

	got, err := f.db.Auctions().Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, got.HasBid())
}

func TestPlaceBid_ExtendsNearCloseUpToCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway})
	f.vendor(t, "vendor-a", domain.VendorTier2, 0)
	f.vendor(t, "vendor-b", domain.VendorTier2, 0)
	a := f.auction(t, "case-1", 100000)

	_, err := f.bid(a.ID, "vendor-a", 100000, "")
	require.NoError(t, err)

	f.clock.Set(a.EndTime.Add(-10 * time.Minute))
	res, err := f.bid(a.ID, "vendor-b", 110000, "")
	require.NoError(t, err)
	assert.False(t, res.Extended, "bids outside the window do not extend")

	amount := int64(120000)
	end := a.EndTime
	for i := 1; i <= 3; i++ {
		f.clock.Set(end.Add(-time.Minute))
		vendor := "vendor-a"
		if i%2 == 0 {
			vendor = "vendor-b"
		}
		res, err := f.bid(a.ID, vendor, amount, "")
		require.NoError(t, err)
		require.True(t, res.Extended, "extension %d", i)
		assert.Equal(t, end.Add(5*time.Minute), res.Auction.EndTime)
		assert.Equal(t, i, res.Auction.ExtensionCount)
		assert.Equal(t, domain.AuctionExtended, res.Auction.Status)
		assert.Equal(t, a.OriginalEndTime, res.Auction.OriginalEndTime)
		end = res.Auction.EndTime
		amount += 10000
	}

	f.clock.Set(end.Add(-time.Minute))
	res, err = f.bid(a.ID, "vendor-b", amount, "")
	require.NoError(t, err)
	assert.False(t, res.Extended)
	assert.Equal(t, end, res.Auction.EndTime)
	assert.Equal(t, 3, res.Auction.ExtensionCount)

	extended := 0
	for _, raw := range f.bus.Published(domain.AuctionChannel(a.ID)) {
		if containsType(raw, domain.EventAuctionExtended) {
			extended++
		}
	}
	assert.Equal(t, 3, extended)

	f.clock.Set(end)
	_, err = f.bid(a.ID, "vendor-a", amount+10000, "")
	assert.Equal(t, domain.ReasonAuctionNotOpen, domain.ReasonOf(err))
}

func TestPlaceBid_ConcurrentCollidingBidsHaveOneWinner(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway, lockWait: 5 * time.Second})
	a := f.auction(t, "case-1", 200000)

	const n = 12
	for i := 0; i < n; i++ {
		f.vendor(t, fmt.Sprintf("vendor-%02d", i), domain.VendorTier2, 0)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []string
		errs     []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vendor := fmt.Sprintf("vendor-%02d", i)
			_, err := f.bid(a.ID, vendor, 200000, fmt.Sprintf("10.1.0.%d", i))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted = append(accepted, vendor)
				return
			}
			errs = append(errs, err)
		}(i)
	}
	wg.Wait()

	require.Len(t, accepted, 1)
	require.Len(t, errs, n-1)
	for _, err := range errs {
		reason := domain.ReasonOf(err)
		if reason == "" {
			assert.ErrorIs(t, err, domain.ErrConflict)
			continue
		}
		assert.Equal(t, domain.ReasonBelowMinimumIncrement, reason)
	}

	got, err := f.db.Auctions().Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, accepted[0], got.CurrentBidderID)
	bids, err := f.db.Bids().ListByAuction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

func TestPlaceBid_ConcurrentRisingBidsStayOrdered(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway, lockWait: 5 * time.Second})
	a := f.auction(t, "case-1", 100000)

	const n = 20
	for i := 0; i < n; i++ {
		f.vendor(t, fmt.Sprintf("vendor-%02d", i), domain.VendorTier2, 0)
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.bid(a.ID, fmt.Sprintf("vendor-%02d", i), 100000+int64(i)*10000, "")
		}(i)
	}
	wg.Wait()

	bids, err := f.db.Bids().ListByAuction(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, bids)
	for i := 1; i < len(bids); i++ {
		assert.True(t, bids[i].Amount.GreaterThanOrEqual(bids[i-1].Amount.Add(naira(10000))))
	}
	got, err := f.db.Auctions().Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentBid.Equal(bids[len(bids)-1].Amount))
}

func TestPlaceBid_LockHeldReturnsConflictWithState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway, lockWait: 30 * time.Millisecond})
	f.vendor(t, "vendor-a", domain.VendorTier2, 0)
	f.vendor(t, "vendor-b", domain.VendorTier2, 0)
	a := f.auction(t, "case-1", 100000)
	_, err := f.bid(a.ID, "vendor-a", 150000, "")
	require.NoError(t, err)

	unlock, err := f.locks.Acquire(context.Background(), auctionLockKey(a.ID), time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = f.bid(a.ID, "vendor-b", 200000, "")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, "vendor-a", conflict.CurrentBidderID)
	assert.True(t, conflict.MinimumNext.Equal(naira(160000)))
}

func TestPlaceBid_RateLimited(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway, rateLimit: 2})
	f.vendor(t, "vendor-a", domain.VendorTier2, 0)
	a := f.auction(t, "case-1", 100000)

	_, err := f.bid(a.ID, "vendor-a", 100000, "")
	require.NoError(t, err)
	_, err = f.bid(a.ID, "vendor-a", 110000, "")
	require.NoError(t, err)
	_, err = f.bid(a.ID, "vendor-a", 120000, "")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestPlaceBid_EscrowHoldFollowsHighBid(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementEscrow})
	f.vendor(t, "vendor-a", domain.VendorTier2, 1000000)
	f.vendor(t, "vendor-b", domain.VendorTier2, 1000000)
	f.vendor(t, "vendor-poor", domain.VendorTier2, 50000)
	a := f.auction(t, "case-1", 300000)

	_, err := f.bid(a.ID, "vendor-poor", 300000, "")
	assert.Equal(t, domain.ReasonInsufficientEscrow, domain.ReasonOf(err))

	_, err = f.bid(a.ID, "vendor-a", 300000, "")
	require.NoError(t, err)
	assert.True(t, f.wallet(t, "vendor-a").FrozenAmount.Equal(naira(300000)))

	res, err := f.bid(a.ID, "vendor-b", 350000, "")
	require.NoError(t, err)
	assert.Empty(t, res.Degraded)
	assert.True(t, f.wallet(t, "vendor-a").FrozenAmount.IsZero())
	assert.True(t, f.wallet(t, "vendor-a").AvailableBalance.Equal(naira(1000000)))
	assert.True(t, f.wallet(t, "vendor-b").FrozenAmount.Equal(naira(350000)))

	_, err = f.bid(a.ID, "vendor-a", 340000, "")
	assert.Equal(t, domain.ReasonBelowMinimumIncrement, domain.ReasonOf(err))
	w := f.wallet(t, "vendor-a")
	assert.True(t, w.FrozenAmount.IsZero(), "a rejected bid must not leave a hold behind")
	assert.True(t, w.Consistent())

	for _, id := range []string{"vendor-a", "vendor-b"} {
		_, err := f.ledger.Replay(context.Background(), f.wallet(t, id).ID)
		assert.NoError(t, err)
	}
}

func TestPlaceBid_SameIPRaisesOneAlertNamingBothVendors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway})
	f.vendor(t, "vendor-c", domain.VendorTier2, 0)
	f.vendor(t, "vendor-d", domain.VendorTier2, 0)
	a := f.auction(t, "case-1", 300000)

	res, err := f.bid(a.ID, "vendor-c", 300000, "102.89.4.11")
	require.NoError(t, err)
	assert.Empty(t, res.Degraded)

	_, err = f.bid(a.ID, "vendor-d", 310000, "102.89.4.11")
	require.NoError(t, err, "fraud detection never blocks a bid")

	alerts, err := f.admin.ListAlerts(context.Background(), domain.FraudFilter{AuctionID: a.ID}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, "vendor-d", alert.VendorID)
	assert.True(t, alert.HasPattern(domain.PatternSameIP))
	evidence, ok := alert.Evidence[string(domain.PatternSameIP)].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "102.89.4.11", evidence["ip"])
	assert.Equal(t, []string{"vendor-c", "vendor-d"}, evidence["vendor_ids"])

	assert.Len(t, f.queue.sent(domain.OpsRecipient, domain.TemplateFraudAlert), 1)

	_, err = f.bid(a.ID, "vendor-d", 320000, "102.89.4.11")
	require.NoError(t, err)
	alerts, err = f.admin.ListAlerts(context.Background(), domain.FraudFilter{AuctionID: a.ID}, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "an open pattern is not raised twice")
}

func TestPlaceBid_QueueFailureIsDegradedNotFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway})
	f.vendor(t, "vendor-a", domain.VendorTier2, 0)
	f.vendor(t, "vendor-b", domain.VendorTier2, 0)
	a := f.auction(t, "case-1", 100000)

	_, err := f.bid(a.ID, "vendor-a", 100000, "")
	require.NoError(t, err)

	f.queue.mu.Lock()
	f.queue.err = errors.New("redis: connection refused")
	f.queue.mu.Unlock()

	res, err := f.bid(a.ID, "vendor-b", 110000, "")
	require.NoError(t, err)
	assert.Contains(t, res.Degraded, DegradedOutbidNotice)
	assert.True(t, res.Auction.CurrentBid.Equal(naira(110000)))
}

// lockedWriteCache records whether the auction lock was held for every Set.
type lockedWriteCache struct {
	domain.AuctionCache
	locks *local.LockManager

	mu       sync.Mutex
	versions []int64
	unlocked int
}

func (c *lockedWriteCache) Set(ctx context.Context, a domain.Auction) error {
	c.mu.Lock()
	c.versions = append(c.versions, a.Version)
	if c.locks != nil && !c.locks.Held(auctionLockKey(a.ID)) {
		c.unlocked++
	}
	c.mu.Unlock()
	return c.AuctionCache.Set(ctx, a)
}

func TestPlaceBid_CacheWrittenUnderAuctionLock(t *testing.T) {
	t.Parallel()
	cache := &lockedWriteCache{}
	f := newFixture(t, fixtureOpts{
		mode: domain.SettlementGateway,
		wrapCache: func(inner domain.AuctionCache) domain.AuctionCache {
			cache.AuctionCache = inner
			return cache
		},
	})
	f.vendor(t, "vendor-a", domain.VendorTier2, 0)
	f.vendor(t, "vendor-b", domain.VendorTier2, 0)
	a := f.auction(t, "case-1", 100000)

	cache.mu.Lock()
	cache.locks = f.locks
	cache.versions = nil
	cache.mu.Unlock()

	_, err := f.bid(a.ID, "vendor-a", 100000, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i, v := range []string{"vendor-b", "vendor-a", "vendor-b", "vendor-a"} {
		wg.Add(1)
		go func(amount int64, vendor string) {
			defer wg.Done()
			_, _ = f.bid(a.ID, vendor, amount, "")
		}(int64(120000+i*20000), v)
	}
	wg.Wait()

	cache.mu.Lock()
	defer cache.mu.Unlock()
	require.NotEmpty(t, cache.versions)
	assert.Zero(t, cache.unlocked, "every bid snapshot is written while the auction lock is held")

	stored, err := f.db.Auctions().Get(context.Background(), a.ID)
	require.NoError(t, err)
	cached, err := cache.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Version, cached.Version)
	assert.True(t, stored.CurrentBid.Equal(*cached.CurrentBid))
}

func TestPlaceBid_InsufficientEscrowMessageNamesOnlyTheBid(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementEscrow})
	f.vendor(t, "vendor-a", domain.VendorTier2, 1000000)
	f.vendor(t, "vendor-poor", domain.VendorTier2, 50000)
	a := f.auction(t, "case-1", 300000)

	_, err := f.bid(a.ID, "vendor-poor", 300000, "")
	require.Equal(t, domain.ReasonInsufficientEscrow, domain.ReasonOf(err))
	var rej *domain.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "available escrow does not cover 300000", rej.Detail)
	assert.True(t, f.wallet(t, "vendor-poor").FrozenAmount.IsZero())
}
