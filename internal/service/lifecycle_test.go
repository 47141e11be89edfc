package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

func TestCreateAuction_RequiresApprovedCaseOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	_, err := f.directory.IntakeCase(ctx, domain.SalvageCase{
		ID: "case-pending", AssetType: "vehicle", ReservePrice: naira(100000), Status: domain.CaseSold,
	})
	require.NoError(t, err)
	_, err = f.lifecycle.CreateAuction(ctx, "case-pending")
	assert.ErrorIs(t, err, domain.ErrCaseNotApproved)

	a := f.auction(t, "case-1", 400000)
	assert.Equal(t, domain.AuctionActive, a.Status)
	assert.Equal(t, t0, a.StartTime)
	assert.Equal(t, t0.Add(5*24*time.Hour), a.EndTime)
	assert.Equal(t, a.EndTime, a.OriginalEndTime)
	assert.True(t, a.MinimumIncrement.Equal(naira(10000)))
	assert.True(t, a.ReservePrice.Equal(naira(400000)))

	c, err := f.directory.Case(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CaseActiveAuction, c.Status)

	// Resetting the case to approved must not allow a second auction.
	_, err = f.db.Cases().Transition(ctx, "case-1", []domain.CaseStatus{domain.CaseActiveAuction}, domain.CaseApproved)
	require.NoError(t, err)
	_, err = f.lifecycle.CreateAuction(ctx, "case-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreateAuction_AnnouncesToEligibleVendors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	f.vendor(t, "big-yard", domain.VendorTier2, 0)
	f.vendor(t, "small-yard", domain.VendorTier1, 0)
	_, err := f.directory.RegisterVendor(ctx, domain.Vendor{
		ID: "boat-only", Tier: domain.VendorTier2, Categories: []string{"marine"},
	})
	require.NoError(t, err)
	f.vendor(t, "suspended", domain.VendorTier2, 0)
	require.NoError(t, f.db.Vendors().SetStatus(ctx, "suspended", domain.VendorSuspended))

	f.auction(t, "case-1", 600000)

	assert.Len(t, f.queue.sent("big-yard", domain.TemplateAuctionCreated), 1)
	assert.Empty(t, f.queue.sent("small-yard", domain.TemplateAuctionCreated), "reserve above tier1 ceiling")
	assert.Empty(t, f.queue.sent("boat-only", domain.TemplateAuctionCreated), "category mismatch")
	assert.Empty(t, f.queue.sent("suspended", domain.TemplateAuctionCreated))
}

func TestScheduleAuction_ActivatesWhenDue(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	f.vendor(t, "vendor-a", domain.VendorTier2, 1000000)

	_, err := f.directory.IntakeCase(ctx, domain.SalvageCase{ID: "case-1", AssetType: "vehicle", ReservePrice: naira(100000)})
	require.NoError(t, err)
	a, err := f.lifecycle.ScheduleAuction(ctx, "case-1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionScheduled, a.Status)
	assert.Equal(t, t0.Add(time.Hour+5*24*time.Hour), a.EndTime)

	_, err = f.bid(a.ID, "vendor-a", 100000, "")
	assert.Equal(t, domain.ReasonAuctionNotOpen, domain.ReasonOf(err))

	res, err := f.lifecycle.ActivateDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)

	f.clock.Advance(time.Hour)
	res, err = f.lifecycle.ActivateDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	res, err = f.lifecycle.ActivateDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)

	_, err = f.bid(a.ID, "vendor-a", 100000, "")
	require.NoError(t, err)
}

func TestCloseExpiredAuctions_WithoutWinnerMarksCaseUnsold(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	a := f.auction(t, "case-1", 100000)

	res, err := f.lifecycle.CloseExpiredAuctions(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)

	f.clock.Set(a.EndTime.Add(time.Second))
	res, err = f.lifecycle.CloseExpiredAuctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanResult{Scanned: 1, Processed: 1}, res)

	got, err := f.lifecycle.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionClosed, got.Status)
	require.NotNil(t, got.ClosedAt)

	c, err := f.directory.Case(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CaseUnsold, c.Status)

	res, err = f.lifecycle.CloseExpiredAuctions(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned, "closed auctions are not rescanned")

	_, err = f.db.Payments().GetByAuction(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCloseExpiredAuctions_WinnerGetsPayment(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway})
	ctx := context.Background()
	f.vendor(t, "vendor-a", domain.VendorTier2, 0)
	a := f.auction(t, "case-1", 100000)
	_, err := f.bid(a.ID, "vendor-a", 150000, "")
	require.NoError(t, err)

	f.clock.Set(a.EndTime.Add(time.Minute))
	res, err := f.lifecycle.CloseExpiredAuctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	p, err := f.db.Payments().GetByAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, p.Status)
	assert.Equal(t, domain.EscrowNone, p.EscrowStatus)
	assert.True(t, p.Amount.Equal(naira(150000)))
	assert.Equal(t, a.EndTime.Add(time.Minute+24*time.Hour), p.PaymentDeadline)

	v, err := f.directory.Vendor(ctx, "vendor-a")
	require.NoError(t, err)
	assert.Equal(t, 1, v.TotalWins)
	assert.Len(t, f.queue.sent("vendor-a", domain.TemplateAuctionWon), 1)
	assert.Len(t, f.queue.sent("vendor-a", domain.TemplatePaymentDue), 1)

	c, err := f.directory.Case(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CaseSold, c.Status)
}

func TestCancelAuction_ReleasesHighBidderHold(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementEscrow})
	ctx := context.Background()
	f.vendor(t, "vendor-a", domain.VendorTier2, 500000)
	a := f.auction(t, "case-1", 100000)
	_, err := f.bid(a.ID, "vendor-a", 200000, "")
	require.NoError(t, err)
	assert.True(t, f.wallet(t, "vendor-a").FrozenAmount.Equal(naira(200000)))

	got, err := f.lifecycle.CancelAuction(ctx, a.ID, "admin-1", "duplicate listing from intake")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionCancelled, got.Status)

	w := f.wallet(t, "vendor-a")
	assert.True(t, w.FrozenAmount.IsZero())
	assert.True(t, w.AvailableBalance.Equal(naira(500000)))

	c, err := f.directory.Case(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CaseCancelled, c.Status)

	_, err = f.lifecycle.CancelAuction(ctx, a.ID, "admin-1", "duplicate listing from intake")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.bid(a.ID, "vendor-a", 300000, "")
	assert.Equal(t, domain.ReasonAuctionNotOpen, domain.ReasonOf(err))
}

func TestWatchAdjustsCount(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	a := f.auction(t, "case-1", 100000)

	require.NoError(t, f.lifecycle.Watch(ctx, a.ID))
	require.NoError(t, f.lifecycle.Watch(ctx, a.ID))
	require.NoError(t, f.lifecycle.Unwatch(ctx, a.ID))

	got, err := f.lifecycle.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.WatchingCount)
}
