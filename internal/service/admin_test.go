package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

const suspendReason = "shared device confirmed by field agent"

func TestAdmin_JustificationIsRequired(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway})
	f.vendor(t, "vendor-a", domain.VendorTier2, 0)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  Command
	}{
		{name: "empty", cmd: Command{AdminID: "admin-1"}},
		{name: "too short", cmd: Command{AdminID: "admin-1", Justification: "fraud"}},
		{name: "padding does not count", cmd: Command{AdminID: "admin-1", Justification: "   nineteen chars ok    "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.admin.SuspendVendor(ctx, "vendor-a", "", tt.cmd)
			assert.Equal(t, domain.ReasonJustificationTooShort, domain.ReasonOf(err))
		})
	}

	_, err := f.admin.SuspendVendor(ctx, "vendor-a", "", Command{Justification: suspendReason})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	v, err := f.directory.Vendor(ctx, "vendor-a")
	require.NoError(t, err)
	assert.Equal(t, domain.VendorActive, v.Status)

	entries, err := f.admin.ListAudit(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdmin_SuspendFromAlertAndReinstate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway})
	ctx := context.Background()
	f.vendor(t, "vendor-c", domain.VendorTier2, 0)
	f.vendor(t, "vendor-d", domain.VendorTier2, 0)
	a := f.auction(t, "case-1", 100000)

	_, err := f.bid(a.ID, "vendor-c", 100000, "197.210.5.5")
	require.NoError(t, err)
	_, err = f.bid(a.ID, "vendor-d", 110000, "197.210.5.5")
	require.NoError(t, err)

	alerts, err := f.admin.ListAlerts(ctx, domain.FraudFilter{Status: domain.AlertOpen}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	alert := alerts[0]

	_, err = f.admin.SuspendVendor(ctx, "vendor-c", alert.ID, Command{AdminID: "admin-1", Justification: suspendReason})
	assert.ErrorIs(t, err, domain.ErrValidation, "the alert concerns vendor-d")

	v, err := f.admin.SuspendVendor(ctx, "vendor-d", alert.ID, Command{AdminID: "admin-1", Justification: suspendReason})
	require.NoError(t, err)
	assert.Equal(t, domain.VendorSuspended, v.Status)

	got, err := f.db.Fraud().Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertActioned, got.Status)
	assert.Equal(t, "admin-1", got.ResolvedBy)

	_, err = f.bid(a.ID, "vendor-d", 130000, "")
	assert.Equal(t, domain.ReasonVendorSuspended, domain.ReasonOf(err))

	_, err = f.admin.ReinstateVendor(ctx, "vendor-d", Command{AdminID: "admin-2", Justification: "appeal upheld after document review"})
	require.NoError(t, err)
	_, err = f.bid(a.ID, "vendor-d", 130000, "")
	require.NoError(t, err)

	entries, err := f.admin.ListAudit(ctx, domain.ListOpts{})
	require.NoError(t, err)
	var events []string
	for _, e := range entries {
		events = append(events, e.Event)
	}
	assert.Contains(t, events, "vendor_suspended")
	assert.Contains(t, events, "vendor_reinstated")
}

func TestAdmin_DismissAlertOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway})
	ctx := context.Background()
	f.vendor(t, "vendor-c", domain.VendorTier2, 0)
	f.vendor(t, "vendor-d", domain.VendorTier2, 0)
	a := f.auction(t, "case-1", 100000)
	_, err := f.bid(a.ID, "vendor-c", 100000, "197.210.5.5")
	require.NoError(t, err)
	_, err = f.bid(a.ID, "vendor-d", 110000, "197.210.5.5")
	require.NoError(t, err)

	alerts, err := f.admin.ListAlerts(ctx, domain.FraudFilter{}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	cmd := Command{AdminID: "admin-1", Justification: "siblings sharing a cyber cafe"}
	dismissed, err := f.admin.DismissFraudAlert(ctx, alerts[0].ID, cmd)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertDismissed, dismissed.Status)
	assert.Equal(t, cmd.Justification, dismissed.Resolution)

	_, err = f.admin.DismissFraudAlert(ctx, alerts[0].ID, cmd)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAdmin_CancelAuctionDelegates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{mode: domain.SettlementGateway})
	ctx := context.Background()
	a := f.auction(t, "case-1", 100000)

	_, err := f.admin.CancelAuction(ctx, a.ID, Command{AdminID: "admin-1", Justification: "too short"})
	assert.Equal(t, domain.ReasonJustificationTooShort, domain.ReasonOf(err))

	got, err := f.admin.CancelAuction(ctx, a.ID, Command{AdminID: "admin-1", Justification: "insurer withdrew the claim today"})
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionCancelled, got.Status)

	entries, err := f.admin.ListAudit(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "auction_cancelled", entries[0].Event)
	assert.Equal(t, "admin-1", entries[0].Actor)
}
