package fraud

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func bid(id, vendor string, amount int64, ip string, at time.Duration) domain.Bid {
	return domain.Bid{
		ID:        id,
		AuctionID: "auc-1",
		VendorID:  vendor,
		Amount:    decimal.NewFromInt(amount),
		IPAddress: ip,
		CreatedAt: t0.Add(at),
	}
}

func input(bids ...domain.Bid) Input {
	return Input{
		Auction: domain.Auction{ID: "auc-1"},
		Bids:    bids,
		Vendors: map[string]domain.Vendor{},
		Latest:  bids[len(bids)-1],
	}
}

func newTestDetector(disabled ...domain.FraudPattern) *Detector {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDetector(DefaultRegistry(DefaultConfig()), disabled, logger)
}

func TestDetector_SameIPFlagsBothVendors(t *testing.T) {
	t.Parallel()
	d := newTestDetector()

	in := input(
		bid("01", "vendor-c", 300000, "41.58.10.7", 0),
		bid("02", "vendor-d", 320000, "41.58.10.7", time.Minute),
	)
	matches := d.Detect(context.Background(), in)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, domain.PatternSameIP, m.Pattern)
	assert.Equal(t, []string{"vendor-c", "vendor-d"}, m.VendorIDs)
	assert.Equal(t, "41.58.10.7", m.Evidence["ip"])
	assert.Equal(t, 2, m.Evidence["bid_count"])
}

func TestDetector_OnlyReportsMatchesForLatestBidder(t *testing.T) {
	t.Parallel()
	d := newTestDetector()

	// C and D shared an address earlier; E's clean bid must not re-raise it.
	in := input(
		bid("01", "vendor-c", 300000, "41.58.10.7", 0),
		bid("02", "vendor-d", 320000, "41.58.10.7", time.Minute),
		bid("03", "vendor-e", 340000, "102.89.4.4", 2*time.Minute),
	)
	assert.Empty(t, d.Detect(context.Background(), in))
}

func TestDetector_DisabledCheckIsSkipped(t *testing.T) {
	t.Parallel()
	d := newTestDetector(domain.PatternSameIP)

	assert.NotContains(t, d.Enabled(), domain.PatternSameIP)
	in := input(
		bid("01", "vendor-c", 300000, "41.58.10.7", 0),
		bid("02", "vendor-d", 320000, "41.58.10.7", time.Minute),
	)
	assert.Empty(t, d.Detect(context.Background(), in))
}

func TestUnusualJump(t *testing.T) {
	t.Parallel()
	check := NewUnusualJump(decimal.NewFromInt(3))

	tests := []struct {
		name      string
		bids      []domain.Bid
		estimated int64
		want      bool
	}{
		{"within multiple", []domain.Bid{bid("01", "a", 100000, "", 0), bid("02", "b", 300000, "", time.Minute)}, 0, false},
		{"over previous", []domain.Bid{bid("01", "a", 100000, "", 0), bid("02", "b", 300001, "", time.Minute)}, 0, true},
		{"over estimate", []domain.Bid{bid("01", "b", 700000, "", 0)}, 200000, true},
		{"first bid without estimate", []domain.Bid{bid("01", "b", 9000000, "", 0)}, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := input(tc.bids...)
			in.EstimatedValue = decimal.NewFromInt(tc.estimated)
			got, err := check.Detect(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, len(got) == 1)
		})
	}
}

func TestDuplicateIdentity(t *testing.T) {
	t.Parallel()
	in := input(
		bid("01", "vendor-a", 100000, "", 0),
		bid("02", "vendor-b", 120000, "", time.Minute),
	)
	in.Vendors = map[string]domain.Vendor{
		"vendor-a": {ID: "vendor-a", BankAccountHash: "h-bank-1", IdentityDocHash: "h-id-a"},
		"vendor-b": {ID: "vendor-b", BankAccountHash: "h-bank-1", IdentityDocHash: "h-id-b"},
	}

	got, err := NewDuplicateIdentity().Detect(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bank_account", got[0].Evidence["artifact"])
	assert.Equal(t, []string{"vendor-a", "vendor-b"}, got[0].VendorIDs)
}

func TestRapidAlternation(t *testing.T) {
	t.Parallel()
	check := NewRapidAlternation(4, 10*time.Minute)

	alternating := []domain.Bid{
		bid("01", "a", 100000, "", 0),
		bid("02", "b", 110000, "", time.Minute),
		bid("03", "a", 120000, "", 2*time.Minute),
		bid("04", "b", 130000, "", 3*time.Minute),
		bid("05", "a", 140000, "", 4*time.Minute),
	}
	got, err := check.Detect(context.Background(), input(alternating...))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Evidence["alternations"])
	assert.Equal(t, []string{"a", "b"}, got[0].VendorIDs)

	// A third bidder breaks the run.
	broken := append([]domain.Bid(nil), alternating[:3]...)
	broken = append(broken, bid("04", "c", 130000, "", 3*time.Minute), bid("05", "a", 140000, "", 4*time.Minute))
	got, err = check.Detect(context.Background(), input(broken...))
	require.NoError(t, err)
	assert.Empty(t, got)

	// Spread beyond the window.
	slow := []domain.Bid{
		bid("01", "a", 100000, "", 0),
		bid("02", "b", 110000, "", 5*time.Minute),
		bid("03", "a", 120000, "", 10*time.Minute),
		bid("04", "b", 130000, "", 15*time.Minute),
		bid("05", "a", 140000, "", 20*time.Minute),
	}
	got, err = check.Detect(context.Background(), input(slow...))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRegistry_ListSorted(t *testing.T) {
	t.Parallel()
	r := DefaultRegistry(DefaultConfig())
	assert.Equal(t, []domain.FraudPattern{
		domain.PatternDuplicateIdentity,
		domain.PatternRapidAlternation,
		domain.PatternSameIP,
		domain.PatternUnusualJump,
	}, r.List())

	_, err := r.Get("nope")
	assert.Error(t, err)
}
