package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/cache/local"
	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/fraud"
	"github.com/alanyoungcy/salvagebid/internal/metrics"
	"github.com/alanyoungcy/salvagebid/internal/store/memory"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func naira(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingQueue struct {
	mu    sync.Mutex
	items []domain.Notification
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, n domain.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, n)
	return nil
}

func (q *recordingQueue) sent(userID string, tpl domain.NotificationTemplate) []domain.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.Notification
	for _, n := range q.items {
		if n.UserID == userID && n.Template == tpl {
			out = append(out, n)
		}
	}
	return out
}

type fakeGateway struct {
	mu          sync.Mutex
	charges     map[string]domain.ChargeResult
	transferErr error
	transfers   []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{charges: make(map[string]domain.ChargeResult)}
}

func (g *fakeGateway) setCharge(ref string, status domain.ChargeStatus, amount decimal.Decimal) {
	g.mu.Lock()
	g.charges[ref] = domain.ChargeResult{Status: status, Amount: amount}
	g.mu.Unlock()
}

func (g *fakeGateway) failTransfers(err error) {
	g.mu.Lock()
	g.transferErr = err
	g.mu.Unlock()
}

func (g *fakeGateway) VerifyCharge(_ context.Context, ref string) (domain.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.charges[ref]
	if !ok {
		return domain.ChargeResult{}, errors.New("unknown reference")
	}
	return c, nil
}

func (g *fakeGateway) InitiateTransfer(_ context.Context, _ string, _ decimal.Decimal, ref string) (domain.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.transferErr != nil {
		return domain.TransferResult{}, g.transferErr
	}
	g.transfers = append(g.transfers, ref)
	return domain.TransferResult{Status: domain.TransferCompleted, TransferID: "TRF_" + ref}, nil
}

type fixture struct {
	db         *memory.DB
	clock      *fakeClock
	locks      *local.LockManager
	bus        *local.SignalBus
	queue      *recordingQueue
	gateway    *fakeGateway
	ledger     *Ledger
	monitor    *FraudMonitor
	bids       *BidProcessor
	lifecycle  *Lifecycle
	settlement *Settlement
	admin      *AdminService
	directory  *Directory
}

type fixtureOpts struct {
	mode      domain.SettlementMode
	rateLimit int
	lockWait  time.Duration
	// Optional decorators around the stores the services see.
	wrapCache    func(domain.AuctionCache) domain.AuctionCache
	wrapPayments func(domain.PaymentStore) domain.PaymentStore
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	if opts.mode == "" {
		opts.mode = domain.SettlementEscrow
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ins := metrics.Default()

	f := &fixture{
		db:      memory.NewDB(),
		clock:   &fakeClock{t: t0},
		locks:   local.NewLockManager(),
		bus:     local.NewSignalBus(0),
		queue:   &recordingQueue{},
		gateway: newFakeGateway(),
	}
	f.db.SetClock(f.clock.Now)
	tiers := domain.TierCeilings{
		domain.VendorTier1: naira(500000),
		domain.VendorTier2: decimal.Zero,
	}
	extension := domain.ExtensionPolicy{Window: 5 * time.Minute, Increment: 5 * time.Minute, Cap: 3}

	f.ledger = NewLedger(f.db.Wallets(), f.locks, ins, LedgerConfig{}, logger)
	f.ledger.SetClock(f.clock.Now)

	detector := fraud.NewDetector(fraud.DefaultRegistry(fraud.DefaultConfig()), nil, logger)
	f.monitor = NewFraudMonitor(detector, f.db.Fraud(), f.db.Bids(), f.db.Vendors(), f.db.Cases(), f.queue, ins, logger)
	f.monitor.SetClock(f.clock.Now)

	var cache domain.AuctionCache = local.NewAuctionCache()
	if opts.wrapCache != nil {
		cache = opts.wrapCache(cache)
	}
	var payments domain.PaymentStore = f.db.Payments()
	if opts.wrapPayments != nil {
		payments = opts.wrapPayments(payments)
	}
	f.bids = NewBidProcessor(BidProcessorDeps{
		Auctions: f.db.Auctions(),
		Vendors:  f.db.Vendors(),
		Ledger:   f.ledger,
		Monitor:  f.monitor,
		Locks:    f.locks,
		Limiter:  local.NewRateLimiter(opts.rateLimit, time.Minute),
		Bus:      f.bus,
		Queue:    f.queue,
		Cache:    cache,
		Metrics:  ins,
	}, BidConfig{
		LockWait:   opts.lockWait,
		RateLimit:  opts.rateLimit,
		RateWindow: time.Minute,
		Tiers:      tiers,
		Extension:  extension,
		Settlement: opts.mode,
	}, logger)
	f.bids.SetClock(f.clock.Now)

	f.settlement = NewSettlement(SettlementDeps{
		Payments: payments,
		Auctions: f.db.Auctions(),
		Cases:    f.db.Cases(),
		Ledger:   f.ledger,
		Gateway:  f.gateway,
		Bus:      f.bus,
		Queue:    f.queue,
		Audit:    f.db.Audit(),
		Metrics:  ins,
	}, SettlementConfig{
		Mode:               opts.mode,
		Beneficiary:        "RCP_insurer",
		TransferMaxElapsed: 50 * time.Millisecond,
	}, logger)
	f.settlement.SetClock(f.clock.Now)

	f.lifecycle = NewLifecycle(LifecycleDeps{
		Auctions: f.db.Auctions(),
		Bids:     f.db.Bids(),
		Cases:    f.db.Cases(),
		Vendors:  f.db.Vendors(),
		Payments: payments,
		Ledger:   f.ledger,
		Settler:  f.settlement,
		Locks:    f.locks,
		Bus:      f.bus,
		Queue:    f.queue,
		Cache:    cache,
		Audit:    f.db.Audit(),
		Metrics:  ins,
	}, LifecycleConfig{
		Tiers:      tiers,
		Settlement: opts.mode,
	}, logger)
	f.lifecycle.SetClock(f.clock.Now)

	f.admin = NewAdminService(f.db.Fraud(), f.db.Vendors(), f.db.Audit(), f.lifecycle, f.settlement, 20, logger)
	f.admin.SetClock(f.clock.Now)

	f.directory = NewDirectory(f.db.Cases(), f.db.Vendors(), f.db.Wallets(), logger)
	return f
}

func (f *fixture) vendor(t *testing.T, id string, tier domain.VendorTier, funds int64) domain.Vendor {
	t.Helper()
	v, err := f.directory.RegisterVendor(context.Background(), domain.Vendor{ID: id, Name: id, Tier: tier})
	require.NoError(t, err)
	if funds > 0 {
		_, _, err := f.ledger.Credit(context.Background(), id, naira(funds), "fund:"+id, "initial funding")
		require.NoError(t, err)
	}
	return v
}

func (f *fixture) auction(t *testing.T, caseID string, reserve int64) domain.Auction {
	t.Helper()
	ctx := context.Background()
	_, err := f.directory.IntakeCase(ctx, domain.SalvageCase{
		ID:             caseID,
		AssetType:      "vehicle",
		ReservePrice:   naira(reserve),
		EstimatedValue: naira(reserve * 2),
	})
	require.NoError(t, err)
	a, err := f.lifecycle.CreateAuction(ctx, caseID)
	require.NoError(t, err)
	return a
}

func (f *fixture) bid(auctionID, vendorID string, amount int64, ip string) (domain.BidResult, error) {
	return f.bids.PlaceBid(context.Background(), domain.BidRequest{
		AuctionID:   auctionID,
		VendorID:    vendorID,
		Amount:      naira(amount),
		OTPVerified: true,
		IPAddress:   ip,
		DeviceType:  "mobile",
	})
}

func (f *fixture) wallet(t *testing.T, vendorID string) domain.EscrowWallet {
	t.Helper()
	w, err := f.db.Wallets().GetByVendor(context.Background(), vendorID)
	require.NoError(t, err)
	return w
}

// containsType reports whether raw is an AuctionEvent of type typ.
func containsType(raw []byte, typ string) bool {
	var ev domain.AuctionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return false
	}
	return ev.Type == typ
}
