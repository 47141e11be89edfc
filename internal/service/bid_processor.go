package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/metrics"
)

// Degradation tags reported in BidResult.Degraded.
const (
	DegradedBroadcast     = "broadcast"
	DegradedOutbidNotice  = "outbid_notification"
	DegradedFraudScan     = "fraud_scan"
	DegradedEscrowRelease = "escrow_release"
)

// BidConfig configures the bid processor.
type BidConfig struct {
	LockTTL         time.Duration
	LockWait        time.Duration
	RateLimit       int
	RateWindow      time.Duration
	Tiers           domain.TierCeilings
	Extension       domain.ExtensionPolicy
	Settlement      domain.SettlementMode
	BroadcastBudget time.Duration
	OutbidBudget    time.Duration
}

// BidProcessor validates bids and applies accepted ones under per-auction
// exclusivity. Every accepted bid raises the committed high bid by at least
// the minimum increment.
type BidProcessor struct {
	auctions domain.AuctionStore
	vendors  domain.VendorStore
	ledger   *Ledger
	monitor  *FraudMonitor
	locks    domain.LockManager
	limiter  domain.RateLimiter
	bus      domain.SignalBus
	queue    domain.NotificationQueue
	cache    domain.AuctionCache
	ins      *metrics.Instruments
	cfg      BidConfig
	now      Clock
	logger   *slog.Logger
}

// BidProcessorDeps groups the processor's collaborators.
type BidProcessorDeps struct {
	Auctions domain.AuctionStore
	Vendors  domain.VendorStore
	Ledger   *Ledger
	Monitor  *FraudMonitor
	Locks    domain.LockManager
	Limiter  domain.RateLimiter
	Bus      domain.SignalBus
	Queue    domain.NotificationQueue
	Cache    domain.AuctionCache
	Metrics  *metrics.Instruments
}

// NewBidProcessor creates a BidProcessor.
func NewBidProcessor(deps BidProcessorDeps, cfg BidConfig, logger *slog.Logger) *BidProcessor {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	if cfg.BroadcastBudget <= 0 {
		cfg.BroadcastBudget = 2 * time.Second
	}
	if cfg.OutbidBudget <= 0 {
		cfg.OutbidBudget = 5 * time.Second
	}
	if cfg.Settlement == "" {
		cfg.Settlement = domain.SettlementGateway
	}
	return &BidProcessor{
		auctions: deps.Auctions,
		vendors:  deps.Vendors,
		ledger:   deps.Ledger,
		monitor:  deps.Monitor,
		locks:    deps.Locks,
		limiter:  deps.Limiter,
		bus:      deps.Bus,
		queue:    deps.Queue,
		cache:    deps.Cache,
		ins:      deps.Metrics,
		cfg:      cfg,
		now:      systemClock,
		logger:   logger.With(slog.String("component", "bid_processor")),
	}
}

// SetClock overrides the processor clock.
func (p *BidProcessor) SetClock(c Clock) { p.now = c }

// ValidateBid checks amount against the committed state of a at time now.
func ValidateBid(a domain.Auction, amount decimal.Decimal, now time.Time) *domain.Rejection {
	minNext := a.MinimumNextBid()
	reject := func(reason domain.RejectReason, format string, args ...any) *domain.Rejection {
		r := domain.Reject(reason, format, args...)
		r.CurrentBid = a.CurrentBid
		r.MinimumNext = &minNext
		return r
	}
	if !a.AcceptsBidsAt(now) {
		return reject(domain.ReasonAuctionNotOpen, "auction %s is %s and ends %s", a.ID, a.Status, a.EndTime.Format(time.RFC3339))
	}
	if !a.HasBid() && amount.LessThan(a.ReservePrice) {
		return reject(domain.ReasonBelowReserve, "%s is below reserve %s", amount, a.ReservePrice)
	}
	if a.HasBid() && amount.LessThan(minNext) {
		return reject(domain.ReasonBelowMinimumIncrement, "%s is below minimum next bid %s", amount, minNext)
	}
	return nil
}

// PlaceBid validates and, if acceptable, commits a bid.
func (p *BidProcessor) PlaceBid(ctx context.Context, req domain.BidRequest) (res domain.BidResult, err error) {
	defer func() { p.record(ctx, err) }()

	if !req.Amount.IsPositive() {
		return res, domain.Reject(domain.ReasonInvalidAmount, "amount must be positive")
	}
	if !req.OTPVerified {
		return res, domain.Reject(domain.ReasonOTPNotVerified, "bid confirmation requires a verified one-time password")
	}

	vendor, err := p.vendors.Get(ctx, req.VendorID)
	if err != nil {
		return res, fmt.Errorf("bid: load vendor %s: %w", req.VendorID, err)
	}
	if vendor.Status == domain.VendorSuspended {
		return res, domain.Reject(domain.ReasonVendorSuspended, "vendor %s is suspended", vendor.ID)
	}
	if !p.cfg.Tiers.Allows(vendor.Tier, req.Amount) {
		return res, domain.Reject(domain.ReasonTierCeilingExceeded, "%s exceeds the %s ceiling %s",
			req.Amount, vendor.Tier, p.cfg.Tiers[vendor.Tier])
	}
	if err := p.checkRate(ctx, vendor.ID); err != nil {
		return res, err
	}

	unlock, err := domain.AcquireWithin(ctx, p.locks, auctionLockKey(req.AuctionID), p.cfg.LockTTL, p.cfg.LockWait)
	if errors.Is(err, domain.ErrLockHeld) {
		return res, p.conflict(ctx, req.AuctionID)
	}
	if err != nil {
		return res, fmt.Errorf("bid: lock auction %s: %w", req.AuctionID, err)
	}
	locked := true
	release := func() {
		if locked {
			locked = false
			unlock()
		}
	}
	defer release()

	now := p.now()
	current, err := p.auctions.Get(ctx, req.AuctionID)
	if err != nil {
		return res, fmt.Errorf("bid: load auction %s: %w", req.AuctionID, err)
	}
	if rej := ValidateBid(current, req.Amount, now); rej != nil {
		return res, rej
	}

	bid := domain.Bid{
		ID:          newULID(now),
		AuctionID:   req.AuctionID,
		VendorID:    vendor.ID,
		Amount:      req.Amount,
		OTPVerified: req.OTPVerified,
		IPAddress:   req.IPAddress,
		DeviceType:  req.DeviceType,
		CreatedAt:   now,
	}

	escrow := p.cfg.Settlement == domain.SettlementEscrow
	var walletID string
	if escrow {
		wallet, err := p.ledger.Wallet(ctx, vendor.ID)
		if err != nil {
			return res, fmt.Errorf("bid: %w", err)
		}
		walletID = wallet.ID
		if _, err := p.ledger.Freeze(ctx, walletID, req.Amount, "bid:"+bid.ID); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return res, domain.Reject(domain.ReasonInsufficientEscrow,
					"available escrow does not cover %s", req.Amount)
			}
			return res, fmt.Errorf("bid: freeze escrow: %w", err)
		}
	}

	var (
		prevBidder string
		prevAmount decimal.Decimal
		extended   bool
	)
	updated, err := p.auctions.Mutate(ctx, req.AuctionID, func(a *domain.Auction) (*domain.Bid, error) {
		if rej := ValidateBid(*a, req.Amount, now); rej != nil {
			return nil, rej
		}
		prevBidder = a.CurrentBidderID
		if a.CurrentBid != nil {
			prevAmount = *a.CurrentBid
		}
		amount := req.Amount
		a.CurrentBid = &amount
		a.CurrentBidderID = vendor.ID
		extended = p.cfg.Extension.Apply(a, now)
		return &bid, nil
	})
	if err != nil {
		if escrow {
			if _, uerr := p.ledger.Unfreeze(context.WithoutCancel(ctx), walletID, req.Amount, "release:"+bid.ID); uerr != nil {
				p.logger.ErrorContext(ctx, "bid: compensating unfreeze failed",
					slog.String("bid_id", bid.ID),
					slog.String("wallet_id", walletID),
					slog.String("error", uerr.Error()),
				)
			}
		}
		return res, fmt.Errorf("bid: commit: %w", err)
	}
	// The snapshot is written before the lock is released so a later bid's
	// write always lands after this one.
	if p.cache != nil {
		if err := p.cache.Set(context.WithoutCancel(ctx), updated); err != nil {
			p.logger.WarnContext(ctx, "bid: cache auction failed", slog.String("auction_id", updated.ID), slog.String("error", err.Error()))
		}
	}
	release()

	res = domain.BidResult{Bid: bid, Auction: updated, Extended: extended}
	p.logger.InfoContext(ctx, "bid accepted",
		slog.String("auction_id", updated.ID),
		slog.String("bid_id", bid.ID),
		slog.String("vendor_id", vendor.ID),
		slog.String("amount", bid.Amount.String()),
		slog.Bool("extended", extended),
		slog.Time("end_time", updated.EndTime),
	)

	p.afterCommit(context.WithoutCancel(ctx), &res, prevBidder, prevAmount)
	return res, nil
}

// afterCommit runs the best-effort follow-ups of an accepted bid. Failures
// are logged and reported in res.Degraded.
func (p *BidProcessor) afterCommit(ctx context.Context, res *domain.BidResult, prevBidder string, prevAmount decimal.Decimal) {
	bid, a := res.Bid, res.Auction

	if p.cfg.Settlement == domain.SettlementEscrow && prevBidder != "" {
		if err := p.releasePrevious(ctx, bid.ID, prevBidder, prevAmount); err != nil {
			res.Degraded = append(res.Degraded, DegradedEscrowRelease)
			p.logger.WarnContext(ctx, "bid: release outbid hold failed",
				slog.String("bid_id", bid.ID),
				slog.String("vendor_id", prevBidder),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := p.vendors.IncrementCounters(ctx, bid.VendorID, domain.VendorCounters{Bids: 1}); err != nil {
		p.logger.WarnContext(ctx, "bid: increment vendor counters failed",
			slog.String("vendor_id", bid.VendorID),
			slog.String("error", err.Error()),
		)
	}

	if p.monitor != nil {
		if _, err := p.monitor.Scan(ctx, a, bid); err != nil {
			res.Degraded = append(res.Degraded, DegradedFraudScan)
			p.logger.WarnContext(ctx, "bid: fraud scan failed",
				slog.String("auction_id", a.ID),
				slog.String("bid_id", bid.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	ev := auctionEvent(domain.EventBidAccepted, a, p.now())
	ev.BidID = bid.ID
	if !p.broadcast(ctx, ev) {
		res.Degraded = append(res.Degraded, DegradedBroadcast)
	}
	if res.Extended {
		ext := auctionEvent(domain.EventAuctionExtended, a, p.now())
		ext.BidID = bid.ID
		p.broadcast(ctx, ext)
	}

	if prevBidder != "" && prevBidder != bid.VendorID {
		err := p.queue.Enqueue(ctx, domain.Notification{
			ID:       uuid.NewString(),
			UserID:   prevBidder,
			Template: domain.TemplateOutbid,
			Payload: map[string]any{
				"auction_id":       a.ID,
				"asset_type":       a.AssetType,
				"previous_amount":  prevAmount.String(),
				"current_bid":      bid.Amount.String(),
				"minimum_next_bid": a.MinimumNextBid().String(),
				"end_time":         a.EndTime.Format(time.RFC3339),
			},
			EnqueuedAt: p.now(),
			Budget:     p.cfg.OutbidBudget,
		})
		if err != nil {
			res.Degraded = append(res.Degraded, DegradedOutbidNotice)
			p.logger.WarnContext(ctx, "bid: enqueue outbid notification failed",
				slog.String("auction_id", a.ID),
				slog.String("vendor_id", prevBidder),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *BidProcessor) releasePrevious(ctx context.Context, bidID, vendorID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	wallet, err := p.ledger.Wallet(ctx, vendorID)
	if err != nil {
		return err
	}
	_, err = p.ledger.Unfreeze(ctx, wallet.ID, amount, "outbid:"+bidID)
	return err
}

// broadcast publishes ev and reports whether it completed within budget.
func (p *BidProcessor) broadcast(ctx context.Context, ev domain.AuctionEvent) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.BroadcastBudget)
	defer cancel()
	elapsed, err := publishEvent(ctx, p.bus, ev)
	if err != nil {
		p.logger.WarnContext(ctx, "bid: broadcast failed",
			slog.String("auction_id", ev.AuctionID),
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
		p.breach(ctx, "broadcast")
		return false
	}
	if elapsed > p.cfg.BroadcastBudget {
		p.logger.WarnContext(ctx, "sla degraded",
			slog.String("what", "broadcast"),
			slog.String("auction_id", ev.AuctionID),
			slog.Duration("elapsed", elapsed),
			slog.Duration("budget", p.cfg.BroadcastBudget),
		)
		p.breach(ctx, "broadcast")
		return false
	}
	return true
}

func (p *BidProcessor) breach(ctx context.Context, what string) {
	if p.ins != nil {
		p.ins.SLABreaches.Add(ctx, 1, metric.WithAttributes(metrics.KeyBudget.String(what)))
	}
}

func (p *BidProcessor) checkRate(ctx context.Context, vendorID string) error {
	if p.limiter == nil || p.cfg.RateLimit <= 0 {
		return nil
	}
	ok, err := p.limiter.Allow(ctx, "bid:"+vendorID, p.cfg.RateLimit, p.cfg.RateWindow)
	if err != nil {
		p.logger.WarnContext(ctx, "bid: rate limiter unavailable",
			slog.String("vendor_id", vendorID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !ok {
		return fmt.Errorf("bid: vendor %s: %w", vendorID, domain.ErrRateLimited)
	}
	return nil
}

// conflict builds the retry signal from the latest committed state.
func (p *BidProcessor) conflict(ctx context.Context, auctionID string) error {
	a, err := p.auctions.Get(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("bid: auction %s busy: %w", auctionID, domain.ErrConflict)
	}
	return &domain.ConflictError{
		AuctionID:       a.ID,
		CurrentBid:      a.CurrentBid,
		CurrentBidderID: a.CurrentBidderID,
		MinimumNext:     a.MinimumNextBid(),
	}
}

func (p *BidProcessor) record(ctx context.Context, err error) {
	if p.ins == nil {
		return
	}
	switch {
	case err == nil:
		p.ins.BidsAccepted.Add(ctx, 1)
	case errors.Is(err, domain.ErrConflict):
		p.ins.BidConflicts.Add(ctx, 1)
	default:
		reason := string(domain.ReasonOf(err))
		if reason == "" {
			reason = "error"
		}
		p.ins.BidsRejected.Add(ctx, 1, metric.WithAttributes(metrics.KeyReason.String(reason)))
	}
}
