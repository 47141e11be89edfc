package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/metrics"
)

// errNoChange aborts a Mutate callback without persisting when a scan finds
// the auction already moved on.
var errNoChange = errors.New("no change")

// WinnerSettler opens the payment obligation for a closed auction.
type WinnerSettler interface {
	CreateForAuction(ctx context.Context, a domain.Auction) (domain.Payment, error)
}

// LifecycleConfig configures auction creation and scans.
type LifecycleConfig struct {
	Duration         time.Duration
	MinimumIncrement decimal.Decimal
	Tiers            domain.TierCeilings
	Settlement       domain.SettlementMode
	LockTTL          time.Duration
	LockWait         time.Duration
	ScanBatch        int
	// SettleLookback bounds how far back the close scan looks for closed
	// auctions whose payment was never opened.
	SettleLookback time.Duration
}

// LifecycleDeps groups the lifecycle's collaborators.
type LifecycleDeps struct {
	Auctions domain.AuctionStore
	Bids     domain.BidStore
	Cases    domain.CaseStore
	Vendors  domain.VendorStore
	Payments domain.PaymentStore
	Ledger   *Ledger
	Settler  WinnerSettler
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Queue    domain.NotificationQueue
	Cache    domain.AuctionCache
	Audit    domain.AuditStore
	Metrics  *metrics.Instruments
}

// Lifecycle drives auctions from creation to close or cancellation.
type Lifecycle struct {
	deps   LifecycleDeps
	cfg    LifecycleConfig
	now    Clock
	logger *slog.Logger
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(deps LifecycleDeps, cfg LifecycleConfig, logger *slog.Logger) *Lifecycle {
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * 24 * time.Hour
	}
	if !cfg.MinimumIncrement.IsPositive() {
		cfg.MinimumIncrement = decimal.NewFromInt(10000)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	if cfg.ScanBatch <= 0 {
		cfg.ScanBatch = 100
	}
	if cfg.SettleLookback <= 0 {
		cfg.SettleLookback = time.Hour
	}
	return &Lifecycle{
		deps:   deps,
		cfg:    cfg,
		now:    systemClock,
		logger: logger.With(slog.String("component", "lifecycle")),
	}
}

// SetClock overrides the lifecycle clock.
func (l *Lifecycle) SetClock(c Clock) { l.now = c }

// SetSettler wires the settlement service after construction.
func (l *Lifecycle) SetSettler(s WinnerSettler) { l.deps.Settler = s }

// CreateAuction opens an auction for an approved case starting now.
func (l *Lifecycle) CreateAuction(ctx context.Context, caseID string) (domain.Auction, error) {
	return l.ScheduleAuction(ctx, caseID, time.Time{})
}

// ScheduleAuction creates an auction for an approved case. A zero or past
// start time opens it immediately; a future one leaves it scheduled until
// ActivateDue picks it up.
func (l *Lifecycle) ScheduleAuction(ctx context.Context, caseID string, start time.Time) (domain.Auction, error) {
	c, err := l.deps.Cases.Get(ctx, caseID)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("lifecycle: load case %s: %w", caseID, err)
	}
	if c.Status != domain.CaseApproved {
		return domain.Auction{}, fmt.Errorf("lifecycle: case %s is %s: %w", caseID, c.Status, domain.ErrCaseNotApproved)
	}
	if _, err := l.deps.Auctions.GetByCase(ctx, caseID); err == nil {
		return domain.Auction{}, fmt.Errorf("lifecycle: auction for case %s: %w", caseID, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Auction{}, fmt.Errorf("lifecycle: lookup auction for case %s: %w", caseID, err)
	}

	now := l.now()
	status := domain.AuctionActive
	if start.After(now) {
		status = domain.AuctionScheduled
	} else {
		start = now
	}
	end := start.Add(l.cfg.Duration)
	a := domain.Auction{
		ID:               uuid.NewString(),
		CaseID:           c.ID,
		AssetType:        c.AssetType,
		StartTime:        start,
		EndTime:          end,
		OriginalEndTime:  end,
		ReservePrice:     c.ReservePrice,
		MinimumIncrement: l.cfg.MinimumIncrement,
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := l.deps.Auctions.Create(ctx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("lifecycle: create auction: %w", err)
	}
	if _, err := l.deps.Cases.Transition(ctx, c.ID, []domain.CaseStatus{domain.CaseApproved}, domain.CaseActiveAuction); err != nil {
		l.logger.WarnContext(ctx, "lifecycle: mark case active failed",
			slog.String("case_id", c.ID),
			slog.String("error", err.Error()),
		)
	}

	l.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("case_id", c.ID),
		slog.String("status", string(a.Status)),
		slog.Time("start_time", a.StartTime),
		slog.Time("end_time", a.EndTime),
	)
	if a.Status == domain.AuctionActive {
		l.announce(ctx, a)
	}
	return a, nil
}

// Get returns the auction, preferring the snapshot cache.
func (l *Lifecycle) Get(ctx context.Context, id string) (domain.Auction, error) {
	if l.deps.Cache != nil {
		if a, err := l.deps.Cache.Get(ctx, id); err == nil {
			return a, nil
		}
	}
	a, err := l.deps.Auctions.Get(ctx, id)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("lifecycle: get auction %s: %w", id, err)
	}
	l.cacheSet(ctx, a)
	return a, nil
}

// List returns auctions filtered by status.
func (l *Lifecycle) List(ctx context.Context, statuses []domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error) {
	out, err := l.deps.Auctions.List(ctx, statuses, opts)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list auctions: %w", err)
	}
	return out, nil
}

// Bids returns the accepted bids of an auction in acceptance order.
func (l *Lifecycle) Bids(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	out, err := l.deps.Bids.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list bids %s: %w", auctionID, err)
	}
	return out, nil
}

// Watch records a new observer on the auction.
func (l *Lifecycle) Watch(ctx context.Context, auctionID string) error {
	if err := l.deps.Auctions.AdjustWatching(ctx, auctionID, 1); err != nil {
		return fmt.Errorf("lifecycle: watch %s: %w", auctionID, err)
	}
	l.invalidate(ctx, auctionID)
	return nil
}

// Unwatch removes an observer from the auction.
func (l *Lifecycle) Unwatch(ctx context.Context, auctionID string) error {
	if err := l.deps.Auctions.AdjustWatching(ctx, auctionID, -1); err != nil {
		return fmt.Errorf("lifecycle: unwatch %s: %w", auctionID, err)
	}
	l.invalidate(ctx, auctionID)
	return nil
}

// ActivateDue opens scheduled auctions whose start time has passed.
func (l *Lifecycle) ActivateDue(ctx context.Context) (domain.ScanResult, error) {
	var res domain.ScanResult
	now := l.now()
	due, err := l.deps.Auctions.ListDueToStart(ctx, now, l.cfg.ScanBatch)
	if err != nil {
		return res, fmt.Errorf("lifecycle: list due auctions: %w", err)
	}
	for _, a := range due {
		res.Scanned++
		updated, changed, err := l.transition(ctx, a.ID, func(cur *domain.Auction) error {
			if cur.Status != domain.AuctionScheduled || cur.StartTime.After(now) {
				return errNoChange
			}
			cur.Status = domain.AuctionActive
			return nil
		})
		if err != nil {
			res.Failed++
			l.logger.ErrorContext(ctx, "lifecycle: activate auction failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if changed {
			res.Processed++
			l.logger.InfoContext(ctx, "auction activated", slog.String("auction_id", updated.ID))
			l.announce(ctx, updated)
		}
	}
	l.countScan(ctx, "activate_due")
	return res, nil
}

// CloseExpiredAuctions closes every open auction whose end time has passed
// and opens the winner's payment obligation. Re-running it is a no-op for
// auctions already closed.
func (l *Lifecycle) CloseExpiredAuctions(ctx context.Context) (domain.ScanResult, error) {
	var res domain.ScanResult
	now := l.now()
	expired, err := l.deps.Auctions.ListExpired(ctx, now, l.cfg.ScanBatch)
	if err != nil {
		return res, fmt.Errorf("lifecycle: list expired auctions: %w", err)
	}
	for _, a := range expired {
		res.Scanned++
		closed, changed, err := l.transition(ctx, a.ID, func(cur *domain.Auction) error {
			if !cur.Expired(now) {
				return errNoChange
			}
			cur.Status = domain.AuctionClosed
			cur.ClosedAt = &now
			return nil
		})
		if err != nil {
			res.Failed++
			l.logger.ErrorContext(ctx, "lifecycle: close auction failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !changed {
			continue
		}
		if err := l.finalize(ctx, closed); err != nil {
			res.Failed++
			l.logger.ErrorContext(ctx, "lifecycle: finalize auction failed",
				slog.String("auction_id", closed.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Processed++
	}
	l.settleStragglers(ctx, now)
	l.countScan(ctx, "close_expired")
	return res, nil
}

// finalize runs the follow-ups of a freshly closed auction.
func (l *Lifecycle) finalize(ctx context.Context, a domain.Auction) error {
	l.logger.InfoContext(ctx, "auction closed",
		slog.String("auction_id", a.ID),
		slog.Bool("has_winner", a.HasBid()),
		slog.Int("extensions", a.ExtensionCount),
	)
	l.publish(ctx, auctionEvent(domain.EventAuctionClosed, a, l.now()))

	if !a.HasBid() {
		if _, err := l.deps.Cases.Transition(ctx, a.CaseID, []domain.CaseStatus{domain.CaseActiveAuction}, domain.CaseUnsold); err != nil {
			return fmt.Errorf("mark case unsold: %w", err)
		}
		return nil
	}

	if _, err := l.deps.Cases.Transition(ctx, a.CaseID, []domain.CaseStatus{domain.CaseActiveAuction}, domain.CaseSold); err != nil {
		l.logger.WarnContext(ctx, "lifecycle: mark case sold failed",
			slog.String("case_id", a.CaseID),
			slog.String("error", err.Error()),
		)
	}
	if err := l.deps.Vendors.IncrementCounters(ctx, a.CurrentBidderID, domain.VendorCounters{Wins: 1}); err != nil {
		l.logger.WarnContext(ctx, "lifecycle: increment wins failed",
			slog.String("vendor_id", a.CurrentBidderID),
			slog.String("error", err.Error()),
		)
	}
	l.enqueue(ctx, a.CurrentBidderID, domain.TemplateAuctionWon, map[string]any{
		"auction_id": a.ID,
		"asset_type": a.AssetType,
		"amount":     a.CurrentBid.String(),
	}, 0)

	if l.deps.Settler == nil {
		return errors.New("no settlement service configured")
	}
	if _, err := l.deps.Settler.CreateForAuction(ctx, a); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// settleStragglers opens payments for recently closed auctions whose
// finalization failed part way. CreateForAuction is idempotent, so auctions
// that already have a payment are skipped cheaply.
func (l *Lifecycle) settleStragglers(ctx context.Context, now time.Time) {
	if l.deps.Settler == nil || l.deps.Payments == nil {
		return
	}
	closed, err := l.deps.Auctions.ListClosedBetween(ctx, now.Add(-l.cfg.SettleLookback), now.Add(time.Nanosecond))
	if err != nil {
		l.logger.WarnContext(ctx, "lifecycle: list closed auctions failed", slog.String("error", err.Error()))
		return
	}
	for _, a := range closed {
		if a.Status != domain.AuctionClosed || !a.HasBid() {
			continue
		}
		if _, err := l.deps.Payments.GetByAuction(ctx, a.ID); err == nil || !errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if _, err := l.deps.Settler.CreateForAuction(ctx, a); err != nil {
			l.logger.WarnContext(ctx, "lifecycle: retry payment creation failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// CancelAuction stops a non-terminal auction. In escrow mode the high
// bidder's hold is released.
func (l *Lifecycle) CancelAuction(ctx context.Context, auctionID, adminID, justification string) (domain.Auction, error) {
	now := l.now()
	cancelled, changed, err := l.transition(ctx, auctionID, func(cur *domain.Auction) error {
		if cur.Status.Terminal() {
			return fmt.Errorf("auction %s is %s: %w", cur.ID, cur.Status, domain.ErrInvalidState)
		}
		cur.Status = domain.AuctionCancelled
		cur.ClosedAt = &now
		return nil
	})
	if err != nil {
		return domain.Auction{}, fmt.Errorf("lifecycle: cancel %s: %w", auctionID, err)
	}
	if !changed {
		return cancelled, nil
	}

	if l.cfg.Settlement == domain.SettlementEscrow && cancelled.HasBid() && l.deps.Ledger != nil {
		wallet, err := l.deps.Ledger.Wallet(ctx, cancelled.CurrentBidderID)
		if err == nil {
			_, err = l.deps.Ledger.Unfreeze(ctx, wallet.ID, *cancelled.CurrentBid, "cancel:"+cancelled.ID)
		}
		if err != nil {
			l.logger.ErrorContext(ctx, "lifecycle: release hold on cancel failed",
				slog.String("auction_id", cancelled.ID),
				slog.String("vendor_id", cancelled.CurrentBidderID),
				slog.String("error", err.Error()),
			)
		}
	}
	if _, err := l.deps.Cases.Transition(ctx, cancelled.CaseID,
		[]domain.CaseStatus{domain.CaseApproved, domain.CaseActiveAuction}, domain.CaseCancelled); err != nil {
		l.logger.WarnContext(ctx, "lifecycle: mark case cancelled failed",
			slog.String("case_id", cancelled.CaseID),
			slog.String("error", err.Error()),
		)
	}
	audit(ctx, l.deps.Audit, l.logger, "auction_cancelled", adminID, map[string]any{
		"auction_id":    cancelled.ID,
		"case_id":       cancelled.CaseID,
		"justification": justification,
	})
	l.publish(ctx, auctionEvent(domain.EventAuctionCancel, cancelled, now))
	l.logger.InfoContext(ctx, "auction cancelled",
		slog.String("auction_id", cancelled.ID),
		slog.String("admin_id", adminID),
	)
	return cancelled, nil
}

// transition applies fn to the auction under per-auction exclusivity. It
// reports changed=false when fn returned errNoChange.
func (l *Lifecycle) transition(ctx context.Context, id string, fn func(*domain.Auction) error) (domain.Auction, bool, error) {
	unlock, err := domain.AcquireWithin(ctx, l.deps.Locks, auctionLockKey(id), l.cfg.LockTTL, l.cfg.LockWait)
	if err != nil {
		return domain.Auction{}, false, fmt.Errorf("lock auction %s: %w", id, err)
	}
	defer unlock()

	a, err := l.deps.Auctions.Mutate(ctx, id, func(cur *domain.Auction) (*domain.Bid, error) {
		return nil, fn(cur)
	})
	if errors.Is(err, errNoChange) {
		return a, false, nil
	}
	if err != nil {
		return a, false, err
	}
	l.cacheSet(ctx, a)
	return a, true, nil
}

// announce notifies every eligible vendor of a newly active auction.
func (l *Lifecycle) announce(ctx context.Context, a domain.Auction) {
	vendors, err := l.deps.Vendors.ListActive(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "lifecycle: list vendors for announcement failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	sent := 0
	for _, v := range vendors {
		if !l.cfg.Tiers.Allows(v.Tier, a.ReservePrice) || !v.InterestedIn(a.AssetType) {
			continue
		}
		if l.enqueue(ctx, v.ID, domain.TemplateAuctionCreated, map[string]any{
			"auction_id":    a.ID,
			"asset_type":    a.AssetType,
			"reserve_price": a.ReservePrice.String(),
			"end_time":      a.EndTime.Format(time.RFC3339),
		}, 0) {
			sent++
		}
	}
	l.logger.DebugContext(ctx, "auction announced", slog.String("auction_id", a.ID), slog.Int("vendors", sent))
}

func (l *Lifecycle) enqueue(ctx context.Context, userID string, tpl domain.NotificationTemplate, payload map[string]any, budget time.Duration) bool {
	if l.deps.Queue == nil {
		return false
	}
	err := l.deps.Queue.Enqueue(ctx, domain.Notification{
		ID:         uuid.NewString(),
		UserID:     userID,
		Template:   tpl,
		Payload:    payload,
		EnqueuedAt: l.now(),
		Budget:     budget,
	})
	if err != nil {
		l.logger.WarnContext(ctx, "lifecycle: enqueue notification failed",
			slog.String("user_id", userID),
			slog.String("template", string(tpl)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (l *Lifecycle) publish(ctx context.Context, ev domain.AuctionEvent) {
	if l.deps.Bus == nil {
		return
	}
	if _, err := publishEvent(ctx, l.deps.Bus, ev); err != nil {
		l.logger.WarnContext(ctx, "lifecycle: publish event failed",
			slog.String("auction_id", ev.AuctionID),
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Lifecycle) cacheSet(ctx context.Context, a domain.Auction) {
	if l.deps.Cache == nil {
		return
	}
	if err := l.deps.Cache.Set(ctx, a); err != nil {
		l.logger.DebugContext(ctx, "lifecycle: cache set failed", slog.String("auction_id", a.ID), slog.String("error", err.Error()))
	}
}

func (l *Lifecycle) invalidate(ctx context.Context, id string) {
	if l.deps.Cache != nil {
		_ = l.deps.Cache.Invalidate(ctx, id)
	}
}

func (l *Lifecycle) countScan(ctx context.Context, name string) {
	if l.deps.Metrics != nil {
		l.deps.Metrics.Scans.Add(ctx, 1, scanAttrs(name))
	}
}
