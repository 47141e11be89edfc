package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/alanyoungcy/salvagebid/internal/crypto"
	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/metrics"
)

// SettlementConfig configures payment obligations and fund release.
type SettlementConfig struct {
	Mode           domain.SettlementMode
	PaymentWindow  time.Duration
	PickupValidity time.Duration
	// Beneficiary is the gateway recipient code funds are released to.
	Beneficiary        string
	TransferMaxElapsed time.Duration
	ScanBatch          int
}

// SettlementDeps groups the settlement service's collaborators.
type SettlementDeps struct {
	Payments domain.PaymentStore
	Auctions domain.AuctionStore
	Cases    domain.CaseStore
	Ledger   *Ledger
	Gateway  domain.PaymentGateway
	Bus      domain.SignalBus
	Queue    domain.NotificationQueue
	Audit    domain.AuditStore
	Metrics  *metrics.Instruments
}

// Settlement turns closed auctions into payment obligations and drives them
// to verification, rejection or overdue relisting.
type Settlement struct {
	deps   SettlementDeps
	cfg    SettlementConfig
	now    Clock
	logger *slog.Logger
}

// NewSettlement creates a Settlement.
func NewSettlement(deps SettlementDeps, cfg SettlementConfig, logger *slog.Logger) *Settlement {
	if !cfg.Mode.Valid() {
		cfg.Mode = domain.SettlementEscrow
	}
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = 24 * time.Hour
	}
	if cfg.PickupValidity <= 0 {
		cfg.PickupValidity = 7 * 24 * time.Hour
	}
	if cfg.TransferMaxElapsed <= 0 {
		cfg.TransferMaxElapsed = 30 * time.Second
	}
	if cfg.ScanBatch <= 0 {
		cfg.ScanBatch = 100
	}
	return &Settlement{
		deps:   deps,
		cfg:    cfg,
		now:    systemClock,
		logger: logger.With(slog.String("component", "settlement")),
	}
}

// SetClock overrides the settlement clock.
func (s *Settlement) SetClock(c Clock) { s.now = c }

// Get returns a payment by ID.
func (s *Settlement) Get(ctx context.Context, id string) (domain.Payment, error) {
	p, err := s.deps.Payments.Get(ctx, id)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("settlement: get payment %s: %w", id, err)
	}
	return p, nil
}

// CreateForAuction opens the winner's payment obligation. Calling it again
// for the same auction returns the existing payment. In escrow mode the
// winning bid is already frozen, so the payment is verified straight away.
func (s *Settlement) CreateForAuction(ctx context.Context, a domain.Auction) (domain.Payment, error) {
	if !a.HasBid() || a.Status != domain.AuctionClosed {
		return domain.Payment{}, fmt.Errorf("settlement: auction %s has no winner to settle: %w", a.ID, domain.ErrInvalidState)
	}
	if existing, err := s.deps.Payments.GetByAuction(ctx, a.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Payment{}, fmt.Errorf("settlement: lookup payment for %s: %w", a.ID, err)
	}

	closedAt := s.now()
	if a.ClosedAt != nil {
		closedAt = *a.ClosedAt
	}
	escrow := domain.EscrowNone
	if s.cfg.Mode == domain.SettlementEscrow {
		escrow = domain.EscrowFrozen
	}
	p := domain.Payment{
		ID:              uuid.NewString(),
		AuctionID:       a.ID,
		VendorID:        a.CurrentBidderID,
		Amount:          *a.CurrentBid,
		EscrowStatus:    escrow,
		Status:          domain.PaymentPending,
		PaymentDeadline: closedAt.Add(s.cfg.PaymentWindow),
		TransferStatus:  domain.TransferNone,
		CreatedAt:       s.now(),
		UpdatedAt:       s.now(),
	}
	if err := s.deps.Payments.Create(ctx, p); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.deps.Payments.GetByAuction(ctx, a.ID)
		}
		return domain.Payment{}, fmt.Errorf("settlement: create payment for %s: %w", a.ID, err)
	}
	s.logger.InfoContext(ctx, "payment created",
		slog.String("payment_id", p.ID),
		slog.String("auction_id", a.ID),
		slog.String("vendor_id", p.VendorID),
		slog.String("amount", p.Amount.String()),
		slog.Time("deadline", p.PaymentDeadline),
	)
	s.enqueue(ctx, p.VendorID, domain.TemplatePaymentDue, map[string]any{
		"payment_id": p.ID,
		"auction_id": a.ID,
		"amount":     p.Amount.String(),
		"deadline":   p.PaymentDeadline.Format(time.RFC3339),
	})

	if s.cfg.Mode != domain.SettlementEscrow {
		return p, nil
	}
	res, err := s.VerifyPayment(ctx, p.ID, domain.MethodEscrowWallet, "auction:"+a.ID)
	if err != nil {
		// Left pending: a later verify or the overdue scan resolves it.
		s.logger.ErrorContext(ctx, "settlement: escrow auto-verify failed",
			slog.String("payment_id", p.ID),
			slog.String("error", err.Error()),
		)
		return p, nil
	}
	return res.Payment, nil
}

// VerifyPayment confirms a pending payment and issues the pickup
// authorization. Re-verifying a verified payment with the same reference
// returns it unchanged; any other non-pending status is ErrInvalidState.
func (s *Settlement) VerifyPayment(ctx context.Context, id, method, reference string) (domain.SettlementResult, error) {
	p, err := s.deps.Payments.Get(ctx, id)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: get payment %s: %w", id, err)
	}
	if p.Status == domain.PaymentVerified && p.Reference == reference {
		return domain.SettlementResult{Payment: p}, nil
	}
	if p.Status != domain.PaymentPending {
		return domain.SettlementResult{}, fmt.Errorf("settlement: payment %s is %s: %w", id, p.Status, domain.ErrInvalidState)
	}
	// A charge settles one obligation. The store's unique index closes the
	// race between two verifications of the same reference.
	if reference != "" {
		owner, err := s.deps.Payments.GetByReference(ctx, reference)
		if err == nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement: reference %s already settles payment %s: %w", reference, owner.ID, domain.ErrAlreadyExists)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.SettlementResult{}, fmt.Errorf("settlement: look up reference %s: %w", reference, err)
		}
	}

	switch s.cfg.Mode {
	case domain.SettlementGateway:
		rejected, err := s.confirmCharge(ctx, p, reference)
		if err != nil {
			return domain.SettlementResult{}, err
		}
		if rejected != nil {
			return domain.SettlementResult{Payment: *rejected}, nil
		}
	case domain.SettlementEscrow:
		wallet, err := s.deps.Ledger.Wallet(ctx, p.VendorID)
		if err != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement: %w", err)
		}
		if _, err := s.deps.Ledger.Debit(ctx, wallet.ID, p.Amount, debitReference(p.ID)); err != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement: debit escrow for %s: %w", p.ID, err)
		}
	}

	now := s.now()
	p, err = s.deps.Payments.Update(ctx, id, func(cur *domain.Payment) error {
		if cur.Status != domain.PaymentPending {
			return fmt.Errorf("payment %s is %s: %w", cur.ID, cur.Status, domain.ErrInvalidState)
		}
		cur.Status = domain.PaymentVerified
		cur.Method = method
		cur.Reference = reference
		cur.VerifiedAt = &now
		if s.cfg.Mode == domain.SettlementEscrow {
			cur.EscrowStatus = domain.EscrowReleased
		}
		if s.deps.Gateway != nil && s.cfg.Beneficiary != "" {
			cur.TransferStatus = domain.TransferPending
		}
		return nil
	})
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: mark verified %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "payment verified",
		slog.String("payment_id", p.ID),
		slog.String("auction_id", p.AuctionID),
		slog.String("method", method),
	)
	audit(ctx, s.deps.Audit, s.logger, "payment_verified", p.VendorID, map[string]any{
		"payment_id": p.ID,
		"auction_id": p.AuctionID,
		"method":     method,
		"reference":  reference,
	})

	res := domain.SettlementResult{Payment: p}
	code, err := s.issuePickup(ctx, p)
	if err != nil {
		s.logger.ErrorContext(ctx, "settlement: issue pickup failed",
			slog.String("payment_id", p.ID),
			slog.String("error", err.Error()),
		)
		res.Degraded = append(res.Degraded, "pickup")
	} else {
		res.PickupCode = code.Code
		res.ExpiresAt = code.ExpiresAt
	}
	s.enqueue(ctx, p.VendorID, domain.TemplatePaymentVerified, map[string]any{
		"payment_id": p.ID,
		"auction_id": p.AuctionID,
		"amount":     p.Amount.String(),
	})

	if p.TransferStatus == domain.TransferPending {
		updated, err := s.transfer(ctx, p)
		res.Payment = updated
		if err != nil {
			res.Degraded = append(res.Degraded, "transfer")
		}
	}
	return res, nil
}

// confirmCharge asks the gateway about an external payment. It returns the
// rejected payment when the charge failed outright.
func (s *Settlement) confirmCharge(ctx context.Context, p domain.Payment, reference string) (*domain.Payment, error) {
	if s.deps.Gateway == nil {
		return nil, fmt.Errorf("settlement: gateway mode without a payment gateway: %w", domain.ErrInvalidState)
	}
	charge, err := s.deps.Gateway.VerifyCharge(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("settlement: verify charge %s: %w", reference, err)
	}
	switch charge.Status {
	case domain.ChargeSuccess:
		if charge.Amount.LessThan(p.Amount) {
			return nil, domain.Reject(domain.ReasonInvalidAmount, "charge %s is below payment amount %s", charge.Amount, p.Amount)
		}
		return nil, nil
	case domain.ChargeFailed:
		rejected, err := s.reject(ctx, p.ID, "", "gateway charge failed")
		if err != nil {
			return nil, err
		}
		return &rejected, nil
	default:
		return nil, fmt.Errorf("settlement: charge %s is %s: %w", reference, charge.Status, domain.ErrPaymentUnconfirmed)
	}
}

type issuedCode struct {
	Code      string
	ExpiresAt time.Time
}

func (s *Settlement) issuePickup(ctx context.Context, p domain.Payment) (issuedCode, error) {
	code, err := crypto.NewPickupCode()
	if err != nil {
		return issuedCode{}, err
	}
	now := s.now()
	auth := domain.PickupAuthorization{
		PaymentID: p.ID,
		AuctionID: p.AuctionID,
		VendorID:  p.VendorID,
		CodeHash:  code.Hash,
		Salt:      code.Salt,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.PickupValidity),
	}
	if err := s.deps.Payments.SavePickup(ctx, auth); err != nil {
		return issuedCode{}, fmt.Errorf("save pickup: %w", err)
	}
	s.enqueue(ctx, p.VendorID, domain.TemplatePickupIssued, map[string]any{
		"payment_id":  p.ID,
		"auction_id":  p.AuctionID,
		"pickup_code": code.Code,
		"expires_at":  auth.ExpiresAt.Format(time.RFC3339),
	})
	return issuedCode{Code: code.Code, ExpiresAt: auth.ExpiresAt}, nil
}

// transfer releases the payment to the beneficiary, retrying with
// exponential backoff up to TransferMaxElapsed. Failure is recorded on the
// payment and never reverts verification.
func (s *Settlement) transfer(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	var result domain.TransferResult
	op := func() error {
		r, err := s.deps.Gateway.InitiateTransfer(ctx, s.cfg.Beneficiary, p.Amount, "payment:"+p.ID)
		if err != nil {
			return err
		}
		if r.Status == domain.TransferFailed {
			return backoff.Permanent(fmt.Errorf("transfer %s reported failed", r.TransferID))
		}
		result = r
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = s.cfg.TransferMaxElapsed
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		s.logger.WarnContext(ctx, "settlement: transfer attempt failed",
			slog.String("payment_id", p.ID),
			slog.Duration("retry_in", wait),
			slog.String("error", err.Error()),
		)
	})
	if s.deps.Metrics != nil {
		metrics.MetricIncrCounter(ctx, err, s.deps.Metrics.Transfers)
	}

	status := domain.TransferFailed
	if err == nil {
		status = result.Status
		if status == "" || status == domain.TransferNone {
			status = domain.TransferPending
		}
	}
	updated, uerr := s.deps.Payments.Update(ctx, p.ID, func(cur *domain.Payment) error {
		cur.TransferStatus = status
		if result.TransferID != "" {
			cur.TransferID = result.TransferID
		}
		return nil
	})
	if uerr != nil {
		s.logger.ErrorContext(ctx, "settlement: record transfer failed",
			slog.String("payment_id", p.ID),
			slog.String("error", uerr.Error()),
		)
		updated = p
		updated.TransferStatus = status
	}
	if err != nil {
		s.logger.WarnContext(ctx, "settlement: fund release degraded",
			slog.String("payment_id", p.ID),
			slog.String("error", err.Error()),
		)
		return updated, fmt.Errorf("settlement: transfer %s: %v: %w", p.ID, err, domain.ErrDeliveryDegraded)
	}
	s.logger.InfoContext(ctx, "funds released",
		slog.String("payment_id", p.ID),
		slog.String("transfer_id", result.TransferID),
		slog.String("status", string(status)),
	)
	return updated, nil
}

// RejectPayment cancels a pending obligation and queues the case for
// relisting.
func (s *Settlement) RejectPayment(ctx context.Context, id, adminID, justification string) (domain.Payment, error) {
	return s.reject(ctx, id, adminID, justification)
}

func (s *Settlement) reject(ctx context.Context, id, actor, reason string) (domain.Payment, error) {
	if cur, err := s.deps.Payments.Get(ctx, id); err == nil {
		debited, err := s.escrowDebited(ctx, cur)
		if err != nil {
			return domain.Payment{}, fmt.Errorf("settlement: reject %s: %w", id, err)
		}
		if debited {
			return domain.Payment{}, fmt.Errorf("settlement: reject %s: escrow already debited, verify it instead: %w", id, domain.ErrInvalidState)
		}
	}
	p, err := s.deps.Payments.Update(ctx, id, func(cur *domain.Payment) error {
		if cur.Status != domain.PaymentPending {
			return fmt.Errorf("payment %s is %s: %w", cur.ID, cur.Status, domain.ErrInvalidState)
		}
		cur.Status = domain.PaymentRejected
		return nil
	})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("settlement: reject %s: %w", id, err)
	}
	p = s.releaseHold(ctx, p, "reject:"+p.ID)
	s.relist(ctx, p)
	audit(ctx, s.deps.Audit, s.logger, "payment_rejected", actor, map[string]any{
		"payment_id":    p.ID,
		"auction_id":    p.AuctionID,
		"vendor_id":     p.VendorID,
		"justification": reason,
	})
	s.logger.InfoContext(ctx, "payment rejected",
		slog.String("payment_id", p.ID),
		slog.String("auction_id", p.AuctionID),
	)
	return p, nil
}

// CheckOverdue marks pending payments past their deadline as overdue,
// releases their escrow hold and relists the case. The pending to overdue
// transition is conditional, so each payment is relisted once.
func (s *Settlement) CheckOverdue(ctx context.Context) (domain.ScanResult, error) {
	var res domain.ScanResult
	now := s.now()
	due, err := s.deps.Payments.ListOverdue(ctx, now, s.cfg.ScanBatch)
	if err != nil {
		return res, fmt.Errorf("settlement: list overdue: %w", err)
	}
	for _, candidate := range due {
		res.Scanned++
		resumed, err := s.resumeDebited(ctx, candidate)
		if err != nil {
			res.Failed++
			s.logger.ErrorContext(ctx, "settlement: resume escrow verification failed",
				slog.String("payment_id", candidate.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if resumed {
			res.Processed++
			continue
		}
		p, err := s.deps.Payments.Update(ctx, candidate.ID, func(cur *domain.Payment) error {
			if !cur.PastDeadline(now) {
				return errNoChange
			}
			cur.Status = domain.PaymentOverdue
			return nil
		})
		if errors.Is(err, errNoChange) {
			continue
		}
		if err != nil {
			res.Failed++
			s.logger.ErrorContext(ctx, "settlement: mark overdue failed",
				slog.String("payment_id", candidate.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Processed++

		p = s.releaseHold(ctx, p, "overdue:"+p.ID)
		s.relist(ctx, p)
		s.publishOverdue(ctx, p, now)
		audit(ctx, s.deps.Audit, s.logger, "payment_overdue", "", map[string]any{
			"payment_id": p.ID,
			"auction_id": p.AuctionID,
			"vendor_id":  p.VendorID,
			"deadline":   p.PaymentDeadline.Format(time.RFC3339),
		})
		payload := map[string]any{
			"payment_id": p.ID,
			"auction_id": p.AuctionID,
			"vendor_id":  p.VendorID,
			"amount":     p.Amount.String(),
		}
		s.enqueue(ctx, domain.OpsRecipient, domain.TemplatePaymentOverdue, payload)
		s.enqueue(ctx, p.VendorID, domain.TemplatePaymentOverdue, payload)
		s.logger.WarnContext(ctx, "payment overdue",
			slog.String("payment_id", p.ID),
			slog.String("auction_id", p.AuctionID),
			slog.String("vendor_id", p.VendorID),
		)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.Scans.Add(ctx, 1, scanAttrs("check_overdue"))
	}
	return res, nil
}

// RetryTransfers re-attempts fund release for verified payments whose
// transfer failed. The gateway dedupes by reference.
func (s *Settlement) RetryTransfers(ctx context.Context) (domain.ScanResult, error) {
	var res domain.ScanResult
	if s.deps.Gateway == nil || s.cfg.Beneficiary == "" {
		return res, nil
	}
	failed, err := s.deps.Payments.ListFailedTransfers(ctx, s.cfg.ScanBatch)
	if err != nil {
		return res, fmt.Errorf("settlement: list failed transfers: %w", err)
	}
	for _, p := range failed {
		res.Scanned++
		if _, err := s.transfer(ctx, p); err != nil {
			res.Failed++
			continue
		}
		res.Processed++
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.Scans.Add(ctx, 1, scanAttrs("retry_transfers"))
	}
	return res, nil
}

// RedeemPickup checks a pickup code presented at the yard and marks it used.
func (s *Settlement) RedeemPickup(ctx context.Context, paymentID, code string) (domain.PickupAuthorization, error) {
	auth, err := s.deps.Payments.GetPickup(ctx, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PickupAuthorization{}, fmt.Errorf("settlement: pickup %s: %w", paymentID, domain.ErrPickupInvalid)
		}
		return domain.PickupAuthorization{}, fmt.Errorf("settlement: pickup %s: %w", paymentID, err)
	}
	if !crypto.VerifyCode(code, auth.Salt, auth.CodeHash) {
		return domain.PickupAuthorization{}, fmt.Errorf("settlement: pickup %s: %w", paymentID, domain.ErrPickupInvalid)
	}
	if auth.RedeemedAt != nil {
		return domain.PickupAuthorization{}, fmt.Errorf("settlement: pickup %s already redeemed: %w", paymentID, domain.ErrInvalidState)
	}
	now := s.now()
	if now.After(auth.ExpiresAt) {
		return domain.PickupAuthorization{}, fmt.Errorf("settlement: pickup %s: %w", paymentID, domain.ErrPickupExpired)
	}
	ok, err := s.deps.Payments.RedeemPickup(ctx, paymentID, now)
	if err != nil {
		return domain.PickupAuthorization{}, fmt.Errorf("settlement: redeem pickup %s: %w", paymentID, err)
	}
	if !ok {
		return domain.PickupAuthorization{}, fmt.Errorf("settlement: pickup %s already redeemed: %w", paymentID, domain.ErrInvalidState)
	}
	auth.RedeemedAt = &now
	audit(ctx, s.deps.Audit, s.logger, "pickup_redeemed", auth.VendorID, map[string]any{
		"payment_id": paymentID,
		"auction_id": auth.AuctionID,
	})
	return auth, nil
}

func debitReference(paymentID string) string { return "payment:" + paymentID }

// escrowDebited reports whether the winner's hold for p was already debited.
// A debit commits before the payment row records it, so a crash in between
// leaves a pending payment whose funds are gone.
func (s *Settlement) escrowDebited(ctx context.Context, p domain.Payment) (bool, error) {
	if s.cfg.Mode != domain.SettlementEscrow || p.EscrowStatus != domain.EscrowFrozen || s.deps.Ledger == nil {
		return false, nil
	}
	wallet, err := s.deps.Ledger.Wallet(ctx, p.VendorID)
	if err != nil {
		return false, err
	}
	_, err = s.deps.Ledger.Entry(ctx, wallet.ID, domain.TxDebit, debitReference(p.ID))
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// resumeDebited finishes the verification of a pending payment whose escrow
// debit already committed. It reports whether p was resumed.
func (s *Settlement) resumeDebited(ctx context.Context, p domain.Payment) (bool, error) {
	if p.Status != domain.PaymentPending {
		return false, nil
	}
	debited, err := s.escrowDebited(ctx, p)
	if err != nil || !debited {
		return false, err
	}
	// The debit is idempotent per reference, so VerifyPayment only records it.
	if _, err := s.VerifyPayment(ctx, p.ID, domain.MethodEscrowWallet, "auction:"+p.AuctionID); err != nil {
		return false, err
	}
	s.logger.WarnContext(ctx, "escrow verification resumed",
		slog.String("payment_id", p.ID),
		slog.String("auction_id", p.AuctionID),
		slog.String("vendor_id", p.VendorID),
	)
	return true, nil
}

// releaseHold unfreezes the escrow still held against p, if any. A hold that
// was already debited is never unfrozen.
func (s *Settlement) releaseHold(ctx context.Context, p domain.Payment, reference string) domain.Payment {
	if s.cfg.Mode != domain.SettlementEscrow || p.EscrowStatus != domain.EscrowFrozen || s.deps.Ledger == nil {
		return p
	}
	debited, err := s.escrowDebited(ctx, p)
	if err != nil || debited {
		msg := "hold already debited"
		if err != nil {
			msg = err.Error()
		}
		s.logger.ErrorContext(ctx, "settlement: release hold skipped",
			slog.String("payment_id", p.ID),
			slog.String("vendor_id", p.VendorID),
			slog.String("error", msg),
		)
		return p
	}
	wallet, err := s.deps.Ledger.Wallet(ctx, p.VendorID)
	if err == nil {
		_, err = s.deps.Ledger.Unfreeze(ctx, wallet.ID, p.Amount, reference)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "settlement: release hold failed",
			slog.String("payment_id", p.ID),
			slog.String("vendor_id", p.VendorID),
			slog.String("error", err.Error()),
		)
		return p
	}
	updated, err := s.deps.Payments.Update(ctx, p.ID, func(cur *domain.Payment) error {
		cur.EscrowStatus = domain.EscrowNone
		return nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "settlement: record hold release failed",
			slog.String("payment_id", p.ID),
			slog.String("error", err.Error()),
		)
		p.EscrowStatus = domain.EscrowNone
		return p
	}
	return updated
}

// relist moves the auction's case from sold to relist_pending. The move is
// conditional so a repeated trigger changes nothing.
func (s *Settlement) relist(ctx context.Context, p domain.Payment) {
	a, err := s.deps.Auctions.Get(ctx, p.AuctionID)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement: load auction for relist failed",
			slog.String("auction_id", p.AuctionID),
			slog.String("error", err.Error()),
		)
		return
	}
	changed, err := s.deps.Cases.Transition(ctx, a.CaseID, []domain.CaseStatus{domain.CaseSold}, domain.CaseRelistPending)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement: relist case failed",
			slog.String("case_id", a.CaseID),
			slog.String("error", err.Error()),
		)
		return
	}
	if changed {
		s.logger.InfoContext(ctx, "case queued for relisting", slog.String("case_id", a.CaseID))
	}
}

func (s *Settlement) publishOverdue(ctx context.Context, p domain.Payment, now time.Time) {
	if s.deps.Bus == nil {
		return
	}
	amount := p.Amount
	ev := domain.AuctionEvent{
		Type:       domain.EventPaymentOverdue,
		AuctionID:  p.AuctionID,
		VendorID:   p.VendorID,
		Amount:     &amount,
		OccurredAt: now,
	}
	if _, err := publishEvent(ctx, s.deps.Bus, ev); err != nil {
		s.logger.WarnContext(ctx, "settlement: publish overdue failed",
			slog.String("payment_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Settlement) enqueue(ctx context.Context, userID string, tpl domain.NotificationTemplate, payload map[string]any) {
	if s.deps.Queue == nil {
		return
	}
	err := s.deps.Queue.Enqueue(ctx, domain.Notification{
		ID:         uuid.NewString(),
		UserID:     userID,
		Template:   tpl,
		Payload:    payload,
		EnqueuedAt: s.now(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "settlement: enqueue notification failed",
			slog.String("user_id", userID),
			slog.String("template", string(tpl)),
			slog.String("error", err.Error()),
		)
	}
}
