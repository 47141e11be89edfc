package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("concurrent update, retry with current state")
	ErrInvalidState    = errors.New("invalid state transition")
	ErrCaseNotApproved = errors.New("case not approved")

	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLedgerMismatch    = errors.New("ledger does not replay to wallet balance")

	ErrPaymentUnconfirmed = errors.New("payment not confirmed by gateway")
	ErrPickupInvalid      = errors.New("pickup code invalid")
	ErrPickupExpired      = errors.New("pickup code expired")
	ErrDeliveryDegraded   = errors.New("external delivery degraded")
)

// RejectReason is the machine-readable cause of a validation failure.
type RejectReason string

const (
	ReasonAuctionNotOpen        RejectReason = "auction_not_open"
	ReasonOTPNotVerified        RejectReason = "otp_not_verified"
	ReasonBelowReserve          RejectReason = "below_reserve"
	ReasonBelowMinimumIncrement RejectReason = "below_minimum_increment"
	ReasonTierCeilingExceeded   RejectReason = "tier_ceiling_exceeded"
	ReasonVendorSuspended       RejectReason = "vendor_suspended"
	ReasonInsufficientEscrow    RejectReason = "insufficient_escrow"
	ReasonJustificationTooShort RejectReason = "justification_too_short"
	ReasonInvalidAmount         RejectReason = "invalid_amount"
)

// Rejection is a synchronous validation failure carrying a reason code. For
// bid rejections CurrentBid and MinimumNext describe the committed state the
// bid was evaluated against.
type Rejection struct {
	Reason      RejectReason
	Detail      string
	CurrentBid  *decimal.Decimal
	MinimumNext *decimal.Decimal
}

func (r *Rejection) Error() string {
	if r.Detail != "" {
		return fmt.Sprintf("rejected: %s: %s", r.Reason, r.Detail)
	}
	return fmt.Sprintf("rejected: %s", r.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match any rejection.
func (r *Rejection) Unwrap() error { return ErrValidation }

// Reject builds a Rejection with a formatted detail message.
func Reject(reason RejectReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the rejection reason from err, or "" if err is not a
// Rejection.
func ReasonOf(err error) RejectReason {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ""
}

// ConflictError signals that the per-auction exclusive section could not be
// entered in time. The caller should re-read the current state and resubmit.
type ConflictError struct {
	AuctionID       string
	CurrentBid      *decimal.Decimal
	CurrentBidderID string
	MinimumNext     decimal.Decimal
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("auction %s: %v (minimum next bid %s)", e.AuctionID, ErrConflict, e.MinimumNext)
}

// Unwrap lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Unwrap() error { return ErrConflict }
