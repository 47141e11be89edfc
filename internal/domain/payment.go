package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus tracks a settlement obligation.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentVerified PaymentStatus = "verified"
	PaymentRejected PaymentStatus = "rejected"
	PaymentOverdue  PaymentStatus = "overdue"
)

// EscrowStatus tracks the wallet hold backing a payment.
type EscrowStatus string

const (
	EscrowNone     EscrowStatus = "none"
	EscrowFrozen   EscrowStatus = "frozen"
	EscrowReleased EscrowStatus = "released"
)

// TransferStatus tracks fund release to the beneficiary.
type TransferStatus string

const (
	TransferNone      TransferStatus = "none"
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// Payment methods.
const (
	MethodEscrowWallet = "escrow_wallet"
	MethodBankTransfer = "bank_transfer"
	MethodCard         = "card"
	MethodGateway      = "gateway"
)

// Payment is the obligation created when an auction closes with a winner.
type Payment struct {
	ID              string          `json:"id"`
	AuctionID       string          `json:"auction_id"`
	VendorID        string          `json:"vendor_id"`
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"method,omitempty"`
	Reference       string          `json:"reference,omitempty"`
	EscrowStatus    EscrowStatus    `json:"escrow_status"`
	Status          PaymentStatus   `json:"status"`
	PaymentDeadline time.Time       `json:"payment_deadline"`
	VerifiedAt      *time.Time      `json:"verified_at,omitempty"`
	TransferID      string          `json:"transfer_id,omitempty"`
	TransferStatus  TransferStatus  `json:"transfer_status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PastDeadline reports whether a pending payment has run out of time.
func (p Payment) PastDeadline(now time.Time) bool {
	return p.Status == PaymentPending && now.After(p.PaymentDeadline)
}

// PickupAuthorization lets the winning vendor collect the asset. Only a salted
// hash of the code is stored.
type PickupAuthorization struct {
	PaymentID  string     `json:"payment_id"`
	AuctionID  string     `json:"auction_id"`
	VendorID   string     `json:"vendor_id"`
	CodeHash   []byte     `json:"-"`
	Salt       []byte     `json:"-"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

// Settlement result types.
type (
	// SettlementResult is returned by payment verification.
	SettlementResult struct {
		Payment    Payment   `json:"payment"`
		PickupCode string    `json:"pickup_code,omitempty"`
		ExpiresAt  time.Time `json:"pickup_expires_at,omitempty"`
		Degraded   []string  `json:"degraded,omitempty"`
	}

	// ScanResult summarizes one periodic scan.
	ScanResult struct {
		Scanned   int
		Processed int
		Failed    int
	}
)

// SettlementMode selects how winners pay. The modes are mutually exclusive.
type SettlementMode string

const (
	// SettlementEscrow settles from funds frozen in the winner's wallet.
	SettlementEscrow SettlementMode = "escrow"
	// SettlementGateway settles through an external charge verified with the
	// payment gateway.
	SettlementGateway SettlementMode = "gateway"
)

// Valid reports whether m is a known mode.
func (m SettlementMode) Valid() bool {
	return m == SettlementEscrow || m == SettlementGateway
}
