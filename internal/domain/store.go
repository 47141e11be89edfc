package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionMutation inspects and modifies an auction inside the store's
// exclusive section. Returning a non-nil Bid appends it in the same
// transaction. Returning an error aborts without persisting anything.
type AuctionMutation func(a *Auction) (*Bid, error)

// AuctionStore persists auctions and their accepted bids.
type AuctionStore interface {
	// Create inserts a new auction. It returns ErrAlreadyExists when the case
	// already has an auction.
	Create(ctx context.Context, a Auction) error
	Get(ctx context.Context, id string) (Auction, error)
	GetByCase(ctx context.Context, caseID string) (Auction, error)
	List(ctx context.Context, statuses []AuctionStatus, opts ListOpts) ([]Auction, error)
	// ListExpired returns open auctions whose end time is before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Auction, error)
	// ListDueToStart returns scheduled auctions whose start time has passed.
	ListDueToStart(ctx context.Context, now time.Time, limit int) ([]Auction, error)
	// Mutate runs fn against the committed row under a row lock and persists
	// the result atomically with any returned bid.
	Mutate(ctx context.Context, id string, fn AuctionMutation) (Auction, error)
	AdjustWatching(ctx context.Context, id string, delta int) error
	ListClosedBetween(ctx context.Context, from, to time.Time) ([]Auction, error)
}

// BidStore reads the append-only bid log.
type BidStore interface {
	// ListByAuction returns bids in acceptance order.
	ListByAuction(ctx context.Context, auctionID string) ([]Bid, error)
	ListByVendor(ctx context.Context, vendorID string, opts ListOpts) ([]Bid, error)
}

// VendorStore persists vendor records and counters.
type VendorStore interface {
	Upsert(ctx context.Context, v Vendor) error
	Get(ctx context.Context, id string) (Vendor, error)
	GetMany(ctx context.Context, ids []string) (map[string]Vendor, error)
	ListActive(ctx context.Context) ([]Vendor, error)
	SetStatus(ctx context.Context, id string, status VendorStatus) error
	IncrementCounters(ctx context.Context, id string, delta VendorCounters) error
}

// CaseStore persists the boundary view of salvage cases.
type CaseStore interface {
	Upsert(ctx context.Context, c SalvageCase) error
	Get(ctx context.Context, id string) (SalvageCase, error)
	// Transition moves the case to `to` only when its current status is one
	// of from. It reports whether the row changed.
	Transition(ctx context.Context, id string, from []CaseStatus, to CaseStatus) (bool, error)
}

// WalletMutation computes a ledger entry against the locked wallet row.
// The store persists the updated wallet and the entry in one transaction.
type WalletMutation func(w *EscrowWallet) (WalletTransaction, error)

// WalletStore persists escrow wallets and their transaction logs.
type WalletStore interface {
	Get(ctx context.Context, id string) (EscrowWallet, error)
	GetByVendor(ctx context.Context, vendorID string) (EscrowWallet, error)
	// Ensure returns the vendor's wallet, creating an empty one if needed.
	Ensure(ctx context.Context, vendorID string) (EscrowWallet, error)
	List(ctx context.Context, opts ListOpts) ([]EscrowWallet, error)
	Apply(ctx context.Context, walletID string, fn WalletMutation) (EscrowWallet, WalletTransaction, error)
	FindByReference(ctx context.Context, walletID string, txType TxType, reference string) (WalletTransaction, error)
	// ListTransactions returns entries oldest first.
	ListTransactions(ctx context.Context, walletID string, opts ListOpts) ([]WalletTransaction, error)
	ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]WalletTransaction, error)
}

// PaymentMutation modifies a payment under its row lock.
type PaymentMutation func(p *Payment) error

// PaymentStore persists settlement obligations and pickup authorizations.
type PaymentStore interface {
	// Create returns ErrAlreadyExists when the auction already has a payment.
	Create(ctx context.Context, p Payment) error
	Get(ctx context.Context, id string) (Payment, error)
	GetByAuction(ctx context.Context, auctionID string) (Payment, error)
	// GetByReference returns the verified payment a reference settled.
	GetByReference(ctx context.Context, reference string) (Payment, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]Payment, error)
	ListFailedTransfers(ctx context.Context, limit int) ([]Payment, error)
	// Update returns ErrAlreadyExists when fn would verify the payment with a
	// reference that already settled another one.
	Update(ctx context.Context, id string, fn PaymentMutation) (Payment, error)
	SavePickup(ctx context.Context, p PickupAuthorization) error
	GetPickup(ctx context.Context, paymentID string) (PickupAuthorization, error)
	// RedeemPickup stamps RedeemedAt only if it is unset and reports whether
	// the row changed.
	RedeemPickup(ctx context.Context, paymentID string, at time.Time) (bool, error)
}

// FraudStore persists fraud alerts.
type FraudStore interface {
	Create(ctx context.Context, a FraudAlert) error
	Get(ctx context.Context, id string) (FraudAlert, error)
	List(ctx context.Context, f FraudFilter, opts ListOpts) ([]FraudAlert, error)
	// OpenPatterns returns patterns already raised and unresolved for the
	// auction/vendor pair.
	OpenPatterns(ctx context.Context, auctionID, vendorID string) ([]FraudPattern, error)
	// Resolve closes an open alert. It returns ErrInvalidState when the alert
	// is no longer open.
	Resolve(ctx context.Context, id string, status AlertStatus, by, note string, at time.Time) (FraudAlert, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Actor     string         `json:"actor,omitempty"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event, actor string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
