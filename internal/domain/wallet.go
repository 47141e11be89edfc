package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EscrowWallet is a vendor's internal balance. Balance is a cache over the
// transaction log and always equals AvailableBalance + FrozenAmount.
type EscrowWallet struct {
	ID               string          `json:"id"`
	VendorID         string          `json:"vendor_id"`
	Balance          decimal.Decimal `json:"balance"`
	FrozenAmount     decimal.Decimal `json:"frozen_amount"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Consistent reports whether the balance invariant holds.
func (w EscrowWallet) Consistent() bool {
	if w.Balance.IsNegative() || w.FrozenAmount.IsNegative() || w.AvailableBalance.IsNegative() {
		return false
	}
	return w.Balance.Equal(w.AvailableBalance.Add(w.FrozenAmount))
}

// TxType is a ledger entry kind.
type TxType string

const (
	TxCredit   TxType = "credit"
	TxDebit    TxType = "debit"
	TxFreeze   TxType = "freeze"
	TxUnfreeze TxType = "unfreeze"
)

// WalletTransaction is an immutable ledger entry.
type WalletTransaction struct {
	ID           string          `json:"id"`                    // ULID
	WalletID     string          `json:"wallet_id"`
	Type         TxType          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reference    string          `json:"reference"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ApplyTx applies a ledger entry of type t to w in a single step. It rejects
// the entry, leaving w untouched, when any field would go negative.
func ApplyTx(w *EscrowWallet, t TxType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	next := *w
	switch t {
	case TxCredit:
		next.Balance = w.Balance.Add(amount)
		next.AvailableBalance = w.AvailableBalance.Add(amount)
	case TxFreeze:
		if amount.GreaterThan(w.AvailableBalance) {
			return ErrInsufficientFunds
		}
		next.AvailableBalance = w.AvailableBalance.Sub(amount)
		next.FrozenAmount = w.FrozenAmount.Add(amount)
	case TxUnfreeze:
		if amount.GreaterThan(w.FrozenAmount) {
			return ErrInsufficientFunds
		}
		next.FrozenAmount = w.FrozenAmount.Sub(amount)
		next.AvailableBalance = w.AvailableBalance.Add(amount)
	case TxDebit:
		if amount.GreaterThan(w.FrozenAmount) {
			return ErrInsufficientFunds
		}
		next.FrozenAmount = w.FrozenAmount.Sub(amount)
		next.Balance = w.Balance.Sub(amount)
	default:
		return ErrInvalidAmount
	}
	if !next.Consistent() {
		return ErrLedgerMismatch
	}
	*w = next
	return nil
}

// ReplayReport is the outcome of recomputing a wallet from its log.
type ReplayReport struct {
	WalletID        string          `json:"wallet_id"`
	Transactions    int             `json:"transactions"`
	ReplayedBalance decimal.Decimal `json:"replayed_balance"`
	ReplayedFrozen  decimal.Decimal `json:"replayed_frozen"`
	CachedBalance   decimal.Decimal `json:"cached_balance"`
	CachedFrozen    decimal.Decimal `json:"cached_frozen"`
	Mismatches      []string        `json:"mismatches,omitempty"`
}

// OK reports whether the replay matched the cached wallet fields.
func (r ReplayReport) OK() bool {
	return len(r.Mismatches) == 0
}
