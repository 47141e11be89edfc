package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/metrics"
)

// LedgerConfig controls wallet lock behaviour.
type LedgerConfig struct {
	LockTTL  time.Duration
	LockWait time.Duration
}

// Ledger owns every escrow wallet mutation. Each mutation is serialized per
// wallet and writes the wallet row and its ledger entry in one step.
type Ledger struct {
	wallets domain.WalletStore
	locks   domain.LockManager
	ins     *metrics.Instruments
	cfg     LedgerConfig
	now     Clock
	logger  *slog.Logger
}

// NewLedger creates a Ledger.
func NewLedger(
	wallets domain.WalletStore,
	locks domain.LockManager,
	ins *metrics.Instruments,
	cfg LedgerConfig,
	logger *slog.Logger,
) *Ledger {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	return &Ledger{
		wallets: wallets,
		locks:   locks,
		ins:     ins,
		cfg:     cfg,
		now:     systemClock,
		logger:  logger.With(slog.String("component", "ledger")),
	}
}

// SetClock overrides the ledger clock.
func (l *Ledger) SetClock(c Clock) { l.now = c }

// Wallet returns the vendor's wallet, creating it on first use.
func (l *Ledger) Wallet(ctx context.Context, vendorID string) (domain.EscrowWallet, error) {
	w, err := l.wallets.Ensure(ctx, vendorID)
	if err != nil {
		return domain.EscrowWallet{}, fmt.Errorf("ledger: wallet for %s: %w", vendorID, err)
	}
	return w, nil
}

// Transactions returns the vendor's ledger entries oldest first.
func (l *Ledger) Transactions(ctx context.Context, vendorID string, opts domain.ListOpts) ([]domain.WalletTransaction, error) {
	w, err := l.wallets.GetByVendor(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("ledger: wallet for %s: %w", vendorID, err)
	}
	txs, err := l.wallets.ListTransactions(ctx, w.ID, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: transactions %s: %w", w.ID, err)
	}
	return txs, nil
}

// Entry returns the entry of type t that reference produced on the wallet,
// or ErrNotFound when it was never applied.
func (l *Ledger) Entry(ctx context.Context, walletID string, t domain.TxType, reference string) (domain.WalletTransaction, error) {
	tx, err := l.wallets.FindByReference(ctx, walletID, t, reference)
	if err != nil {
		return domain.WalletTransaction{}, fmt.Errorf("ledger: %s %s on %s: %w", t, reference, walletID, err)
	}
	return tx, nil
}

// Credit adds funds to the vendor's wallet, creating it if needed. A repeated
// reference returns the original entry without changing the wallet.
func (l *Ledger) Credit(ctx context.Context, vendorID string, amount decimal.Decimal, reference, description string) (domain.EscrowWallet, domain.WalletTransaction, error) {
	if !amount.IsPositive() {
		return domain.EscrowWallet{}, domain.WalletTransaction{}, domain.ErrInvalidAmount
	}
	w, err := l.Wallet(ctx, vendorID)
	if err != nil {
		return domain.EscrowWallet{}, domain.WalletTransaction{}, err
	}
	return l.apply(ctx, w.ID, domain.TxCredit, amount, reference, description)
}

// Freeze moves amount from available to frozen.
func (l *Ledger) Freeze(ctx context.Context, walletID string, amount decimal.Decimal, reference string) (domain.WalletTransaction, error) {
	_, tx, err := l.apply(ctx, walletID, domain.TxFreeze, amount, reference, "")
	return tx, err
}

// Unfreeze moves amount from frozen back to available.
func (l *Ledger) Unfreeze(ctx context.Context, walletID string, amount decimal.Decimal, reference string) (domain.WalletTransaction, error) {
	_, tx, err := l.apply(ctx, walletID, domain.TxUnfreeze, amount, reference, "")
	return tx, err
}

// Debit removes settled funds from the frozen sub-balance permanently.
func (l *Ledger) Debit(ctx context.Context, walletID string, amount decimal.Decimal, reference string) (domain.WalletTransaction, error) {
	_, tx, err := l.apply(ctx, walletID, domain.TxDebit, amount, reference, "")
	return tx, err
}

func (l *Ledger) apply(ctx context.Context, walletID string, t domain.TxType, amount decimal.Decimal, reference, description string) (w domain.EscrowWallet, entry domain.WalletTransaction, err error) {
	defer func() {
		if l.ins != nil {
			metrics.MetricIncrCounter(ctx, err, l.ins.LedgerMutations, metrics.KeyTxType.String(string(t)))
		}
	}()

	if !amount.IsPositive() {
		return domain.EscrowWallet{}, domain.WalletTransaction{}, domain.ErrInvalidAmount
	}

	unlock, err := domain.AcquireWithin(ctx, l.locks, walletLockKey(walletID), l.cfg.LockTTL, l.cfg.LockWait)
	if err != nil {
		return domain.EscrowWallet{}, domain.WalletTransaction{}, fmt.Errorf("ledger: lock wallet %s: %w", walletID, err)
	}
	defer unlock()

	if reference != "" {
		prior, err := l.wallets.FindByReference(ctx, walletID, t, reference)
		switch {
		case err == nil:
			current, gerr := l.wallets.Get(ctx, walletID)
			if gerr != nil {
				return domain.EscrowWallet{}, domain.WalletTransaction{}, fmt.Errorf("ledger: get wallet %s: %w", walletID, gerr)
			}
			return current, prior, nil
		case !errors.Is(err, domain.ErrNotFound):
			return domain.EscrowWallet{}, domain.WalletTransaction{}, fmt.Errorf("ledger: find %s %s: %w", t, reference, err)
		}
	}

	now := l.now()
	w, entry, err = l.wallets.Apply(ctx, walletID, func(w *domain.EscrowWallet) (domain.WalletTransaction, error) {
		if err := domain.ApplyTx(w, t, amount); err != nil {
			return domain.WalletTransaction{}, err
		}
		return domain.WalletTransaction{
			ID:           newULID(now),
			WalletID:     walletID,
			Type:         t,
			Amount:       amount,
			BalanceAfter: w.Balance,
			Reference:    reference,
			Description:  description,
			CreatedAt:    now,
		}, nil
	})
	if errors.Is(err, domain.ErrAlreadyExists) && reference != "" {
		prior, ferr := l.wallets.FindByReference(ctx, walletID, t, reference)
		if ferr == nil {
			current, _ := l.wallets.Get(ctx, walletID)
			return current, prior, nil
		}
	}
	if err != nil {
		return w, domain.WalletTransaction{}, fmt.Errorf("ledger: %s %s on %s: %w", t, amount, walletID, err)
	}

	l.logger.DebugContext(ctx, "ledger entry applied",
		slog.String("wallet_id", walletID),
		slog.String("type", string(t)),
		slog.String("amount", amount.String()),
		slog.String("reference", reference),
		slog.String("balance", w.Balance.String()),
		slog.String("frozen", w.FrozenAmount.String()),
	)
	return w, entry, nil
}

// Replay recomputes the wallet from its transaction log and compares the
// result with the cached fields and every entry's BalanceAfter.
func (l *Ledger) Replay(ctx context.Context, walletID string) (domain.ReplayReport, error) {
	w, err := l.wallets.Get(ctx, walletID)
	if err != nil {
		return domain.ReplayReport{}, fmt.Errorf("ledger: replay %s: %w", walletID, err)
	}
	txs, err := l.wallets.ListTransactions(ctx, walletID, domain.ListOpts{})
	if err != nil {
		return domain.ReplayReport{}, fmt.Errorf("ledger: replay %s: %w", walletID, err)
	}

	report := domain.ReplayReport{
		WalletID:      walletID,
		Transactions:  len(txs),
		CachedBalance: w.Balance,
		CachedFrozen:  w.FrozenAmount,
	}
	replayed := domain.EscrowWallet{
		ID:               walletID,
		Balance:          decimal.Zero,
		FrozenAmount:     decimal.Zero,
		AvailableBalance: decimal.Zero,
	}
	for i, tx := range txs {
		if err := domain.ApplyTx(&replayed, tx.Type, tx.Amount); err != nil {
			report.Mismatches = append(report.Mismatches,
				fmt.Sprintf("entry %d (%s %s %s): %v", i, tx.ID, tx.Type, tx.Amount, err))
			continue
		}
		if !replayed.Balance.Equal(tx.BalanceAfter) {
			report.Mismatches = append(report.Mismatches,
				fmt.Sprintf("entry %d (%s): balance_after %s, replayed %s", i, tx.ID, tx.BalanceAfter, replayed.Balance))
		}
	}
	report.ReplayedBalance = replayed.Balance
	report.ReplayedFrozen = replayed.FrozenAmount

	if !replayed.Balance.Equal(w.Balance) {
		report.Mismatches = append(report.Mismatches,
			fmt.Sprintf("balance: cached %s, replayed %s", w.Balance, replayed.Balance))
	}
	if !replayed.FrozenAmount.Equal(w.FrozenAmount) {
		report.Mismatches = append(report.Mismatches,
			fmt.Sprintf("frozen: cached %s, replayed %s", w.FrozenAmount, replayed.FrozenAmount))
	}
	if !w.Consistent() {
		report.Mismatches = append(report.Mismatches, "cached wallet violates balance = available + frozen")
	}
	if !report.OK() {
		return report, fmt.Errorf("ledger: replay %s: %w", walletID, domain.ErrLedgerMismatch)
	}
	return report, nil
}

// Reconcile replays every wallet and logs any discrepancy at error level.
func (l *Ledger) Reconcile(ctx context.Context) (domain.ScanResult, error) {
	var res domain.ScanResult
	const pageSize = 200
	for offset := 0; ; offset += pageSize {
		wallets, err := l.wallets.List(ctx, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return res, fmt.Errorf("ledger: reconcile list: %w", err)
		}
		for _, w := range wallets {
			res.Scanned++
			report, err := l.Replay(ctx, w.ID)
			if err != nil {
				res.Failed++
				l.logger.ErrorContext(ctx, "ledger: wallet does not reconcile",
					slog.String("wallet_id", w.ID),
					slog.String("vendor_id", w.VendorID),
					slog.Any("mismatches", report.Mismatches),
					slog.String("error", err.Error()),
				)
				continue
			}
			res.Processed++
		}
		if len(wallets) < pageSize {
			break
		}
	}
	if l.ins != nil {
		l.ins.Scans.Add(ctx, 1, scanAttrs("reconcile"))
	}
	return res, nil
}
