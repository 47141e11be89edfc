package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/shopspring/decimal"
)

// WalletStore implements domain.WalletStore.
type WalletStore struct{ db *DB }

func (s *WalletStore) Get(_ context.Context, id string) (domain.EscrowWallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w, ok := s.db.wallets[id]
	if !ok {
		return domain.EscrowWallet{}, domain.ErrNotFound
	}
	return w, nil
}

func (s *WalletStore) GetByVendor(ctx context.Context, vendorID string) (domain.EscrowWallet, error) {
	s.db.mu.Lock()
	id, ok := s.db.walletByVendor[vendorID]
	s.db.mu.Unlock()
	if !ok {
		return domain.EscrowWallet{}, domain.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *WalletStore) Ensure(_ context.Context, vendorID string) (domain.EscrowWallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if id, ok := s.db.walletByVendor[vendorID]; ok {
		return s.db.wallets[id], nil
	}
	now := s.db.now()
	w := domain.EscrowWallet{
		ID:               s.db.newID(),
		VendorID:         vendorID,
		Balance:          decimal.Zero,
		FrozenAmount:     decimal.Zero,
		AvailableBalance: decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.db.wallets[w.ID] = w
	s.db.walletByVendor[vendorID] = w.ID
	return w, nil
}

func (s *WalletStore) List(_ context.Context, opts domain.ListOpts) ([]domain.EscrowWallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]domain.EscrowWallet, 0, len(s.db.wallets))
	for _, id := range sortedKeys(s.db.wallets) {
		out = append(out, s.db.wallets[id])
	}
	return page(out, opts), nil
}

// Apply hands fn a copy of the wallet and commits both the wallet and the
// returned entry only if fn succeeds.
func (s *WalletStore) Apply(_ context.Context, walletID string, fn domain.WalletMutation) (domain.EscrowWallet, domain.WalletTransaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	current, ok := s.db.wallets[walletID]
	if !ok {
		return domain.EscrowWallet{}, domain.WalletTransaction{}, domain.ErrNotFound
	}
	next := current
	tx, err := fn(&next)
	if err != nil {
		return current, domain.WalletTransaction{}, err
	}
	if tx.Reference != "" {
		for _, existing := range s.db.txs[walletID] {
			if existing.Type == tx.Type && existing.Reference == tx.Reference {
				return current, existing, fmt.Errorf("memory: %s %s: %w", tx.Type, tx.Reference, domain.ErrAlreadyExists)
			}
		}
	}
	now := s.db.now()
	if tx.ID == "" {
		tx.ID = s.db.newID()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.WalletID = walletID
	next.ID = current.ID
	next.UpdatedAt = now
	s.db.wallets[walletID] = next
	s.db.txs[walletID] = append(s.db.txs[walletID], tx)
	s.db.stamp(tx.ID)
	return next, tx, nil
}

func (s *WalletStore) FindByReference(_ context.Context, walletID string, txType domain.TxType, reference string) (domain.WalletTransaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, tx := range s.db.txs[walletID] {
		if tx.Type == txType && tx.Reference == reference {
			return tx, nil
		}
	}
	return domain.WalletTransaction{}, domain.ErrNotFound
}

func (s *WalletStore) ListTransactions(_ context.Context, walletID string, opts domain.ListOpts) ([]domain.WalletTransaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.WalletTransaction
	for _, tx := range s.db.txs[walletID] {
		if inWindow(tx.CreatedAt, opts) {
			out = append(out, tx)
		}
	}
	return page(out, opts), nil
}

func (s *WalletStore) ListTransactionsBetween(_ context.Context, from, to time.Time) ([]domain.WalletTransaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.WalletTransaction
	for _, txs := range s.db.txs {
		for _, tx := range txs {
			if !tx.CreatedAt.Before(from) && tx.CreatedAt.Before(to) {
				out = append(out, tx)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.db.seq[out[i].ID] < s.db.seq[out[j].ID] })
	return out, nil
}

// CorruptBalance overwrites the cached wallet fields without a ledger entry.
// Tests use it to exercise replay mismatch detection.
func (s *WalletStore) CorruptBalance(walletID string, balance, frozen decimal.Decimal) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w := s.db.wallets[walletID]
	w.Balance = balance
	w.FrozenAmount = frozen
	w.AvailableBalance = balance.Sub(frozen)
	s.db.wallets[walletID] = w
}

var _ domain.WalletStore = (*WalletStore)(nil)
