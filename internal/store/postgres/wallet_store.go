package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

const walletSelectCols = `id, vendor_id, balance, frozen_amount, available_balance, created_at, updated_at`

func scanWallet(row rowScanner) (domain.EscrowWallet, error) {
	var w domain.EscrowWallet
	err := row.Scan(&w.ID, &w.VendorID, &w.Balance, &w.FrozenAmount, &w.AvailableBalance, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

const txSelectCols = `id, wallet_id, type, amount, balance_after, reference, description, created_at`

func scanTx(row rowScanner) (domain.WalletTransaction, error) {
	var t domain.WalletTransaction
	var typ string
	err := row.Scan(&t.ID, &t.WalletID, &typ, &t.Amount, &t.BalanceAfter, &t.Reference, &t.Description, &t.CreatedAt)
	t.Type = domain.TxType(typ)
	return t, err
}

func scanTxs(rows pgx.Rows) ([]domain.WalletTransaction, error) {
	defer rows.Close()
	var out []domain.WalletTransaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get retrieves a wallet by ID.
func (s *WalletStore) Get(ctx context.Context, id string) (domain.EscrowWallet, error) {
	w, err := scanWallet(s.pool.QueryRow(ctx, `SELECT `+walletSelectCols+` FROM escrow_wallets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EscrowWallet{}, domain.ErrNotFound
		}
		return domain.EscrowWallet{}, fmt.Errorf("postgres: get wallet %s: %w", id, err)
	}
	return w, nil
}

// GetByVendor retrieves the wallet owned by a vendor.
func (s *WalletStore) GetByVendor(ctx context.Context, vendorID string) (domain.EscrowWallet, error) {
	w, err := scanWallet(s.pool.QueryRow(ctx, `SELECT `+walletSelectCols+` FROM escrow_wallets WHERE vendor_id = $1`, vendorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EscrowWallet{}, domain.ErrNotFound
		}
		return domain.EscrowWallet{}, fmt.Errorf("postgres: get wallet for vendor %s: %w", vendorID, err)
	}
	return w, nil
}

// Ensure returns the vendor's wallet, creating an empty one on first use.
func (s *WalletStore) Ensure(ctx context.Context, vendorID string) (domain.EscrowWallet, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO escrow_wallets (id, vendor_id) VALUES ($1, $2) ON CONFLICT (vendor_id) DO NOTHING`,
		uuid.New().String(), vendorID)
	if err != nil {
		return domain.EscrowWallet{}, fmt.Errorf("postgres: ensure wallet for %s: %w", vendorID, err)
	}
	return s.GetByVendor(ctx, vendorID)
}

// List returns wallets ordered by ID.
func (s *WalletStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.EscrowWallet, error) {
	query, args := pageClause(`SELECT `+walletSelectCols+` FROM escrow_wallets WHERE 1=1`, nil, "created_at", "id ASC", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wallets: %w", err)
	}
	defer rows.Close()

	var out []domain.EscrowWallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Apply locks the wallet row, lets fn compute the new state and ledger entry,
// then writes both in the same transaction.
func (s *WalletStore) Apply(ctx context.Context, walletID string, fn domain.WalletMutation) (domain.EscrowWallet, domain.WalletTransaction, error) {
	var (
		wallet domain.EscrowWallet
		entry  domain.WalletTransaction
	)
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanWallet(tx.QueryRow(ctx, `SELECT `+walletSelectCols+` FROM escrow_wallets WHERE id = $1 FOR UPDATE`, walletID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("postgres: lock wallet %s: %w", walletID, err)
		}

		next := current
		entry, err = fn(&next)
		if err != nil {
			wallet = current
			return err
		}
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		entry.WalletID = walletID

		if _, err := tx.Exec(ctx, `
			INSERT INTO wallet_transactions (id, wallet_id, type, amount, balance_after, reference, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			entry.ID, walletID, string(entry.Type), entry.Amount, entry.BalanceAfter,
			entry.Reference, entry.Description, entry.CreatedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert %s %s: %w", entry.Type, entry.Reference, mapErr(err))
		}

		wallet, err = scanWallet(tx.QueryRow(ctx, `
			UPDATE escrow_wallets
			SET balance = $2, frozen_amount = $3, available_balance = $4, updated_at = NOW()
			WHERE id = $1
			RETURNING `+walletSelectCols,
			walletID, next.Balance, next.FrozenAmount, next.AvailableBalance,
		))
		if err != nil {
			return fmt.Errorf("postgres: update wallet %s: %w", walletID, err)
		}
		return nil
	})
	return wallet, entry, err
}

// FindByReference returns the entry of txType carrying reference.
func (s *WalletStore) FindByReference(ctx context.Context, walletID string, txType domain.TxType, reference string) (domain.WalletTransaction, error) {
	t, err := scanTx(s.pool.QueryRow(ctx,
		`SELECT `+txSelectCols+` FROM wallet_transactions WHERE wallet_id = $1 AND type = $2 AND reference = $3`,
		walletID, string(txType), reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WalletTransaction{}, domain.ErrNotFound
		}
		return domain.WalletTransaction{}, fmt.Errorf("postgres: find %s %s: %w", txType, reference, err)
	}
	return t, nil
}

// ListTransactions returns a wallet's entries oldest first.
func (s *WalletStore) ListTransactions(ctx context.Context, walletID string, opts domain.ListOpts) ([]domain.WalletTransaction, error) {
	query, args := pageClause(`SELECT `+txSelectCols+` FROM wallet_transactions WHERE wallet_id = $1`,
		[]any{walletID}, "created_at", "seq ASC", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions %s: %w", walletID, err)
	}
	out, err := scanTxs(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transactions: %w", err)
	}
	return out, nil
}

// ListTransactionsBetween returns entries created in [from, to) across all
// wallets.
func (s *WalletStore) ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]domain.WalletTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txSelectCols+` FROM wallet_transactions
		 WHERE created_at >= $1 AND created_at < $2 ORDER BY seq ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions between: %w", err)
	}
	out, err := scanTxs(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transactions: %w", err)
	}
	return out, nil
}

var _ domain.WalletStore = (*WalletStore)(nil)
