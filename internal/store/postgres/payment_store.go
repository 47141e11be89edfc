package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// PaymentStore implements domain.PaymentStore using PostgreSQL.
type PaymentStore struct {
	pool *pgxpool.Pool
}

// NewPaymentStore creates a new PaymentStore backed by the given connection pool.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

const paymentSelectCols = `id, auction_id, vendor_id, amount, method, reference, escrow_status, status,
	payment_deadline, verified_at, transfer_id, transfer_status, created_at, updated_at`

func scanPayment(row rowScanner) (domain.Payment, error) {
	var p domain.Payment
	var escrow, status, transfer string
	err := row.Scan(
		&p.ID, &p.AuctionID, &p.VendorID, &p.Amount, &p.Method, &p.Reference, &escrow, &status,
		&p.PaymentDeadline, &p.VerifiedAt, &p.TransferID, &transfer, &p.CreatedAt, &p.UpdatedAt,
	)
	p.EscrowStatus = domain.EscrowStatus(escrow)
	p.Status = domain.PaymentStatus(status)
	p.TransferStatus = domain.TransferStatus(transfer)
	return p, err
}

func scanPayments(rows pgx.Rows) ([]domain.Payment, error) {
	defer rows.Close()
	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a payment. The unique index on auction_id makes a second
// payment for the same auction fail with domain.ErrAlreadyExists.
func (s *PaymentStore) Create(ctx context.Context, p domain.Payment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (
			id, auction_id, vendor_id, amount, method, reference, escrow_status, status,
			payment_deadline, verified_at, transfer_id, transfer_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())`,
		p.ID, p.AuctionID, p.VendorID, p.Amount, p.Method, p.Reference,
		string(p.EscrowStatus), string(p.Status), p.PaymentDeadline, p.VerifiedAt,
		p.TransferID, string(p.TransferStatus), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create payment for auction %s: %w", p.AuctionID, mapErr(err))
	}
	return nil
}

// Get retrieves a payment by ID.
func (s *PaymentStore) Get(ctx context.Context, id string) (domain.Payment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentSelectCols+` FROM payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Payment{}, domain.ErrNotFound
		}
		return domain.Payment{}, fmt.Errorf("postgres: get payment %s: %w", id, err)
	}
	return p, nil
}

// GetByAuction retrieves the payment for an auction.
func (s *PaymentStore) GetByAuction(ctx context.Context, auctionID string) (domain.Payment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentSelectCols+` FROM payments WHERE auction_id = $1`, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Payment{}, domain.ErrNotFound
		}
		return domain.Payment{}, fmt.Errorf("postgres: get payment for auction %s: %w", auctionID, err)
	}
	return p, nil
}

// GetByReference retrieves the verified payment settled by reference.
func (s *PaymentStore) GetByReference(ctx context.Context, reference string) (domain.Payment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx,
		`SELECT `+paymentSelectCols+` FROM payments WHERE reference = $1 AND status = 'verified'`, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Payment{}, domain.ErrNotFound
		}
		return domain.Payment{}, fmt.Errorf("postgres: get payment by reference %s: %w", reference, err)
	}
	return p, nil
}

// ListOverdue returns pending payments whose deadline has passed.
func (s *PaymentStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+paymentSelectCols+` FROM payments
		 WHERE status = 'pending' AND payment_deadline < $1
		 ORDER BY payment_deadline ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list overdue payments: %w", err)
	}
	out, err := scanPayments(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan overdue payments: %w", err)
	}
	return out, nil
}

// ListFailedTransfers returns verified payments whose fund release failed.
func (s *PaymentStore) ListFailedTransfers(ctx context.Context, limit int) ([]domain.Payment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+paymentSelectCols+` FROM payments
		 WHERE status = 'verified' AND transfer_status = 'failed'
		 ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list failed transfers: %w", err)
	}
	out, err := scanPayments(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan failed transfers: %w", err)
	}
	return out, nil
}

// Update locks the payment row and persists fn's changes. Verifying with a
// reference another payment already holds violates
// payments_verified_reference_idx and maps to domain.ErrAlreadyExists.
func (s *PaymentStore) Update(ctx context.Context, id string, fn domain.PaymentMutation) (domain.Payment, error) {
	var result domain.Payment
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentSelectCols+` FROM payments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("postgres: lock payment %s: %w", id, err)
		}
		next := current
		if err := fn(&next); err != nil {
			result = current
			return err
		}
		result, err = scanPayment(tx.QueryRow(ctx, `
			UPDATE payments SET
				method = $2, reference = $3, escrow_status = $4, status = $5,
				verified_at = $6, transfer_id = $7, transfer_status = $8, updated_at = NOW()
			WHERE id = $1
			RETURNING `+paymentSelectCols,
			id, next.Method, next.Reference, string(next.EscrowStatus), string(next.Status),
			next.VerifiedAt, next.TransferID, string(next.TransferStatus),
		))
		if err != nil {
			return fmt.Errorf("postgres: update payment %s: %w", id, mapErr(err))
		}
		return nil
	})
	return result, err
}

// SavePickup stores or replaces an unredeemed pickup authorization.
func (s *PaymentStore) SavePickup(ctx context.Context, p domain.PickupAuthorization) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pickup_authorizations (payment_id, auction_id, vendor_id, code_hash, salt, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (payment_id) DO UPDATE SET
			code_hash = EXCLUDED.code_hash, salt = EXCLUDED.salt,
			issued_at = EXCLUDED.issued_at, expires_at = EXCLUDED.expires_at
		WHERE pickup_authorizations.redeemed_at IS NULL`,
		p.PaymentID, p.AuctionID, p.VendorID, p.CodeHash, p.Salt, p.IssuedAt, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save pickup %s: %w", p.PaymentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: pickup %s already redeemed: %w", p.PaymentID, domain.ErrInvalidState)
	}
	return nil
}

// GetPickup retrieves the pickup authorization for a payment.
func (s *PaymentStore) GetPickup(ctx context.Context, paymentID string) (domain.PickupAuthorization, error) {
	var p domain.PickupAuthorization
	err := s.pool.QueryRow(ctx, `
		SELECT payment_id, auction_id, vendor_id, code_hash, salt, issued_at, expires_at, redeemed_at
		FROM pickup_authorizations WHERE payment_id = $1`, paymentID,
	).Scan(&p.PaymentID, &p.AuctionID, &p.VendorID, &p.CodeHash, &p.Salt, &p.IssuedAt, &p.ExpiresAt, &p.RedeemedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PickupAuthorization{}, domain.ErrNotFound
		}
		return domain.PickupAuthorization{}, fmt.Errorf("postgres: get pickup %s: %w", paymentID, err)
	}
	return p, nil
}

// RedeemPickup stamps redeemed_at once.
func (s *PaymentStore) RedeemPickup(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pickup_authorizations SET redeemed_at = $2 WHERE payment_id = $1 AND redeemed_at IS NULL`,
		paymentID, at)
	if err != nil {
		return false, fmt.Errorf("postgres: redeem pickup %s: %w", paymentID, err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ domain.PaymentStore = (*PaymentStore)(nil)
