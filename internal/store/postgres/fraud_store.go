package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// FraudStore implements domain.FraudStore using PostgreSQL.
type FraudStore struct {
	pool *pgxpool.Pool
}

// NewFraudStore creates a new FraudStore backed by the given connection pool.
func NewFraudStore(pool *pgxpool.Pool) *FraudStore {
	return &FraudStore{pool: pool}
}

const alertSelectCols = `id, auction_id, vendor_id, bid_amount, patterns, evidence, status,
	flagged_at, resolved_at, resolved_by, resolution`

func scanAlert(row rowScanner) (domain.FraudAlert, error) {
	var a domain.FraudAlert
	var patterns []string
	var evidence []byte
	var status string
	err := row.Scan(&a.ID, &a.AuctionID, &a.VendorID, &a.BidAmount, &patterns, &evidence, &status,
		&a.FlaggedAt, &a.ResolvedAt, &a.ResolvedBy, &a.Resolution)
	if err != nil {
		return domain.FraudAlert{}, err
	}
	a.Status = domain.AlertStatus(status)
	a.Patterns = make([]domain.FraudPattern, len(patterns))
	for i, p := range patterns {
		a.Patterns[i] = domain.FraudPattern(p)
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &a.Evidence); err != nil {
			return domain.FraudAlert{}, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}
	return a, nil
}

func patternStrings(ps []domain.FraudPattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

// Create inserts a new alert.
func (s *FraudStore) Create(ctx context.Context, a domain.FraudAlert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = domain.AlertOpen
	}
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return fmt.Errorf("postgres: marshal evidence: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO fraud_alerts (id, auction_id, vendor_id, bid_amount, patterns, evidence, status, flagged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.AuctionID, a.VendorID, a.BidAmount, patternStrings(a.Patterns), evidence, string(a.Status), a.FlaggedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create fraud alert: %w", mapErr(err))
	}
	return nil
}

// Get retrieves an alert by ID.
func (s *FraudStore) Get(ctx context.Context, id string) (domain.FraudAlert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertSelectCols+` FROM fraud_alerts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FraudAlert{}, domain.ErrNotFound
		}
		return domain.FraudAlert{}, fmt.Errorf("postgres: get fraud alert %s: %w", id, err)
	}
	return a, nil
}

// List returns alerts newest first.
func (s *FraudStore) List(ctx context.Context, f domain.FraudFilter, opts domain.ListOpts) ([]domain.FraudAlert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM fraud_alerts WHERE 1=1`
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.AuctionID != "" {
		args = append(args, f.AuctionID)
		query += fmt.Sprintf(" AND auction_id = $%d", len(args))
	}
	if f.VendorID != "" {
		args = append(args, f.VendorID)
		query += fmt.Sprintf(" AND vendor_id = $%d", len(args))
	}
	query, args = pageClause(query, args, "flagged_at", "flagged_at DESC, id DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fraud alerts: %w", err)
	}
	defer rows.Close()
	var out []domain.FraudAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan fraud alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// OpenPatterns returns the distinct patterns of open alerts for the pair.
func (s *FraudStore) OpenPatterns(ctx context.Context, auctionID, vendorID string) ([]domain.FraudPattern, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT p FROM fraud_alerts, unnest(patterns) AS p
		WHERE auction_id = $1 AND vendor_id = $2 AND status = 'open'
		ORDER BY p`, auctionID, vendorID)
	if err != nil {
		return nil, fmt.Errorf("postgres: open patterns: %w", err)
	}
	defer rows.Close()
	var out []domain.FraudPattern
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("postgres: scan pattern: %w", err)
		}
		out = append(out, domain.FraudPattern(p))
	}
	return out, rows.Err()
}

// Resolve closes an open alert.
func (s *FraudStore) Resolve(ctx context.Context, id string, status domain.AlertStatus, by, note string, at time.Time) (domain.FraudAlert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx, `
		UPDATE fraud_alerts SET status = $2, resolved_by = $3, resolution = $4, resolved_at = $5
		WHERE id = $1 AND status = 'open'
		RETURNING `+alertSelectCols, id, string(status), by, note, at))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.FraudAlert{}, fmt.Errorf("postgres: resolve fraud alert %s: %w", id, err)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return domain.FraudAlert{}, err
	}
	return current, fmt.Errorf("postgres: resolve alert %s (%s): %w", id, current.Status, domain.ErrInvalidState)
}

var _ domain.FraudStore = (*FraudStore)(nil)
