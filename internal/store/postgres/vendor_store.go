package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// VendorStore implements domain.VendorStore using PostgreSQL.
type VendorStore struct {
	pool *pgxpool.Pool
}

// NewVendorStore creates a new VendorStore backed by the given connection pool.
func NewVendorStore(pool *pgxpool.Pool) *VendorStore {
	return &VendorStore{pool: pool}
}

const vendorSelectCols = `id, name, tier, status, categories, bank_account_hash, identity_doc_hash,
	total_bids, total_wins, fraud_flags, created_at, updated_at`

func scanVendor(row rowScanner) (domain.Vendor, error) {
	var v domain.Vendor
	var tier, status string
	err := row.Scan(&v.ID, &v.Name, &tier, &status, &v.Categories, &v.BankAccountHash, &v.IdentityDocHash,
		&v.TotalBids, &v.TotalWins, &v.FraudFlags, &v.CreatedAt, &v.UpdatedAt)
	v.Tier = domain.VendorTier(tier)
	v.Status = domain.VendorStatus(status)
	return v, err
}

// Upsert inserts a vendor or updates its profile. Counters are never
// overwritten here.
func (s *VendorStore) Upsert(ctx context.Context, v domain.Vendor) error {
	status := v.Status
	if status == "" {
		status = domain.VendorActive
	}
	categories := v.Categories
	if categories == nil {
		categories = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vendors (id, name, tier, status, categories, bank_account_hash, identity_doc_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, tier = EXCLUDED.tier, status = EXCLUDED.status,
			categories = EXCLUDED.categories, bank_account_hash = EXCLUDED.bank_account_hash,
			identity_doc_hash = EXCLUDED.identity_doc_hash, updated_at = NOW()`,
		v.ID, v.Name, string(v.Tier), string(status), categories, v.BankAccountHash, v.IdentityDocHash,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert vendor %s: %w", v.ID, err)
	}
	return nil
}

// Get retrieves a vendor by ID.
func (s *VendorStore) Get(ctx context.Context, id string) (domain.Vendor, error) {
	v, err := scanVendor(s.pool.QueryRow(ctx, `SELECT `+vendorSelectCols+` FROM vendors WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vendor{}, domain.ErrNotFound
		}
		return domain.Vendor{}, fmt.Errorf("postgres: get vendor %s: %w", id, err)
	}
	return v, nil
}

// GetMany returns the vendors that exist among ids, keyed by ID.
func (s *VendorStore) GetMany(ctx context.Context, ids []string) (map[string]domain.Vendor, error) {
	out := make(map[string]domain.Vendor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+vendorSelectCols+` FROM vendors WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get vendors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan vendor: %w", err)
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

// ListActive returns every vendor allowed to bid.
func (s *VendorStore) ListActive(ctx context.Context) ([]domain.Vendor, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+vendorSelectCols+` FROM vendors WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active vendors: %w", err)
	}
	defer rows.Close()
	var out []domain.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan vendor: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetStatus changes a vendor's bidding status.
func (s *VendorStore) SetStatus(ctx context.Context, id string, status domain.VendorStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE vendors SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set vendor status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementCounters adds delta to the vendor's performance counters.
func (s *VendorStore) IncrementCounters(ctx context.Context, id string, delta domain.VendorCounters) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vendors SET
			total_bids = total_bids + $2, total_wins = total_wins + $3, fraud_flags = fraud_flags + $4
		WHERE id = $1`, id, delta.Bids, delta.Wins, delta.FraudFlags)
	if err != nil {
		return fmt.Errorf("postgres: increment counters %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CaseStore implements domain.CaseStore using PostgreSQL.
type CaseStore struct {
	pool *pgxpool.Pool
}

// NewCaseStore creates a new CaseStore backed by the given connection pool.
func NewCaseStore(pool *pgxpool.Pool) *CaseStore {
	return &CaseStore{pool: pool}
}

// Upsert inserts or refreshes the boundary record for a case.
func (s *CaseStore) Upsert(ctx context.Context, c domain.SalvageCase) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO salvage_cases (id, asset_type, reserve_price, estimated_value, location_name, damage_percent, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			asset_type = EXCLUDED.asset_type, reserve_price = EXCLUDED.reserve_price,
			estimated_value = EXCLUDED.estimated_value, location_name = EXCLUDED.location_name,
			damage_percent = EXCLUDED.damage_percent, status = EXCLUDED.status, updated_at = NOW()`,
		c.ID, c.AssetType, c.ReservePrice, c.EstimatedValue, c.LocationName, c.DamagePercent, string(c.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert case %s: %w", c.ID, err)
	}
	return nil
}

// Get retrieves a case by ID.
func (s *CaseStore) Get(ctx context.Context, id string) (domain.SalvageCase, error) {
	var c domain.SalvageCase
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, asset_type, reserve_price, estimated_value, location_name, damage_percent, status, created_at, updated_at
		FROM salvage_cases WHERE id = $1`, id,
	).Scan(&c.ID, &c.AssetType, &c.ReservePrice, &c.EstimatedValue, &c.LocationName, &c.DamagePercent, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SalvageCase{}, domain.ErrNotFound
		}
		return domain.SalvageCase{}, fmt.Errorf("postgres: get case %s: %w", id, err)
	}
	c.Status = domain.CaseStatus(status)
	return c, nil
}

// Transition is a conditional update: it only fires from one of the listed
// statuses, which makes repeated scans idempotent.
func (s *CaseStore) Transition(ctx context.Context, id string, from []domain.CaseStatus, to domain.CaseStatus) (bool, error) {
	fromStr := make([]string, len(from))
	for i, f := range from {
		fromStr[i] = string(f)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE salvage_cases SET status = $2, updated_at = NOW() WHERE id = $1 AND status = ANY($3)`,
		id, string(to), fromStr)
	if err != nil {
		return false, fmt.Errorf("postgres: transition case %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

var (
	_ domain.VendorStore = (*VendorStore)(nil)
	_ domain.CaseStore   = (*CaseStore)(nil)
)
