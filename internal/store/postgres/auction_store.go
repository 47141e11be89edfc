package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionSelectCols = `id, case_id, asset_type, start_time, end_time, original_end_time,
	extension_count, reserve_price, current_bid, current_bidder_id, minimum_increment,
	status, watching_count, version, created_at, updated_at, closed_at`

func scanAuction(row rowScanner) (domain.Auction, error) {
	var a domain.Auction
	var status string
	var current decimal.NullDecimal
	var bidder *string

	err := row.Scan(
		&a.ID, &a.CaseID, &a.AssetType, &a.StartTime, &a.EndTime, &a.OriginalEndTime,
		&a.ExtensionCount, &a.ReservePrice, &current, &bidder, &a.MinimumIncrement,
		&status, &a.WatchingCount, &a.Version, &a.CreatedAt, &a.UpdatedAt, &a.ClosedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	a.Status = domain.AuctionStatus(status)
	if current.Valid {
		v := current.Decimal
		a.CurrentBid = &v
	}
	if bidder != nil {
		a.CurrentBidderID = *bidder
	}
	return a, nil
}

func scanAuctions(rows pgx.Rows) ([]domain.Auction, error) {
	defer rows.Close()
	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullableBid(a domain.Auction) (decimal.NullDecimal, *string) {
	if a.CurrentBid == nil {
		return decimal.NullDecimal{}, nil
	}
	bidder := a.CurrentBidderID
	return decimal.NewNullDecimal(*a.CurrentBid), &bidder
}

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	current, bidder := nullableBid(a)
	const query = `
		INSERT INTO auctions (
			id, case_id, asset_type, start_time, end_time, original_end_time,
			extension_count, reserve_price, current_bid, current_bidder_id,
			minimum_increment, status, watching_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.CaseID, a.AssetType, a.StartTime, a.EndTime, a.OriginalEndTime,
		a.ExtensionCount, a.ReservePrice, current, bidder,
		a.MinimumIncrement, string(a.Status), a.WatchingCount, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, mapErr(err))
	}
	return nil
}

// Get retrieves an auction by ID.
func (s *AuctionStore) Get(ctx context.Context, id string) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// GetByCase retrieves the auction created for a salvage case.
func (s *AuctionStore) GetByCase(ctx context.Context, caseID string) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE case_id = $1`, caseID)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction for case %s: %w", caseID, err)
	}
	return a, nil
}

// List returns auctions in any of the given statuses, soonest ending first.
func (s *AuctionStore) List(ctx context.Context, statuses []domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE 1=1`
	var args []any
	if len(statuses) > 0 {
		ss := make([]string, len(statuses))
		for i, st := range statuses {
			ss[i] = string(st)
		}
		args = append(args, ss)
		query += " AND status = ANY($1)"
	}
	query, args = pageClause(query, args, "created_at", "end_time ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	out, err := scanAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan auctions: %w", err)
	}
	return out, nil
}

// ListExpired returns open auctions whose end time has passed.
func (s *AuctionStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions
		 WHERE status IN ('active', 'extended') AND end_time <= $1
		 ORDER BY end_time ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired auctions: %w", err)
	}
	out, err := scanAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expired auctions: %w", err)
	}
	return out, nil
}

// ListDueToStart returns scheduled auctions whose start time has passed.
func (s *AuctionStore) ListDueToStart(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions
		 WHERE status = 'scheduled' AND start_time <= $1
		 ORDER BY start_time ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due auctions: %w", err)
	}
	out, err := scanAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan due auctions: %w", err)
	}
	return out, nil
}

// Mutate locks the auction row, hands the committed state to fn and writes
// back the result together with any returned bid in the same transaction.
func (s *AuctionStore) Mutate(ctx context.Context, id string, fn domain.AuctionMutation) (domain.Auction, error) {
	var result domain.Auction
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1 FOR UPDATE`, id)
		current, err := scanAuction(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("postgres: lock auction %s: %w", id, err)
		}

		next := current
		bid, err := fn(&next)
		if err != nil {
			result = current
			return err
		}

		if bid != nil {
			_, err := tx.Exec(ctx, `
				INSERT INTO bids (id, auction_id, vendor_id, amount, otp_verified, ip_address, device_type, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				bid.ID, id, bid.VendorID, bid.Amount, bid.OTPVerified, bid.IPAddress, bid.DeviceType, bid.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("postgres: insert bid %s: %w", bid.ID, mapErr(err))
			}
		}

		cur, bidder := nullableBid(next)
		row = tx.QueryRow(ctx, `
			UPDATE auctions SET
				end_time = $2, extension_count = $3, current_bid = $4, current_bidder_id = $5,
				status = $6, closed_at = $7, start_time = $8, version = version + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING `+auctionSelectCols,
			id, next.EndTime, next.ExtensionCount, cur, bidder,
			string(next.Status), next.ClosedAt, next.StartTime,
		)
		result, err = scanAuction(row)
		if err != nil {
			return fmt.Errorf("postgres: update auction %s: %w", id, err)
		}
		return nil
	})
	return result, err
}

// AdjustWatching changes the observer count, never below zero.
func (s *AuctionStore) AdjustWatching(ctx context.Context, id string, delta int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auctions SET watching_count = GREATEST(watching_count + $2, 0) WHERE id = $1`, id, delta)
	if err != nil {
		return fmt.Errorf("postgres: adjust watching %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListClosedBetween returns auctions closed in [from, to).
func (s *AuctionStore) ListClosedBetween(ctx context.Context, from, to time.Time) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions
		 WHERE closed_at >= $1 AND closed_at < $2 ORDER BY closed_at ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed auctions: %w", err)
	}
	out, err := scanAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed auctions: %w", err)
	}
	return out, nil
}

// BidStore implements domain.BidStore using PostgreSQL.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a new BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

const bidSelectCols = `id, auction_id, vendor_id, amount, otp_verified, ip_address, device_type, created_at`

func scanBids(rows pgx.Rows) ([]domain.Bid, error) {
	defer rows.Close()
	var out []domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.VendorID, &b.Amount,
			&b.OTPVerified, &b.IPAddress, &b.DeviceType, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListByAuction returns bids in acceptance order. seq is assigned on insert
// under the auction row lock, so it does not depend on any host clock.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bidSelectCols+` FROM bids WHERE auction_id = $1 ORDER BY seq ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for %s: %w", auctionID, err)
	}
	out, err := scanBids(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bids: %w", err)
	}
	return out, nil
}

// ListByVendor returns a vendor's bids oldest first.
func (s *BidStore) ListByVendor(ctx context.Context, vendorID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query, args := pageClause(`SELECT `+bidSelectCols+` FROM bids WHERE vendor_id = $1`,
		[]any{vendorID}, "created_at", "seq ASC", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for vendor %s: %w", vendorID, err)
	}
	out, err := scanBids(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan vendor bids: %w", err)
	}
	return out, nil
}

var (
	_ domain.AuctionStore = (*AuctionStore)(nil)
	_ domain.BidStore     = (*BidStore)(nil)
)
