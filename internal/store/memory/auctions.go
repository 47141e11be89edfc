package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/google/uuid"
)

func newUUID() string { return uuid.New().String() }

// AuctionStore implements domain.AuctionStore.
type AuctionStore struct{ db *DB }

func (s *AuctionStore) Create(_ context.Context, a domain.Auction) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.auctions[a.ID]; ok {
		return fmt.Errorf("memory: create auction %s: %w", a.ID, domain.ErrAlreadyExists)
	}
	if _, ok := s.db.auctionByCase[a.CaseID]; ok {
		return fmt.Errorf("memory: create auction for case %s: %w", a.CaseID, domain.ErrAlreadyExists)
	}
	now := s.db.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.db.auctions[a.ID] = a
	s.db.auctionByCase[a.CaseID] = a.ID
	return nil
}

func (s *AuctionStore) Get(_ context.Context, id string) (domain.Auction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *AuctionStore) GetByCase(ctx context.Context, caseID string) (domain.Auction, error) {
	s.db.mu.Lock()
	id, ok := s.db.auctionByCase[caseID]
	s.db.mu.Unlock()
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *AuctionStore) List(_ context.Context, statuses []domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	want := make(map[domain.AuctionStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []domain.Auction
	for _, a := range s.db.auctions {
		if len(want) > 0 && !want[a.Status] {
			continue
		}
		if !inWindow(a.CreatedAt, opts) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return page(out, opts), nil
}

func (s *AuctionStore) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	return s.filter(limit, func(a domain.Auction) bool { return a.Expired(now) }), nil
}

func (s *AuctionStore) ListDueToStart(_ context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	return s.filter(limit, func(a domain.Auction) bool {
		return a.Status == domain.AuctionScheduled && !a.StartTime.After(now)
	}), nil
}

func (s *AuctionStore) filter(limit int, keep func(domain.Auction) bool) []domain.Auction {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Auction
	for _, id := range sortedKeys(s.db.auctions) {
		a := s.db.auctions[id]
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Mutate runs fn while holding the store lock, so no other mutation or bid
// can interleave with it.
func (s *AuctionStore) Mutate(_ context.Context, id string, fn domain.AuctionMutation) (domain.Auction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	current, ok := s.db.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	next := current
	bid, err := fn(&next)
	if err != nil {
		return current, err
	}
	next.ID = current.ID
	next.Version = current.Version + 1
	next.UpdatedAt = s.db.now()
	if bid != nil {
		s.db.bids[id] = append(s.db.bids[id], *bid)
		s.db.stamp(bid.ID)
	}
	s.db.auctions[id] = next
	return next, nil
}

func (s *AuctionStore) AdjustWatching(_ context.Context, id string, delta int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.WatchingCount += delta
	if a.WatchingCount < 0 {
		a.WatchingCount = 0
	}
	s.db.auctions[id] = a
	return nil
}

func (s *AuctionStore) ListClosedBetween(_ context.Context, from, to time.Time) ([]domain.Auction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Auction
	for _, a := range s.db.auctions {
		if a.ClosedAt == nil || a.ClosedAt.Before(from) || !a.ClosedAt.Before(to) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(*out[j].ClosedAt) })
	return out, nil
}

// BidStore implements domain.BidStore.
type BidStore struct{ db *DB }

func (s *BidStore) ListByAuction(_ context.Context, auctionID string) ([]domain.Bid, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return append([]domain.Bid(nil), s.db.bids[auctionID]...), nil
}

func (s *BidStore) ListByVendor(_ context.Context, vendorID string, opts domain.ListOpts) ([]domain.Bid, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Bid
	for _, bids := range s.db.bids {
		for _, b := range bids {
			if b.VendorID == vendorID && inWindow(b.CreatedAt, opts) {
				out = append(out, b)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.db.seq[out[i].ID] < s.db.seq[out[j].ID] })
	return page(out, opts), nil
}

var (
	_ domain.AuctionStore = (*AuctionStore)(nil)
	_ domain.BidStore     = (*BidStore)(nil)
)
