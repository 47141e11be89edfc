package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// PaymentStore implements domain.PaymentStore.
type PaymentStore struct{ db *DB }

func (s *PaymentStore) Create(_ context.Context, p domain.Payment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.paymentByAuction[p.AuctionID]; ok {
		return fmt.Errorf("memory: payment for auction %s: %w", p.AuctionID, domain.ErrAlreadyExists)
	}
	if _, ok := s.db.payments[p.ID]; ok {
		return fmt.Errorf("memory: payment %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	now := s.db.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.db.payments[p.ID] = p
	s.db.paymentByAuction[p.AuctionID] = p.ID
	return nil
}

func (s *PaymentStore) Get(_ context.Context, id string) (domain.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *PaymentStore) GetByAuction(ctx context.Context, auctionID string) (domain.Payment, error) {
	s.db.mu.Lock()
	id, ok := s.db.paymentByAuction[auctionID]
	s.db.mu.Unlock()
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *PaymentStore) GetByReference(_ context.Context, reference string) (domain.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if p, ok := s.verifiedByReference(reference, ""); ok {
		return p, nil
	}
	return domain.Payment{}, domain.ErrNotFound
}

// verifiedByReference finds a verified payment other than exclude that
// carries reference. Callers hold mu.
func (s *PaymentStore) verifiedByReference(reference, exclude string) (domain.Payment, bool) {
	if reference == "" {
		return domain.Payment{}, false
	}
	for id, p := range s.db.payments {
		if id != exclude && p.Status == domain.PaymentVerified && p.Reference == reference {
			return p, true
		}
	}
	return domain.Payment{}, false
}

func (s *PaymentStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	return s.filter(limit, func(p domain.Payment) bool { return p.PastDeadline(now) }), nil
}

func (s *PaymentStore) ListFailedTransfers(_ context.Context, limit int) ([]domain.Payment, error) {
	return s.filter(limit, func(p domain.Payment) bool {
		return p.Status == domain.PaymentVerified && p.TransferStatus == domain.TransferFailed
	}), nil
}

func (s *PaymentStore) filter(limit int, keep func(domain.Payment) bool) []domain.Payment {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Payment
	for _, p := range s.db.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentDeadline.Before(out[j].PaymentDeadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *PaymentStore) Update(_ context.Context, id string, fn domain.PaymentMutation) (domain.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	current, ok := s.db.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	next := current
	if err := fn(&next); err != nil {
		return current, err
	}
	if next.Status == domain.PaymentVerified {
		if other, ok := s.verifiedByReference(next.Reference, id); ok {
			return current, fmt.Errorf("memory: reference %s settles payment %s: %w", next.Reference, other.ID, domain.ErrAlreadyExists)
		}
	}
	next.ID = current.ID
	next.AuctionID = current.AuctionID
	next.UpdatedAt = s.db.now()
	s.db.payments[id] = next
	return next, nil
}

func (s *PaymentStore) SavePickup(_ context.Context, p domain.PickupAuthorization) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if existing, ok := s.db.pickups[p.PaymentID]; ok && existing.RedeemedAt != nil {
		return fmt.Errorf("memory: pickup %s already redeemed: %w", p.PaymentID, domain.ErrInvalidState)
	}
	s.db.pickups[p.PaymentID] = p
	return nil
}

func (s *PaymentStore) GetPickup(_ context.Context, paymentID string) (domain.PickupAuthorization, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.pickups[paymentID]
	if !ok {
		return domain.PickupAuthorization{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *PaymentStore) RedeemPickup(_ context.Context, paymentID string, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.pickups[paymentID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.RedeemedAt != nil {
		return false, nil
	}
	p.RedeemedAt = &at
	s.db.pickups[paymentID] = p
	return true, nil
}

var _ domain.PaymentStore = (*PaymentStore)(nil)
