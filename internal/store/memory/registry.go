package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// VendorStore implements domain.VendorStore.
type VendorStore struct{ db *DB }

func (s *VendorStore) Upsert(_ context.Context, v domain.Vendor) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	now := s.db.now()
	if existing, ok := s.db.vendors[v.ID]; ok {
		v.CreatedAt = existing.CreatedAt
		v.TotalBids = existing.TotalBids
		v.TotalWins = existing.TotalWins
		v.FraudFlags = existing.FraudFlags
	} else if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.Status == "" {
		v.Status = domain.VendorActive
	}
	v.Categories = slices.Clone(v.Categories)
	v.UpdatedAt = now
	s.db.vendors[v.ID] = v
	return nil
}

func (s *VendorStore) Get(_ context.Context, id string) (domain.Vendor, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	v, ok := s.db.vendors[id]
	if !ok {
		return domain.Vendor{}, domain.ErrNotFound
	}
	v.Categories = slices.Clone(v.Categories)
	return v, nil
}

func (s *VendorStore) GetMany(_ context.Context, ids []string) (map[string]domain.Vendor, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make(map[string]domain.Vendor, len(ids))
	for _, id := range ids {
		if v, ok := s.db.vendors[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (s *VendorStore) ListActive(_ context.Context) ([]domain.Vendor, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Vendor
	for _, id := range sortedKeys(s.db.vendors) {
		if v := s.db.vendors[id]; v.Status == domain.VendorActive {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *VendorStore) SetStatus(_ context.Context, id string, status domain.VendorStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	v, ok := s.db.vendors[id]
	if !ok {
		return domain.ErrNotFound
	}
	v.Status = status
	v.UpdatedAt = s.db.now()
	s.db.vendors[id] = v
	return nil
}

func (s *VendorStore) IncrementCounters(_ context.Context, id string, delta domain.VendorCounters) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	v, ok := s.db.vendors[id]
	if !ok {
		return domain.ErrNotFound
	}
	v.TotalBids += delta.Bids
	v.TotalWins += delta.Wins
	v.FraudFlags += delta.FraudFlags
	s.db.vendors[id] = v
	return nil
}

// CaseStore implements domain.CaseStore.
type CaseStore struct{ db *DB }

func (s *CaseStore) Upsert(_ context.Context, c domain.SalvageCase) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	now := s.db.now()
	if existing, ok := s.db.cases[c.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.db.cases[c.ID] = c
	return nil
}

func (s *CaseStore) Get(_ context.Context, id string) (domain.SalvageCase, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.cases[id]
	if !ok {
		return domain.SalvageCase{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *CaseStore) Transition(_ context.Context, id string, from []domain.CaseStatus, to domain.CaseStatus) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.cases[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !slices.Contains(from, c.Status) {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = s.db.now()
	s.db.cases[id] = c
	return true, nil
}

// FraudStore implements domain.FraudStore.
type FraudStore struct{ db *DB }

func cloneAlert(a domain.FraudAlert) domain.FraudAlert {
	a.Patterns = slices.Clone(a.Patterns)
	a.Evidence = maps.Clone(a.Evidence)
	return a
}

func (s *FraudStore) Create(_ context.Context, a domain.FraudAlert) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if a.ID == "" {
		a.ID = s.db.newID()
	}
	if _, ok := s.db.alerts[a.ID]; ok {
		return fmt.Errorf("memory: fraud alert %s: %w", a.ID, domain.ErrAlreadyExists)
	}
	if a.Status == "" {
		a.Status = domain.AlertOpen
	}
	s.db.alerts[a.ID] = cloneAlert(a)
	s.db.alertOrder = append(s.db.alertOrder, a.ID)
	return nil
}

func (s *FraudStore) Get(_ context.Context, id string) (domain.FraudAlert, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.alerts[id]
	if !ok {
		return domain.FraudAlert{}, domain.ErrNotFound
	}
	return cloneAlert(a), nil
}

// List returns alerts newest first.
func (s *FraudStore) List(_ context.Context, f domain.FraudFilter, opts domain.ListOpts) ([]domain.FraudAlert, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.FraudAlert
	for i := len(s.db.alertOrder) - 1; i >= 0; i-- {
		a := s.db.alerts[s.db.alertOrder[i]]
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.AuctionID != "" && a.AuctionID != f.AuctionID {
			continue
		}
		if f.VendorID != "" && a.VendorID != f.VendorID {
			continue
		}
		if !inWindow(a.FlaggedAt, opts) {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	return page(out, opts), nil
}

func (s *FraudStore) OpenPatterns(_ context.Context, auctionID, vendorID string) ([]domain.FraudPattern, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	seen := make(map[domain.FraudPattern]bool)
	for _, a := range s.db.alerts {
		if a.Status != domain.AlertOpen || a.AuctionID != auctionID || a.VendorID != vendorID {
			continue
		}
		for _, p := range a.Patterns {
			seen[p] = true
		}
	}
	out := make([]domain.FraudPattern, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *FraudStore) Resolve(_ context.Context, id string, status domain.AlertStatus, by, note string, at time.Time) (domain.FraudAlert, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.alerts[id]
	if !ok {
		return domain.FraudAlert{}, domain.ErrNotFound
	}
	if a.Status != domain.AlertOpen {
		return cloneAlert(a), fmt.Errorf("memory: resolve alert %s (%s): %w", id, a.Status, domain.ErrInvalidState)
	}
	a.Status = status
	a.ResolvedAt = &at
	a.ResolvedBy = by
	a.Resolution = note
	s.db.alerts[id] = a
	return cloneAlert(a), nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ db *DB }

func (s *AuditStore) Log(_ context.Context, event, actor string, detail map[string]any) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.audit = append(s.db.audit, domain.AuditEntry{
		ID:        int64(len(s.db.audit) + 1),
		Event:     event,
		Actor:     actor,
		Detail:    maps.Clone(detail),
		CreatedAt: s.db.now(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(s.db.audit))
	for i := len(s.db.audit) - 1; i >= 0; i-- {
		if e := s.db.audit[i]; inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	return page(out, opts), nil
}

var (
	_ domain.VendorStore = (*VendorStore)(nil)
	_ domain.CaseStore   = (*CaseStore)(nil)
	_ domain.FraudStore  = (*FraudStore)(nil)
	_ domain.AuditStore  = (*AuditStore)(nil)
)
