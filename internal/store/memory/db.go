// Package memory implements the domain stores in process memory. A single
// mutex stands in for the database's row locks, so Mutate and Apply callbacks
// observe committed state and commit atomically exactly like the Postgres
// stores. It backs single-node runs and service tests.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// DB is the shared state behind every memory store.
type DB struct {
	mu sync.Mutex

	auctions      map[string]domain.Auction
	auctionByCase map[string]string
	bids          map[string][]domain.Bid

	// seq records insertion order of bids and ledger entries by ID.
	seq     map[string]int64
	nextSeq int64

	vendors map[string]domain.Vendor
	cases   map[string]domain.SalvageCase

	wallets        map[string]domain.EscrowWallet
	walletByVendor map[string]string
	txs            map[string][]domain.WalletTransaction

	payments         map[string]domain.Payment
	paymentByAuction map[string]string
	pickups          map[string]domain.PickupAuthorization

	alerts     map[string]domain.FraudAlert
	alertOrder []string

	audit []domain.AuditEntry

	now   func() time.Time
	newID func() string
}

// NewDB returns an empty database.
func NewDB() *DB {
	return &DB{
		auctions:         make(map[string]domain.Auction),
		auctionByCase:    make(map[string]string),
		bids:             make(map[string][]domain.Bid),
		seq:              make(map[string]int64),
		vendors:          make(map[string]domain.Vendor),
		cases:            make(map[string]domain.SalvageCase),
		wallets:          make(map[string]domain.EscrowWallet),
		walletByVendor:   make(map[string]string),
		txs:              make(map[string][]domain.WalletTransaction),
		payments:         make(map[string]domain.Payment),
		paymentByAuction: make(map[string]string),
		pickups:          make(map[string]domain.PickupAuthorization),
		alerts:           make(map[string]domain.FraudAlert),
		now:              func() time.Time { return time.Now().UTC() },
		newID:            newUUID,
	}
}

// SetClock replaces the clock used for created/updated timestamps.
func (db *DB) SetClock(now func() time.Time) {
	db.mu.Lock()
	db.now = now
	db.mu.Unlock()
}

func (db *DB) Auctions() *AuctionStore { return &AuctionStore{db: db} }
func (db *DB) Bids() *BidStore         { return &BidStore{db: db} }
func (db *DB) Vendors() *VendorStore   { return &VendorStore{db: db} }
func (db *DB) Cases() *CaseStore       { return &CaseStore{db: db} }
func (db *DB) Wallets() *WalletStore   { return &WalletStore{db: db} }
func (db *DB) Payments() *PaymentStore { return &PaymentStore{db: db} }
func (db *DB) Fraud() *FraudStore      { return &FraudStore{db: db} }
func (db *DB) Audit() *AuditStore      { return &AuditStore{db: db} }

// stamp assigns id the next insertion sequence. Callers hold mu.
func (db *DB) stamp(id string) {
	db.nextSeq++
	db.seq[id] = db.nextSeq
}

// page applies offset and limit to an already ordered slice.
func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !t.Before(*opts.Until) {
		return false
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
