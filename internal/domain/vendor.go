package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VendorTier bounds the auction value a vendor may bid on.
type VendorTier string

const (
	VendorTier1 VendorTier = "tier1"
	VendorTier2 VendorTier = "tier2"
)

// VendorStatus marks whether a vendor may bid.
type VendorStatus string

const (
	VendorActive    VendorStatus = "active"
	VendorSuspended VendorStatus = "suspended"
)

// Vendor is a registered bidder. Verification artifacts are stored as hashes.
type Vendor struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Tier            VendorTier   `json:"tier"`
	Status          VendorStatus `json:"status"`
	Categories      []string     `json:"categories,omitempty"`
	BankAccountHash string       `json:"-"`
	IdentityDocHash string       `json:"-"`
	TotalBids       int          `json:"total_bids"`
	TotalWins       int          `json:"total_wins"`
	FraudFlags      int          `json:"fraud_flags"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// InterestedIn reports whether the vendor wants notifications for assetType.
// A vendor with no categories is interested in everything.
func (v Vendor) InterestedIn(assetType string) bool {
	if len(v.Categories) == 0 {
		return true
	}
	for _, c := range v.Categories {
		if c == assetType {
			return true
		}
	}
	return false
}

// TierCeilings maps a tier to the maximum bid amount it may place. A zero
// ceiling, or a tier missing from the map, means unlimited.
type TierCeilings map[VendorTier]decimal.Decimal

// Allows reports whether tier may bid amount.
func (c TierCeilings) Allows(tier VendorTier, amount decimal.Decimal) bool {
	ceiling, ok := c[tier]
	if !ok || ceiling.IsZero() {
		return true
	}
	return amount.LessThanOrEqual(ceiling)
}

// VendorCounters is a delta applied to a vendor's performance counters.
type VendorCounters struct {
	Bids       int
	Wins       int
	FraudFlags int
}
