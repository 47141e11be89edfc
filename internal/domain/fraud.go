package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FraudPattern is a tag identifying a detection check.
type FraudPattern string

const (
	PatternSameIP            FraudPattern = "same_ip"
	PatternUnusualJump       FraudPattern = "unusual_jump"
	PatternDuplicateIdentity FraudPattern = "duplicate_identity"
	PatternRapidAlternation  FraudPattern = "rapid_alternation"
)

// AlertStatus tracks admin resolution of a fraud alert.
type AlertStatus string

const (
	AlertOpen      AlertStatus = "open"
	AlertDismissed AlertStatus = "dismissed"
	AlertActioned  AlertStatus = "actioned"
)

// FraudAlert records suspicious patterns attached to an auction/vendor pair.
type FraudAlert struct {
	ID         string          `json:"id"`
	AuctionID  string          `json:"auction_id"`
	VendorID   string          `json:"vendor_id"`
	BidAmount  decimal.Decimal `json:"bid_amount"`
	Patterns   []FraudPattern  `json:"patterns"`
	Evidence   map[string]any  `json:"evidence"`
	Status     AlertStatus     `json:"status"`
	FlaggedAt  time.Time       `json:"flagged_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy string          `json:"resolved_by,omitempty"`
	Resolution string          `json:"resolution,omitempty"`
}

// HasPattern reports whether p is among the alert's patterns.
func (a FraudAlert) HasPattern(p FraudPattern) bool {
	for _, x := range a.Patterns {
		if x == p {
			return true
		}
	}
	return false
}

// FraudFilter narrows alert listings.
type FraudFilter struct {
	Status    AlertStatus
	AuctionID string
	VendorID  string
}
