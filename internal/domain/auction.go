package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus tracks the auction lifecycle.
type AuctionStatus string

const (
	AuctionScheduled AuctionStatus = "scheduled"
	AuctionActive    AuctionStatus = "active"
	AuctionExtended  AuctionStatus = "extended" // active, with at least one extension applied
	AuctionClosed    AuctionStatus = "closed"
	AuctionCancelled AuctionStatus = "cancelled"
)

// Open reports whether bids may be accepted in this status.
func (s AuctionStatus) Open() bool {
	return s == AuctionActive || s == AuctionExtended
}

// Terminal reports whether no further transitions are possible.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionClosed || s == AuctionCancelled
}

// Auction is the time-boxed bidding process for one salvage case.
type Auction struct {
	ID               string           `json:"id"`
	CaseID           string           `json:"case_id"`
	AssetType        string           `json:"asset_type"`
	StartTime        time.Time        `json:"start_time"`
	EndTime          time.Time        `json:"end_time"`
	OriginalEndTime  time.Time        `json:"original_end_time"`
	ExtensionCount   int              `json:"extension_count"`
	ReservePrice     decimal.Decimal  `json:"reserve_price"`
	CurrentBid       *decimal.Decimal `json:"current_bid,omitempty"`
	CurrentBidderID  string           `json:"current_bidder_id,omitempty"`
	MinimumIncrement decimal.Decimal  `json:"minimum_increment"`
	Status           AuctionStatus    `json:"status"`
	WatchingCount    int              `json:"watching_count"`
	// Version increases with every committed mutation.
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// HasBid reports whether at least one bid has been accepted.
func (a Auction) HasBid() bool {
	return a.CurrentBid != nil
}

// MinimumNextBid returns the lowest amount the auction accepts in its current
// committed state: the reserve when there is no bid yet, otherwise the current
// bid plus the minimum increment.
func (a Auction) MinimumNextBid() decimal.Decimal {
	if a.CurrentBid == nil {
		return a.ReservePrice
	}
	return a.CurrentBid.Add(a.MinimumIncrement)
}

// AcceptsBidsAt reports whether a bid arriving at t may be considered.
func (a Auction) AcceptsBidsAt(t time.Time) bool {
	return a.Status.Open() && t.Before(a.EndTime)
}

// Expired reports whether the auction is open but past its end time.
func (a Auction) Expired(now time.Time) bool {
	return a.Status.Open() && !now.Before(a.EndTime)
}

// ExtensionPolicy is the anti-sniping rule applied to late bids.
type ExtensionPolicy struct {
	Window    time.Duration
	Increment time.Duration
	Cap       int
}

// Apply extends a when bidTime falls inside the trailing window of its end
// time and the extension cap has not been reached. It reports whether the end
// time moved.
func (p ExtensionPolicy) Apply(a *Auction, bidTime time.Time) bool {
	if p.Increment <= 0 || a.ExtensionCount >= p.Cap {
		return false
	}
	if !bidTime.Before(a.EndTime) {
		return false
	}
	if a.EndTime.Sub(bidTime) > p.Window {
		return false
	}
	a.EndTime = a.EndTime.Add(p.Increment)
	a.ExtensionCount++
	a.Status = AuctionExtended
	return true
}
