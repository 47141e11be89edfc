package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is an immutable vendor offer against an auction. Only accepted bids are
// ever persisted.
type Bid struct {
	ID          string          `json:"id"` // ULID
	AuctionID   string          `json:"auction_id"`
	VendorID    string          `json:"vendor_id"`
	Amount      decimal.Decimal `json:"amount"`
	OTPVerified bool            `json:"otp_verified"`
	IPAddress   string          `json:"ip_address"`
	DeviceType  string          `json:"device_type"`
	CreatedAt   time.Time       `json:"created_at"`
}

// BidRequest carries a vendor's bid submission.
type BidRequest struct {
	AuctionID   string          `json:"auction_id"`
	VendorID    string          `json:"vendor_id"`
	Amount      decimal.Decimal `json:"amount"`
	OTPVerified bool            `json:"otp_verified"`
	IPAddress   string          `json:"ip_address"`
	DeviceType  string          `json:"device_type"`
}

// BidResult is returned for an accepted bid. Degraded lists best-effort side
// effects (broadcast, notification, fraud scan) that did not complete.
type BidResult struct {
	Bid      Bid      `json:"bid"`
	Auction  Auction  `json:"auction"`
	Extended bool     `json:"extended"`
	Degraded []string `json:"degraded,omitempty"`
}

// AuctionEvent is published to observers of an auction channel.
type AuctionEvent struct {
	Type           string           `json:"type"`
	AuctionID      string           `json:"auction_id"`
	BidID          string           `json:"bid_id,omitempty"`
	VendorID       string           `json:"vendor_id,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	EndTime        time.Time        `json:"end_time"`
	ExtensionCount int              `json:"extension_count"`
	Status         AuctionStatus    `json:"status"`
	MinimumNextBid decimal.Decimal  `json:"minimum_next_bid"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// Auction event types.
const (
	EventBidAccepted     = "bid_accepted"
	EventAuctionExtended = "auction_extended"
	EventAuctionClosed   = "auction_closed"
	EventAuctionCancel   = "auction_cancelled"
	EventPaymentOverdue  = "payment_overdue"
)

// AuctionChannel returns the SignalBus channel observers subscribe to.
func AuctionChannel(auctionID string) string {
	return "auction:" + auctionID
}
