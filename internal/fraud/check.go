// Package fraud provides the bid-pattern checks run after every accepted bid
// and a detector that runs the enabled checks over an auction's history.
package fraud

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// Input is the auction history a check inspects. Bids are in acceptance
// order and end with Latest.
type Input struct {
	Auction        domain.Auction
	Bids           []domain.Bid
	Vendors        map[string]domain.Vendor
	EstimatedValue decimal.Decimal
	Latest         domain.Bid
}

// Match is one detected pattern and the vendors it implicates.
type Match struct {
	Pattern   domain.FraudPattern
	VendorIDs []string
	Evidence  map[string]any
}

// Implicates reports whether vendorID is among the match's vendors.
func (m Match) Implicates(vendorID string) bool {
	for _, id := range m.VendorIDs {
		if id == vendorID {
			return true
		}
	}
	return false
}

// Check is a single fraud pattern detector. Checks never mutate state.
type Check interface {
	Pattern() domain.FraudPattern
	Detect(ctx context.Context, in Input) ([]Match, error)
}
