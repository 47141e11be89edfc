package fraud

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// UnusualJump flags a bid far above the previous bid or the asset's estimate.
type UnusualJump struct {
	multiple decimal.Decimal
}

// NewUnusualJump creates the unusual_jump check. A non-positive multiple
// falls back to 3.
func NewUnusualJump(multiple decimal.Decimal) *UnusualJump {
	if !multiple.IsPositive() {
		multiple = decimal.NewFromInt(3)
	}
	return &UnusualJump{multiple: multiple}
}

// Pattern returns the check tag.
func (u *UnusualJump) Pattern() domain.FraudPattern { return domain.PatternUnusualJump }

// Detect compares the latest bid against the one before it and against the
// estimated value.
func (u *UnusualJump) Detect(_ context.Context, in Input) ([]Match, error) {
	latest := in.Latest.Amount
	var previous decimal.Decimal
	for i := len(in.Bids) - 1; i >= 0; i-- {
		if in.Bids[i].ID != in.Latest.ID {
			previous = in.Bids[i].Amount
			break
		}
	}

	overPrevious := previous.IsPositive() && latest.GreaterThan(previous.Mul(u.multiple))
	overEstimate := in.EstimatedValue.IsPositive() && latest.GreaterThan(in.EstimatedValue.Mul(u.multiple))
	if !overPrevious && !overEstimate {
		return nil, nil
	}
	return []Match{{
		Pattern:   domain.PatternUnusualJump,
		VendorIDs: []string{in.Latest.VendorID},
		Evidence: map[string]any{
			"amount":          latest.String(),
			"previous":        previous.String(),
			"estimated_value": in.EstimatedValue.String(),
			"multiple":        u.multiple.String(),
		},
	}}, nil
}
