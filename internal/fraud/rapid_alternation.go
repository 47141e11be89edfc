package fraud

import (
	"context"
	"sort"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// RapidAlternation flags two vendors trading the lead back and forth in a
// short window, a common shill-bidding shape.
type RapidAlternation struct {
	minAlt int
	window time.Duration
}

// NewRapidAlternation creates the rapid_alternation check.
func NewRapidAlternation(minAlt int, window time.Duration) *RapidAlternation {
	if minAlt <= 0 {
		minAlt = 4
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &RapidAlternation{minAlt: minAlt, window: window}
}

// Pattern returns the check tag.
func (r *RapidAlternation) Pattern() domain.FraudPattern { return domain.PatternRapidAlternation }

// Detect walks back from the latest bid through the run of bids placed only
// by the latest bidder and one partner inside the window, counting lead
// changes.
func (r *RapidAlternation) Detect(_ context.Context, in Input) ([]Match, error) {
	if len(in.Bids) < 2 {
		return nil, nil
	}
	latest := in.Latest
	cutoff := latest.CreatedAt.Add(-r.window)

	partner := ""
	alternations := 0
	prev := latest.VendorID
	for i := len(in.Bids) - 1; i >= 0; i-- {
		b := in.Bids[i]
		if b.ID == latest.ID {
			continue
		}
		if b.CreatedAt.Before(cutoff) {
			break
		}
		if b.VendorID != latest.VendorID {
			if partner == "" {
				partner = b.VendorID
			} else if b.VendorID != partner {
				break
			}
		}
		if b.VendorID != prev {
			alternations++
		}
		prev = b.VendorID
	}

	if partner == "" || alternations < r.minAlt {
		return nil, nil
	}
	ids := []string{latest.VendorID, partner}
	sort.Strings(ids)
	return []Match{{
		Pattern:   domain.PatternRapidAlternation,
		VendorIDs: ids,
		Evidence: map[string]any{
			"vendor_ids":   ids,
			"alternations": alternations,
			"window":       r.window.String(),
		},
	}}, nil
}
