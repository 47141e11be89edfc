package fraud

import (
	"context"
	"sort"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// SameIP flags distinct vendors bidding on one auction from the same address.
type SameIP struct{}

// NewSameIP creates the same_ip check.
func NewSameIP() *SameIP { return &SameIP{} }

// Pattern returns the check tag.
func (s *SameIP) Pattern() domain.FraudPattern { return domain.PatternSameIP }

// Detect groups the auction's bids by address and reports every address used
// by two or more vendors.
func (s *SameIP) Detect(_ context.Context, in Input) ([]Match, error) {
	type group struct {
		vendors map[string]bool
		bids    int
	}
	byIP := make(map[string]*group)
	for _, b := range in.Bids {
		if b.IPAddress == "" {
			continue
		}
		g, ok := byIP[b.IPAddress]
		if !ok {
			g = &group{vendors: make(map[string]bool)}
			byIP[b.IPAddress] = g
		}
		g.vendors[b.VendorID] = true
		g.bids++
	}

	ips := make([]string, 0, len(byIP))
	for ip := range byIP {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	var out []Match
	for _, ip := range ips {
		g := byIP[ip]
		if len(g.vendors) < 2 {
			continue
		}
		ids := sortedIDs(g.vendors)
		out = append(out, Match{
			Pattern:   domain.PatternSameIP,
			VendorIDs: ids,
			Evidence: map[string]any{
				"ip":         ip,
				"vendor_ids": ids,
				"bid_count":  g.bids,
			},
		})
	}
	return out, nil
}

func sortedIDs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
