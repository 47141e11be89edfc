package fraud

import (
	"context"
	"sort"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// DuplicateIdentity flags distinct bidders sharing a bank account or identity
// document.
type DuplicateIdentity struct{}

// NewDuplicateIdentity creates the duplicate_identity check.
func NewDuplicateIdentity() *DuplicateIdentity { return &DuplicateIdentity{} }

// Pattern returns the check tag.
func (d *DuplicateIdentity) Pattern() domain.FraudPattern { return domain.PatternDuplicateIdentity }

// Detect groups the auction's bidders by verification artifact hash.
func (d *DuplicateIdentity) Detect(_ context.Context, in Input) ([]Match, error) {
	bidders := make(map[string]bool)
	for _, b := range in.Bids {
		bidders[b.VendorID] = true
	}

	type key struct{ artifact, hash string }
	groups := make(map[key]map[string]bool)
	add := func(artifact, hash, vendorID string) {
		if hash == "" {
			return
		}
		k := key{artifact, hash}
		if groups[k] == nil {
			groups[k] = make(map[string]bool)
		}
		groups[k][vendorID] = true
	}
	for id := range bidders {
		v, ok := in.Vendors[id]
		if !ok {
			continue
		}
		add("bank_account", v.BankAccountHash, id)
		add("identity_document", v.IdentityDocHash, id)
	}

	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].artifact != keys[j].artifact {
			return keys[i].artifact < keys[j].artifact
		}
		return keys[i].hash < keys[j].hash
	})

	var out []Match
	for _, k := range keys {
		if len(groups[k]) < 2 {
			continue
		}
		ids := sortedIDs(groups[k])
		out = append(out, Match{
			Pattern:   domain.PatternDuplicateIdentity,
			VendorIDs: ids,
			Evidence: map[string]any{
				"artifact":   k.artifact,
				"vendor_ids": ids,
			},
		})
	}
	return out, nil
}
