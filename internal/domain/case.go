package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CaseStatus tracks a salvage case as seen by the auction core.
type CaseStatus string

const (
	CaseApproved      CaseStatus = "approved"
	CaseActiveAuction CaseStatus = "active_auction"
	CaseSold          CaseStatus = "sold"
	CaseUnsold        CaseStatus = "unsold"
	CaseRelistPending CaseStatus = "relist_pending"
	CaseCancelled     CaseStatus = "cancelled"
)

// ApprovedCase is the intake projection produced by the external approval
// workflow.
type ApprovedCase struct {
	ID           string          `json:"id"`
	AssetType    string          `json:"asset_type"`
	ReservePrice decimal.Decimal `json:"reserve_price"`
	LocationName string          `json:"location_name"`
}

// SalvageCase is the boundary record the core tracks for each case.
type SalvageCase struct {
	ID             string          `json:"id"`
	AssetType      string          `json:"asset_type"`
	ReservePrice   decimal.Decimal `json:"reserve_price"`
	EstimatedValue decimal.Decimal `json:"estimated_value"`
	LocationName   string          `json:"location_name"`
	DamagePercent  float64         `json:"damage_percent"`
	Status         CaseStatus      `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Severity is the damage band derived from the external scoring service.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// SeverityForDamage maps a damage percentage to its band. Bands are half-open,
// [0,60) minor, [60,80) moderate, [80,100] severe, so a boundary value belongs
// to the higher band only.
func SeverityForDamage(pct float64) Severity {
	switch {
	case pct < 60:
		return SeverityMinor
	case pct < 80:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}
