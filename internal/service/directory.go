package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// Directory receives the boundary records owned by upstream systems: approved
// cases from the claims workflow and verified vendors from onboarding.
type Directory struct {
	cases   domain.CaseStore
	vendors domain.VendorStore
	wallets domain.WalletStore
	logger  *slog.Logger
}

// NewDirectory creates a Directory.
func NewDirectory(cases domain.CaseStore, vendors domain.VendorStore, wallets domain.WalletStore, logger *slog.Logger) *Directory {
	return &Directory{
		cases:   cases,
		vendors: vendors,
		wallets: wallets,
		logger:  logger.With(slog.String("component", "directory")),
	}
}

// IntakeCase records an approved case so an auction can be created for it.
func (d *Directory) IntakeCase(ctx context.Context, c domain.SalvageCase) (domain.SalvageCase, error) {
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.AssetType) == "" {
		return domain.SalvageCase{}, fmt.Errorf("directory: case id and asset type are required: %w", domain.ErrValidation)
	}
	if !c.ReservePrice.IsPositive() {
		return domain.SalvageCase{}, domain.Reject(domain.ReasonInvalidAmount, "reserve price must be positive")
	}
	if c.Status == "" {
		c.Status = domain.CaseApproved
	}
	if err := d.cases.Upsert(ctx, c); err != nil {
		return domain.SalvageCase{}, fmt.Errorf("directory: upsert case %s: %w", c.ID, err)
	}
	d.logger.InfoContext(ctx, "case received",
		slog.String("case_id", c.ID),
		slog.String("status", string(c.Status)),
		slog.String("severity", string(domain.SeverityForDamage(c.DamagePercent))),
	)
	return d.cases.Get(ctx, c.ID)
}

// Case returns a case by ID.
func (d *Directory) Case(ctx context.Context, id string) (domain.SalvageCase, error) {
	c, err := d.cases.Get(ctx, id)
	if err != nil {
		return domain.SalvageCase{}, fmt.Errorf("directory: case %s: %w", id, err)
	}
	return c, nil
}

// RegisterVendor records a verified vendor and opens its escrow wallet.
func (d *Directory) RegisterVendor(ctx context.Context, v domain.Vendor) (domain.Vendor, error) {
	if strings.TrimSpace(v.ID) == "" {
		return domain.Vendor{}, fmt.Errorf("directory: vendor id is required: %w", domain.ErrValidation)
	}
	if v.Tier != domain.VendorTier1 && v.Tier != domain.VendorTier2 {
		return domain.Vendor{}, fmt.Errorf("directory: unknown tier %q: %w", v.Tier, domain.ErrValidation)
	}
	if err := d.vendors.Upsert(ctx, v); err != nil {
		return domain.Vendor{}, fmt.Errorf("directory: upsert vendor %s: %w", v.ID, err)
	}
	if _, err := d.wallets.Ensure(ctx, v.ID); err != nil {
		return domain.Vendor{}, fmt.Errorf("directory: open wallet %s: %w", v.ID, err)
	}
	return d.Vendor(ctx, v.ID)
}

// Vendor returns a vendor by ID.
func (d *Directory) Vendor(ctx context.Context, id string) (domain.Vendor, error) {
	v, err := d.vendors.Get(ctx, id)
	if err != nil {
		return domain.Vendor{}, fmt.Errorf("directory: vendor %s: %w", id, err)
	}
	return v, nil
}
