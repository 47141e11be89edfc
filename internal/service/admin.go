package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// Command identifies the admin issuing an action and why.
type Command struct {
	AdminID       string `json:"admin_id"`
	Justification string `json:"justification"`
}

// AdminService executes audited administrative commands. Callers are
// authorized upstream; AdminID is taken from the verified token subject.
type AdminService struct {
	alerts           domain.FraudStore
	vendors          domain.VendorStore
	audit            domain.AuditStore
	lifecycle        *Lifecycle
	settlement       *Settlement
	minJustification int
	now              Clock
	logger           *slog.Logger
}

// NewAdminService creates an AdminService.
func NewAdminService(
	alerts domain.FraudStore,
	vendors domain.VendorStore,
	auditStore domain.AuditStore,
	lifecycle *Lifecycle,
	settlement *Settlement,
	minJustification int,
	logger *slog.Logger,
) *AdminService {
	if minJustification <= 0 {
		minJustification = 20
	}
	return &AdminService{
		alerts:           alerts,
		vendors:          vendors,
		audit:            auditStore,
		lifecycle:        lifecycle,
		settlement:       settlement,
		minJustification: minJustification,
		now:              systemClock,
		logger:           logger.With(slog.String("component", "admin")),
	}
}

// SetClock overrides the admin clock.
func (s *AdminService) SetClock(c Clock) { s.now = c }

func (s *AdminService) check(cmd Command) error {
	if strings.TrimSpace(cmd.AdminID) == "" {
		return fmt.Errorf("admin: missing admin id: %w", domain.ErrUnauthorized)
	}
	n := utf8.RuneCountInString(strings.TrimSpace(cmd.Justification))
	if n < s.minJustification {
		return domain.Reject(domain.ReasonJustificationTooShort, "justification has %d characters, need %d", n, s.minJustification)
	}
	return nil
}

// DismissFraudAlert closes an open alert as a false positive.
func (s *AdminService) DismissFraudAlert(ctx context.Context, alertID string, cmd Command) (domain.FraudAlert, error) {
	if err := s.check(cmd); err != nil {
		return domain.FraudAlert{}, err
	}
	alert, err := s.alerts.Resolve(ctx, alertID, domain.AlertDismissed, cmd.AdminID, cmd.Justification, s.now())
	if err != nil {
		return domain.FraudAlert{}, fmt.Errorf("admin: dismiss alert %s: %w", alertID, err)
	}
	audit(ctx, s.audit, s.logger, "fraud_alert_dismissed", cmd.AdminID, map[string]any{
		"alert_id":      alertID,
		"auction_id":    alert.AuctionID,
		"vendor_id":     alert.VendorID,
		"justification": cmd.Justification,
	})
	return alert, nil
}

// SuspendVendor blocks a vendor from bidding. When alertID is set the alert
// is closed as actioned.
func (s *AdminService) SuspendVendor(ctx context.Context, vendorID, alertID string, cmd Command) (domain.Vendor, error) {
	if err := s.check(cmd); err != nil {
		return domain.Vendor{}, err
	}
	if alertID != "" {
		alert, err := s.alerts.Get(ctx, alertID)
		if err != nil {
			return domain.Vendor{}, fmt.Errorf("admin: alert %s: %w", alertID, err)
		}
		if alert.VendorID != vendorID {
			return domain.Vendor{}, fmt.Errorf("admin: alert %s does not concern vendor %s: %w", alertID, vendorID, domain.ErrValidation)
		}
	}
	if err := s.vendors.SetStatus(ctx, vendorID, domain.VendorSuspended); err != nil {
		return domain.Vendor{}, fmt.Errorf("admin: suspend %s: %w", vendorID, err)
	}
	if alertID != "" {
		if _, err := s.alerts.Resolve(ctx, alertID, domain.AlertActioned, cmd.AdminID, cmd.Justification, s.now()); err != nil {
			s.logger.WarnContext(ctx, "admin: action alert failed",
				slog.String("alert_id", alertID),
				slog.String("error", err.Error()),
			)
		}
	}
	audit(ctx, s.audit, s.logger, "vendor_suspended", cmd.AdminID, map[string]any{
		"vendor_id":     vendorID,
		"alert_id":      alertID,
		"justification": cmd.Justification,
	})
	s.logger.InfoContext(ctx, "vendor suspended",
		slog.String("vendor_id", vendorID),
		slog.String("admin_id", cmd.AdminID),
	)
	return s.vendors.Get(ctx, vendorID)
}

// ReinstateVendor lifts a suspension.
func (s *AdminService) ReinstateVendor(ctx context.Context, vendorID string, cmd Command) (domain.Vendor, error) {
	if err := s.check(cmd); err != nil {
		return domain.Vendor{}, err
	}
	if err := s.vendors.SetStatus(ctx, vendorID, domain.VendorActive); err != nil {
		return domain.Vendor{}, fmt.Errorf("admin: reinstate %s: %w", vendorID, err)
	}
	audit(ctx, s.audit, s.logger, "vendor_reinstated", cmd.AdminID, map[string]any{
		"vendor_id":     vendorID,
		"justification": cmd.Justification,
	})
	return s.vendors.Get(ctx, vendorID)
}

// CancelAuction stops an auction that has not finished.
func (s *AdminService) CancelAuction(ctx context.Context, auctionID string, cmd Command) (domain.Auction, error) {
	if err := s.check(cmd); err != nil {
		return domain.Auction{}, err
	}
	return s.lifecycle.CancelAuction(ctx, auctionID, cmd.AdminID, cmd.Justification)
}

// RejectPayment cancels a pending payment and relists the case.
func (s *AdminService) RejectPayment(ctx context.Context, paymentID string, cmd Command) (domain.Payment, error) {
	if err := s.check(cmd); err != nil {
		return domain.Payment{}, err
	}
	return s.settlement.RejectPayment(ctx, paymentID, cmd.AdminID, cmd.Justification)
}

// ListAlerts returns fraud alerts newest first.
func (s *AdminService) ListAlerts(ctx context.Context, f domain.FraudFilter, opts domain.ListOpts) ([]domain.FraudAlert, error) {
	out, err := s.alerts.List(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("admin: list alerts: %w", err)
	}
	return out, nil
}

// ListAudit returns audit entries newest first.
func (s *AdminService) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	out, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("admin: list audit: %w", err)
	}
	return out, nil
}
