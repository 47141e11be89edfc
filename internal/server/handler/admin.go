package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/server/middleware"
	"github.com/alanyoungcy/salvagebid/internal/service"
)

// AdminCommands is the audited command surface behind /api/admin.
type AdminCommands interface {
	DismissFraudAlert(ctx context.Context, alertID string, cmd service.Command) (domain.FraudAlert, error)
	SuspendVendor(ctx context.Context, vendorID, alertID string, cmd service.Command) (domain.Vendor, error)
	ReinstateVendor(ctx context.Context, vendorID string, cmd service.Command) (domain.Vendor, error)
	CancelAuction(ctx context.Context, auctionID string, cmd service.Command) (domain.Auction, error)
	RejectPayment(ctx context.Context, paymentID string, cmd service.Command) (domain.Payment, error)
	ListAlerts(ctx context.Context, f domain.FraudFilter, opts domain.ListOpts) ([]domain.FraudAlert, error)
	ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AdminHandler serves the admin console. Routes are mounted behind
// middleware.AdminJWT, which puts the admin id in the request context.
type AdminHandler struct {
	admin  AdminCommands
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin AdminCommands, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

type adminRequest struct {
	Justification string `json:"justification"`
	AlertID       string `json:"alert_id,omitempty"`
}

func (h *AdminHandler) command(w http.ResponseWriter, r *http.Request) (service.Command, adminRequest, bool) {
	var req adminRequest
	if !decodeJSON(w, r, &req) {
		return service.Command{}, req, false
	}
	return service.Command{AdminID: middleware.AdminID(r.Context()), Justification: req.Justification}, req, true
}

// DismissAlert closes a fraud alert as a false positive.
// POST /api/admin/fraud-alerts/{id}/dismiss
func (h *AdminHandler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	cmd, _, ok := h.command(w, r)
	if !ok {
		return
	}
	alert, err := h.admin.DismissFraudAlert(r.Context(), r.PathValue("id"), cmd)
	if err != nil {
		writeServiceError(w, r, h.logger, "dismiss alert", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type alertsResponse struct {
	Alerts []domain.FraudAlert `json:"alerts"`
}

// ListAlerts lists fraud alerts newest first.
// GET /api/admin/fraud-alerts?status=open&auction_id=&vendor_id=
func (h *AdminHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.FraudFilter{
		Status:    domain.AlertStatus(q.Get("status")),
		AuctionID: q.Get("auction_id"),
		VendorID:  q.Get("vendor_id"),
	}
	alerts, err := h.admin.ListAlerts(r.Context(), filter, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []domain.FraudAlert{}
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: alerts})
}

// SuspendVendor suspends a vendor, optionally actioning the alert that
// prompted it.
// POST /api/admin/vendors/{id}/suspend
func (h *AdminHandler) SuspendVendor(w http.ResponseWriter, r *http.Request) {
	cmd, req, ok := h.command(w, r)
	if !ok {
		return
	}
	v, err := h.admin.SuspendVendor(r.Context(), r.PathValue("id"), req.AlertID, cmd)
	if err != nil {
		writeServiceError(w, r, h.logger, "suspend vendor", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ReinstateVendor lifts a suspension.
// POST /api/admin/vendors/{id}/reinstate
func (h *AdminHandler) ReinstateVendor(w http.ResponseWriter, r *http.Request) {
	cmd, _, ok := h.command(w, r)
	if !ok {
		return
	}
	v, err := h.admin.ReinstateVendor(r.Context(), r.PathValue("id"), cmd)
	if err != nil {
		writeServiceError(w, r, h.logger, "reinstate vendor", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// CancelAuction cancels an open auction and releases the high bidder's hold.
// POST /api/admin/auctions/{id}/cancel
func (h *AdminHandler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	cmd, _, ok := h.command(w, r)
	if !ok {
		return
	}
	a, err := h.admin.CancelAuction(r.Context(), r.PathValue("id"), cmd)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel auction", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// RejectPayment rejects a pending payment.
// POST /api/admin/payments/{id}/reject
func (h *AdminHandler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	cmd, _, ok := h.command(w, r)
	if !ok {
		return
	}
	p, err := h.admin.RejectPayment(r.Context(), r.PathValue("id"), cmd)
	if err != nil {
		writeServiceError(w, r, h.logger, "reject payment", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// ListAudit returns the audit log newest first.
// GET /api/admin/audit?limit=50&since=...
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.admin.ListAudit(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
}
