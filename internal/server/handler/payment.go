package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// SettlementService is the payment surface the payment handler needs.
type SettlementService interface {
	Get(ctx context.Context, id string) (domain.Payment, error)
	VerifyPayment(ctx context.Context, id, method, reference string) (domain.SettlementResult, error)
	RedeemPickup(ctx context.Context, paymentID, code string) (domain.PickupAuthorization, error)
}

// PaymentHandler serves payment verification and pickup redemption.
type PaymentHandler struct {
	settlement SettlementService
	logger     *slog.Logger
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(settlement SettlementService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{settlement: settlement, logger: logger}
}

// GetPayment returns a payment.
// GET /api/payments/{id}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.settlement.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type verifyRequest struct {
	Method    string `json:"method"`
	Reference string `json:"reference"`
}

// VerifyPayment confirms a payment against its method. A rejected charge is
// answered 200 with the rejected payment.
// POST /api/payments/{id}/verify
func (h *PaymentHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, "method is required")
		return
	}
	res, err := h.settlement.VerifyPayment(r.Context(), r.PathValue("id"), req.Method, req.Reference)
	if err != nil {
		writeServiceError(w, r, h.logger, "verify payment", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type pickupRequest struct {
	Code string `json:"code"`
}

// RedeemPickup checks a pickup code at the yard and marks it used.
// POST /api/payments/{id}/pickup
func (h *PaymentHandler) RedeemPickup(w http.ResponseWriter, r *http.Request) {
	var req pickupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	auth, err := h.settlement.RedeemPickup(r.Context(), r.PathValue("id"), req.Code)
	if err != nil {
		writeServiceError(w, r, h.logger, "redeem pickup", err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}
