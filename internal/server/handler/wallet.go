package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/salvagebid/internal/crypto"
	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// SignatureHeader carries the hex HMAC of a funding webhook body.
const SignatureHeader = "X-Signature"

// LedgerService is the wallet surface the wallet handler needs.
type LedgerService interface {
	Wallet(ctx context.Context, vendorID string) (domain.EscrowWallet, error)
	Transactions(ctx context.Context, vendorID string, opts domain.ListOpts) ([]domain.WalletTransaction, error)
	Credit(ctx context.Context, vendorID string, amount decimal.Decimal, reference, description string) (domain.EscrowWallet, domain.WalletTransaction, error)
	Replay(ctx context.Context, walletID string) (domain.ReplayReport, error)
}

// VendorLookup resolves vendors so unknown ids do not open wallets.
type VendorLookup interface {
	Vendor(ctx context.Context, id string) (domain.Vendor, error)
}

// WalletHandler serves escrow wallet endpoints.
type WalletHandler struct {
	ledger   LedgerService
	vendors  VendorLookup
	verifier crypto.WebhookVerifier
	logger   *slog.Logger
}

// NewWalletHandler creates a WalletHandler. Funding webhooks are verified
// with webhookSecret.
func NewWalletHandler(ledger LedgerService, vendors VendorLookup, webhookSecret string, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		ledger:   ledger,
		vendors:  vendors,
		verifier: crypto.WebhookVerifier{Secret: webhookSecret},
		logger:   logger,
	}
}

func (h *WalletHandler) wallet(w http.ResponseWriter, r *http.Request) (domain.EscrowWallet, bool) {
	vendorID := r.PathValue("vendorId")
	if _, err := h.vendors.Vendor(r.Context(), vendorID); err != nil {
		writeServiceError(w, r, h.logger, "get vendor", err)
		return domain.EscrowWallet{}, false
	}
	wallet, err := h.ledger.Wallet(r.Context(), vendorID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get wallet", err)
		return domain.EscrowWallet{}, false
	}
	return wallet, true
}

// GetWallet returns the vendor's wallet balances.
// GET /api/wallets/{vendorId}
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.wallet(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

type transactionsResponse struct {
	Transactions []domain.WalletTransaction `json:"transactions"`
}

// ListTransactions returns the vendor's ledger entries.
// GET /api/wallets/{vendorId}/transactions?limit=50&since=...
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	vendorID := r.PathValue("vendorId")
	txs, err := h.ledger.Transactions(r.Context(), vendorID, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list transactions", err)
		return
	}
	if txs == nil {
		txs = []domain.WalletTransaction{}
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: txs})
}

type creditRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
}

type creditResponse struct {
	Wallet      domain.EscrowWallet      `json:"wallet"`
	Transaction domain.WalletTransaction `json:"transaction"`
}

// Credit applies a signed funding notification. Replays of the same
// reference return the original transaction.
// POST /api/wallets/{vendorId}/credits
func (h *WalletHandler) Credit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	if err := h.verifier.Verify(body, r.Header.Get(SignatureHeader)); err != nil {
		if errors.Is(err, crypto.ErrEmptySecret) {
			h.logger.ErrorContext(r.Context(), "funding webhook secret not configured")
			writeError(w, http.StatusServiceUnavailable, "funding webhook disabled")
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var req creditRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Reference == "" {
		writeError(w, http.StatusBadRequest, "reference is required")
		return
	}
	vendorID := r.PathValue("vendorId")
	if _, err := h.vendors.Vendor(r.Context(), vendorID); err != nil {
		writeServiceError(w, r, h.logger, "get vendor", err)
		return
	}
	wallet, tx, err := h.ledger.Credit(r.Context(), vendorID, req.Amount, req.Reference, req.Description)
	if err != nil {
		writeServiceError(w, r, h.logger, "credit wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, creditResponse{Wallet: wallet, Transaction: tx})
}

// Replay recomputes the wallet from its ledger and reports any drift.
// GET /api/wallets/{vendorId}/replay
func (h *WalletHandler) Replay(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.wallet(w, r)
	if !ok {
		return
	}
	report, err := h.ledger.Replay(r.Context(), wallet.ID)
	if err != nil && !errors.Is(err, domain.ErrLedgerMismatch) {
		writeServiceError(w, r, h.logger, "replay wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
