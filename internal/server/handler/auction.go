package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/server/middleware"
)

// AuctionService is the lifecycle surface the auction handler needs.
type AuctionService interface {
	CreateAuction(ctx context.Context, caseID string) (domain.Auction, error)
	ScheduleAuction(ctx context.Context, caseID string, start time.Time) (domain.Auction, error)
	Get(ctx context.Context, id string) (domain.Auction, error)
	List(ctx context.Context, statuses []domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error)
	Bids(ctx context.Context, auctionID string) ([]domain.Bid, error)
}

// BidPlacer accepts bids.
type BidPlacer interface {
	PlaceBid(ctx context.Context, req domain.BidRequest) (domain.BidResult, error)
}

// AuctionHandler serves auction and bid endpoints.
type AuctionHandler struct {
	auctions AuctionService
	bids     BidPlacer
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionService, bids BidPlacer, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{auctions: auctions, bids: bids, logger: logger}
}

type createAuctionRequest struct {
	CaseID    string     `json:"case_id"`
	StartTime *time.Time `json:"start_time,omitempty"`
}

// CreateAuction opens an auction for an approved case, immediately or at
// start_time.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CaseID == "" {
		writeError(w, http.StatusBadRequest, "case_id is required")
		return
	}
	var (
		a   domain.Auction
		err error
	)
	if req.StartTime != nil {
		a, err = h.auctions.ScheduleAuction(r.Context(), req.CaseID, *req.StartTime)
	} else {
		a, err = h.auctions.CreateAuction(r.Context(), req.CaseID)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

type listAuctionsResponse struct {
	Auctions []domain.Auction `json:"auctions"`
}

// ListAuctions lists auctions, optionally filtered by a comma-separated
// status list.
// GET /api/auctions?status=active,extended&limit=50&offset=0
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.AuctionStatus
	if s := r.URL.Query().Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			statuses = append(statuses, domain.AuctionStatus(strings.TrimSpace(part)))
		}
	}
	auctions, err := h.auctions.List(r.Context(), statuses, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list auctions", err)
		return
	}
	if auctions == nil {
		auctions = []domain.Auction{}
	}
	writeJSON(w, http.StatusOK, listAuctionsResponse{Auctions: auctions})
}

// GetAuction returns the committed state of an auction.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get auction", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type listBidsResponse struct {
	Bids []domain.Bid `json:"bids"`
}

// ListBids returns the accepted bids of an auction in acceptance order.
// GET /api/auctions/{id}/bids
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.auctions.Bids(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list bids", err)
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids})
}

type placeBidRequest struct {
	VendorID    string          `json:"vendor_id"`
	Amount      decimal.Decimal `json:"amount"`
	OTPVerified bool            `json:"otp_verified"`
	DeviceType  string          `json:"device_type"`
}

// PlaceBid submits a bid. The client IP is taken from the connection, not
// the body.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.VendorID == "" {
		writeError(w, http.StatusBadRequest, "vendor_id is required")
		return
	}
	res, err := h.bids.PlaceBid(r.Context(), domain.BidRequest{
		AuctionID:   r.PathValue("id"),
		VendorID:    req.VendorID,
		Amount:      req.Amount,
		OTPVerified: req.OTPVerified,
		IPAddress:   middleware.ClientIP(r),
		DeviceType:  req.DeviceType,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
