// Package handler holds the HTTP handlers of the auction API. Each handler
// depends on a narrow interface over the service it fronts.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorBody is the response for a failed service call.
type errorBody struct {
	Error           string              `json:"error"`
	Reason          domain.RejectReason `json:"reason,omitempty"`
	CurrentBid      *string             `json:"current_bid,omitempty"`
	CurrentBidderID string              `json:"current_bidder_id,omitempty"`
	MinimumNextBid  string              `json:"minimum_next_bid,omitempty"`
}

// writeServiceError maps err onto an HTTP status. Rejections answer 422 with
// their reason code and conflicts answer 409 with the committed state.
// Anything unrecognised is logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var rej *domain.Rejection
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &rej):
		body := errorBody{Error: rej.Error(), Reason: rej.Reason}
		if rej.CurrentBid != nil {
			s := rej.CurrentBid.String()
			body.CurrentBid = &s
		}
		if rej.MinimumNext != nil {
			body.MinimumNextBid = rej.MinimumNext.String()
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.As(err, &conflict):
		body := errorBody{
			Error:           conflict.Error(),
			CurrentBidderID: conflict.CurrentBidderID,
			MinimumNextBid:  conflict.MinimumNext.String(),
		}
		if conflict.CurrentBid != nil {
			s := conflict.CurrentBid.String()
			body.CurrentBid = &s
		}
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, domain.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "concurrent update, retry")
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrCaseNotApproved),
		errors.Is(err, domain.ErrPaymentUnconfirmed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPickupExpired):
		writeError(w, http.StatusGone, "pickup code expired")
	case errors.Is(err, domain.ErrPickupInvalid):
		writeError(w, http.StatusForbidden, "pickup code invalid")
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// parseListOpts extracts pagination and time-window parameters from the
// query string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}
