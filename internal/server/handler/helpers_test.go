package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

func TestWriteServiceError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"rejection", domain.Reject(domain.ReasonBelowReserve, "too low"), http.StatusUnprocessableEntity},
		{"not found", fmt.Errorf("get: %w", domain.ErrNotFound), http.StatusNotFound},
		{"exists", domain.ErrAlreadyExists, http.StatusConflict},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"lock held", domain.ErrLockHeld, http.StatusConflict},
		{"invalid state", domain.ErrInvalidState, http.StatusConflict},
		{"case not approved", domain.ErrCaseNotApproved, http.StatusConflict},
		{"payment unconfirmed", domain.ErrPaymentUnconfirmed, http.StatusConflict},
		{"pickup expired", domain.ErrPickupExpired, http.StatusGone},
		{"pickup invalid", domain.ErrPickupInvalid, http.StatusForbidden},
		{"insufficient funds", domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), logger, "op", tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestWriteServiceError_ConflictCarriesCommittedBid(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	current := decimal.NewFromInt(150000)
	err := &domain.ConflictError{
		AuctionID:       "a-1",
		CurrentBid:      &current,
		CurrentBidderID: "yard-2",
		MinimumNext:     decimal.NewFromInt(160000),
	}
	rec := httptest.NewRecorder()
	writeServiceError(rec, httptest.NewRequest(http.MethodPost, "/", nil), logger, "place bid", err)
	require.Equal(t, http.StatusConflict, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.CurrentBid)
	assert.Equal(t, "150000", *body.CurrentBid)
	assert.Equal(t, "yard-2", body.CurrentBidderID)
	assert.Equal(t, "160000", body.MinimumNextBid)
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=9000&offset=-3&since=2026-03-01T00:00:00Z&until=bogus", nil)
	opts := parseListOpts(r)
	assert.Equal(t, 500, opts.Limit)
	assert.Zero(t, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *opts.Since)
	assert.Nil(t, opts.Until)
}
