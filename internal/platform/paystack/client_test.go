package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

func writeEnvelope(w http.ResponseWriter, status int, ok bool, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": ok, "message": msg, "data": data})
}

func TestVerifyCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test_1", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/transaction/verify/ref-ok":
			writeEnvelope(w, http.StatusOK, true, "Verification successful", Transaction{Reference: "ref-ok", Status: "success", Amount: 125000050})
		case "/transaction/verify/ref-abandoned":
			writeEnvelope(w, http.StatusOK, true, "Verification successful", Transaction{Status: "abandoned", Amount: 100})
		case "/transaction/verify/ref-ongoing":
			writeEnvelope(w, http.StatusOK, true, "Verification successful", Transaction{Status: "ongoing"})
		default:
			writeEnvelope(w, http.StatusNotFound, false, "Transaction reference not found", nil)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "sk_test_1")
	ctx := context.Background()

	res, err := c.VerifyCharge(ctx, "ref-ok")
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeSuccess, res.Status)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("1250000.5")))

	res, err = c.VerifyCharge(ctx, "ref-abandoned")
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeFailed, res.Status)

	res, err = c.VerifyCharge(ctx, "ref-ongoing")
	require.NoError(t, err)
	assert.Equal(t, domain.ChargePending, res.Status)

	_, err = c.VerifyCharge(ctx, "ref-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInitiateTransfer(t *testing.T) {
	var got TransferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transfer", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEnvelope(w, http.StatusOK, true, "Transfer has been queued", Transfer{TransferCode: "TRF_1", Reference: got.Reference, Status: "pending"})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "sk").InitiateTransfer(context.Background(), "RCP_insurer", decimal.NewFromInt(150000), "payment:p-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferResult{Status: domain.TransferPending, TransferID: "TRF_1"}, res)
	assert.Equal(t, int64(15000000), got.Amount)
	assert.Equal(t, "RCP_insurer", got.Recipient)
	assert.Equal(t, "payment-p-1", got.Reference)
	assert.Equal(t, "balance", got.Source)
}

func TestInitiateTransfer_DuplicateReferenceResolves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			writeEnvelope(w, http.StatusBadRequest, false, "Duplicate Transfer Reference", nil)
		case r.URL.Path == "/transfer/verify/payment-p-1":
			writeEnvelope(w, http.StatusOK, true, "Transfer retrieved", Transfer{TransferCode: "TRF_1", Status: "success"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "sk").InitiateTransfer(context.Background(), "RCP_insurer", decimal.NewFromInt(1), "payment:p-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferCompleted, res.Status)
	assert.Equal(t, "TRF_1", res.TransferID)
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: domain.ErrUnauthorized},
		{name: "rate limited", status: http.StatusTooManyRequests, want: domain.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeEnvelope(w, tt.status, false, "nope", nil)
			}))
			defer srv.Close()
			_, err := NewClient(srv.URL, "sk").VerifyCharge(context.Background(), "ref")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusOK, false, "Invalid key", nil)
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL, "sk").VerifyCharge(context.Background(), "ref")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid key")
}

func TestKoboConversion(t *testing.T) {
	assert.Equal(t, int64(1050), ToKobo(decimal.RequireFromString("10.5")))
	assert.True(t, FromKobo(1050).Equal(decimal.RequireFromString("10.5")))
}
