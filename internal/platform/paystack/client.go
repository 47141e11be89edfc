// Package paystack is the HTTP adapter for the Paystack payments API. It
// implements domain.PaymentGateway: charge verification for winners paying
// through the gateway, and transfers that release settled funds to the
// beneficiary.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.paystack.co"

// ErrDuplicateReference is returned when a transfer reference was already
// used; InitiateTransfer resolves it by looking the transfer up.
var ErrDuplicateReference = errors.New("paystack: duplicate transfer reference")

// Client is the REST client for the Paystack API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient creates a new Paystack REST client. An empty baseURL selects
// DefaultBaseURL.
func NewClient(baseURL, secretKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// VerifyCharge looks up an inbound payment by reference.
func (c *Client) VerifyCharge(ctx context.Context, reference string) (domain.ChargeResult, error) {
	var tx Transaction
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, nil, &tx); err != nil {
		return domain.ChargeResult{}, fmt.Errorf("paystack: verify charge %s: %w", reference, err)
	}
	return domain.ChargeResult{
		Status: chargeStatus(tx.Status),
		Amount: FromKobo(tx.Amount),
	}, nil
}

// InitiateTransfer sends amount from the balance to recipient. Paystack
// rejects a reused reference, so a retry after a lost response fetches the
// existing transfer instead.
func (c *Client) InitiateTransfer(ctx context.Context, recipient string, amount decimal.Decimal, reference string) (domain.TransferResult, error) {
	req := TransferRequest{
		Source:    "balance",
		Amount:    ToKobo(amount),
		Recipient: recipient,
		Reference: transferReference(reference),
		Reason:    "salvage auction settlement " + reference,
		Currency:  "NGN",
	}
	var tr Transfer
	err := c.do(ctx, http.MethodPost, "/transfer", req, &tr)
	if errors.Is(err, ErrDuplicateReference) {
		err = c.do(ctx, http.MethodGet, "/transfer/verify/"+url.PathEscape(req.Reference), nil, &tr)
	}
	if err != nil {
		return domain.TransferResult{}, fmt.Errorf("paystack: transfer %s: %w", reference, err)
	}
	return domain.TransferResult{
		Status:     transferStatus(tr.Status),
		TransferID: tr.TransferCode,
	}, nil
}

// transferReference maps internal references such as "payment:abc" onto the
// characters Paystack accepts in a reference.
func transferReference(ref string) string {
	return strings.NewReplacer(":", "-", "/", "-", " ", "-").Replace(ref)
}

func chargeStatus(s string) domain.ChargeStatus {
	switch s {
	case "success":
		return domain.ChargeSuccess
	case "failed", "abandoned", "reversed":
		return domain.ChargeFailed
	default:
		return domain.ChargePending
	}
}

func transferStatus(s string) domain.TransferStatus {
	switch s {
	case "success":
		return domain.TransferCompleted
	case "failed", "reversed":
		return domain.TransferFailed
	default:
		return domain.TransferPending
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do sends an authenticated request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	env := envelope[json.RawMessage]{}
	_ = json.Unmarshal(respBody, &env)
	if err := checkStatus(resp.StatusCode, env.Message); err != nil {
		return err
	}
	if !env.Status {
		return fmt.Errorf("request unsuccessful: %s", env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func checkStatus(statusCode int, message string) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch {
	case statusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(message), "duplicate"):
		return ErrDuplicateReference
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, message)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, message)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, message)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, message)
	}
}

var _ domain.PaymentGateway = (*Client)(nil)
