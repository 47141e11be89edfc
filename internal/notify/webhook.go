package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSender delivers notifications by POSTing the rendered Message as
// JSON to a provider endpoint. Push, SMS and email providers all use it; the
// provider resolves the recipient's device or contact details.
type WebhookSender struct {
	name   string
	url    string
	token  string
	client *http.Client
}

// NewWebhookSender creates a WebhookSender called name. When token is set it
// is sent as a bearer credential. It uses a default HTTP client with a
// 10-second timeout.
func NewWebhookSender(name, url, token string) *WebhookSender {
	return &WebhookSender{
		name:   name,
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts msg to the provider endpoint.
func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", w.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", w.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", w.name, resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string {
	return w.name
}
