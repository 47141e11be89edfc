package crypto

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// WebhookVerifier checks the HMAC-SHA512 signature a payment provider
// attaches to funding webhooks. The signature is the hex digest of the raw
// request body keyed with the shared secret.
type WebhookVerifier struct {
	Secret string
}

// Sign returns the hex signature for body.
func (v WebhookVerifier) Sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(v.Secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body.
func (v WebhookVerifier) Verify(body []byte, signature string) error {
	if v.Secret == "" {
		return ErrEmptySecret
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha512.New, []byte(v.Secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
