// Package crypto provides pickup-code generation and hashing, and HMAC
// verification for signed inbound webhooks.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is lower than a password KDF would use because codes
	// are random and expire after days.
	pbkdf2Iterations = 100_000
	saltLen          = 16
	hashLen          = 32
	// codeBytes of entropy encode to roughly 14 base58 characters.
	codeBytes = 10
)

// PickupCode is a freshly generated code together with what is stored.
type PickupCode struct {
	Code string
	Hash []byte
	Salt []byte
}

// NewPickupCode returns a random base58 code and its salted PBKDF2 hash.
// Only Hash and Salt should ever be persisted.
func NewPickupCode() (PickupCode, error) {
	raw := make([]byte, codeBytes)
	if _, err := rand.Read(raw); err != nil {
		return PickupCode{}, fmt.Errorf("crypto: generating code: %w", err)
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return PickupCode{}, fmt.Errorf("crypto: generating salt: %w", err)
	}
	code := base58.Encode(raw)
	return PickupCode{
		Code: code,
		Hash: HashCode(code, salt),
		Salt: salt,
	}, nil
}

// HashCode derives the stored hash of code.
func HashCode(code string, salt []byte) []byte {
	return pbkdf2.Key([]byte(normalize(code)), salt, pbkdf2Iterations, hashLen, sha256.New)
}

// VerifyCode reports whether code hashes to want, in constant time.
func VerifyCode(code string, salt, want []byte) bool {
	if len(salt) == 0 || len(want) == 0 {
		return false
	}
	if _, err := base58.Decode(normalize(code)); err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(HashCode(code, salt), want) == 1
}

var (
	// ErrEmptySecret is returned when a signature is checked without a secret.
	ErrEmptySecret = errors.New("crypto: secret must not be empty")
	// ErrBadSignature is returned when a webhook signature does not match.
	ErrBadSignature = errors.New("crypto: signature mismatch")
)

func normalize(code string) string {
	return strings.TrimSpace(code)
}
