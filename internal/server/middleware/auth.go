package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// APIKeys returns middleware that requires one of keys in the Authorization
// header (Bearer scheme) or the X-API-Key header. With no keys configured
// every request passes.
func APIKeys(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			for _, k := range keys {
				if subtle.ConstantTimeCompare([]byte(token), []byte(k)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeUnauthorized(w, "invalid authentication token")
		})
	}
}

// AdminClaims are the JWT claims an administrator token carries. The
// subject is the admin ID recorded in the audit log.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

const roleAdmin = "admin"

type adminKey struct{}

// AdminID returns the authenticated administrator, or "" outside AdminJWT.
func AdminID(ctx context.Context) string {
	id, _ := ctx.Value(adminKey{}).(string)
	return id
}

// AdminJWT returns middleware that accepts only HS256 tokens signed with
// secret whose role claim is "admin". The token subject becomes AdminID.
func AdminJWT(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r)
			if raw == "" {
				writeUnauthorized(w, "missing admin token")
				return
			}
			var claims AdminClaims
			if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
				writeUnauthorized(w, "invalid admin token")
				return
			}
			if claims.Role != roleAdmin || claims.Subject == "" {
				writeForbidden(w, "admin role required")
				return
			}
			ctx := context.WithValue(r.Context(), adminKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IssueAdminToken signs an admin token for adminID valid for ttl.
func IssueAdminToken(secret []byte, adminID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("middleware: empty jwt secret")
	}
	now := time.Now()
	claims := AdminClaims{
		Role: roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("middleware: sign admin token: %w", err)
	}
	return s, nil
}

func bearer(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if t := bearer(r); t != "" {
		return t
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// Public lets matching paths bypass guard, which is applied to everything
// else. A pattern containing "*" is matched with path.Match; any other
// pattern is a prefix.
func Public(guard func(http.Handler) http.Handler, patterns ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := guard(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.ContainsFunc(patterns, func(p string) bool { return publicMatch(p, r.URL.Path) }) {
				next.ServeHTTP(w, r)
				return
			}
			guarded.ServeHTTP(w, r)
		})
	}
}

func publicMatch(pattern, p string) bool {
	if strings.Contains(pattern, "*") {
		ok, _ := path.Match(pattern, p)
		return ok
	}
	return strings.HasPrefix(p, pattern)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeErr(w, http.StatusUnauthorized, msg)
}

func writeForbidden(w http.ResponseWriter, msg string) {
	writeErr(w, http.StatusForbidden, msg)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
