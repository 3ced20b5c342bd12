package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// BearerTokenAuth guards the MCP endpoint with a static shared token
type BearerTokenAuth struct {
	token string
	realm string
}

// NewBearerTokenAuth creates a new Bearer token authenticator
func NewBearerTokenAuth(token string) *BearerTokenAuth {
	return &BearerTokenAuth{token: token, realm: "allergen-scanner"}
}

// IsAuthorized validates Bearer token from Authorization header
func (b *BearerTokenAuth) IsAuthorized(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return false
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	if token == "" || b.token == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(b.token)) == 1
}

// SetUnauthorizedHeaders sets standard WWW-Authenticate header for Bearer auth
func (b *BearerTokenAuth) SetUnauthorizedHeaders(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+b.realm+`"`)
}

// Middleware rejects requests without a valid token with a JSON 401
func (b *BearerTokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.IsAuthorized(r) {
			b.SetUnauthorizedHeaders(w)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
