package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"collection-viewer/internal/credentials"
	"collection-viewer/internal/models"
)

// TokenValidator checks a bearer token and returns the claims carried in it.
type TokenValidator interface {
	Validate(token string) (*credentials.Claims, error)
}

// AuthConfig holds configuration for the bearer-token middleware
type AuthConfig struct {
	// Validator verifies access tokens.
	Validator TokenValidator
	// Enabled reports whether authentication is currently enforced. When it
	// returns false every request passes through, which covers fresh
	// installs with no user accounts yet.
	Enabled func() bool
	// SkipPrefixes are API path prefixes that never require a token.
	SkipPrefixes []string
}

// DefaultAuthSkipPrefixes returns the API prefixes that must stay reachable
// without a token so clients can log in at all.
func DefaultAuthSkipPrefixes() []string {
	return []string{"/api/auth/"}
}

type claimsContextKey struct{}

func withClaims(ctx context.Context, claims *credentials.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFrom returns the authenticated claims attached to the request
// context, or nil when the request carried none.
func ClaimsFrom(ctx context.Context) *credentials.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*credentials.Claims)
	return claims
}

// Auth returns a middleware that requires a valid bearer token on /api/
// routes. Paths outside /api/ (health probes, version, metrics) and the
// configured skip prefixes pass through untouched.
func Auth(config AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			for _, prefix := range config.SkipPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			if config.Enabled != nil && !config.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}

			claims, err := config.Validator.Validate(token)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// RequireRole gates a handler to users holding the given role. Admins pass
// every role check. Requests without claims were admitted by Auth with
// enforcement off, so they pass through unchanged.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			if claims != nil && claims.Role != role && claims.Role != models.RoleAdmin {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":"insufficient permissions"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}

	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="collection-viewer"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
