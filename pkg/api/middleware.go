package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/stackmason/tenantd/pkg/httputil"
	"github.com/stackmason/tenantd/pkg/observability"
)

// RequestIDMiddleware assigns every request a correlation id, honoring an
// inbound X-Request-ID when present, and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := observability.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggerMiddleware stores the server's logger in the request context so
// handlers can derive correlation-tagged loggers with observability.FromContext.
func LoggerMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := observability.WithLogger(r.Context(), logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuth authenticates administrators by static bearer token. Tokens are
// configured as "admin-id:secret" entries; a bare secret maps to the admin id
// "admin".
type AdminAuth struct {
	tokens map[string]string // secret -> admin id
}

// NewAdminAuth builds the token table from configured entries.
func NewAdminAuth(entries []string) *AdminAuth {
	a := &AdminAuth{tokens: make(map[string]string, len(entries))}
	for _, entry := range entries {
		adminID, secret, found := strings.Cut(entry, ":")
		if !found {
			adminID, secret = "admin", entry
		}
		if secret == "" {
			continue
		}
		a.tokens[secret] = adminID
	}
	return a
}

// Middleware rejects requests without a known bearer token and stores the
// resolved admin id in the request context.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || scheme != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		adminID, ok := a.lookup(token)
		if !ok {
			httputil.WriteUnauthorized(w, "invalid token")
			return
		}

		ctx := observability.WithAdminID(r.Context(), adminID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AdminAuth) lookup(token string) (string, bool) {
	for secret, adminID := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(secret), []byte(token)) == 1 {
			return adminID, true
		}
	}
	return "", false
}
