package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/duckquery/duckquery/internal/observability"
)

type contextKey string

const identityKey contextKey = "auth_identity"

const (
	failureMissingKey    = "missing_key"
	failureMalformedAuth = "malformed_authorization"
	failureInvalidKey    = "invalid_key"
)

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Middleware resolves the caller from X-API-Key or a bearer token and stores
// the identity, including its session, on the request context.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, failure := extractAPIKey(r)
			if failure == "" {
				identity, ok := validator.Validate(r.Context(), apiKey)
				if ok {
					next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
					return
				}
				failure = failureInvalidKey
			}

			observability.IncrementAuthFailure(failure)
			if logger != nil {
				logger.WarnContext(r.Context(), "authentication failed",
					observability.TraceAttr(r.Context()),
					slog.String("reason", failure),
					slog.String("path", r.URL.Path),
				)
			}
			writeUnauthorized(w, r, failure)
		})
	}
}

func extractAPIKey(r *http.Request) (string, string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, ""
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		return "", failureMissingKey
	}
	scheme, token, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", failureMalformedAuth
	}
	return strings.TrimSpace(token), ""
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, failure string) {
	message := "invalid API key"
	switch failure {
	case failureMissingKey:
		message = "missing API key"
	case failureMalformedAuth:
		message = "authorization header must use the Bearer scheme"
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="duckquery"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    message,
		"retryable":  false,
		"context":    map[string]any{"reason": failure},
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
