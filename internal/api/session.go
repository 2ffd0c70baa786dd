package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/duckquery/duckquery/internal/auth"
	"github.com/duckquery/duckquery/internal/storage"
)

const sessionHeader = "X-Session-ID"

// sessionFromRequest prefers the authenticated identity's session over the
// X-Session-ID header.
func sessionFromRequest(r *http.Request) (string, error) {
	sessionID := ""
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		sessionID = strings.TrimSpace(identity.SessionID)
	}
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.Header.Get(sessionHeader))
	}
	if sessionID == "" {
		return "", fmt.Errorf("session context is required")
	}
	if err := storage.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return sessionID, nil
}

// requireRole passes unauthenticated requests through; admins hold every role.
func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) || identity.HasRole(auth.RoleAdmin) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

// authorize resolves the session and checks the role, writing the error
// response itself when either fails.
func authorize(w http.ResponseWriter, r *http.Request, role string) (string, bool) {
	sessionID, err := sessionFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "SESSION_REQUIRED", err.Error(), false, nil)
		return "", false
	}
	if err := requireRole(r, role); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return "", false
	}
	return sessionID, true
}
