package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"envds.org/internal/auth"
	"envds.org/internal/session"
	"envds.org/internal/users"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the uniform error body: a stable machine-readable
// code plus the request id for log correlation.
func writeError(w http.ResponseWriter, r *http.Request, code int, errCode string) {
	payload := map[string]any{
		"error": errCode,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON")
		return false
	}
	return true
}

// handleDomainError maps service errors onto HTTP statuses. Anything
// unrecognized is a 500 with no detail leaked to the caller.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		unauthenticated(w, r)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "FORBIDDEN")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT")
	case errors.Is(err, users.ErrEmailTaken):
		writeError(w, r, http.StatusConflict, "EMAIL_TAKEN")
	case errors.Is(err, users.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS")
	case errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrInvalidSignature), errors.Is(err, session.ErrMalformed):
		unauthenticated(w, r)
	default:
		writeError(w, r, http.StatusInternalServerError, "INTERNAL")
	}
}

// unauthenticated answers API clients with a 401 body; a browser asking
// for HTML is redirected to the login page instead.
func unauthenticated(w http.ResponseWriter, r *http.Request) {
	if wantsHTML(r) {
		target := "/login?next=" + r.URL.Path
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	writeError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}
