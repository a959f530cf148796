package httpapi

import (
	"net/http"
	"strings"
	"time"

	"envds.org/internal/auth"
)

// SessionCookie carries the signed session token.
const SessionCookie = "envds_session"

var publicPaths = []string{
	"/v1/session/signup",
	"/v1/session/login",
	"/v1/public/datasets",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withSession resolves the session cookie into a principal. Public
// paths pass through; everything else requires a valid session.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(SessionCookie)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			unauthenticated(w, r)
			return
		}
		principal, err := a.sessions.Verify(cookie.Value)
		if err != nil {
			clearSessionCookie(w)
			handleDomainError(w, r, err)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal returns the authenticated caller or answers 401 itself.
func (a *API) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthenticated(w, r)
		return auth.Principal{}, false
	}
	return p, true
}

func setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
