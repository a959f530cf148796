package httpapi

import (
	"net/http"

	"envds.org/internal/auth"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

func (a *API) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := a.users.Signup(r.Context(), req.Email, req.Password, auth.Role(req.Role))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.startSession(w, r, p, http.StatusCreated)
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := a.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.startSession(w, r, p, http.StatusOK)
}

func (a *API) startSession(w http.ResponseWriter, r *http.Request, p auth.Principal, code int) {
	token, expiresAt, err := a.sessions.Issue(p)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	setSessionCookie(w, token, expiresAt)
	writeJSON(w, code, sessionResponse{
		UserID:      p.ID,
		Email:       p.Email,
		Role:        string(p.Role),
		ExpiresAtMs: expiresAt.UnixMilli(),
	})
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	a.users.Logout(r.Context(), p)
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId": p.ID,
		"email":  p.Email,
		"role":   string(p.Role),
	})
}
