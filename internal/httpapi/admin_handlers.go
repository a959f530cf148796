package httpapi

import (
	"net/http"
	"strconv"

	"envds.org/internal/auth"
	"envds.org/internal/retention"
)

const defaultAuditLimit = 100

func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	list, err := a.users.List(r.Context(), p)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": list})
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) SetUserRole(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req setRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := a.users.SetRole(r.Context(), p, r.PathValue("id"), auth.Role(req.Role))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (a *API) ListRules(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	rules, err := a.rules.List(r.Context(), p)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (a *API) CreateRule(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var in retention.RuleInput
	if !decodeJSON(w, r, &in) {
		return
	}
	rule, err := a.rules.Create(r.Context(), p, in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rule": rule})
}

func (a *API) UpdateRule(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var in retention.RuleInput
	if !decodeJSON(w, r, &in) {
		return
	}
	rule, err := a.rules.Update(r.Context(), p, r.PathValue("id"), in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

func (a *API) DeleteRule(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	if err := a.rules.Delete(r.Context(), p, r.PathValue("id")); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (a *API) RunRetention(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	if !auth.CanAccess(p.Role, auth.AdminArea) {
		writeError(w, r, http.StatusForbidden, "FORBIDDEN")
		return
	}
	res, err := a.sweeper.Sweep(r.Context(), p)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if res.AuditWarning {
		w.Header().Set("Warning", `199 - "audit trail write failed"`)
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	if !auth.CanAccess(p.Role, auth.AdminArea) {
		writeError(w, r, http.StatusForbidden, "FORBIDDEN")
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, r, http.StatusBadRequest, "INVALID_INPUT")
			return
		}
		limit = n
	}
	entries, err := a.auditlog.Recent(r.Context(), limit)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) Dashboard(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	stats, err := a.datasets.AdminStats(r.Context(), p)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
