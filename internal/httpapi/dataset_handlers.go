package httpapi

import (
	"net/http"

	"envds.org/internal/dataset"
)

func (a *API) UploadDataset(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var in dataset.UploadInput
	if !decodeJSON(w, r, &in) {
		return
	}
	res, err := a.datasets.Upload(r.Context(), p, in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if res.AuditWarning {
		w.Header().Set("Warning", `199 - "audit trail write failed"`)
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) ListDatasets(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	list, err := a.datasets.List(r.Context(), p, r.URL.Query().Get("owner"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": list})
}

func (a *API) GetDataset(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	includeRaw := r.URL.Query().Get("includeRaw") == "true"
	ds, raw, err := a.datasets.Get(r.Context(), p, r.PathValue("id"), includeRaw)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	body := map[string]any{"dataset": ds}
	if includeRaw {
		body["rows"] = raw
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	if err := a.datasets.Delete(r.Context(), p, r.PathValue("id")); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (a *API) ListPublicDatasets(w http.ResponseWriter, r *http.Request) {
	entries, err := a.datasets.ListPublic(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": entries})
}
