// Package httpapi is the HTTP surface: session endpoints, dataset
// ingestion and reads, the public catalog, and the admin area.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"envds.org/internal/audit"
	"envds.org/internal/dataset"
	"envds.org/internal/obs"
	"envds.org/internal/retention"
	"envds.org/internal/session"
	"envds.org/internal/users"
)

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

const maxBodyBytes = 1 << 20

// API wires the services onto routes.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	sessions *session.Service
	users    *users.Service
	datasets *dataset.Service
	rules    *retention.Manager
	sweeper  *retention.Executor
	auditlog *audit.Recorder

	rateBurst  int
	ratePerSec int
}

// New builds the API around the given services.
func New(rp ReadyProbe, version string, sessions *session.Service, usersSvc *users.Service, datasets *dataset.Service, rules *retention.Manager, sweeper *retention.Executor, auditlog *audit.Recorder) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		sessions:   sessions,
		users:      usersSvc,
		datasets:   datasets,
		rules:      rules,
		sweeper:    sweeper,
		auditlog:   auditlog,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	// sessions
	a.mux.HandleFunc("POST /v1/session/signup", a.Signup)
	a.mux.HandleFunc("POST /v1/session/login", a.Login)
	a.mux.HandleFunc("POST /v1/session/logout", a.Logout)
	a.mux.HandleFunc("GET /v1/me", a.Me)

	// datasets
	a.mux.HandleFunc("POST /v1/datasets", a.UploadDataset)
	a.mux.HandleFunc("GET /v1/datasets", a.ListDatasets)
	a.mux.HandleFunc("GET /v1/datasets/{id}", a.GetDataset)
	a.mux.HandleFunc("DELETE /v1/datasets/{id}", a.DeleteDataset)
	a.mux.HandleFunc("GET /v1/public/datasets", a.ListPublicDatasets)

	// admin area
	a.mux.HandleFunc("GET /v1/admin/users", a.ListUsers)
	a.mux.HandleFunc("PATCH /v1/admin/users/{id}", a.SetUserRole)
	a.mux.HandleFunc("GET /v1/admin/retention/rules", a.ListRules)
	a.mux.HandleFunc("POST /v1/admin/retention/rules", a.CreateRule)
	a.mux.HandleFunc("PATCH /v1/admin/retention/rules/{id}", a.UpdateRule)
	a.mux.HandleFunc("DELETE /v1/admin/retention/rules/{id}", a.DeleteRule)
	a.mux.HandleFunc("POST /v1/admin/retention/run", a.RunRetention)
	a.mux.HandleFunc("GET /v1/admin/audit", a.ListAudit)
	a.mux.HandleFunc("GET /v1/admin/dashboard", a.Dashboard)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	h := a.withSession(a.mux)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "envds-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "envds-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
