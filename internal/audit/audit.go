// Package audit appends an immutable record of every privileged action.
// Entries are never updated or deleted by this system. A failed write
// must not sink the triggering action, but it is never silent either:
// it is logged, counted and reported back to the caller as a warning.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"envds.org/internal/auth"
	"envds.org/internal/docstore"
	"envds.org/internal/ids"
	"envds.org/internal/obs"
)

// Action names every auditable privileged operation.
type Action string

const (
	ActionSignup           Action = "SIGNUP"
	ActionLogin            Action = "LOGIN"
	ActionLogout           Action = "LOGOUT"
	ActionUploadDataset    Action = "UPLOAD_DATASET"
	ActionViewDataset      Action = "VIEW_DATASET"
	ActionDeleteDataset    Action = "DELETE_DATASET"
	ActionSetRole          Action = "SET_ROLE"
	ActionSetRetentionRule Action = "SET_RETENTION_RULE"
	ActionRunRetention     Action = "RUN_RETENTION"
)

// Target types for entries that reference a resource.
const (
	TargetUser          = "USER"
	TargetDataset       = "DATASET"
	TargetRetentionRule = "RETENTION_RULE"
)

// Entry is one append-only audit record. ID and CreatedAtMs are
// server-assigned in Record.
type Entry struct {
	ID          string         `json:"id"`
	Action      Action         `json:"action"`
	ActorID     string         `json:"actorId"`
	ActorEmail  string         `json:"actorEmail"`
	ActorRole   string         `json:"actorRole"`
	TargetType  string         `json:"targetType,omitempty"`
	TargetID    string         `json:"targetId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAtMs int64          `json:"createdAtMs"`
}

// Recorder writes audit entries to the auditLogs collection.
type Recorder struct {
	col docstore.Collection
	now func() time.Time
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store docstore.Store) *Recorder {
	return &Recorder{
		col: store.Collection(docstore.AuditLogs),
		now: time.Now,
	}
}

// Record assigns the entry id and creation time, persists it and emits a
// matching JSON audit log line. On a store failure the gap is logged at
// warning level and counted; the error is returned so callers can attach
// an AUDIT_WRITE_FAILED warning to their own result.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.Action == "" {
		return fmt.Errorf("audit: action is required")
	}
	e.ID = ids.New()
	e.CreatedAtMs = r.now().UTC().UnixMilli()

	logLine(e)

	doc, err := docstore.FromStruct(e)
	if err != nil {
		r.reportFailure(e, err)
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	if err := r.col.Put(ctx, e.ID, doc); err != nil {
		r.reportFailure(e, err)
		return fmt.Errorf("audit: append entry: %w", err)
	}
	return nil
}

// RecordFor fills the actor fields from a principal and records.
func (r *Recorder) RecordFor(ctx context.Context, actor auth.Principal, e Entry) error {
	e.ActorID = actor.ID
	e.ActorEmail = actor.Email
	e.ActorRole = string(actor.Role)
	return r.Record(ctx, e)
}

// Recent returns the newest entries first, up to limit.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	docs, err := r.col.Query(ctx, docstore.Query{
		OrderBy: "createdAtMs",
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: list entries: %w", err)
	}
	out := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		var e Entry
		if err := docstore.ToStruct(doc, &e); err != nil {
			return nil, fmt.Errorf("audit: decode entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Recorder) reportFailure(e Entry, err error) {
	obs.AuditWriteFailures.Inc()
	obs.Warn("audit write failed", map[string]any{
		"action":   string(e.Action),
		"actor_id": e.ActorID,
		"error":    err.Error(),
	})
}

func logLine(e Entry) {
	entry := map[string]any{
		"ts":    time.UnixMilli(e.CreatedAtMs).UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": string(e.Action),
		"actor": e.ActorID,
	}
	if e.TargetID != "" {
		entry["target_type"] = e.TargetType
		entry["target_id"] = e.TargetID
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}
