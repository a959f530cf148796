package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"envds.org/internal/audit"
	"envds.org/internal/auth"
	"envds.org/internal/docstore"
	"envds.org/internal/ids"
)

// maxRules bounds how many rules an admin may define; past that point
// the ingestion-time scan stops being cheap.
const maxRules = 200

// ValidScopeFunc checks a specific (non-wildcard) scope value against a
// classification domain.
type ValidScopeFunc func(string) bool

// Manager is the admin-facing rule CRUD surface. Every mutation is
// gated on the admin capability and audited as SET_RETENTION_RULE.
type Manager struct {
	col              docstore.Collection
	rec              *audit.Recorder
	validDataType    ValidScopeFunc
	validSensitivity ValidScopeFunc
	now              func() time.Time
}

// NewManager constructs a rule manager. The two validators tie rule
// scopes to the classification domains owned elsewhere.
func NewManager(store docstore.Store, rec *audit.Recorder, validDataType, validSensitivity ValidScopeFunc) *Manager {
	return &Manager{
		col:              store.Collection(docstore.RetentionRules),
		rec:              rec,
		validDataType:    validDataType,
		validSensitivity: validSensitivity,
		now:              time.Now,
	}
}

// RuleInput is one create or update request.
type RuleInput struct {
	DataType     Scope  `json:"dataType"`
	Sensitivity  Scope  `json:"sensitivityLevel"`
	DaysToRetain int    `json:"daysToRetain"`
	Action       Action `json:"action"`
}

func (m *Manager) validate(in RuleInput) error {
	r := Rule{
		DataType:     in.DataType,
		Sensitivity:  in.Sensitivity,
		DaysToRetain: in.DaysToRetain,
		Action:       in.Action,
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", auth.ErrInvalidInput, err)
	}
	if !in.DataType.IsAny() && !m.validDataType(in.DataType.Value()) {
		return fmt.Errorf("%w: unknown dataType scope %q", auth.ErrInvalidInput, in.DataType.Value())
	}
	if !in.Sensitivity.IsAny() && !m.validSensitivity(in.Sensitivity.Value()) {
		return fmt.Errorf("%w: unknown sensitivityLevel scope %q", auth.ErrInvalidInput, in.Sensitivity.Value())
	}
	return nil
}

// List returns the rules oldest first, the same order the matcher uses.
func (m *Manager) List(ctx context.Context, actor auth.Principal) ([]Rule, error) {
	if !auth.CanAccess(actor.Role, auth.AdminArea) {
		return nil, auth.ErrForbidden
	}
	return LoadRules(ctx, m.col, maxRules)
}

// Create stores a new rule.
func (m *Manager) Create(ctx context.Context, actor auth.Principal, in RuleInput) (Rule, error) {
	if !auth.CanAccess(actor.Role, auth.AdminArea) {
		return Rule{}, auth.ErrForbidden
	}
	if err := m.validate(in); err != nil {
		return Rule{}, err
	}
	existing, err := LoadRules(ctx, m.col, maxRules)
	if err != nil {
		return Rule{}, err
	}
	if len(existing) >= maxRules {
		return Rule{}, fmt.Errorf("%w: rule limit of %d reached", auth.ErrInvalidInput, maxRules)
	}

	r := Rule{
		ID:           ids.New(),
		DataType:     in.DataType,
		Sensitivity:  in.Sensitivity,
		DaysToRetain: in.DaysToRetain,
		Action:       in.Action,
		CreatedAtMs:  m.now().UTC().UnixMilli(),
	}
	doc, err := docstore.FromStruct(r)
	if err != nil {
		return Rule{}, fmt.Errorf("retention: encode rule: %w", err)
	}
	if err := m.col.Put(ctx, r.ID, doc); err != nil {
		return Rule{}, fmt.Errorf("retention: store rule: %w", err)
	}
	m.auditChange(ctx, actor, r.ID, "create", map[string]any{
		"dataType":         r.DataType.String(),
		"sensitivityLevel": r.Sensitivity.String(),
		"daysToRetain":     r.DaysToRetain,
		"action":           string(r.Action),
	})
	return r, nil
}

// Update replaces a rule's policy fields, keeping its identity and
// creation order.
func (m *Manager) Update(ctx context.Context, actor auth.Principal, id string, in RuleInput) (Rule, error) {
	if !auth.CanAccess(actor.Role, auth.AdminArea) {
		return Rule{}, auth.ErrForbidden
	}
	if err := m.validate(in); err != nil {
		return Rule{}, err
	}

	doc, err := m.col.Get(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Rule{}, auth.ErrNotFound
		}
		return Rule{}, err
	}
	var r Rule
	if err := docstore.ToStruct(doc, &r); err != nil {
		return Rule{}, fmt.Errorf("retention: decode rule: %w", err)
	}

	r.DataType = in.DataType
	r.Sensitivity = in.Sensitivity
	r.DaysToRetain = in.DaysToRetain
	r.Action = in.Action

	updated, err := docstore.FromStruct(r)
	if err != nil {
		return Rule{}, fmt.Errorf("retention: encode rule: %w", err)
	}
	if err := m.col.Put(ctx, id, updated); err != nil {
		return Rule{}, fmt.Errorf("retention: store rule: %w", err)
	}
	m.auditChange(ctx, actor, id, "update", map[string]any{
		"dataType":         r.DataType.String(),
		"sensitivityLevel": r.Sensitivity.String(),
		"daysToRetain":     r.DaysToRetain,
		"action":           string(r.Action),
	})
	return r, nil
}

// Delete removes a rule. Deleting an unknown id reports not found so
// the admin UI can tell a stale row from success.
func (m *Manager) Delete(ctx context.Context, actor auth.Principal, id string) error {
	if !auth.CanAccess(actor.Role, auth.AdminArea) {
		return auth.ErrForbidden
	}
	if _, err := m.col.Get(ctx, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return auth.ErrNotFound
		}
		return err
	}
	if err := m.col.Delete(ctx, id); err != nil {
		return fmt.Errorf("retention: delete rule: %w", err)
	}
	m.auditChange(ctx, actor, id, "delete", nil)
	return nil
}

func (m *Manager) auditChange(ctx context.Context, actor auth.Principal, id, op string, details map[string]any) {
	meta := map[string]any{"op": op}
	for k, v := range details {
		meta[k] = v
	}
	_ = m.rec.RecordFor(ctx, actor, audit.Entry{
		Action:     audit.ActionSetRetentionRule,
		TargetType: audit.TargetRetentionRule,
		TargetID:   id,
		Metadata:   meta,
	})
}
