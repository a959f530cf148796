package dataset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"envds.org/internal/audit"
	"envds.org/internal/auth"
	"envds.org/internal/docstore"
	"envds.org/internal/fieldcrypt"
	"envds.org/internal/ids"
	"envds.org/internal/obs"
	"envds.org/internal/privacy"
	"envds.org/internal/retention"
)

// Service composes anonymization, aggregation, rule matching and field
// encryption at upload time and gates every read behind the owner-or-admin
// check.
type Service struct {
	datasets docstore.Collection
	public   docstore.Collection
	rules    docstore.Collection
	crypt    *fieldcrypt.Cipher
	rec      *audit.Recorder
	now      func() time.Time
}

// NewService constructs the dataset service.
func NewService(store docstore.Store, crypt *fieldcrypt.Cipher, rec *audit.Recorder) *Service {
	return &Service{
		datasets: store.Collection(docstore.Datasets),
		public:   store.Collection(docstore.PublicDatasets),
		rules:    store.Collection(docstore.RetentionRules),
		crypt:    crypt,
		rec:      rec,
		now:      time.Now,
	}
}

// UploadInput is one dataset submission.
type UploadInput struct {
	DataType            string           `json:"dataType"`
	SensitivityLevel    string           `json:"sensitivityLevel"`
	RetentionPeriodDays int              `json:"retentionPeriodDays"`
	Rows                []privacy.Record `json:"rows"`
}

func (in UploadInput) validate() error {
	if !ValidDataType(in.DataType) {
		return fmt.Errorf("%w: unknown dataType %q", auth.ErrInvalidInput, in.DataType)
	}
	if !ValidSensitivity(in.SensitivityLevel) {
		return fmt.Errorf("%w: unknown sensitivityLevel %q", auth.ErrInvalidInput, in.SensitivityLevel)
	}
	if in.RetentionPeriodDays < retention.MinDaysToRetain || in.RetentionPeriodDays > retention.MaxDaysToRetain {
		return fmt.Errorf("%w: retentionPeriodDays out of range", auth.ErrInvalidInput)
	}
	if len(in.Rows) > MaxRows {
		return fmt.Errorf("%w: at most %d rows per submission", auth.ErrInvalidInput, MaxRows)
	}
	for _, row := range in.Rows {
		for k, v := range row {
			switch v.(type) {
			case string, float64, bool, nil:
			default:
				return fmt.Errorf("%w: field %q has non-primitive value", auth.ErrInvalidInput, k)
			}
		}
	}
	return nil
}

// UploadResult reports what was actually stored, including the rule
// override when a compliance rule outranked the caller's preference.
type UploadResult struct {
	DatasetID           string           `json:"datasetId"`
	RetentionPeriodDays int              `json:"retentionPeriodDays"`
	RetentionAction     retention.Action `json:"retentionAction"`
	MatchedRuleID       string           `json:"matchedRuleId,omitempty"`
	ExpiresAtMs         int64            `json:"expiresAtMs"`
	RecordCount         int              `json:"recordCount"`
	AuditWarning        bool             `json:"-"`
}

// Upload validates, anonymizes and aggregates the submission, applies
// the best matching retention rule (which overrides the caller-supplied
// period and action), encrypts the raw rows unless the dataset is
// PUBLIC, persists the dataset with its public projection, and audits.
func (s *Service) Upload(ctx context.Context, actor auth.Principal, in UploadInput) (UploadResult, error) {
	if !auth.CanAccess(actor.Role, auth.ProviderArea) {
		return UploadResult{}, auth.ErrForbidden
	}
	if err := in.validate(); err != nil {
		return UploadResult{}, err
	}

	rules, err := retention.LoadRules(ctx, s.rules, rulesLookupLimit)
	if err != nil {
		return UploadResult{}, err
	}

	periodDays := in.RetentionPeriodDays
	action := retention.ActionArchive
	matchedRuleID := ""
	enforced := false
	if rule, ok := retention.PickBestRule(rules, in.DataType, in.SensitivityLevel); ok {
		periodDays = rule.DaysToRetain
		action = rule.Action
		matchedRuleID = rule.ID
		enforced = true
	}

	createdAtMs := s.now().UTC().UnixMilli()
	expiresAtMs := createdAtMs + int64(periodDays)*24*60*60*1000

	anonymized := privacy.Anonymize(in.Rows)
	aggregates := privacy.Aggregate(anonymized)
	sample := anonymized[:min(len(anonymized), sampleSize)]

	ds := Dataset{
		ID:                  ids.New(),
		OwnerID:             actor.ID,
		OwnerEmail:          actor.Email,
		DataType:            in.DataType,
		SensitivityLevel:    in.SensitivityLevel,
		CreatedAtMs:         createdAtMs,
		RetentionPeriodDays: periodDays,
		RetentionAction:     action,
		MatchedRuleID:       matchedRuleID,
		RetentionEnforced:   enforced,
		ExpiresAtMs:         expiresAtMs,
		RecordCount:         aggregates.RecordCount,
		FieldNames:          aggregates.FieldNames,
		Aggregates:          aggregates,
		SampleRows:          sample,
	}
	if in.SensitivityLevel != SensitivityPublic {
		blob, err := s.crypt.Encrypt(map[string]any{"rows": in.Rows})
		if err != nil {
			return UploadResult{}, fmt.Errorf("encrypt raw rows: %w", err)
		}
		ds.RawEncrypted = blob
	}

	doc, err := docstore.FromStruct(ds)
	if err != nil {
		return UploadResult{}, fmt.Errorf("encode dataset: %w", err)
	}
	if err := s.datasets.Put(ctx, ds.ID, doc); err != nil {
		return UploadResult{}, fmt.Errorf("store dataset: %w", err)
	}

	// The projection carries anonymized/aggregated content only, never
	// the raw or encrypted payload.
	projection := docstore.Document{
		"id":          ds.ID,
		"dataType":    ds.DataType,
		"createdAtMs": ds.CreatedAtMs,
		"aggregates":  doc["aggregates"],
		"sample":      doc["sampleRows"],
	}
	if err := s.public.Put(ctx, ds.ID, projection); err != nil {
		obs.Warn("public projection write failed", map[string]any{
			"dataset_id": ds.ID,
			"error":      err.Error(),
		})
	}

	res := UploadResult{
		DatasetID:           ds.ID,
		RetentionPeriodDays: periodDays,
		RetentionAction:     action,
		MatchedRuleID:       matchedRuleID,
		ExpiresAtMs:         expiresAtMs,
		RecordCount:         aggregates.RecordCount,
	}
	if err := s.rec.RecordFor(ctx, actor, audit.Entry{
		Action:     audit.ActionUploadDataset,
		TargetType: audit.TargetDataset,
		TargetID:   ds.ID,
		Metadata: map[string]any{
			"dataType":            in.DataType,
			"sensitivityLevel":    in.SensitivityLevel,
			"retentionPeriodDays": periodDays,
			"retentionAction":     string(action),
			"matchedRuleId":       matchedRuleID,
			"recordCount":         aggregates.RecordCount,
		},
	}); err != nil {
		res.AuditWarning = true
	}
	return res, nil
}

// List returns datasets newest first. Non-admin callers only ever see
// their own; an admin may filter by owner.
func (s *Service) List(ctx context.Context, actor auth.Principal, ownerFilter string) ([]Dataset, error) {
	q := docstore.Query{
		OrderBy: "createdAtMs",
		Desc:    true,
		Limit:   listLimit,
	}
	if actor.Role == auth.RoleAdmin {
		if ownerFilter != "" {
			q.Eq = map[string]any{"ownerId": ownerFilter}
		}
	} else {
		q.Eq = map[string]any{"ownerId": actor.ID}
	}

	docs, err := s.datasets.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	out := make([]Dataset, 0, len(docs))
	for _, doc := range docs {
		var ds Dataset
		if err := docstore.ToStruct(doc, &ds); err != nil {
			return nil, fmt.Errorf("decode dataset: %w", err)
		}
		ds.RawEncrypted = ""
		out = append(out, ds)
	}
	return out, nil
}

// Get returns one dataset for its owner or an admin. With includeRaw the
// encrypted payload is decrypted and returned as rows; for PUBLIC
// datasets the anonymized sample stands in for raw content. The view is
// audited either way, recording whether raw content was included.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string, includeRaw bool) (Dataset, []privacy.Record, error) {
	doc, err := s.datasets.Get(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Dataset{}, nil, auth.ErrNotFound
		}
		return Dataset{}, nil, err
	}
	var ds Dataset
	if err := docstore.ToStruct(doc, &ds); err != nil {
		return Dataset{}, nil, fmt.Errorf("decode dataset: %w", err)
	}
	if !(actor.Role == auth.RoleAdmin || ds.OwnerID == actor.ID) {
		return Dataset{}, nil, auth.ErrForbidden
	}

	var raw []privacy.Record
	if includeRaw {
		if ds.RawEncrypted != "" {
			var payload struct {
				Rows []privacy.Record `json:"rows"`
			}
			if err := s.crypt.Decrypt(ds.RawEncrypted, &payload); err != nil {
				return Dataset{}, nil, err
			}
			raw = payload.Rows
		} else {
			raw = ds.SampleRows
		}
	}

	if err := s.rec.RecordFor(ctx, actor, audit.Entry{
		Action:     audit.ActionViewDataset,
		TargetType: audit.TargetDataset,
		TargetID:   id,
		Metadata:   map[string]any{"includeRaw": includeRaw},
	}); err != nil {
		obs.Warn("dataset view not audited", map[string]any{"dataset_id": id})
	}

	ds.RawEncrypted = ""
	return ds, raw, nil
}

// Delete removes a dataset (owner or admin) and its public projection.
// Projection removal is best-effort.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id string) error {
	doc, err := s.datasets.Get(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return auth.ErrNotFound
		}
		return err
	}
	ownerID, _ := doc["ownerId"].(string)
	if !(actor.Role == auth.RoleAdmin || ownerID == actor.ID) {
		return auth.ErrForbidden
	}

	if err := s.datasets.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if err := s.public.Delete(ctx, id); err != nil {
		obs.Warn("public projection delete failed", map[string]any{
			"dataset_id": id,
			"error":      err.Error(),
		})
	}

	if err := s.rec.RecordFor(ctx, actor, audit.Entry{
		Action:     audit.ActionDeleteDataset,
		TargetType: audit.TargetDataset,
		TargetID:   id,
	}); err != nil {
		obs.Warn("dataset deletion not audited", map[string]any{"dataset_id": id})
	}
	return nil
}

// ListPublic returns the anonymized projection listing. No
// authentication is required to call it.
func (s *Service) ListPublic(ctx context.Context) ([]PublicEntry, error) {
	docs, err := s.public.Query(ctx, docstore.Query{
		OrderBy: "createdAtMs",
		Desc:    true,
		Limit:   publicListLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list public datasets: %w", err)
	}
	out := make([]PublicEntry, 0, len(docs))
	for _, doc := range docs {
		var e PublicEntry
		if err := docstore.ToStruct(doc, &e); err != nil {
			return nil, fmt.Errorf("decode public entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// AdminStats aggregates counts for the dashboard. The compliance figure
// is a synthetic estimate kept for the dashboard card, not a measured
// property.
func (s *Service) AdminStats(ctx context.Context, actor auth.Principal) (Stats, error) {
	if !auth.CanAccess(actor.Role, auth.AdminArea) {
		return Stats{}, auth.ErrForbidden
	}

	docs, err := s.datasets.Query(ctx, docstore.Query{})
	if err != nil {
		return Stats{}, fmt.Errorf("scan datasets: %w", err)
	}
	stats := Stats{
		TotalDatasets:        len(docs),
		RecordsBySensitivity: map[string]int{},
	}
	for _, doc := range docs {
		count := 0
		if n, ok := doc["recordCount"].(float64); ok {
			count = int(n)
		}
		stats.TotalRecords += count
		level, _ := doc["sensitivityLevel"].(string)
		if !ValidSensitivity(level) {
			level = SensitivityPublic
		}
		stats.RecordsBySensitivity[level] += count
	}

	ruleDocs, err := s.rules.Query(ctx, docstore.Query{})
	if err != nil {
		return Stats{}, fmt.Errorf("scan rules: %w", err)
	}
	stats.ActiveRetentionRules = len(ruleDocs)

	// Placeholder estimate: full marks with no data, otherwise a fixed
	// baseline bumped by rule coverage.
	if stats.TotalDatasets == 0 {
		stats.CompliancePct = 100
	} else {
		stats.CompliancePct = min(100, 88+2*stats.ActiveRetentionRules)
	}
	return stats, nil
}
