package dataset

import (
	"context"
	"errors"
	"testing"
	"time"

	"envds.org/internal/audit"
	"envds.org/internal/auth"
	"envds.org/internal/docstore"
	"envds.org/internal/fieldcrypt"
	"envds.org/internal/privacy"
	"envds.org/internal/retention"
)

var (
	provider = auth.Principal{ID: "u-prov", Email: "prov@example.com", Role: auth.RoleProvider}
	admin    = auth.Principal{ID: "u-admin", Email: "admin@example.com", Role: auth.RoleAdmin}
	viewer   = auth.Principal{ID: "u-pub", Email: "pub@example.com", Role: auth.RolePublic}
)

func newService(t *testing.T, store docstore.Store, now time.Time) *Service {
	t.Helper()
	crypt, err := fieldcrypt.New([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("fieldcrypt.New: %v", err)
	}
	svc := NewService(store, crypt, audit.NewRecorder(store))
	svc.now = func() time.Time { return now }
	return svc
}

func putRule(t *testing.T, store docstore.Store, r retention.Rule) {
	t.Helper()
	doc, err := docstore.FromStruct(r)
	if err != nil {
		t.Fatalf("encode rule: %v", err)
	}
	if err := store.Collection(docstore.RetentionRules).Put(context.Background(), r.ID, doc); err != nil {
		t.Fatalf("put rule: %v", err)
	}
}

func waterRows() []privacy.Record {
	return []privacy.Record{
		{"ph": 7.1, "station": "s-1", "email": "tech@example.com"},
		{"ph": 6.8, "station": "s-2"},
		{"ph": 7.4, "station": "s-3"},
	}
}

func TestUploadAppliesMatchingRule(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	putRule(t, store, retention.Rule{
		ID:           "r-water",
		DataType:     retention.Exactly(TypeWater),
		Sensitivity:  retention.AnyScope(),
		DaysToRetain: 5,
		Action:       retention.ActionDelete,
	})

	res, err := newService(t, store, now).Upload(ctx, provider, UploadInput{
		DataType:            TypeWater,
		SensitivityLevel:    SensitivitySensitive,
		RetentionPeriodDays: 30,
		Rows:                waterRows(),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	// The rule overrides the requested 30 days.
	if res.RetentionPeriodDays != 5 || res.RetentionAction != retention.ActionDelete {
		t.Fatalf("rule not applied: %+v", res)
	}
	if res.MatchedRuleID != "r-water" {
		t.Fatalf("matchedRuleId = %q", res.MatchedRuleID)
	}
	wantExpiry := now.UnixMilli() + 5*24*60*60*1000
	if res.ExpiresAtMs != wantExpiry {
		t.Fatalf("expiresAtMs = %d, want %d", res.ExpiresAtMs, wantExpiry)
	}

	doc, err := store.Collection(docstore.Datasets).Get(ctx, res.DatasetID)
	if err != nil {
		t.Fatalf("stored dataset missing: %v", err)
	}
	if doc["retentionPeriodDays"] != float64(5) || doc["retentionAction"] != "DELETE" {
		t.Fatalf("stored retention fields wrong: %v", doc)
	}
	if doc["retentionEnforced"] != true {
		t.Fatal("retentionEnforced not set")
	}
}

func TestUploadEncryptsNonPublicAndStripsIdentifiers(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := newService(t, store, now)

	res, err := svc.Upload(ctx, provider, UploadInput{
		DataType:            TypeWater,
		SensitivityLevel:    SensitivitySensitive,
		RetentionPeriodDays: 30,
		Rows:                waterRows(),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	doc, err := store.Collection(docstore.Datasets).Get(ctx, res.DatasetID)
	if err != nil {
		t.Fatalf("stored dataset missing: %v", err)
	}
	blob, _ := doc["rawEncrypted"].(string)
	if blob == "" {
		t.Fatal("non-PUBLIC upload must store an encrypted payload")
	}

	// The anonymized sample must not carry denylisted identifiers.
	sample, _ := doc["sampleRows"].([]any)
	if len(sample) != 3 {
		t.Fatalf("sample rows = %d, want 3", len(sample))
	}
	for _, row := range sample {
		m, _ := row.(map[string]any)
		if _, ok := m["email"]; ok {
			t.Fatalf("sample row leaked identifier: %v", m)
		}
	}

	// Decryption restores the original rows, identifiers included.
	var payload struct {
		Rows []privacy.Record `json:"rows"`
	}
	if err := svc.crypt.Decrypt(blob, &payload); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(payload.Rows) != 3 || payload.Rows[0]["email"] != "tech@example.com" {
		t.Fatalf("unexpected decrypted rows: %v", payload.Rows)
	}
}

func TestUploadPublicSkipsEncryption(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res, err := newService(t, store, now).Upload(ctx, provider, UploadInput{
		DataType:            TypeAir,
		SensitivityLevel:    SensitivityPublic,
		RetentionPeriodDays: 30,
		Rows:                []privacy.Record{{"pm25": 12.0}},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	doc, _ := store.Collection(docstore.Datasets).Get(ctx, res.DatasetID)
	if blob, _ := doc["rawEncrypted"].(string); blob != "" {
		t.Fatal("PUBLIC upload must not be encrypted")
	}
}

func TestUploadProjectionNeverCarriesRaw(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res, err := newService(t, store, now).Upload(ctx, provider, UploadInput{
		DataType:            TypeWater,
		SensitivityLevel:    SensitivityRestricted,
		RetentionPeriodDays: 10,
		Rows:                waterRows(),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	proj, err := store.Collection(docstore.PublicDatasets).Get(ctx, res.DatasetID)
	if err != nil {
		t.Fatalf("projection missing: %v", err)
	}
	for _, forbidden := range []string{"rawEncrypted", "ownerEmail", "ownerId"} {
		if _, ok := proj[forbidden]; ok {
			t.Fatalf("projection carries %q: %v", forbidden, proj)
		}
	}
	if proj["aggregates"] == nil || proj["sample"] == nil {
		t.Fatalf("projection missing anonymized content: %v", proj)
	}
}

func TestUploadRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := newService(t, store, now)

	cases := []UploadInput{
		{DataType: "soil", SensitivityLevel: SensitivityPublic, RetentionPeriodDays: 30},
		{DataType: TypeAir, SensitivityLevel: "secret", RetentionPeriodDays: 30},
		{DataType: TypeAir, SensitivityLevel: SensitivityPublic, RetentionPeriodDays: 0},
		{DataType: TypeAir, SensitivityLevel: SensitivityPublic, RetentionPeriodDays: 4000},
		{DataType: TypeAir, SensitivityLevel: SensitivityPublic, RetentionPeriodDays: 30,
			Rows: []privacy.Record{{"nested": map[string]any{"a": 1}}}},
	}
	for i, in := range cases {
		if _, err := svc.Upload(ctx, provider, in); !errors.Is(err, auth.ErrInvalidInput) {
			t.Fatalf("case %d: err = %v, want invalid input", i, err)
		}
	}
}

func TestUploadForbiddenForPublicRole(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := newService(t, store, now).Upload(ctx, viewer, UploadInput{
		DataType:            TypeAir,
		SensitivityLevel:    SensitivityPublic,
		RetentionPeriodDays: 30,
	})
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestListScopesToOwner(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := newService(t, store, now)

	other := auth.Principal{ID: "u-other", Email: "other@example.com", Role: auth.RoleProvider}
	for _, p := range []auth.Principal{provider, other} {
		if _, err := svc.Upload(ctx, p, UploadInput{
			DataType:            TypeAir,
			SensitivityLevel:    SensitivityPublic,
			RetentionPeriodDays: 30,
			Rows:                []privacy.Record{{"pm25": 9.0}},
		}); err != nil {
			t.Fatalf("Upload for %s: %v", p.ID, err)
		}
	}

	mine, err := svc.List(ctx, provider, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(mine) != 1 || mine[0].OwnerID != provider.ID {
		t.Fatalf("provider listing not owner-scoped: %+v", mine)
	}

	all, err := svc.List(ctx, admin, "")
	if err != nil {
		t.Fatalf("admin List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin should see both datasets, got %d", len(all))
	}
	for _, ds := range all {
		if ds.RawEncrypted != "" {
			t.Fatal("listing must not return encrypted payloads")
		}
	}

	filtered, err := svc.List(ctx, admin, other.ID)
	if err != nil {
		t.Fatalf("filtered List: %v", err)
	}
	if len(filtered) != 1 || filtered[0].OwnerID != other.ID {
		t.Fatalf("owner filter ignored: %+v", filtered)
	}
}

func TestGetEnforcesOwnerOrAdmin(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := newService(t, store, now)

	res, err := svc.Upload(ctx, provider, UploadInput{
		DataType:            TypeWater,
		SensitivityLevel:    SensitivitySensitive,
		RetentionPeriodDays: 30,
		Rows:                waterRows(),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	other := auth.Principal{ID: "u-other", Email: "other@example.com", Role: auth.RoleProvider}
	if _, _, err := svc.Get(ctx, other, res.DatasetID, false); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("stranger read: err = %v, want forbidden", err)
	}
	if _, _, err := svc.Get(ctx, provider, "no-such-id", false); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("missing id: err = %v, want not found", err)
	}

	ds, raw, err := svc.Get(ctx, provider, res.DatasetID, true)
	if err != nil {
		t.Fatalf("owner Get: %v", err)
	}
	if ds.RawEncrypted != "" {
		t.Fatal("Get must not return the encrypted blob")
	}
	if len(raw) != 3 || raw[0]["email"] != "tech@example.com" {
		t.Fatalf("owner includeRaw rows wrong: %v", raw)
	}

	if _, _, err := svc.Get(ctx, admin, res.DatasetID, false); err != nil {
		t.Fatalf("admin Get: %v", err)
	}

	// Each view is audited.
	logs, _ := store.Collection(docstore.AuditLogs).Query(ctx, docstore.Query{
		Eq: map[string]any{"action": "VIEW_DATASET"},
	})
	if len(logs) != 2 {
		t.Fatalf("expected 2 VIEW_DATASET entries, got %d", len(logs))
	}
}

func TestDeleteRemovesProjection(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := newService(t, store, now)

	res, err := svc.Upload(ctx, provider, UploadInput{
		DataType:            TypeAir,
		SensitivityLevel:    SensitivityPublic,
		RetentionPeriodDays: 30,
		Rows:                []privacy.Record{{"pm25": 12.0}},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	other := auth.Principal{ID: "u-other", Email: "other@example.com", Role: auth.RoleProvider}
	if err := svc.Delete(ctx, other, res.DatasetID); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("stranger delete: err = %v, want forbidden", err)
	}

	if err := svc.Delete(ctx, provider, res.DatasetID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Collection(docstore.Datasets).Get(ctx, res.DatasetID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatal("dataset still present")
	}
	if _, err := store.Collection(docstore.PublicDatasets).Get(ctx, res.DatasetID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatal("projection still present")
	}
	if err := svc.Delete(ctx, provider, res.DatasetID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("second delete: err = %v, want not found", err)
	}
}

func TestListPublicNeedsNoPrincipal(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := newService(t, store, now)

	if _, err := svc.Upload(ctx, provider, UploadInput{
		DataType:            TypeNoise,
		SensitivityLevel:    SensitivityRestricted,
		RetentionPeriodDays: 30,
		Rows:                []privacy.Record{{"db": 61.5}},
	}); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	entries, err := svc.ListPublic(ctx)
	if err != nil {
		t.Fatalf("ListPublic: %v", err)
	}
	if len(entries) != 1 || entries[0].DataType != TypeNoise {
		t.Fatalf("unexpected public listing: %+v", entries)
	}
	if entries[0].Aggregates.RecordCount != 1 {
		t.Fatalf("aggregates missing: %+v", entries[0].Aggregates)
	}
}

func TestAdminStats(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := newService(t, store, now)

	if _, err := svc.AdminStats(ctx, provider); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("provider stats: err = %v, want forbidden", err)
	}

	empty, err := svc.AdminStats(ctx, admin)
	if err != nil {
		t.Fatalf("AdminStats: %v", err)
	}
	if empty.TotalDatasets != 0 || empty.CompliancePct != 100 {
		t.Fatalf("unexpected empty stats: %+v", empty)
	}

	if _, err := svc.Upload(ctx, provider, UploadInput{
		DataType:            TypeWater,
		SensitivityLevel:    SensitivitySensitive,
		RetentionPeriodDays: 30,
		Rows:                waterRows(),
	}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	putRule(t, store, retention.Rule{
		ID: "r-1", DataType: retention.AnyScope(), Sensitivity: retention.AnyScope(),
		DaysToRetain: 7, Action: retention.ActionArchive,
	})

	stats, err := svc.AdminStats(ctx, admin)
	if err != nil {
		t.Fatalf("AdminStats: %v", err)
	}
	if stats.TotalDatasets != 1 || stats.TotalRecords != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.RecordsBySensitivity[SensitivitySensitive] != 3 {
		t.Fatalf("sensitivity split wrong: %+v", stats.RecordsBySensitivity)
	}
	if stats.ActiveRetentionRules != 1 {
		t.Fatalf("rule count wrong: %+v", stats)
	}
}
