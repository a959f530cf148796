package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"envds.org/internal/audit"
	"envds.org/internal/auth"
	"envds.org/internal/docstore"
)

var sweepActor = auth.Principal{ID: "admin-1", Email: "admin@example.com", Role: auth.RoleAdmin}

func newExecutor(t *testing.T, store docstore.Store, now time.Time) *Executor {
	t.Helper()
	e := NewExecutor(store, audit.NewRecorder(store))
	e.now = func() time.Time { return now }
	return e
}

func putDataset(t *testing.T, store docstore.Store, id string, expiresAtMs int64, action string) {
	t.Helper()
	err := store.Collection(docstore.Datasets).Put(context.Background(), id, docstore.Document{
		"id":               id,
		"ownerId":          "u-1",
		"ownerEmail":       "owner@example.com",
		"dataType":         "water",
		"sensitivityLevel": "SENSITIVE",
		"createdAtMs":      float64(0),
		"expiresAtMs":      float64(expiresAtMs),
		"retentionAction":  action,
		"aggregates":       map[string]any{"recordCount": float64(3)},
	})
	if err != nil {
		t.Fatalf("put dataset %s: %v", id, err)
	}
	err = store.Collection(docstore.PublicDatasets).Put(context.Background(), id, docstore.Document{
		"id": id, "dataType": "water",
	})
	if err != nil {
		t.Fatalf("put projection %s: %v", id, err)
	}
}

func TestSweepArchivesExpiredDataset(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	putDataset(t, store, "d-old", now.UnixMilli()-1000, "ARCHIVE")
	putDataset(t, store, "d-live", now.UnixMilli()+100000, "ARCHIVE")

	res, err := newExecutor(t, store, now).Sweep(ctx, sweepActor)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.ExpiredFound != 1 || res.Archived != 1 || res.Deleted != 0 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Live dataset removed.
	if _, err := store.Collection(docstore.Datasets).Get(ctx, "d-old"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expired dataset still live: %v", err)
	}
	// Unexpired dataset untouched.
	if _, err := store.Collection(docstore.Datasets).Get(ctx, "d-live"); err != nil {
		t.Fatalf("live dataset disturbed: %v", err)
	}

	// Archive record references the dataset and keeps aggregates only.
	archives, _ := store.Collection(docstore.ArchivedDatasets).Query(ctx, docstore.Query{})
	if len(archives) != 1 {
		t.Fatalf("expected 1 archive record, got %d", len(archives))
	}
	arch := archives[0]
	if arch["datasetId"] != "d-old" || arch["aggregates"] == nil {
		t.Fatalf("unexpected archive record: %v", arch)
	}
	if _, hasRaw := arch["rawEncrypted"]; hasRaw {
		t.Fatal("archive record must never carry raw payload")
	}

	// Projection marked archived.
	proj, err := store.Collection(docstore.PublicDatasets).Get(ctx, "d-old")
	if err != nil {
		t.Fatalf("projection missing: %v", err)
	}
	if proj["archivedAtMs"] == nil {
		t.Fatalf("projection not marked archived: %v", proj)
	}

	// One RUN_RETENTION audit entry for the whole sweep.
	logs, _ := store.Collection(docstore.AuditLogs).Query(ctx, docstore.Query{})
	if len(logs) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(logs))
	}
	meta, _ := logs[0]["metadata"].(map[string]any)
	if logs[0]["action"] != "RUN_RETENTION" || meta["archived"] != float64(1) {
		t.Fatalf("unexpected audit entry: %v", logs[0])
	}
}

func TestSweepDeletesWithoutArchive(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	putDataset(t, store, "d-del", now.UnixMilli()-5, "DELETE")

	res, err := newExecutor(t, store, now).Sweep(ctx, sweepActor)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Deleted != 1 || res.Archived != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := store.Collection(docstore.Datasets).Get(ctx, "d-del"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatal("dataset still live")
	}
	if _, err := store.Collection(docstore.PublicDatasets).Get(ctx, "d-del"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatal("projection still present")
	}
	archives, _ := store.Collection(docstore.ArchivedDatasets).Query(ctx, docstore.Query{})
	if len(archives) != 0 {
		t.Fatalf("DELETE action must not archive: %v", archives)
	}
}

func TestSweepIsNoopWhenNothingExpired(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	putDataset(t, store, "d-exp", now.UnixMilli()-1, "ARCHIVE")
	exec := newExecutor(t, store, now)

	first, err := exec.Sweep(ctx, sweepActor)
	if err != nil {
		t.Fatalf("first Sweep: %v", err)
	}
	if first.Archived != 1 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	// Immediate re-run: nothing newly expired, all counters zero.
	second, err := exec.Sweep(ctx, sweepActor)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if second.ExpiredFound != 0 || second.Archived != 0 || second.Deleted != 0 {
		t.Fatalf("re-run not a no-op: %+v", second)
	}
}

func TestSweepDefaultsMissingActionToArchive(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	putDataset(t, store, "d-noaction", now.UnixMilli()-1, "")

	res, err := newExecutor(t, store, now).Sweep(ctx, sweepActor)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Archived != 1 {
		t.Fatalf("missing action should archive: %+v", res)
	}
}

// archiveFailStore fails archive writes but passes everything else
// through, so one broken transition must not abort the batch.
type archiveFailStore struct {
	docstore.Store
}

type archiveFailCollection struct {
	docstore.Collection
}

func (s archiveFailStore) Collection(name string) docstore.Collection {
	col := s.Store.Collection(name)
	if name == docstore.ArchivedDatasets {
		return archiveFailCollection{col}
	}
	return col
}

func (archiveFailCollection) Put(context.Context, string, docstore.Document) error {
	return errors.New("archive store down")
}

func TestSweepContinuesPastFailedTransition(t *testing.T) {
	ctx := context.Background()
	inner := docstore.NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	putDataset(t, inner, "d-archive", now.UnixMilli()-2000, "ARCHIVE")
	putDataset(t, inner, "d-delete", now.UnixMilli()-1000, "DELETE")

	exec := NewExecutor(archiveFailStore{inner}, audit.NewRecorder(inner))
	exec.now = func() time.Time { return now }

	res, err := exec.Sweep(ctx, sweepActor)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Failed != 1 || res.Deleted != 1 || res.Archived != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// The failed dataset stays live for the next sweep.
	if _, err := inner.Collection(docstore.Datasets).Get(ctx, "d-archive"); err != nil {
		t.Fatalf("failed dataset should remain live: %v", err)
	}
}
