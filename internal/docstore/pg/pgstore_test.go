package pg

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"envds.org/internal/docstore"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`select doc from documents`).
		WithArgs("datasets", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}))

	_, err := store.Collection(docstore.Datasets).Get(context.Background(), "missing")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetDecodesDocument(t *testing.T) {
	store, mock := newMockStore(t)
	raw, _ := json.Marshal(map[string]any{"id": "d1", "ownerId": "u1"})
	mock.ExpectQuery(`select doc from documents`).
		WithArgs("datasets", "d1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(raw))

	doc, err := store.Collection(docstore.Datasets).Get(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc["ownerId"] != "u1" {
		t.Fatalf("unexpected doc: %v", doc)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPutUpserts(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`insert into documents.*on conflict \(collection, id\) do update`).
		WithArgs("users", "u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Collection(docstore.Users).Put(context.Background(), "u1",
		docstore.Document{"id": "u1", "email": "a@b.c"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMergeConcatenatesJSON(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`set doc = documents\.doc \|\| excluded\.doc`).
		WithArgs("publicDatasets", "p1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Collection(docstore.PublicDatasets).Merge(context.Background(), "p1",
		docstore.Document{"archivedAtMs": 123})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestQueryBuildsFiltersAndLimit(t *testing.T) {
	store, mock := newMockStore(t)
	rawA, _ := json.Marshal(map[string]any{"id": "a"})
	rawB, _ := json.Marshal(map[string]any{"id": "b"})

	mock.ExpectQuery(`select doc from documents where collection=\$1 and doc->>'ownerId' = \$2 and \(doc->'expiresAtMs'\) <= to_jsonb\(\$3::double precision\) order by doc->'expiresAtMs' asc limit \$4`).
		WithArgs("datasets", "u1", float64(500), 50).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(rawA).AddRow(rawB))

	docs, err := store.Collection(docstore.Datasets).Query(context.Background(), docstore.Query{
		Eq:      map[string]any{"ownerId": "u1"},
		Max:     &docstore.Bound{Field: "expiresAtMs", Value: 500},
		OrderBy: "expiresAtMs",
		Limit:   50,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 2 || docs[0]["id"] != "a" || docs[1]["id"] != "b" {
		t.Fatalf("unexpected docs: %v", docs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`delete from documents`).
		WithArgs("datasets", "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Collection(docstore.Datasets).Delete(context.Background(), "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
