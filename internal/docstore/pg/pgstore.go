// Package pg stores documents in a single Postgres JSONB table. The
// schema lives in migrations/; per-document consistency comes from the
// (collection, id) primary key.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"envds.org/internal/docstore"
)

// Store implements docstore.Store on Postgres.
type Store struct {
	db *sql.DB
}

var _ docstore.Store = (*Store)(nil)

// Open connects to Postgres with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests (sqlmock) and
// by cmd/migrate which shares the handle with the migration runner.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Collection returns a handle for the named collection.
func (s *Store) Collection(name string) docstore.Collection {
	return &collection{db: s.db, name: name}
}

type collection struct {
	db   *sql.DB
	name string
}

func (c *collection) Get(ctx context.Context, id string) (docstore.Document, error) {
	var raw []byte
	err := c.db.QueryRowContext(ctx,
		`select doc from documents where collection=$1 and id=$2`,
		c.name, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc docstore.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s/%s: %w", c.name, id, err)
	}
	return doc, nil
}

func (c *collection) Put(ctx context.Context, id string, doc docstore.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		insert into documents(collection, id, doc, updated_at)
		values ($1,$2,$3, now())
		on conflict (collection, id) do update
		set doc = excluded.doc, updated_at = now()
	`, c.name, id, raw)
	return err
}

func (c *collection) Merge(ctx context.Context, id string, fields docstore.Document) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		insert into documents(collection, id, doc, updated_at)
		values ($1,$2,$3, now())
		on conflict (collection, id) do update
		set doc = documents.doc || excluded.doc, updated_at = now()
	`, c.name, id, raw)
	return err
}

func (c *collection) Delete(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx,
		`delete from documents where collection=$1 and id=$2`, c.name, id)
	return err
}

func (c *collection) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`select doc from documents where collection=$1`)
	args = append(args, c.name)

	// Deterministic clause order for equality filters.
	eqFields := make([]string, 0, len(q.Eq))
	for f := range q.Eq {
		eqFields = append(eqFields, f)
	}
	sort.Strings(eqFields)
	for _, f := range eqFields {
		args = append(args, fmt.Sprint(q.Eq[f]))
		fmt.Fprintf(&sb, ` and doc->>%s = $%d`, quoteLiteral(f), len(args))
	}
	if q.Max != nil {
		args = append(args, q.Max.Value)
		fmt.Fprintf(&sb, ` and (doc->%s) <= to_jsonb($%d::double precision)`, quoteLiteral(q.Max.Field), len(args))
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		fmt.Fprintf(&sb, ` order by doc->%s %s`, quoteLiteral(q.OrderBy), dir)
	} else {
		sb.WriteString(` order by id asc`)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` limit $%d`, len(args))
	}

	rows, err := c.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []docstore.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc docstore.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode document in %s: %w", c.name, err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// quoteLiteral renders a field name as a single-quoted SQL literal for
// jsonb path operators. Field names are internal constants, never user
// input, but quotes are escaped anyway.
func quoteLiteral(field string) string {
	return "'" + strings.ReplaceAll(field, "'", "''") + "'"
}
