// Package docstore is the keyed-collection boundary in front of the
// persistence layer. The service only ever needs get/put/merge/delete
// plus queries with equality filters, one upper-bound filter, a single
// order-by field and a limit, so that is all the interface exposes.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

// Collection names used by the service.
const (
	Datasets         = "datasets"
	ArchivedDatasets = "archivedDatasets"
	PublicDatasets   = "publicDatasets"
	RetentionRules   = "retentionRules"
	Users            = "users"
	AuditLogs        = "auditLogs"
)

// ErrNotFound indicates the id has no live document.
var ErrNotFound = errors.New("docstore: not found")

// Document is a stored JSON object. Writers keep the document id inside
// the document itself (field "id") so query results are self-describing.
type Document map[string]any

// Bound is an upper-bound filter: field <= value. Bound fields are
// numeric in this service (millisecond timestamps).
type Bound struct {
	Field string
	Value float64
}

// Query selects documents from a collection.
type Query struct {
	Eq      map[string]any // equality filters on top-level fields
	Max     *Bound         // optional field <= value
	OrderBy string         // single order-by field, empty for unspecified
	Desc    bool
	Limit   int // 0 means no limit
}

// Store hands out named collections.
type Store interface {
	Collection(name string) Collection
}

// Collection is one keyed set of documents.
type Collection interface {
	Get(ctx context.Context, id string) (Document, error)
	Put(ctx context.Context, id string, doc Document) error
	// Merge upserts only the given fields, leaving the rest of an
	// existing document intact.
	Merge(ctx context.Context, id string, fields Document) error
	// Delete is idempotent: deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
}

// FromStruct converts a JSON-taggable struct into a Document.
func FromStruct(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ToStruct decodes a Document into a JSON-taggable struct.
func ToStruct(doc Document, out any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
