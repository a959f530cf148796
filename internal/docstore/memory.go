package docstore

import (
	"context"
	"sort"
	"sync"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and keyless development runs; production uses the pg implementation.
type InMemory struct {
	mu   sync.RWMutex
	data map[string]map[string]Document
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{data: make(map[string]map[string]Document)}
}

// Collection returns a handle for the named collection, creating it lazily.
func (s *InMemory) Collection(name string) Collection {
	return &memCollection{store: s, name: name}
}

type memCollection struct {
	store *InMemory
	name  string
}

func (c *memCollection) docs() map[string]Document {
	m, ok := c.store.data[c.name]
	if !ok {
		m = make(map[string]Document)
		c.store.data[c.name] = m
	}
	return m
}

func (c *memCollection) Get(ctx context.Context, id string) (Document, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	doc, ok := c.store.data[c.name][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (c *memCollection) Put(ctx context.Context, id string, doc Document) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.docs()[id] = cloneDoc(doc)
	return nil
}

func (c *memCollection) Merge(ctx context.Context, id string, fields Document) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	docs := c.docs()
	existing, ok := docs[id]
	if !ok {
		docs[id] = cloneDoc(fields)
		return nil
	}
	merged := cloneDoc(existing)
	for k, v := range fields {
		merged[k] = cloneValue(v)
	}
	docs[id] = merged
	return nil
}

func (c *memCollection) Delete(ctx context.Context, id string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	delete(c.store.data[c.name], id)
	return nil
}

func (c *memCollection) Query(ctx context.Context, q Query) ([]Document, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	type keyed struct {
		id  string
		doc Document
	}
	var matched []keyed
	for id, doc := range c.store.data[c.name] {
		if !matches(doc, q) {
			continue
		}
		matched = append(matched, keyed{id: id, doc: doc})
	}

	// Stable order even without OrderBy: sort by id so repeated queries
	// over an unchanged collection return the same sequence.
	sort.Slice(matched, func(i, j int) bool {
		if q.OrderBy != "" {
			cmp := compareValues(matched[i].doc[q.OrderBy], matched[j].doc[q.OrderBy])
			if cmp != 0 {
				if q.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return matched[i].id < matched[j].id
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]Document, len(matched))
	for i, m := range matched {
		out[i] = cloneDoc(m.doc)
	}
	return out, nil
}

func matches(doc Document, q Query) bool {
	for field, want := range q.Eq {
		if !looseEqual(doc[field], want) {
			return false
		}
	}
	if q.Max != nil {
		n, ok := asNumber(doc[q.Max.Field])
		if !ok || n > q.Max.Value {
			return false
		}
	}
	return true
}

// looseEqual compares values the way JSON round-tripping stores them:
// all numbers collapse to float64.
func looseEqual(a, b any) bool {
	if na, ok := asNumber(a); ok {
		nb, ok := asNumber(b)
		return ok && na == nb
	}
	return a == b
}

func compareValues(a, b any) int {
	na, aNum := asNumber(a)
	nb, bNum := asNumber(b)
	if aNum && bNum {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	}
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
	}
	return 0
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func cloneDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Document:
		return cloneDoc(x)
	case map[string]any:
		return map[string]any(cloneDoc(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
