// Package memstore is an in-memory document store. It backs local
// development (STORE_BACKEND=memory) and stands in for the remote store in
// tests, recording every call and failing on demand.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/boddenberg/ledger-bfa-go/internal/port"
)

// Operation names used for call counting and failure injection.
const (
	OpQuery = "query"
	OpGetIn = "get_in"
	OpGet   = "get"
)

// Call captures one request made against the store.
type Call struct {
	Op         string
	Collection string
	IDs        []string
}

// Store keeps documents per collection in insertion order.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]domain.Document
	order       map[string][]string
	calls       []Call
	failOps     map[string]error // "op/collection"
	failIDs     map[string]error // "collection/id", point lookups only
}

// New creates an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]domain.Document),
		order:       make(map[string][]string),
		failOps:     make(map[string]error),
		failIDs:     make(map[string]error),
	}
}

// LoadFile seeds a store from a JSON file shaped as
// {"transactions": [{"id": "...", ...fields}], "clients": [...], "sales": [...]}.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed map[string][]map[string]any
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	s := New()
	names := make([]string, 0, len(seed))
	for name := range seed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for i, fields := range seed[name] {
			id, _ := fields["id"].(string)
			if id == "" {
				return nil, fmt.Errorf("seed %s[%d]: missing string id", name, i)
			}
			delete(fields, "id")
			s.Put(name, domain.Document{ID: id, Fields: fields})
		}
	}
	return s, nil
}

// Put inserts or replaces a document.
func (s *Store) Put(collection string, doc domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.collections[collection]
	if !ok {
		m = make(map[string]domain.Document)
		s.collections[collection] = m
	}
	if _, exists := m[doc.ID]; !exists {
		s.order[collection] = append(s.order[collection], doc.ID)
	}
	m[doc.ID] = doc
}

// FailOp makes every op on collection return err until cleared with a nil err.
func (s *Store) FailOp(op, collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOps, op+"/"+collection)
		return
	}
	s.failOps[op+"/"+collection] = err
}

// FailID makes point lookups of one id return err.
func (s *Store) FailID(collection, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failIDs, collection+"/"+id)
		return
	}
	s.failIDs[collection+"/"+id] = err
}

// Query returns the documents of collection matching every predicate.
func (s *Store) Query(ctx context.Context, collection string, preds ...domain.Predicate) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: OpQuery, Collection: collection})
	if err := s.failure(ctx, OpQuery, collection); err != nil {
		return nil, err
	}

	out := []domain.Document{}
	for _, id := range s.order[collection] {
		doc := s.collections[collection][id]
		if matchesAll(doc, preds) {
			out = append(out, cloneDoc(doc))
		}
	}
	return out, nil
}

// GetIn returns the documents of collection whose id is in ids.
func (s *Store) GetIn(ctx context.Context, collection string, ids []string) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: OpGetIn, Collection: collection, IDs: append([]string(nil), ids...)})
	if len(ids) > port.MaxInOperands {
		return nil, fmt.Errorf("memstore: membership query with %d operands exceeds %d", len(ids), port.MaxInOperands)
	}
	if err := s.failure(ctx, OpGetIn, collection); err != nil {
		return nil, err
	}

	out := []domain.Document{}
	for _, id := range ids {
		if doc, ok := s.collections[collection][id]; ok {
			out = append(out, cloneDoc(doc))
		}
	}
	return out, nil
}

// Get returns a single document or *domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: OpGet, Collection: collection, IDs: []string{id}})
	if err := s.failure(ctx, OpGet, collection); err != nil {
		return nil, err
	}
	if err, ok := s.failIDs[collection+"/"+id]; ok {
		return nil, err
	}

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: collection, ID: id}
	}
	d := cloneDoc(doc)
	return &d, nil
}

func (s *Store) failure(ctx context.Context, op, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.failOps[op+"/"+collection]
}

// Calls returns a snapshot of every call made so far.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CountCalls counts calls of op against collection. An empty collection counts all.
func (s *Store) CountCalls(op, collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op && (collection == "" || c.Collection == collection) {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded calls.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func matchesAll(doc domain.Document, preds []domain.Predicate) bool {
	for _, p := range preds {
		if !p.Matches(doc) {
			return false
		}
	}
	return true
}

func cloneDoc(doc domain.Document) domain.Document {
	fields := make(map[string]any, len(doc.Fields))
	for k, v := range doc.Fields {
		fields[k] = v
	}
	return domain.Document{ID: doc.ID, Fields: fields}
}
