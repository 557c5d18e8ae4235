// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the page engine
// from the concrete document store and cache implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
)

// DocumentStore is the remote, schemaless database holding transactions,
// clients and sales. Implemented by the Supabase, Firestore and in-memory adapters.
type DocumentStore interface {
	// Query scans a collection restricted by the given predicates.
	Query(ctx context.Context, collection string, preds ...domain.Predicate) ([]domain.Document, error)
	// GetIn returns the documents whose id is one of ids. Adapters accept at most MaxInOperands ids.
	GetIn(ctx context.Context, collection string, ids []string) ([]domain.Document, error)
	// Get returns one document, or *domain.ErrNotFound.
	Get(ctx context.Context, collection, id string) (*domain.Document, error)
}

// MaxInOperands is the largest id set a single membership query may carry.
const MaxInOperands = 10

// EntityCache holds entities by id per collection, plus the last full
// transactions snapshot. It never expires anything on its own.
type EntityCache interface {
	Get(collection, id string) (domain.Document, bool)
	Put(collection, id string, doc domain.Document)
	Has(collection, id string) bool

	Snapshot() ([]domain.Transaction, time.Time, bool)
	SetSnapshot(txs []domain.Transaction, takenAt time.Time)
	InvalidateSnapshot()
}

// EntityBacking is an optional second tier behind the local entity maps.
type EntityBacking interface {
	Load(ctx context.Context, collection, id string) (domain.Document, bool, error)
	Store(ctx context.Context, collection, id string, doc domain.Document) error
}
