package cache

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/boddenberg/ledger-bfa-go/internal/port"

	"go.uber.org/zap"
)

const backingTimeout = 500 * time.Millisecond

// Local is the entity cache of one session: documents by id per collection
// and the last transactions snapshot. Entries are never evicted; the
// orchestrator invalidates the snapshot explicitly and the entity maps live
// until the session ends.
type Local struct {
	mu         sync.RWMutex
	entities   map[string]map[string]domain.Document
	snapshot   []domain.Transaction
	snapshotAt time.Time
	hasSnap    bool

	backing port.EntityBacking
	logger  *zap.Logger
}

// NewLocal creates an empty entity cache.
func NewLocal() *Local {
	return &Local{entities: make(map[string]map[string]domain.Document)}
}

// NewLocalWithBacking creates an entity cache that reads through to, and
// writes through to, a shared second tier. Backing errors count as misses.
func NewLocalWithBacking(backing port.EntityBacking, logger *zap.Logger) *Local {
	l := NewLocal()
	l.backing = backing
	l.logger = logger
	return l
}

// Get returns the cached document for id.
func (l *Local) Get(collection, id string) (domain.Document, bool) {
	l.mu.RLock()
	doc, ok := l.entities[collection][id]
	l.mu.RUnlock()
	if ok || l.backing == nil {
		return doc, ok
	}
	return l.promote(collection, id)
}

// Has reports whether id is cached for collection.
func (l *Local) Has(collection, id string) bool {
	_, ok := l.Get(collection, id)
	return ok
}

// Put stores doc under id.
func (l *Local) Put(collection, id string, doc domain.Document) {
	l.put(collection, id, doc)
	if l.backing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), backingTimeout)
	defer cancel()
	if err := l.backing.Store(ctx, collection, id, doc); err != nil {
		l.logger.Warn("cache: backing store failed",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}

func (l *Local) put(collection, id string, doc domain.Document) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.entities[collection]
	if !ok {
		m = make(map[string]domain.Document)
		l.entities[collection] = m
	}
	m[id] = doc
}

func (l *Local) promote(collection, id string) (domain.Document, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), backingTimeout)
	defer cancel()

	doc, ok, err := l.backing.Load(ctx, collection, id)
	if err != nil {
		l.logger.Warn("cache: backing load failed",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err),
		)
		return domain.Document{}, false
	}
	if !ok {
		return domain.Document{}, false
	}
	l.put(collection, id, doc)
	return doc, true
}

// Len returns how many entities are held locally for collection.
func (l *Local) Len(collection string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entities[collection])
}

// Snapshot returns the cached transactions snapshot, if any.
// The returned slice is shared and must not be modified.
func (l *Local) Snapshot() ([]domain.Transaction, time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot, l.snapshotAt, l.hasSnap
}

// SetSnapshot replaces the transactions snapshot.
func (l *Local) SetSnapshot(txs []domain.Transaction, takenAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshot = txs
	l.snapshotAt = takenAt
	l.hasSnap = true
}

// InvalidateSnapshot drops the transactions snapshot and keeps the entity maps.
func (l *Local) InvalidateSnapshot() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshot = nil
	l.snapshotAt = time.Time{}
	l.hasSnap = false
}
