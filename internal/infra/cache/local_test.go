package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBacking struct {
	mu     sync.Mutex
	docs   map[string]domain.Document
	loads  int
	stores int
	err    error
}

func newFakeBacking() *fakeBacking {
	return &fakeBacking{docs: map[string]domain.Document{}}
}

func (f *fakeBacking) Load(_ context.Context, collection, id string) (domain.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return domain.Document{}, false, f.err
	}
	doc, ok := f.docs[collection+"/"+id]
	return doc, ok, nil
}

func (f *fakeBacking) Store(_ context.Context, collection, id string, doc domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	if f.err != nil {
		return f.err
	}
	f.docs[collection+"/"+id] = doc
	return nil
}

func TestLocal_PutGetHas(t *testing.T) {
	l := cache.NewLocal()

	assert.False(t, l.Has(domain.CollectionClients, "c1"))

	l.Put(domain.CollectionClients, "c1", domain.Document{ID: "c1", Fields: map[string]any{"name": "Ana"}})

	doc, ok := l.Get(domain.CollectionClients, "c1")
	require.True(t, ok)
	assert.Equal(t, "Ana", doc.Fields["name"])
	assert.True(t, l.Has(domain.CollectionClients, "c1"))
	assert.False(t, l.Has(domain.CollectionSales, "c1"), "collections are separate maps")
	assert.Equal(t, 1, l.Len(domain.CollectionClients))
}

func TestLocal_InvalidateSnapshotKeepsEntities(t *testing.T) {
	l := cache.NewLocal()
	_, _, ok := l.Snapshot()
	require.False(t, ok)

	taken := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	l.SetSnapshot([]domain.Transaction{{ID: "t1"}}, taken)
	l.Put(domain.CollectionSales, "s1", domain.Document{ID: "s1"})

	txs, at, ok := l.Snapshot()
	require.True(t, ok)
	assert.Len(t, txs, 1)
	assert.Equal(t, taken, at)

	l.InvalidateSnapshot()

	_, _, ok = l.Snapshot()
	assert.False(t, ok)
	assert.True(t, l.Has(domain.CollectionSales, "s1"))
}

func TestLocal_EmptySnapshotIsStillASnapshot(t *testing.T) {
	l := cache.NewLocal()
	l.SetSnapshot(nil, time.Now())

	txs, _, ok := l.Snapshot()
	assert.True(t, ok)
	assert.Empty(t, txs)
}

func TestLocal_BackingReadThroughAndWriteThrough(t *testing.T) {
	backing := newFakeBacking()
	backing.docs["clients/c9"] = domain.Document{ID: "c9", Fields: map[string]any{"name": "Bia"}}

	l := cache.NewLocalWithBacking(backing, zap.NewNop())

	doc, ok := l.Get(domain.CollectionClients, "c9")
	require.True(t, ok)
	assert.Equal(t, "c9", doc.ID)
	assert.Equal(t, 1, backing.loads)

	// promoted: no second backing read
	_, ok = l.Get(domain.CollectionClients, "c9")
	require.True(t, ok)
	assert.Equal(t, 1, backing.loads)

	l.Put(domain.CollectionClients, "c10", domain.Document{ID: "c10"})
	assert.Equal(t, 1, backing.stores)
	_, stored := backing.docs["clients/c10"]
	assert.True(t, stored)
}

func TestLocal_BackingErrorsAreMisses(t *testing.T) {
	backing := newFakeBacking()
	backing.err = errors.New("connection refused")

	l := cache.NewLocalWithBacking(backing, zap.NewNop())

	assert.False(t, l.Has(domain.CollectionClients, "c1"))

	l.Put(domain.CollectionClients, "c1", domain.Document{ID: "c1"})
	assert.True(t, l.Has(domain.CollectionClients, "c1"), "local tier still holds the entry")
}
