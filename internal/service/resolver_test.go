package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/cache"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/memstore"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newResolver(store *memstore.Store) *Resolver {
	return NewResolver(store, 10, 4, observability.NewMetrics(), zap.NewNop())
}

func clientIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%02d", i)
	}
	return ids
}

func seedClients(s *memstore.Store, ids []string) {
	for _, id := range ids {
		s.Put(domain.CollectionClients, domain.Document{ID: id, Fields: map[string]any{"name": "Client " + id}})
	}
}

func TestResolve_ChunksTwentyFiveIdsIntoThreeQueries(t *testing.T) {
	store := memstore.New()
	ids := clientIDs(25)
	seedClients(store, ids)
	c := cache.NewLocal()

	report := newResolver(store).Resolve(context.Background(), c,
		ResolveRequest{Collection: domain.CollectionClients, IDs: ids})

	var sizes []int
	for _, call := range store.Calls() {
		require.Equal(t, memstore.OpGetIn, call.Op)
		sizes = append(sizes, len(call.IDs))
	}
	sort.Ints(sizes)
	assert.Equal(t, []int{5, 10, 10}, sizes)

	assert.Equal(t, 25, report.Count(domain.CollectionClients, OutcomeFound))
	assert.Equal(t, 25, c.Len(domain.CollectionClients))
}

func TestResolve_WarmCacheIssuesNoReads(t *testing.T) {
	store := memstore.New()
	ids := clientIDs(12)
	seedClients(store, ids)
	c := cache.NewLocal()
	r := newResolver(store)
	req := ResolveRequest{Collection: domain.CollectionClients, IDs: ids}

	r.Resolve(context.Background(), c, req)
	store.ResetCalls()

	report := r.Resolve(context.Background(), c, req)

	assert.Empty(t, store.Calls())
	assert.Equal(t, 12, report.Count(domain.CollectionClients, OutcomeCached))
}

func TestResolve_OnlyMissingIdsAreQueried(t *testing.T) {
	store := memstore.New()
	seedClients(store, []string{"a", "b", "c"})
	c := cache.NewLocal()
	c.Put(domain.CollectionClients, "a", domain.Document{ID: "a", Fields: map[string]any{"name": "A"}})

	report := newResolver(store).Resolve(context.Background(), c,
		ResolveRequest{Collection: domain.CollectionClients, IDs: []string{"a", "b", "b", "", "c"}})

	calls := store.Calls()
	require.Len(t, calls, 1)
	assert.ElementsMatch(t, []string{"b", "c"}, calls[0].IDs)
	assert.Equal(t, OutcomeCached, report.Outcome(domain.CollectionClients, "a"))
	assert.Equal(t, OutcomeFound, report.Outcome(domain.CollectionClients, "b"))
	assert.Equal(t, Outcome(""), report.Outcome(domain.CollectionClients, ""))
}

func TestResolve_MissingDocumentsAreNotFound(t *testing.T) {
	store := memstore.New()
	seedClients(store, []string{"a"})
	c := cache.NewLocal()

	report := newResolver(store).Resolve(context.Background(), c,
		ResolveRequest{Collection: domain.CollectionClients, IDs: []string{"a", "ghost"}})

	assert.Equal(t, OutcomeNotFound, report.Outcome(domain.CollectionClients, "ghost"))
	assert.False(t, c.Has(domain.CollectionClients, "ghost"))
}

func TestResolve_FailedChunkFallsBackToPointLookups(t *testing.T) {
	store := memstore.New()
	seedClients(store, []string{"ok1", "ok2", "broken"})
	store.FailOp(memstore.OpGetIn, domain.CollectionClients, errors.New("unavailable"))
	store.FailID(domain.CollectionClients, "broken", errors.New("timeout"))
	c := cache.NewLocal()

	report := newResolver(store).Resolve(context.Background(), c,
		ResolveRequest{Collection: domain.CollectionClients, IDs: []string{"ok1", "ok2", "ghost", "broken"}})

	assert.Equal(t, OutcomeFound, report.Outcome(domain.CollectionClients, "ok1"))
	assert.Equal(t, OutcomeFound, report.Outcome(domain.CollectionClients, "ok2"))
	assert.Equal(t, OutcomeNotFound, report.Outcome(domain.CollectionClients, "ghost"))
	assert.Equal(t, OutcomeFailed, report.Outcome(domain.CollectionClients, "broken"))

	assert.True(t, c.Has(domain.CollectionClients, "ok1"))
	assert.True(t, c.Has(domain.CollectionClients, "ok2"))
	assert.False(t, c.Has(domain.CollectionClients, "broken"))
	assert.Equal(t, 4, store.CountCalls(memstore.OpGet, domain.CollectionClients))
}

func TestResolve_FansOutAcrossCollections(t *testing.T) {
	store := memstore.New()
	seedClients(store, []string{"c1"})
	store.Put(domain.CollectionSales, domain.Document{ID: "s1", Fields: map[string]any{"items": []any{}}})
	c := cache.NewLocal()

	report := newResolver(store).Resolve(context.Background(), c,
		ResolveRequest{Collection: domain.CollectionClients, IDs: []string{"c1"}},
		ResolveRequest{Collection: domain.CollectionSales, IDs: []string{"s1"}},
	)

	assert.Equal(t, 1, store.CountCalls(memstore.OpGetIn, domain.CollectionClients))
	assert.Equal(t, 1, store.CountCalls(memstore.OpGetIn, domain.CollectionSales))
	assert.Equal(t, OutcomeFound, report.Outcome(domain.CollectionSales, "s1"))
}

// concurrencyStore records how many membership queries run at once. When
// want is set, every query waits until want queries are in flight together.
type concurrencyStore struct {
	*memstore.Store
	want    int
	hold    time.Duration
	mu      sync.Mutex
	running int
	peak    int
	once    sync.Once
	all     chan struct{}
}

func newConcurrencyStore(want int, hold time.Duration) *concurrencyStore {
	return &concurrencyStore{Store: memstore.New(), want: want, hold: hold, all: make(chan struct{})}
}

func (s *concurrencyStore) GetIn(ctx context.Context, collection string, ids []string) ([]domain.Document, error) {
	s.mu.Lock()
	s.running++
	s.peak = max(s.peak, s.running)
	if s.want > 0 && s.running == s.want {
		s.once.Do(func() { close(s.all) })
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}()

	if s.want > 0 {
		select {
		case <-s.all:
		case <-time.After(2 * time.Second):
			return nil, errors.New("chunks were not in flight together")
		}
	}
	time.Sleep(s.hold)
	return s.Store.GetIn(ctx, collection, ids)
}

func (s *concurrencyStore) Peak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

func TestResolve_LaunchesAllChunksTogether(t *testing.T) {
	// 12 clients and 8 sales in chunks of 5: 3 + 2 membership queries.
	store := newConcurrencyStore(5, 0)
	clients := clientIDs(12)
	seedClients(store.Store, clients)
	var sales []string
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("s%02d", i)
		sales = append(sales, id)
		store.Put(domain.CollectionSales, domain.Document{ID: id, Fields: map[string]any{"items": []any{}}})
	}
	r := NewResolver(store, 5, 8, observability.NewMetrics(), zap.NewNop())

	report := r.Resolve(context.Background(), cache.NewLocal(),
		ResolveRequest{Collection: domain.CollectionClients, IDs: clients},
		ResolveRequest{Collection: domain.CollectionSales, IDs: sales},
	)

	assert.Equal(t, 5, store.Peak())
	assert.Equal(t, 12, report.Count(domain.CollectionClients, OutcomeFound))
	assert.Equal(t, 8, report.Count(domain.CollectionSales, OutcomeFound))
	assert.Zero(t, store.CountCalls(memstore.OpGet, domain.CollectionClients), "no chunk should have fallen back")
	assert.Zero(t, store.CountCalls(memstore.OpGet, domain.CollectionSales), "no chunk should have fallen back")
}

func TestResolve_BulkheadCapsConcurrentQueries(t *testing.T) {
	store := newConcurrencyStore(0, 20*time.Millisecond)
	ids := clientIDs(25)
	seedClients(store.Store, ids)
	r := NewResolver(store, 5, 2, observability.NewMetrics(), zap.NewNop())

	report := r.Resolve(context.Background(), cache.NewLocal(),
		ResolveRequest{Collection: domain.CollectionClients, IDs: ids})

	assert.Equal(t, 2, store.Peak())
	assert.Equal(t, 25, report.Count(domain.CollectionClients, OutcomeFound))
	assert.Equal(t, 5, store.CountCalls(memstore.OpGetIn, domain.CollectionClients))
}

func TestResolve_EmptyRequestDoesNothing(t *testing.T) {
	store := memstore.New()

	report := newResolver(store).Resolve(context.Background(), cache.NewLocal(),
		ResolveRequest{Collection: domain.CollectionClients})

	assert.Empty(t, store.Calls())
	assert.Empty(t, report[domain.CollectionClients])
}

func TestNewResolver_CapsChunkSize(t *testing.T) {
	r := NewResolver(memstore.New(), 50, 1, observability.NewMetrics(), zap.NewNop())
	assert.Equal(t, 10, r.chunkSize)

	r = NewResolver(memstore.New(), 3, 1, observability.NewMetrics(), zap.NewNop())
	assert.Equal(t, 3, r.chunkSize)
}
