package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/observability"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/ledger-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/ledger")

// Outcome is what happened to one foreign id during a resolve.
type Outcome string

const (
	OutcomeCached   Outcome = "cached"
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
	OutcomeFailed   Outcome = "failed"
)

// ResolveRequest is a set of ids to resolve against one collection.
type ResolveRequest struct {
	Collection string
	IDs        []string
}

// ResolveReport holds the outcome of every id, by collection.
type ResolveReport map[string]map[string]Outcome

// Outcome returns the recorded outcome of id, or "" when id was not requested.
func (r ResolveReport) Outcome(collection, id string) Outcome {
	return r[collection][id]
}

// Count returns how many ids of collection ended with o.
func (r ResolveReport) Count(collection string, o Outcome) int {
	n := 0
	for _, got := range r[collection] {
		if got == o {
			n++
		}
	}
	return n
}

// Resolver loads related documents into an entity cache, cache first,
// with misses batched into membership queries.
type Resolver struct {
	store     port.DocumentStore
	bulkhead  *resilience.Bulkhead
	chunkSize int
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewResolver creates a resolver. chunkSize is capped at port.MaxInOperands;
// maxConcurrency bounds the membership queries in flight across all callers.
func NewResolver(store port.DocumentStore, chunkSize, maxConcurrency int, metrics *observability.Metrics, logger *zap.Logger) *Resolver {
	if chunkSize < 1 || chunkSize > port.MaxInOperands {
		chunkSize = port.MaxInOperands
	}
	return &Resolver{
		store:     store,
		bulkhead:  resilience.NewBulkhead(maxConcurrency),
		chunkSize: chunkSize,
		metrics:   metrics,
		logger:    logger,
	}
}

type chunk struct {
	collection string
	ids        []string
}

// Resolve makes every resolvable id of reqs present in c. Ids already cached
// cost nothing; the rest are split into chunks that are all queried
// concurrently. A failed chunk falls back to point lookups, one id at a time.
// Failures never abort the call: they show up as OutcomeFailed in the report.
func (r *Resolver) Resolve(ctx context.Context, c port.EntityCache, reqs ...ResolveRequest) ResolveReport {
	ctx, span := tracer.Start(ctx, "Resolver.Resolve")
	defer span.End()

	start := time.Now()
	defer func() {
		r.metrics.RecordRequestDuration("resolve", time.Since(start))
	}()

	report := make(ResolveReport, len(reqs))
	var chunks []chunk

	for _, req := range reqs {
		outcomes, ok := report[req.Collection]
		if !ok {
			outcomes = make(map[string]Outcome)
			report[req.Collection] = outcomes
		}

		var missing []string
		hits := 0
		for _, id := range req.IDs {
			if id == "" {
				continue
			}
			if _, seen := outcomes[id]; seen {
				continue
			}
			if c.Has(req.Collection, id) {
				outcomes[id] = OutcomeCached
				hits++
				continue
			}
			outcomes[id] = OutcomeFailed
			missing = append(missing, id)
		}

		r.metrics.AddCacheHits(req.Collection, hits)
		r.metrics.AddCacheMisses(req.Collection, len(missing))

		for i := 0; i < len(missing); i += r.chunkSize {
			end := min(i+r.chunkSize, len(missing))
			chunks = append(chunks, chunk{collection: req.Collection, ids: missing[i:end]})
		}
	}

	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	if len(chunks) == 0 {
		return report
	}

	var mu sync.Mutex
	record := func(collection, id string, o Outcome) {
		mu.Lock()
		report[collection][id] = o
		mu.Unlock()
	}

	var g errgroup.Group
	for _, ch := range chunks {
		ch := ch
		g.Go(func() error {
			err := r.bulkhead.Do(ctx, func() error {
				r.resolveChunk(ctx, c, ch, record)
				return nil
			})
			if err != nil {
				r.logger.Warn("resolver: chunk not started",
					zap.String("collection", ch.collection),
					zap.Int("ids", len(ch.ids)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return report
}

func (r *Resolver) resolveChunk(ctx context.Context, c port.EntityCache, ch chunk, record func(string, string, Outcome)) {
	r.metrics.IncrMembershipQuery(ch.collection)

	docs, err := r.store.GetIn(ctx, ch.collection, ch.ids)
	if err != nil {
		r.logger.Warn("resolver: membership query failed, falling back to point lookups",
			zap.String("collection", ch.collection),
			zap.Int("ids", len(ch.ids)),
			zap.Error(err),
		)
		r.metrics.IncrChunkFailure(ch.collection)
		r.metrics.IncrStoreError(ch.collection, "get_in")
		trace.SpanFromContext(ctx).AddEvent("chunk fallback", trace.WithAttributes(
			attribute.String("collection", ch.collection),
			attribute.Int("ids", len(ch.ids)),
		))
		r.fallback(ctx, c, ch, record)
		return
	}

	wanted := make(map[string]bool, len(ch.ids))
	for _, id := range ch.ids {
		wanted[id] = true
	}
	for _, doc := range docs {
		c.Put(ch.collection, doc.ID, doc)
		if wanted[doc.ID] {
			record(ch.collection, doc.ID, OutcomeFound)
			delete(wanted, doc.ID)
		}
	}
	for id := range wanted {
		record(ch.collection, id, OutcomeNotFound)
	}
}

// fallback fetches the ids of a failed chunk sequentially. Each failure is
// logged and skipped.
func (r *Resolver) fallback(ctx context.Context, c port.EntityCache, ch chunk, record func(string, string, Outcome)) {
	for _, id := range ch.ids {
		doc, err := r.store.Get(ctx, ch.collection, id)
		var notFound *domain.ErrNotFound
		switch {
		case errors.As(err, &notFound):
			record(ch.collection, id, OutcomeNotFound)
			r.metrics.IncrPointLookup(ch.collection, observability.LookupNotFound)
		case err != nil:
			r.logger.Warn("resolver: point lookup failed",
				zap.String("collection", ch.collection),
				zap.String("id", id),
				zap.Error(err),
			)
			record(ch.collection, id, OutcomeFailed)
			r.metrics.IncrPointLookup(ch.collection, observability.LookupFailed)
			r.metrics.IncrStoreError(ch.collection, "get")
		default:
			c.Put(ch.collection, id, *doc)
			record(ch.collection, id, OutcomeFound)
			r.metrics.IncrPointLookup(ch.collection, observability.LookupFound)
		}
	}
}
