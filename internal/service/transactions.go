package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/observability"
	"github.com/boddenberg/ledger-bfa-go/internal/port"
	"github.com/boddenberg/ledger-bfa-go/internal/query"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ClientNotFound is shown for a row whose client could not be resolved.
const ClientNotFound = "Client not found"

const dateLabelLayout = "02/01/2006"

// Options configure a TransactionsService.
type Options struct {
	// BaseKind and ExcludedCategory restrict the snapshot scan server-side.
	BaseKind         string
	ExcludedCategory string
	// Location is used for date buckets and date labels.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
	// FetchTimeout bounds a snapshot read. Zero means no bound beyond the store's own.
	FetchTimeout time.Duration
}

// TransactionsService loads pages of the transactions table for one session.
// It owns the session's entity cache: the snapshot lives until a filter
// change or a Refresh; resolved clients and sales live as long as the service.
type TransactionsService struct {
	store    port.DocumentStore
	cache    port.EntityCache
	resolver *Resolver
	metrics  *observability.Metrics
	logger   *zap.Logger
	opts     Options

	generation atomic.Uint64
	fetches    singleflight.Group

	mu          sync.Mutex
	lastFilters *domain.Filters
}

// NewTransactionsService creates the page engine of one session.
func NewTransactionsService(
	store port.DocumentStore,
	cache port.EntityCache,
	resolver *Resolver,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts Options,
) *TransactionsService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TransactionsService{
		store:    store,
		cache:    cache,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
}

// Refresh drops the snapshot so the next load reads the collection again.
// Resolved clients and sales are kept.
func (s *TransactionsService) Refresh() {
	s.cache.InvalidateSnapshot()
	s.logger.Debug("transactions: snapshot invalidated by refresh")
}

// LoadPage returns one hydrated page. The result is complete or the call
// fails with a single error: *domain.ErrSnapshotFetch when the collection
// could not be read, *domain.ErrSuperseded when a newer load started before
// this one finished, *domain.ErrValidation for a bad request.
func (s *TransactionsService) LoadPage(ctx context.Context, req domain.PageRequest) (*domain.Page, error) {
	if req.PageSize <= 0 {
		return nil, &domain.ErrValidation{Field: "page_size", Message: "must be positive"}
	}

	gen := s.generation.Add(1)

	ctx, span := tracer.Start(ctx, "TransactionsService.LoadPage")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("generation", int64(gen)),
		attribute.Int("page", req.PageNumber),
		attribute.Int("page_size", req.PageSize),
	)

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("load_page", time.Since(start))
	}()

	s.invalidateOnFilterChange(req.Filters)

	txs, takenAt, err := s.snapshot(ctx)
	if err != nil {
		s.metrics.IncrPageLoad("error")
		return nil, err
	}

	filtered := query.Apply(txs, query.Criteria{
		Filters:  req.Filters,
		Sort:     req.Sort,
		Today:    s.opts.Now(),
		Location: s.opts.Location,
	}, s.clientName)

	p := query.Paginate(filtered, req.PageNumber, req.PageSize)

	clientIDs, saleIDs := foreignKeys(p.Items)
	report := s.resolver.Resolve(ctx,
		s.cache,
		ResolveRequest{Collection: domain.CollectionClients, IDs: clientIDs},
		ResolveRequest{Collection: domain.CollectionSales, IDs: saleIDs},
	)
	if failed := report.Count(domain.CollectionClients, OutcomeFailed) + report.Count(domain.CollectionSales, OutcomeFailed); failed > 0 {
		s.logger.Warn("transactions: page has unresolved references",
			zap.Uint64("generation", gen),
			zap.Int("failed", failed),
		)
	}

	rows := make([]domain.Row, 0, len(p.Items))
	for _, t := range p.Items {
		rows = append(rows, s.hydrate(t))
	}

	if latest := s.generation.Load(); latest != gen {
		s.metrics.IncrSuperseded()
		s.logger.Debug("transactions: discarding superseded page",
			zap.Uint64("generation", gen),
			zap.Uint64("latest", latest),
		)
		return nil, &domain.ErrSuperseded{Generation: gen, Latest: latest}
	}

	s.metrics.IncrPageLoad("success")
	return &domain.Page{
		Rows:       rows,
		TotalCount: p.TotalCount,
		TotalPages: p.TotalPages,
		PageNumber: req.PageNumber,
		PageSize:   req.PageSize,
		Generation: gen,
		SnapshotAt: takenAt,
	}, nil
}

func (s *TransactionsService) invalidateOnFilterChange(f domain.Filters) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastFilters != nil && *s.lastFilters != f {
		s.cache.InvalidateSnapshot()
		s.logger.Debug("transactions: snapshot invalidated by filter change")
	}
	s.lastFilters = &f
}

// snapshot returns the cached snapshot or reads the base collection once.
// Concurrent loads of the same session share one read. The read is detached
// from the caller that started it, so a cancelled load never fails the
// loads waiting on the same read; each caller stops waiting on its own ctx.
func (s *TransactionsService) snapshot(ctx context.Context) ([]domain.Transaction, time.Time, error) {
	if txs, at, ok := s.cache.Snapshot(); ok {
		return txs, at, nil
	}

	type result struct {
		txs []domain.Transaction
		at  time.Time
	}
	ch := s.fetches.DoChan("snapshot", func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if s.opts.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, s.opts.FetchTimeout)
			defer cancel()
		}
		txs, err := s.fetchSnapshot(fetchCtx)
		if err != nil {
			return nil, err
		}
		at := s.opts.Now()
		s.cache.SetSnapshot(txs, at)
		return result{txs: txs, at: at}, nil
	})

	select {
	case <-ctx.Done():
		return nil, time.Time{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, time.Time{}, res.Err
		}
		r := res.Val.(result)
		return r.txs, r.at, nil
	}
}

func (s *TransactionsService) fetchSnapshot(ctx context.Context) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "TransactionsService.fetchSnapshot")
	defer span.End()

	var preds []domain.Predicate
	if s.opts.BaseKind != "" {
		preds = append(preds, domain.Eq("kind", s.opts.BaseKind))
	}
	if s.opts.ExcludedCategory != "" {
		preds = append(preds, domain.Neq("category", s.opts.ExcludedCategory))
	}

	docs, err := s.store.Query(ctx, domain.CollectionTransactions, preds...)
	if err != nil {
		s.logger.Error("transactions: snapshot fetch failed", zap.Error(err))
		s.metrics.IncrStoreError(domain.CollectionTransactions, "query")
		return nil, &domain.ErrSnapshotFetch{Collection: domain.CollectionTransactions, Err: err}
	}

	txs := make([]domain.Transaction, 0, len(docs))
	for _, doc := range docs {
		t, err := domain.DecodeTransaction(doc, s.opts.Location)
		if err != nil {
			s.logger.Warn("transactions: skipping undecodable document",
				zap.String("id", doc.ID),
				zap.Error(err),
			)
			continue
		}
		txs = append(txs, t)
	}

	span.SetAttributes(attribute.Int("transactions", len(txs)))
	s.metrics.SetSnapshotSize(len(txs))
	s.logger.Info("transactions: snapshot loaded",
		zap.Int("documents", len(docs)),
		zap.Int("transactions", len(txs)),
	)
	return txs, nil
}

// clientName resolves a client name from the cache only.
func (s *TransactionsService) clientName(id string) (string, bool) {
	c, ok := s.client(id)
	if !ok {
		return "", false
	}
	return c.Name, true
}

func (s *TransactionsService) client(id string) (domain.ClientStub, bool) {
	if id == "" {
		return domain.ClientStub{}, false
	}
	doc, ok := s.cache.Get(domain.CollectionClients, id)
	if !ok {
		return domain.ClientStub{}, false
	}
	c, err := domain.DecodeClientStub(doc)
	if err != nil {
		return domain.ClientStub{}, false
	}
	return c, true
}

func (s *TransactionsService) sale(id string) (domain.SaleStub, bool) {
	if id == "" {
		return domain.SaleStub{}, false
	}
	doc, ok := s.cache.Get(domain.CollectionSales, id)
	if !ok {
		return domain.SaleStub{}, false
	}
	sale, err := domain.DecodeSaleStub(doc)
	if err != nil {
		s.logger.Debug("transactions: invalid sale document",
			zap.String("id", id),
			zap.Error(err),
		)
		return domain.SaleStub{}, false
	}
	return sale, true
}

func (s *TransactionsService) hydrate(t domain.Transaction) domain.Row {
	row := domain.Row{
		Transaction:      t,
		ClientName:       ClientNotFound,
		SaleItems:        []domain.SaleItem{},
		StatusLabel:      t.Status.Label(),
		CategoryLabel:    domain.CategoryLabel(t.Category),
		DueDateLabel:     s.dateLabel(t.DueDate),
		PaymentDateLabel: s.dateLabel(t.PaymentDate),
	}
	if c, ok := s.client(t.ClientID); ok {
		row.ClientName = c.Name
		row.ClientPhone = c.Phone
		row.ClientResolved = true
	}
	if sale, ok := s.sale(t.SaleID); ok {
		row.SaleItems = sale.Items
	}
	row.DisplayDescription = describe(t.Description, row.SaleItems)
	return row
}

func (s *TransactionsService) dateLabel(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(s.opts.Location).Format(dateLabelLayout)
}

// describe renders sale items as "2x Corte, 1x Barba"; without items it
// falls back to the stored description.
func describe(description string, items []domain.SaleItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		qty := it.Quantity
		if qty < 1 {
			qty = 1
		}
		parts = append(parts, fmt.Sprintf("%dx %s", qty, name))
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	return "-"
}

// foreignKeys collects the distinct client and sale ids referenced by items.
func foreignKeys(items []domain.Transaction) (clientIDs, saleIDs []string) {
	seenClients := make(map[string]bool)
	seenSales := make(map[string]bool)
	for _, t := range items {
		if t.ClientID != "" && !seenClients[t.ClientID] {
			seenClients[t.ClientID] = true
			clientIDs = append(clientIDs, t.ClientID)
		}
		if t.SaleID != "" && !seenSales[t.SaleID] {
			seenSales[t.SaleID] = true
			saleIDs = append(saleIDs, t.SaleID)
		}
	}
	return clientIDs, saleIDs
}
