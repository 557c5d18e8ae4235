package handler_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/boddenberg/ledger-bfa-go/internal/handler"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/cache"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/memstore"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/observability"
	"github.com/boddenberg/ledger-bfa-go/internal/port"
	"github.com/boddenberg/ledger-bfa-go/internal/service"

	"go.uber.org/zap"
)

func newRouter(t *testing.T, store port.DocumentStore) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	resolver := service.NewResolver(store, 10, 4, metrics, logger)

	sessions := service.NewSessions(time.Minute, func() *service.TransactionsService {
		return service.NewTransactionsService(store, cache.NewLocal(), resolver, metrics, logger, service.Options{
			BaseKind:         "income",
			ExcludedCategory: "opening_balance",
			Location:         time.UTC,
		})
	}, logger)
	t.Cleanup(sessions.Close)

	limiter := handler.NewRateLimiter(handler.RateLimit{PerSecond: 1, Burst: 2}, time.Minute, logger)
	t.Cleanup(limiter.Close)

	return handler.NewRouter(sessions, store, limiter, metrics, logger)
}

func seededStore(n int) *memstore.Store {
	s := memstore.New()
	for i := 0; i < n; i++ {
		s.Put(domain.CollectionTransactions, domain.Document{ID: fmt.Sprintf("t%02d", i), Fields: map[string]any{
			"kind": "income", "category": "mensalidade", "status": "pending", "amount": 10 + i,
			"due_date": fmt.Sprintf("2024-06-%02d", i+1), "client_id": "c1",
		}})
	}
	s.Put(domain.CollectionClients, domain.Document{ID: "c1", Fields: map[string]any{"name": "Ana"}})
	return s
}

func get(t *testing.T, router http.Handler, path, session string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if session != "" {
		req.Header.Set(handler.SessionHeader, session)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) domain.Page {
	t.Helper()
	var p domain.Page
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	return p
}

func TestHealthz(t *testing.T) {
	router := newRouter(t, memstore.New())

	rec := get(t, router, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var h domain.HealthStatus
	json.NewDecoder(rec.Body).Decode(&h)
	if h.Status != "healthy" {
		t.Errorf("expected healthy, got %s", h.Status)
	}
}

func TestHealthz_DegradedStore(t *testing.T) {
	store := memstore.New()
	store.FailOp(memstore.OpGet, domain.CollectionClients, errors.New("down"))
	router := newRouter(t, store)

	var h domain.HealthStatus
	json.NewDecoder(get(t, router, "/healthz", "").Body).Decode(&h)
	if h.Status != "degraded" {
		t.Errorf("expected degraded, got %s", h.Status)
	}
}

func TestReadyz(t *testing.T) {
	router := newRouter(t, memstore.New())

	if rec := get(t, router, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := newRouter(t, memstore.New())

	if rec := get(t, router, "/metrics", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestListTransactions_StartsSessionAndPaginates(t *testing.T) {
	router := newRouter(t, seededStore(23))

	rec := get(t, router, "/v1/transactions?page=3&page_size=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	session := rec.Header().Get(handler.SessionHeader)
	if session == "" {
		t.Fatal("expected a session id header")
	}

	p := decodePage(t, rec)
	if p.TotalCount != 23 || p.TotalPages != 3 || len(p.Rows) != 3 {
		t.Errorf("unexpected page: count=%d pages=%d rows=%d", p.TotalCount, p.TotalPages, len(p.Rows))
	}
	if p.Rows[0].ClientName != "Ana" {
		t.Errorf("expected hydrated client, got %q", p.Rows[0].ClientName)
	}

	rec = get(t, router, "/v1/transactions?page=3&page_size=10", session)
	if got := rec.Header().Get(handler.SessionHeader); got != session {
		t.Errorf("expected session %s to be kept, got %s", session, got)
	}
}

func TestListTransactions_UnknownSessionIsReplaced(t *testing.T) {
	router := newRouter(t, seededStore(1))

	rec := get(t, router, "/v1/transactions", "made-up-session")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := rec.Header().Get(handler.SessionHeader)
	if got == "" || got == "made-up-session" {
		t.Errorf("expected a minted session id, got %q", got)
	}
}

func TestListTransactions_ClampsAndNavigates(t *testing.T) {
	router := newRouter(t, seededStore(23))

	p := decodePage(t, get(t, router, "/v1/transactions?page=9&page_size=10", ""))
	if p.PageNumber != 3 || len(p.Rows) != 3 {
		t.Errorf("expected clamped page 3, got page %d with %d rows", p.PageNumber, len(p.Rows))
	}

	rec := get(t, router, "/v1/transactions?page=461168601842738792&page_size=20", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a huge page number, got %d", rec.Code)
	}
	if p = decodePage(t, rec); p.PageNumber != 2 || len(p.Rows) != 3 {
		t.Errorf("expected clamped page 2, got page %d with %d rows", p.PageNumber, len(p.Rows))
	}

	p = decodePage(t, get(t, router, "/v1/transactions?page=1&page_size=10&nav=next", ""))
	if p.PageNumber != 2 {
		t.Errorf("expected page 2, got %d", p.PageNumber)
	}

	p = decodePage(t, get(t, router, "/v1/transactions?page=2&page_size=10&nav=last", ""))
	if p.PageNumber != 3 {
		t.Errorf("expected page 3, got %d", p.PageNumber)
	}

	p = decodePage(t, get(t, router, "/v1/transactions?page=1&page_size=10&nav=prev", ""))
	if p.PageNumber != 1 {
		t.Errorf("expected page 1, got %d", p.PageNumber)
	}
}

func TestListTransactions_BadFilters(t *testing.T) {
	router := newRouter(t, seededStore(1))

	for _, path := range []string{
		"/v1/transactions?date=yesterday",
		"/v1/transactions?sort=color",
		"/v1/transactions?sort=amount&dir=sideways",
	} {
		if rec := get(t, router, path, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestListTransactions_SnapshotFailureIsRetryable(t *testing.T) {
	store := seededStore(1)
	store.FailOp(memstore.OpQuery, domain.CollectionTransactions, errors.New("down"))
	router := newRouter(t, store)

	rec := get(t, router, "/v1/transactions", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Retryable bool `json:"retryable"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if !body.Retryable {
		t.Error("expected retryable error")
	}
}

func TestRefresh_IsRateLimited(t *testing.T) {
	store := seededStore(2)
	router := newRouter(t, store)

	session := get(t, router, "/v1/transactions", "").Header().Get(handler.SessionHeader)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/transactions/refresh", nil)
		req.Header.Set(handler.SessionHeader, session)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent {
		t.Errorf("expected first two refreshes to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected third refresh to be limited, got %d", codes[2])
	}

	get(t, router, "/v1/transactions", session)
	if n := store.CountCalls(memstore.OpQuery, domain.CollectionTransactions); n != 2 {
		t.Errorf("expected snapshot to be read twice, got %d", n)
	}
}

func TestRefresh_BucketsArePerSession(t *testing.T) {
	router := newRouter(t, seededStore(1))

	refresh := func(session string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/transactions/refresh", nil)
		req.Header.Set(handler.SessionHeader, session)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	a := get(t, router, "/v1/transactions", "").Header().Get(handler.SessionHeader)
	b := get(t, router, "/v1/transactions", "").Header().Get(handler.SessionHeader)

	refresh(a)
	refresh(a)
	if code := refresh(a); code != http.StatusTooManyRequests {
		t.Errorf("expected session a to be limited, got %d", code)
	}
	if code := refresh(b); code != http.StatusNoContent {
		t.Errorf("expected session b to have its own bucket, got %d", code)
	}
}

func TestRateLimiter_CloseIsIdempotent(t *testing.T) {
	l := handler.NewRateLimiter(handler.RateLimit{PerSecond: 1, Burst: 1}, time.Minute, zap.NewNop())
	l.Close()
	l.Close()
}

func TestEndSession(t *testing.T) {
	router := newRouter(t, seededStore(1))
	session := get(t, router, "/v1/transactions", "").Header().Get(handler.SessionHeader)

	del := func() int {
		req := httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+session, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := del(); code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", code)
	}
	if code := del(); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestCacheMetrics(t *testing.T) {
	router := newRouter(t, seededStore(3))
	session := get(t, router, "/v1/transactions", "").Header().Get(handler.SessionHeader)
	get(t, router, "/v1/transactions", session)

	rec := get(t, router, "/v1/metrics/cache", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var m domain.CacheMetrics
	json.NewDecoder(rec.Body).Decode(&m)

	if m.ActiveSessions != 1 {
		t.Errorf("expected 1 session, got %d", m.ActiveSessions)
	}
	if m.MembershipQueries != 1 || m.CacheMisses != 1 || m.CacheHits != 1 {
		t.Errorf("unexpected resolver figures: %+v", m)
	}
	if m.PageLoads != 2 {
		t.Errorf("expected 2 page loads, got %d", m.PageLoads)
	}
}
