package observability_test

import (
	"testing"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/observability"
)

func TestGetCacheSnapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.AddCacheHits(domain.CollectionClients, 3)
	m.AddCacheMisses(domain.CollectionClients, 1)
	m.IncrMembershipQuery(domain.CollectionClients)
	m.IncrMembershipQuery(domain.CollectionSales)
	m.IncrPointLookup(domain.CollectionSales, observability.LookupFound)
	m.IncrPointLookup(domain.CollectionSales, observability.LookupFailed)
	m.IncrPageLoad("success")
	m.IncrPageLoad("error")
	m.IncrSuperseded()

	s := m.GetCacheSnapshot(2)

	if s.CacheHits != 3 || s.CacheMisses != 1 {
		t.Errorf("expected 3 hits / 1 miss, got %d / %d", s.CacheHits, s.CacheMisses)
	}
	if s.CacheHitRate != 0.75 {
		t.Errorf("expected hit rate 0.75, got %f", s.CacheHitRate)
	}
	if s.MembershipQueries != 2 {
		t.Errorf("expected 2 membership queries, got %d", s.MembershipQueries)
	}
	if s.PointLookups != 2 || s.FailedLookups != 1 {
		t.Errorf("expected 2 lookups / 1 failed, got %d / %d", s.PointLookups, s.FailedLookups)
	}
	if s.PageLoads != 2 || s.FailedPageLoads != 1 {
		t.Errorf("expected 2 page loads / 1 failed, got %d / %d", s.PageLoads, s.FailedPageLoads)
	}
	if s.Superseded != 1 {
		t.Errorf("expected 1 superseded, got %d", s.Superseded)
	}
	if s.ActiveSessions != 2 {
		t.Errorf("expected 2 sessions, got %d", s.ActiveSessions)
	}
}

func TestNewMetrics_Twice(t *testing.T) {
	// private registries: no duplicate collector panic
	observability.NewMetrics()
	observability.NewMetrics()
}
