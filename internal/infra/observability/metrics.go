package observability

import (
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Point lookup outcomes, used as metric labels.
const (
	LookupFound    = "found"
	LookupNotFound = "not_found"
	LookupFailed   = "failed"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	membershipQueries *prometheus.CounterVec
	chunkFailures     *prometheus.CounterVec
	pointLookups      *prometheus.CounterVec
	pageLoads         *prometheus.CounterVec
	superseded        prometheus.Counter
	snapshotSize      prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of engine operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_store_errors_total",
				Help: "Total errors returned by the document store.",
			},
			[]string{"collection", "operation"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_hits_total",
				Help: "Foreign ids already present in the entity cache.",
			},
			[]string{"collection"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_misses_total",
				Help: "Foreign ids that had to be fetched.",
			},
			[]string{"collection"},
		),
		membershipQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_membership_queries_total",
				Help: "Membership (id in set) queries issued.",
			},
			[]string{"collection"},
		),
		chunkFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_chunk_failures_total",
				Help: "Membership queries that failed and fell back to point lookups.",
			},
			[]string{"collection"},
		),
		pointLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_point_lookups_total",
				Help: "Fallback point lookups by outcome.",
			},
			[]string{"collection", "outcome"},
		),
		pageLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_page_loads_total",
				Help: "Page loads by result.",
			},
			[]string{"status"},
		),
		superseded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_page_loads_superseded_total",
				Help: "Page loads discarded because a newer one started.",
			},
		),
		snapshotSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_snapshot_transactions",
				Help: "Transactions in the most recently fetched snapshot.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrStoreError increments the store error counter.
func (m *Metrics) IncrStoreError(collection, operation string) {
	m.storeErrors.WithLabelValues(collection, operation).Inc()
}

// AddCacheHits adds n cache hits for collection.
func (m *Metrics) AddCacheHits(collection string, n int) {
	m.cacheHits.WithLabelValues(collection).Add(float64(n))
}

// AddCacheMisses adds n cache misses for collection.
func (m *Metrics) AddCacheMisses(collection string, n int) {
	m.cacheMisses.WithLabelValues(collection).Add(float64(n))
}

// IncrMembershipQuery counts one membership query.
func (m *Metrics) IncrMembershipQuery(collection string) {
	m.membershipQueries.WithLabelValues(collection).Inc()
}

// IncrChunkFailure counts one failed membership query.
func (m *Metrics) IncrChunkFailure(collection string) {
	m.chunkFailures.WithLabelValues(collection).Inc()
}

// IncrPointLookup counts one fallback lookup with its outcome.
func (m *Metrics) IncrPointLookup(collection, outcome string) {
	m.pointLookups.WithLabelValues(collection, outcome).Inc()
}

// IncrPageLoad increments the page load counter with a status label.
func (m *Metrics) IncrPageLoad(status string) {
	m.pageLoads.WithLabelValues(status).Inc()
}

// IncrSuperseded counts one discarded page load.
func (m *Metrics) IncrSuperseded() {
	m.superseded.Inc()
}

// SetSnapshotSize records the size of the last snapshot.
func (m *Metrics) SetSnapshotSize(n int) {
	m.snapshotSize.Set(float64(n))
}

var collections = []string{domain.CollectionClients, domain.CollectionSales}

// GetCacheSnapshot returns cumulative resolver and page-load figures for the
// GET /v1/metrics/cache endpoint.
func (m *Metrics) GetCacheSnapshot(activeSessions int) *domain.CacheMetrics {
	var hits, misses, queries, lookups, failed float64
	for _, c := range collections {
		hits += getCounterValue(m.cacheHits, c)
		misses += getCounterValue(m.cacheMisses, c)
		queries += getCounterValue(m.membershipQueries, c)
		for _, o := range []string{LookupFound, LookupNotFound, LookupFailed} {
			lookups += getCounterValue(m.pointLookups, c, o)
		}
		failed += getCounterValue(m.pointLookups, c, LookupFailed)
	}

	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.CacheMetrics{
		CacheHits:         int64(hits),
		CacheMisses:       int64(misses),
		CacheHitRate:      hitRate,
		MembershipQueries: int64(queries),
		PointLookups:      int64(lookups),
		FailedLookups:     int64(failed),
		PageLoads:         int64(getCounterValue(m.pageLoads, "success") + getCounterValue(m.pageLoads, "error")),
		FailedPageLoads:   int64(getCounterValue(m.pageLoads, "error")),
		Superseded:        int64(counterValue(m.superseded)),
		ActiveSessions:    activeSessions,
		Period:            "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	return counterValue(cv.WithLabelValues(labels...))
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
