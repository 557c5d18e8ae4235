package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/observability"
	"github.com/boddenberg/ledger-bfa-go/internal/port"
	"github.com/boddenberg/ledger-bfa-go/internal/query"
	"github.com/boddenberg/ledger-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
// store is only used by /healthz and may be nil. refresh guards
// POST /v1/transactions/refresh; its owner closes it.
func NewRouter(sessions *service.Sessions, store port.DocumentStore, refresh *RateLimiter, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware)
	r.Use(observability.AccessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(store, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/cache", cacheMetricsHandler(sessions, metrics))
		r.Delete("/sessions/{sessionId}", endSessionHandler(sessions, logger))

		r.Route("/transactions", func(r chi.Router) {
			r.Use(SessionMiddleware(sessions, logger))
			r.Get("/", listTransactionsHandler(logger))
			r.With(refresh.Middleware).Post("/refresh", refreshHandler(logger))
		})
	})

	return r
}

// ============================================================
// Transactions
// ============================================================

// listTransactionsHandler serves one page of the transactions table.
// The page number is clamped here: an explicit page past the end, or a
// nav=first|prev|next|last move, is resolved against the page count of the
// first load and reloaded from the cached snapshot.
func listTransactionsHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions")
		defer span.End()

		req, err := parsePageRequest(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		engine := EngineFromContext(ctx)

		page, err := engine.LoadPage(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		nav := query.Nav(r.URL.Query().Get("nav"))
		if target := query.Navigate(nav, req.PageNumber, page.TotalPages); target != req.PageNumber {
			req.PageNumber = target
			page, err = engine.LoadPage(ctx, req)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}

		span.SetAttributes(
			attribute.Int("page", page.PageNumber),
			attribute.Int("total_count", page.TotalCount),
		)
		writeJSON(w, http.StatusOK, page)
	}
}

func refreshHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		EngineFromContext(r.Context()).Refresh()
		logger.Debug("transactions: refresh requested",
			zap.String("session_id", w.Header().Get(SessionHeader)),
		)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ============================================================
// Sessions
// ============================================================

func endSessionHandler(sessions *service.Sessions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionId")
		if !sessions.End(id) {
			handleServiceError(w, &domain.ErrNotFound{Resource: "session", ID: id}, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ============================================================
// Metrics & Health
// ============================================================

func cacheMetricsHandler(sessions *service.Sessions, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetCacheSnapshot(sessions.Len()))
	}
}

// healthzHandler probes the document store with a point read of a sentinel
// id; "not found" is a healthy answer.
func healthzHandler(store port.DocumentStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "bfa-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		if store != nil {
			start := time.Now()
			_, err := store.Get(ctx, domain.CollectionClients, "health-check")
			latency := time.Since(start).Milliseconds()

			status := "healthy"
			var notFound *domain.ErrNotFound
			if err != nil && !errors.As(err, &notFound) {
				status = "degraded"
				logger.Warn("healthz: document store probe failed", zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: "document-store", Status: status, LatencyMs: latency, LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
