package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/config"
	"github.com/boddenberg/ledger-bfa-go/internal/handler"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/cache"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/firestoredb"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/memstore"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/observability"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/supabase"
	"github.com/boddenberg/ledger-bfa-go/internal/port"
	"github.com/boddenberg/ledger-bfa-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Config (.env is optional, for local development) ---
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	loc, _ := cfg.Location()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.Int("in_query_limit", cfg.InQueryLimit),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
		zap.String("timezone", loc.String()),
		zap.Bool("redis", cfg.RedisAddr != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "ledger-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Document store ---
	ctx := context.Background()
	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to create document store", zap.Error(err))
	}
	defer closeStore()

	// --- Shared entity tier (optional) ---
	var backing port.EntityBacking
	if cfg.RedisAddr != "" {
		redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rb, err := cache.NewRedisBacking(redisCtx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		})
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, entity cache stays process-local", zap.Error(err))
		} else {
			defer rb.Close()
			backing = rb
			logger.Info("redis entity tier enabled", zap.String("addr", cfg.RedisAddr))
		}
	}

	// --- Engine ---
	resolver := service.NewResolver(store, cfg.InQueryLimit, cfg.MaxConcurrency, metrics, logger)
	opts := service.Options{
		BaseKind:         cfg.BaseKind,
		ExcludedCategory: cfg.ExcludedCategory,
		Location:         loc,
		FetchTimeout:     cfg.HTTPTimeout * time.Duration(cfg.MaxRetries+1),
	}
	sessions := service.NewSessions(cfg.SessionTTL, func() *service.TransactionsService {
		var entities port.EntityCache = cache.NewLocal()
		if backing != nil {
			entities = cache.NewLocalWithBacking(backing, logger)
		}
		return service.NewTransactionsService(store, entities, resolver, metrics, logger, opts)
	}, logger)
	defer sessions.Close()

	// --- Router ---
	refreshLimiter := handler.NewRateLimiter(handler.RateLimit{
		PerSecond: cfg.RefreshRatePerSec,
		Burst:     cfg.RefreshBurst,
	}, 10*time.Minute, logger)
	defer refreshLimiter.Close()

	router := handler.NewRouter(sessions, store, refreshLimiter, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// newStore builds the configured document store and its cleanup.
func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.DocumentStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendFirestore:
		fs, err := firestoredb.New(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentialsFile, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using Firestore as document store", zap.String("project", cfg.FirestoreProjectID))
		return fs, func() { fs.Close() }, nil

	case config.BackendMemory:
		if cfg.MemstoreSeedFile == "" {
			logger.Warn("using an empty in-memory document store")
			return memstore.New(), func() {}, nil
		}
		ms, err := memstore.LoadFile(cfg.MemstoreSeedFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using in-memory document store", zap.String("seed", cfg.MemstoreSeedFile))
		return ms, func() {}, nil
	}

	logger.Info("using Supabase as document store", zap.String("supabase_url", cfg.SupabaseURL))
	client := supabase.NewClient(
		&http.Client{Timeout: cfg.HTTPTimeout},
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		resilience.NewCircuitBreaker("supabase"),
		resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.MaxConcurrency,
		},
		logger,
	)
	return client, func() {}, nil
}
