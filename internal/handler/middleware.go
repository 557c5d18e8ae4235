package handler

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/infra/cache"
	"github.com/boddenberg/ledger-bfa-go/internal/service"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SessionHeader carries the session id in both directions.
const SessionHeader = "X-Session-ID"

type contextKey string

const engineKey contextKey = "engine"

// SessionMiddleware attaches the caller's page engine to the request context,
// starting a session when the header is absent or unknown, and echoes the
// session id back in the response.
func SessionMiddleware(sessions *service.Sessions, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requested := r.Header.Get(SessionHeader)
			svc, id := sessions.Get(requested)
			if requested != "" && requested != id {
				logger.Debug("session: replaced unknown session id",
					zap.String("requested", requested),
					zap.String("session_id", id),
				)
			}

			w.Header().Set(SessionHeader, id)
			ctx := context.WithValue(r.Context(), engineKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// EngineFromContext returns the page engine set by SessionMiddleware.
func EngineFromContext(ctx context.Context) *service.TransactionsService {
	v, _ := ctx.Value(engineKey).(*service.TransactionsService)
	return v
}

// RateLimit configures the token bucket of each caller.
type RateLimit struct {
	PerSecond float64
	Burst     int
}

// RateLimiter gives every caller its own token bucket. Idle buckets are
// forgotten after idleTTL. Close stops the bucket janitor.
type RateLimiter struct {
	limit   RateLimit
	mu      sync.Mutex
	buckets *cache.InMemory[*rate.Limiter]
	logger  *zap.Logger
}

// NewRateLimiter creates a per-caller limiter.
func NewRateLimiter(limit RateLimit, idleTTL time.Duration, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		buckets: cache.New[*rate.Limiter](idleTTL),
		logger:  logger,
	}
}

// Close stops the background cleanup of idle buckets.
func (l *RateLimiter) Close() {
	l.buckets.Close()
}

func (l *RateLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.limit.PerSecond), l.limit.Burst)
	}
	l.buckets.Set(key, b)
	return b
}

// Middleware limits requests per caller. The caller is the session resolved
// by SessionMiddleware, else the remote address.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := w.Header().Get(SessionHeader)
		if key == "" {
			key = remoteHost(r)
		}

		if !l.bucket(key).Allow() {
			l.logger.Warn("rate limit exceeded",
				zap.String("key", key),
				zap.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
