package service

import (
	"sync"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/infra/cache"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sessions keeps one TransactionsService per session id. A session expires
// after ttl without use; its snapshot and entity cache go with it.
type Sessions struct {
	mu      sync.Mutex
	active  *cache.InMemory[*TransactionsService]
	factory func() *TransactionsService
	logger  *zap.Logger
}

// NewSessions creates a session registry. factory builds the engine of a new
// session, usually with its own entity cache.
func NewSessions(ttl time.Duration, factory func() *TransactionsService, logger *zap.Logger) *Sessions {
	s := &Sessions{factory: factory, logger: logger}
	s.active = cache.NewWithEviction(ttl, func(id string, _ *TransactionsService) {
		logger.Debug("sessions: session ended", zap.String("session_id", id))
	})
	return s
}

// Get returns the engine of session id. An empty or unknown id starts a new
// session under a freshly minted id; callers never pick their own ids.
// The returned id is the one to use from now on. Every call extends the session.
func (s *Sessions) Get(id string) (*TransactionsService, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc, ok := s.active.Get(id); ok && id != "" {
		s.active.Set(id, svc)
		return svc, id
	}

	id = uuid.NewString()
	svc := s.factory()
	s.active.Set(id, svc)
	s.logger.Debug("sessions: session started", zap.String("session_id", id))
	return svc, id
}

// Lookup returns the engine of an existing session.
func (s *Sessions) Lookup(id string) (*TransactionsService, bool) {
	return s.active.Get(id)
}

// End destroys session id. It reports whether the session existed.
func (s *Sessions) End(id string) bool {
	if _, ok := s.active.Get(id); !ok {
		return false
	}
	s.active.Delete(id)
	return true
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	return s.active.Len()
}

// Close stops the expiry goroutine.
func (s *Sessions) Close() {
	s.active.Close()
}
