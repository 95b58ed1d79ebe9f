package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cylink/go/internal/metrics"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
)

// SessionStoreConfig holds cache and write-behind settings
type SessionStoreConfig struct {
	WriteRetries     int
	RetryBackoff     time.Duration
	WriteTimeout     time.Duration
	EvictionInterval time.Duration
	// EvictIdle is how long a zero-user entry must go untouched before
	// the sweep drops it from the cache.
	EvictIdle time.Duration
	Breaker   BreakerConfig
}

// DefaultSessionStoreConfig returns production defaults
func DefaultSessionStoreConfig() SessionStoreConfig {
	return SessionStoreConfig{
		WriteRetries:     3,
		RetryBackoff:     200 * time.Millisecond,
		WriteTimeout:     5 * time.Second,
		EvictionInterval: time.Minute,
		EvictIdle:        5 * time.Minute,
		Breaker:          DefaultBreakerConfig(),
	}
}

type cacheEntry struct {
	session   *models.Session
	touchedAt time.Time
}

type writeOp struct {
	session *models.Session // nil means delete
	done    chan error
}

// SessionStore is a read-through cache in front of a SessionBackend.
// Saves update the cache synchronously and reach the backend through a
// per-session write-behind queue, so the last save always wins.
type SessionStore struct {
	backend  SessionBackend
	programs *ProgramStore
	clock    clockwork.Clock
	metrics  metrics.Collector
	config   SessionStoreConfig
	breaker  *gobreaker.CircuitBreaker[any]
	group    singleflight.Group

	mu    sync.RWMutex
	cache map[string]*cacheEntry

	wmu      sync.Mutex
	pending  map[string]writeOp
	inflight map[string]bool
	// dirty holds ids whose last durable write failed. Their cache entry
	// is the only copy of the current state until a rewrite succeeds.
	dirty   map[string]bool
	writers sync.WaitGroup
}

// NewSessionStore creates a session store. programs is used to reattach
// a session's program when the session is loaded from the backend.
func NewSessionStore(backend SessionBackend, programs *ProgramStore, clock clockwork.Clock, collector metrics.Collector, config SessionStoreConfig) *SessionStore {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	return &SessionStore{
		backend:  backend,
		programs: programs,
		clock:    clock,
		metrics:  collector,
		config:   config,
		breaker:  newBreaker("session-backend", config.Breaker),
		cache:    make(map[string]*cacheEntry),
		pending:  make(map[string]writeOp),
		inflight: make(map[string]bool),
		dirty:    make(map[string]bool),
	}
}

// Create allocates a session with default state and persists it before returning.
func (s *SessionStore) Create(ctx context.Context, name string) (*models.Session, error) {
	session := models.NewSession(uuid.NewString(), name, s.clock.Now())

	if err := s.writeWithRetry(ctx, "create_session", func(ctx context.Context) error {
		return s.backend.PutSession(ctx, session)
	}); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.putCache(session)

	log.Info().
		Str("session_id", session.ID).
		Str("name", session.Name).
		Msg("session created")

	return session.Clone(), nil
}

// Get returns the session from cache, loading it from the backend on a miss.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	if session, ok := s.cached(id); ok {
		s.metrics.CacheLookup(true)
		return session, nil
	}
	s.metrics.CacheLookup(false)

	v, err, _ := s.group.Do(id, func() (any, error) {
		return s.load(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Session).Clone(), nil
}

func (s *SessionStore) load(ctx context.Context, id string) (*models.Session, error) {
	session, err := guardValue(s.breaker, func() (*models.Session, error) {
		return s.backend.GetSession(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	if s.programs != nil {
		program, err := s.programs.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to reattach program for session %s: %w", id, err)
		}
		session.Program = program
	}

	// A save that raced the load wins.
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cache[id]; ok {
		return e.session.Clone(), nil
	}
	s.cache[id] = &cacheEntry{session: session.Clone(), touchedAt: s.clock.Now()}

	log.Debug().Str("session_id", id).Msg("session loaded from backend")
	return session, nil
}

// Save writes the session to the cache and queues the durable write.
func (s *SessionStore) Save(ctx context.Context, session *models.Session) {
	s.putCache(session)
	s.enqueue(session.ID, writeOp{session: session.Clone()})
}

// Delete drops the session from cache and backend.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	s.group.Forget(id)

	done := make(chan error, 1)
	s.enqueue(id, writeOp{done: done})

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to delete session %s: %w", id, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns all durable sessions, preferring cached state.
func (s *SessionStore) List(ctx context.Context) ([]*models.Session, error) {
	records, err := guardValue(s.breaker, func() ([]*models.Session, error) {
		return s.backend.ListSessions(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	seen := make(map[string]bool, len(records))
	out := make([]*models.Session, 0, len(records))
	for _, r := range records {
		seen[r.ID] = true
		if cached, ok := s.peek(r.ID); ok {
			out = append(out, cached)
			continue
		}
		out = append(out, r)
	}

	// Sessions whose first write is still queued.
	s.mu.RLock()
	for id, e := range s.cache {
		if !seen[id] {
			out = append(out, e.session.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Run sweeps idle cache entries until ctx is cancelled.
func (s *SessionStore) Run(ctx context.Context) {
	if s.config.EvictionInterval <= 0 {
		return
	}
	ticker := s.clock.NewTicker(s.config.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sweep()
		}
	}
}

// Sweep evicts cache entries with no connected users that have been idle
// for EvictIdle and have no queued or failed write. Sessions whose last
// write failed are queued for another attempt. It never deletes from the
// backend.
func (s *SessionStore) Sweep() int {
	now := s.clock.Now()

	s.wmu.Lock()
	busy := make(map[string]bool, len(s.pending)+len(s.inflight)+len(s.dirty))
	for id := range s.pending {
		busy[id] = true
	}
	for id := range s.inflight {
		busy[id] = true
	}
	var retry []string
	for id := range s.dirty {
		if !busy[id] {
			retry = append(retry, id)
		}
		busy[id] = true
	}
	s.wmu.Unlock()

	s.retryDirty(retry)

	s.mu.Lock()
	evicted := 0
	for id, e := range s.cache {
		if e.session.ConnectedUsers > 0 || busy[id] {
			continue
		}
		if now.Sub(e.touchedAt) < s.config.EvictIdle {
			continue
		}
		delete(s.cache, id)
		evicted++
	}
	remaining := len(s.cache)
	s.mu.Unlock()

	if evicted > 0 {
		log.Info().
			Int("evicted", evicted).
			Int("cached", remaining).
			Msg("evicted idle sessions from cache")
	}
	return evicted
}

func (s *SessionStore) retryDirty(ids []string) {
	for _, id := range ids {
		session, ok := s.peek(id)
		if !ok {
			// deleted since the failed write
			s.wmu.Lock()
			delete(s.dirty, id)
			s.wmu.Unlock()
			continue
		}
		log.Info().Str("session_id", id).Msg("retrying failed durable session write")
		s.enqueue(id, writeOp{session: session})
	}
}

// Cached reports whether id currently has a cache entry.
func (s *SessionStore) Cached(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[id]
	return ok
}

// Flush blocks until every queued write has been attempted.
func (s *SessionStore) Flush() {
	s.writers.Wait()
}

func (s *SessionStore) cached(id string) (*models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[id]
	if !ok {
		return nil, false
	}
	e.touchedAt = s.clock.Now()
	return e.session.Clone(), true
}

func (s *SessionStore) peek(id string) (*models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[id]
	if !ok {
		return nil, false
	}
	return e.session.Clone(), true
}

func (s *SessionStore) putCache(session *models.Session) {
	if session.ConnectedUsers < 0 {
		session.ConnectedUsers = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[session.ID] = &cacheEntry{session: session.Clone(), touchedAt: s.clock.Now()}
}

func (s *SessionStore) enqueue(id string, op writeOp) {
	s.wmu.Lock()
	if prev, ok := s.pending[id]; ok && prev.done != nil {
		// superseded delete
		prev.done <- nil
	}
	s.pending[id] = op
	if s.inflight[id] {
		s.wmu.Unlock()
		return
	}
	s.inflight[id] = true
	s.writers.Add(1)
	s.wmu.Unlock()

	go s.drain(id)
}

func (s *SessionStore) drain(id string) {
	defer s.writers.Done()

	for {
		s.wmu.Lock()
		op, ok := s.pending[id]
		if !ok {
			delete(s.inflight, id)
			s.wmu.Unlock()
			return
		}
		delete(s.pending, id)
		s.wmu.Unlock()

		ctx := context.Background()
		if op.session == nil {
			err := s.writeWithRetry(ctx, "delete_session", func(ctx context.Context) error {
				return s.backend.DeleteSession(ctx, id)
			})
			if err == nil {
				s.markDirty(id, false)
			}
			op.done <- err
			continue
		}

		session := op.session
		err := s.writeWithRetry(ctx, "put_session", func(ctx context.Context) error {
			return s.backend.PutSession(ctx, session)
		})
		s.markDirty(id, err != nil)
		if err != nil {
			// The cache holds the intended state and is pinned until a
			// later write succeeds.
			log.Error().
				Err(err).
				Str("session_id", id).
				Msg("durable session write failed, cache remains authoritative")
		}
	}
}

func (s *SessionStore) markDirty(id string, dirty bool) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if dirty {
		s.dirty[id] = true
	} else {
		delete(s.dirty, id)
	}
}

func (s *SessionStore) writeWithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := s.config.WriteRetries
	if attempts < 1 {
		attempts = 1
	}
	backoff := s.config.RetryBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = guard(s.breaker, func() error {
			wctx, cancel := withTimeout(ctx, s.config.WriteTimeout)
			defer cancel()
			return fn(wctx)
		})
		s.metrics.BackendWrite(op, attempt, err == nil)
		if err == nil {
			return nil
		}

		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Msg("backend write failed")

		if attempt == attempts || backoff <= 0 {
			continue
		}
		select {
		case <-s.clock.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
