package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mcdev12/cylink/go/internal/models"
)

// MemoryBackend keeps records in process. Used for single-instance
// deployments and tests.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	programs map[string]*models.Program
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions: make(map[string]*models.Session),
		programs: make(map[string]*models.Program),
	}
}

func (m *MemoryBackend) Name() string                   { return "memory" }
func (m *MemoryBackend) Ping(ctx context.Context) error { return nil }
func (m *MemoryBackend) Close() error                   { return nil }

func (m *MemoryBackend) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryBackend) PutSession(ctx context.Context, session *models.Session) error {
	record := session.Clone()
	record.Program = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = record
	return nil
}

func (m *MemoryBackend) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryBackend) ListSessions(ctx context.Context) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryBackend) GetProgram(ctx context.Context, sessionID string) (*models.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.programs[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryBackend) PutProgram(ctx context.Context, sessionID string, program *models.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[sessionID] = program.Clone()
	return nil
}

func (m *MemoryBackend) DeleteProgram(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.programs, sessionID)
	return nil
}
