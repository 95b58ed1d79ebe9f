package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ProgramStore persists programs keyed by session id, independently of
// whether the session itself is cached.
type ProgramStore struct {
	backend ProgramBackend
	clock   clockwork.Clock
	breaker *gobreaker.CircuitBreaker[any]
}

// NewProgramStore creates a program store
func NewProgramStore(backend ProgramBackend, clock clockwork.Clock, breaker BreakerConfig) *ProgramStore {
	return &ProgramStore{
		backend: backend,
		clock:   clock,
		breaker: newBreaker("program-backend", breaker),
	}
}

// Save validates and upserts the program for a session. It assigns ids
// where missing, recomputes the total duration and stamps updatedAt.
func (p *ProgramStore) Save(ctx context.Context, sessionID string, program *models.Program) (*models.Program, error) {
	saved := program.Clone()
	saved.Normalize()
	if err := saved.Validate(); err != nil {
		return nil, err
	}

	now := p.clock.Now()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}
	saved.UpdatedAt = now

	if err := guard(p.breaker, func() error {
		return p.backend.PutProgram(ctx, sessionID, saved)
	}); err != nil {
		return nil, fmt.Errorf("failed to save program: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("program_id", saved.ID).
		Int("segments", len(saved.Segments)).
		Int64("total_duration_ms", saved.TotalDuration).
		Msg("program saved")

	return saved.Clone(), nil
}

// Load returns the last saved program for a session, or nil if none exists.
func (p *ProgramStore) Load(ctx context.Context, sessionID string) (*models.Program, error) {
	program, err := guardValue(p.breaker, func() (*models.Program, error) {
		return p.backend.GetProgram(ctx, sessionID)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load program: %w", err)
	}
	program.RecomputeDuration()
	return program, nil
}

// Delete removes a session's program.
func (p *ProgramStore) Delete(ctx context.Context, sessionID string) error {
	if err := guard(p.breaker, func() error {
		return p.backend.DeleteProgram(ctx, sessionID)
	}); err != nil {
		return fmt.Errorf("failed to delete program: %w", err)
	}
	return nil
}
