package store

import (
	"context"
	"errors"

	"github.com/mcdev12/cylink/go/internal/models"
)

// ErrNotFound is returned when a session or program record is absent
var ErrNotFound = errors.New("not found")

// SessionBackend is the durable system of record for session state.
// Records never carry the program; programs live in ProgramBackend.
type SessionBackend interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	PutSession(ctx context.Context, session *models.Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]*models.Session, error)
}

// ProgramBackend persists one program per session id.
type ProgramBackend interface {
	GetProgram(ctx context.Context, sessionID string) (*models.Program, error)
	PutProgram(ctx context.Context, sessionID string, program *models.Program) error
	DeleteProgram(ctx context.Context, sessionID string) error
}

// Backend is a durable store for both record kinds.
type Backend interface {
	SessionBackend
	ProgramBackend
	Name() string
	Ping(ctx context.Context) error
	Close() error
}
