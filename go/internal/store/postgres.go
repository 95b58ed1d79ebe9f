package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/mcdev12/cylink/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL,
		color              TEXT NOT NULL,
		effect             TEXT NOT NULL,
		mode               TEXT NOT NULL,
		program_start_time TIMESTAMPTZ,
		is_program_running BOOLEAN NOT NULL DEFAULT FALSE,
		connected_users    INTEGER NOT NULL DEFAULT 0,
		run_generation     BIGINT NOT NULL DEFAULT 0,
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS programs (
		session_id     TEXT PRIMARY KEY,
		id             TEXT NOT NULL,
		name           TEXT,
		segments       JSONB,
		total_duration BIGINT NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
}

const (
	selectSessionSQL = `SELECT id, name, created_at, color, effect, mode, program_start_time,
		is_program_running, connected_users, run_generation FROM sessions`

	upsertSessionSQL = `INSERT INTO sessions (
		id, name, created_at, color, effect, mode, program_start_time,
		is_program_running, connected_users, run_generation, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		color = EXCLUDED.color,
		effect = EXCLUDED.effect,
		mode = EXCLUDED.mode,
		program_start_time = EXCLUDED.program_start_time,
		is_program_running = EXCLUDED.is_program_running,
		connected_users = EXCLUDED.connected_users,
		run_generation = EXCLUDED.run_generation,
		updated_at = now()`

	selectProgramSQL = `SELECT id, name, segments, total_duration, created_at, updated_at
		FROM programs WHERE session_id = $1`

	upsertProgramSQL = `INSERT INTO programs (
		session_id, id, name, segments, total_duration, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (session_id) DO UPDATE SET
		id = EXCLUDED.id,
		name = EXCLUDED.name,
		segments = EXCLUDED.segments,
		total_duration = EXCLUDED.total_duration,
		updated_at = EXCLUDED.updated_at`
)

// PostgresBackend stores sessions and programs in Postgres via lib/pq.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend wraps an open database handle
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// EnsureSchema creates the tables if they do not exist.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	return sqlutil.Run(ctx, p.db, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		return nil
	})
}

func (p *PostgresBackend) Name() string                   { return "postgres" }
func (p *PostgresBackend) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *PostgresBackend) Close() error                   { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s         models.Session
		effect    string
		mode      string
		startTime sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.Name, &s.CreatedAt, &s.Color, &effect, &mode, &startTime,
		&s.IsProgramRunning, &s.ConnectedUsers, &s.RunGeneration); err != nil {
		return nil, err
	}
	s.Effect = models.EffectType(effect)
	s.Mode = models.SessionMode(mode)
	s.ProgramStartTime = sqlutil.FromSqlTime(startTime)
	return &s, nil
}

func (p *PostgresBackend) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s, err := scanSession(p.db.QueryRowContext(ctx, selectSessionSQL+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (p *PostgresBackend) PutSession(ctx context.Context, s *models.Session) error {
	_, err := p.db.ExecContext(ctx, upsertSessionSQL,
		s.ID, s.Name, s.CreatedAt.UTC(), s.Color, string(s.Effect), string(s.Mode),
		sqlutil.ToSqlTime(s.ProgramStartTime), s.IsProgramRunning, s.ConnectedUsers, s.RunGeneration,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

func (p *PostgresBackend) DeleteSession(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (p *PostgresBackend) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := p.db.QueryContext(ctx, selectSessionSQL+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) GetProgram(ctx context.Context, sessionID string) (*models.Program, error) {
	var (
		prog     models.Program
		name     sql.NullString
		segments pqtype.NullRawMessage
	)
	err := p.db.QueryRowContext(ctx, selectProgramSQL, sessionID).
		Scan(&prog.ID, &name, &segments, &prog.TotalDuration, &prog.CreatedAt, &prog.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get program: %w", err)
	}

	prog.Name = sqlutil.FromSqlString(name, "")
	if err := sqlutil.FromRawMessage(segments, &prog.Segments); err != nil {
		return nil, fmt.Errorf("failed to decode segments: %w", err)
	}
	if prog.Segments == nil {
		prog.Segments = []models.ProgramSegment{}
	}
	return &prog, nil
}

func (p *PostgresBackend) PutProgram(ctx context.Context, sessionID string, prog *models.Program) error {
	segments, err := sqlutil.ToRawMessage(prog.Segments)
	if err != nil {
		return fmt.Errorf("failed to encode segments: %w", err)
	}
	_, err = p.db.ExecContext(ctx, upsertProgramSQL,
		sessionID, prog.ID, sqlutil.ToSqlString(prog.Name), segments, prog.TotalDuration,
		prog.CreatedAt.UTC(), prog.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert program: %w", err)
	}
	return nil
}

func (p *PostgresBackend) DeleteProgram(ctx context.Context, sessionID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM programs WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete program: %w", err)
	}
	return nil
}
