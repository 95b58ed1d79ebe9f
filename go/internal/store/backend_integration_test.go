package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseBackend runs the same contract checks against any Backend.
func exerciseBackend(t *testing.T, backend Backend) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, backend.Ping(ctx))

	id := uuid.NewString()
	_, err := backend.GetSession(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)

	start := time.Now().UTC().Truncate(time.Millisecond)
	s := models.NewSession(id, "Contract", start)
	s.Mode = models.SessionModeProgram
	s.IsProgramRunning = true
	s.ProgramStartTime = &start
	s.ConnectedUsers = 4
	s.RunGeneration = 3
	s.Program = twoSegmentProgram()
	require.NoError(t, backend.PutSession(ctx, s))

	got, err := backend.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, s.Name, got.Name)
	assert.Equal(t, s.Mode, got.Mode)
	assert.True(t, got.IsProgramRunning)
	require.NotNil(t, got.ProgramStartTime)
	assert.True(t, start.Equal(*got.ProgramStartTime))
	assert.Equal(t, 4, got.ConnectedUsers)
	assert.Equal(t, uint64(3), got.RunGeneration)
	assert.Nil(t, got.Program)

	list, err := backend.ListSessions(ctx)
	require.NoError(t, err)
	found := false
	for _, l := range list {
		if l.ID == id {
			found = true
		}
	}
	assert.True(t, found)

	_, err = backend.GetProgram(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)

	p := twoSegmentProgram()
	p.Normalize()
	p.CreatedAt = start
	p.UpdatedAt = start
	require.NoError(t, backend.PutProgram(ctx, id, p))

	gotProgram, err := backend.GetProgram(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, p.Segments, gotProgram.Segments)
	assert.Equal(t, p.TotalDuration, gotProgram.TotalDuration)

	require.NoError(t, backend.DeleteProgram(ctx, id))
	require.NoError(t, backend.DeleteSession(ctx, id))
	_, err = backend.GetSession(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackendContract(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend())
}

func TestPostgresBackendContract(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	backend := NewPostgresBackend(db)
	t.Cleanup(func() { _ = backend.Close() })

	require.NoError(t, backend.EnsureSchema(context.Background()))
	exerciseBackend(t, backend)
}

func TestRedisBackendContract(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	cfg := DefaultRedisConfig()
	cfg.Addr = addr
	cfg.KeyPrefix = "cylink-test"
	backend, err := NewRedisBackend(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	exerciseBackend(t, backend)
}
