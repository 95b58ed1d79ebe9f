package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the redis backend settings
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	SessionTTL time.Duration
	ProgramTTL time.Duration
}

// DefaultRedisConfig keeps sessions for 24h and programs for 7 days
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:       "localhost:6379",
		KeyPrefix:  "cylink",
		SessionTTL: 24 * time.Hour,
		ProgramTTL: 7 * 24 * time.Hour,
	}
}

// RedisBackend stores JSON records with native expiry. The session TTL
// is refreshed on every write, so a session expires 24h after its last
// change.
type RedisBackend struct {
	client *redis.Client
	config RedisConfig
}

// NewRedisBackend connects to redis and verifies the connection.
func NewRedisBackend(ctx context.Context, config RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", config.Addr, err)
	}

	return &RedisBackend{client: client, config: config}, nil
}

func (r *RedisBackend) Name() string                   { return "redis" }
func (r *RedisBackend) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }
func (r *RedisBackend) Close() error                   { return r.client.Close() }

func (r *RedisBackend) sessionKey(id string) string {
	return r.config.KeyPrefix + ":session:" + id
}

func (r *RedisBackend) programKey(sessionID string) string {
	return r.config.KeyPrefix + ":program:" + sessionID
}

func (r *RedisBackend) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	if err := r.getJSON(ctx, r.sessionKey(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisBackend) PutSession(ctx context.Context, session *models.Session) error {
	record := session.Clone()
	record.Program = nil
	return r.setJSON(ctx, r.sessionKey(session.ID), record, r.config.SessionTTL)
}

func (r *RedisBackend) DeleteSession(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisBackend) ListSessions(ctx context.Context) ([]*models.Session, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.sessionKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sessions: %w", err)
	}

	out := make([]*models.Session, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var s models.Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		out = append(out, &s)
	}
	return out, nil
}

func (r *RedisBackend) GetProgram(ctx context.Context, sessionID string) (*models.Program, error) {
	var p models.Program
	if err := r.getJSON(ctx, r.programKey(sessionID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *RedisBackend) PutProgram(ctx context.Context, sessionID string, program *models.Program) error {
	return r.setJSON(ctx, r.programKey(sessionID), program, r.config.ProgramTTL)
}

func (r *RedisBackend) DeleteProgram(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.programKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete program: %w", err)
	}
	return nil
}

func (r *RedisBackend) getJSON(ctx context.Context, key string, v any) error {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
