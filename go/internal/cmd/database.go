package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mcdev12/cylink/go/internal/dbconfig"
	"github.com/mcdev12/cylink/go/internal/store"
	"github.com/rs/zerolog/log"
)

func setupDatabase(ctx context.Context) (*sql.DB, error) {
	dbConfig := dbconfig.NewConfigFromEnv()

	database, err := sql.Open("postgres", dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	database.SetMaxOpenConns(dbConfig.MaxOpenConns)
	database.SetMaxIdleConns(dbConfig.MaxIdleConns)
	database.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("database", dbConfig.Redacted()).Msg("connected to database")
	return database, nil
}

// setupBackend opens the durable store selected by config.
func setupBackend(ctx context.Context, config *Config) (store.Backend, error) {
	switch config.Store.Backend {
	case backendPostgres:
		database, err := setupDatabase(ctx)
		if err != nil {
			return nil, err
		}
		backend := store.NewPostgresBackend(database)
		if err := backend.EnsureSchema(ctx); err != nil {
			backend.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		return backend, nil

	case backendRedis:
		redisConfig := store.DefaultRedisConfig()
		redisConfig.Addr = config.Redis.Addr
		redisConfig.Password = config.Redis.Password
		redisConfig.DB = config.Redis.DB
		return store.NewRedisBackend(ctx, redisConfig)

	default:
		return store.NewMemoryBackend(), nil
	}
}
