package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

// Config is the server configuration. Values come from the optional YAML
// file first, then environment variables override them.
type Config struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Store struct {
		Backend          string        `yaml:"backend"`
		EvictionInterval time.Duration `yaml:"eviction_interval"`
		EvictionMaxAge   time.Duration `yaml:"eviction_max_age"`
	} `yaml:"store"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Program struct {
		LeadTime         time.Duration `yaml:"lead_time"`
		PresenceDebounce time.Duration `yaml:"presence_debounce"`
	} `yaml:"program"`

	NATSURL string `yaml:"nats_url"`
	AMQPURL string `yaml:"amqp_url"`
}

func defaultConfig() *Config {
	cfg := &Config{
		Port:       "3001",
		CORSOrigin: "*",
	}
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	cfg.Store.Backend = backendMemory
	cfg.Store.EvictionInterval = time.Minute
	cfg.Store.EvictionMaxAge = 5 * time.Minute
	cfg.Redis.Addr = "localhost:6379"
	cfg.Program.LeadTime = time.Second
	cfg.Program.PresenceDebounce = 100 * time.Millisecond
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid duration")
	}
	return defaultValue
}

// loadConfig reads the YAML file at path, if present, and applies
// environment overrides on top.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Port = getEnv("PORT", config.Port)
	config.CORSOrigin = getEnv("CORS_ORIGIN", config.CORSOrigin)
	config.Log.Level = getEnv("LOG_LEVEL", config.Log.Level)
	config.Log.Format = getEnv("LOG_FORMAT", config.Log.Format)
	config.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", config.Store.Backend))
	config.Store.EvictionInterval = getEnvAsDuration("EVICTION_INTERVAL", config.Store.EvictionInterval)
	config.Store.EvictionMaxAge = getEnvAsDuration("EVICTION_MAX_AGE", config.Store.EvictionMaxAge)
	config.Redis.Addr = getEnv("REDIS_ADDR", config.Redis.Addr)
	config.Redis.Password = getEnv("REDIS_PASSWORD", config.Redis.Password)
	config.Redis.DB = getEnvAsInt("REDIS_DB", config.Redis.DB)
	config.Program.LeadTime = getEnvAsDuration("PROGRAM_LEAD_TIME", config.Program.LeadTime)
	config.Program.PresenceDebounce = getEnvAsDuration("PRESENCE_DEBOUNCE", config.Program.PresenceDebounce)
	config.NATSURL = getEnv("NATS_URL", config.NATSURL)
	config.AMQPURL = getEnv("AMQP_URL", config.AMQPURL)

	switch config.Store.Backend {
	case backendMemory, backendPostgres, backendRedis:
	default:
		return nil, fmt.Errorf("unknown store backend %q", config.Store.Backend)
	}
	return config, nil
}

func setupLogging(config *Config) {
	if config.Log.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(config.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
