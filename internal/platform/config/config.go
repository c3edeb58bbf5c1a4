// Package config loads server configuration from the environment so main
// stays lean. A .env file is honored in development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"idregistry/pkg/platform/listparse"
)

// Config is the full server configuration.
type Config struct {
	Addr        string
	PostgresDSN string
	RedisURL    string

	KafkaBrokers []string
	KafkaTopic   string

	DefaultPageSize int
	MaxPageSize     int

	ShutdownTimeout time.Duration
}

// FromEnv builds the configuration from environment variables. Values that
// are not set fall back to development defaults; only the Postgres DSN is
// genuinely required and validated by the caller on connect.
func FromEnv() Config {
	_ = godotenv.Load()

	cfg := Config{
		Addr:            envOr("REGISTRY_ADDR", ":8080"),
		PostgresDSN:     os.Getenv("REGISTRY_POSTGRES_DSN"),
		RedisURL:        os.Getenv("REGISTRY_REDIS_URL"),
		KafkaTopic:      envOr("REGISTRY_KAFKA_TOPIC", "registry.operations"),
		DefaultPageSize: envIntOr("REGISTRY_PAGE_SIZE", 10),
		MaxPageSize:     envIntOr("REGISTRY_MAX_PAGE_SIZE", 100),
		ShutdownTimeout: envDurationOr("REGISTRY_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	cfg.KafkaBrokers = listparse.Split(os.Getenv("REGISTRY_KAFKA_BROKERS"))
	return cfg
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
