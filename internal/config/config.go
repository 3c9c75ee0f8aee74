package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the crashdeck server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Retrace   RetraceConfig
	Ingest    IngestConfig
	Reconcile ReconcileConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// RetraceConfig points at the external deobfuscation service. An empty
// BaseURL disables decoding: crashes are grouped on their raw traces.
type RetraceConfig struct {
	BaseURL string
	Timeout time.Duration
}

type IngestConfig struct {
	RateLimitPerMinute int
	MaxBodyBytes       int64
}

type ReconcileConfig struct {
	ScanConcurrency int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CRASHDECK_PORT", 8080),
			Env:  envString("CRASHDECK_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Retrace: RetraceConfig{
			BaseURL: os.Getenv("RETRACE_BASE_URL"),
			Timeout: envDuration("RETRACE_TIMEOUT", 10*time.Second),
		},
		Ingest: IngestConfig{
			RateLimitPerMinute: envInt("INGEST_RATE_LIMIT_PER_MINUTE", 600),
			MaxBodyBytes:       int64(envInt("INGEST_MAX_BODY_BYTES", 1<<20)),
		},
		Reconcile: ReconcileConfig{
			ScanConcurrency: envInt("RECONCILE_SCAN_CONCURRENCY", 8),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Retrace.BaseURL != "" &&
		!strings.HasPrefix(c.Retrace.BaseURL, "http://") && !strings.HasPrefix(c.Retrace.BaseURL, "https://") {
		return fmt.Errorf("RETRACE_BASE_URL must start with http:// or https://, got %q", c.Retrace.BaseURL)
	}

	if c.Ingest.RateLimitPerMinute < 1 {
		return fmt.Errorf("INGEST_RATE_LIMIT_PER_MINUTE must be positive, got %d", c.Ingest.RateLimitPerMinute)
	}

	if c.Reconcile.ScanConcurrency < 1 {
		return fmt.Errorf("RECONCILE_SCAN_CONCURRENCY must be positive, got %d", c.Reconcile.ScanConcurrency)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
