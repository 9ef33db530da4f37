package config

import (
	"fmt"
	"log/slog"
	"time"
)

// ServerConfig holds the runtime configuration for the repository HTTP server
// and its dependencies. Values are read from SPANTRAIL_* environment variables.
type ServerConfig struct {
	Host            string
	Port            int
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	DatabaseURL  string
	RedisURL     string
	KafkaBrokers []string

	BatchSize     int
	BatchInterval time.Duration
	LogRetention  time.Duration

	CORSAllowedOrigins []string
	RateLimitPerSecond int
	RateLimitBurst     int
}

// LoadServerConfig reads the repository's configuration from the environment,
// applying defaults for anything unset.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            GetEnvStr("SPANTRAIL_HOST", "0.0.0.0"),
		Port:            GetEnvInt("SPANTRAIL_PORT", 8080),
		LogLevel:        GetEnvLogLevel("SPANTRAIL_LOG_LEVEL", slog.LevelInfo),
		ShutdownTimeout: GetEnvDuration("SPANTRAIL_SHUTDOWN_TIMEOUT", 15*time.Second),

		DatabaseURL:  GetEnvStr("DATABASE_URL", "postgres://localhost:5432/spantrail?sslmode=disable"),
		RedisURL:     GetEnvStr("REDIS_URL", "redis://localhost:6379/0"),
		KafkaBrokers: ParseCommaSeparatedList(GetEnvStr("KAFKA_BROKERS", "localhost:9092")),

		BatchSize:     GetEnvInt("EVENTS_BATCH_SIZE", 100),
		BatchInterval: GetEnvDuration("EVENTS_BATCH_INTERVAL", 2*time.Second),
		LogRetention:  GetEnvDuration("EVENTS_DEFAULT_LOG_RETENTION", 30*24*time.Hour),

		CORSAllowedOrigins: ParseCommaSeparatedList(GetEnvStr("SPANTRAIL_CORS_ORIGINS", "*")),
		RateLimitPerSecond: GetEnvInt("SPANTRAIL_RATE_LIMIT_RPS", 50),
		RateLimitBurst:     GetEnvInt("SPANTRAIL_RATE_LIMIT_BURST", 100),
	}
}

// Validate checks that the configuration is internally consistent.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("config: EVENTS_BATCH_SIZE must be positive, got %d", c.BatchSize)
	}

	if c.BatchInterval <= 0 {
		return fmt.Errorf("config: EVENTS_BATCH_INTERVAL must be positive, got %s", c.BatchInterval)
	}

	return nil
}
