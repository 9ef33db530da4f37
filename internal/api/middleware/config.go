// Package middleware provides HTTP middleware components for the repository's API.
package middleware

import (
	"time"

	"github.com/spantrail/spantrail/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: applied to all requests
//   - Per-client: applied to requests carrying an X-Client-ID header
//   - Unauthenticated: applied to requests without that header
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 x rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS int // Default: 100
	ClientRPS int // Default: 50
	UnAuthRPS int // Default: 10

	// Optional burst capacity overrides (0 = compute automatically as 2 x rate) using computeBurstCapacity()
	GlobalBurst int // Default: 0 (computed as 2 x GlobalRPS = 200)
	ClientBurst int // Default: 0 (computed as 2 x ClientRPS = 100)
	UnAuthBurst int // Default: 0 (computed as 2 x UnAuthRPS = 20)

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxClients      int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
//
// Default burst capacity: 2 x rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes clients idle >1 hour
// Default max clients: 10,000 (a warning is logged once 80% of it is reached;
// the number of tracked clients is not capped).
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("SPANTRAIL_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("SPANTRAIL_CLIENT_RPS", defaultClientRPS),
		UnAuthRPS: config.GetEnvInt("SPANTRAIL_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst: config.GetEnvInt("SPANTRAIL_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("SPANTRAIL_CLIENT_BURST", 0),
		UnAuthBurst: config.GetEnvInt("SPANTRAIL_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"SPANTRAIL_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("SPANTRAIL_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("SPANTRAIL_RATE_LIMIT_MAX_CLIENTS", maxClients),
	}
}
