// Package api provides HTTP API server implementation for the repository service.
package api

import (
	"fmt"

	"github.com/spantrail/spantrail/internal/config"
)

// Address returns the server address in host:port format.
func Address(cfg *config.ServerConfig) string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// CORSConfig holds CORS configuration options, derived from ServerConfig's
// allowed-origins setting. Methods and headers are fixed: the API only ever
// exposes the routes in routes.go, so there is nothing to configure there.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

const defaultCORSMaxAge = 86400

// ToCORSConfig builds the CORS configuration the middleware chain applies.
func ToCORSConfig(cfg *config.ServerConfig) CORSConfig {
	return CORSConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Correlation-ID", "X-Client-ID"},
		MaxAge:         defaultCORSMaxAge,
	}
}

// GetAllowedOrigins returns the allowed origins for CORS.
func (c CORSConfig) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

// GetAllowedMethods returns the allowed methods for CORS.
func (c CORSConfig) GetAllowedMethods() []string {
	return c.AllowedMethods
}

// GetAllowedHeaders returns the allowed headers for CORS.
func (c CORSConfig) GetAllowedHeaders() []string {
	return c.AllowedHeaders
}

// GetMaxAge returns the max age for CORS preflight cache.
func (c CORSConfig) GetMaxAge() int {
	return c.MaxAge
}
