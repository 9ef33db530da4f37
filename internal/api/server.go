// Package api provides the repository's minimal HTTP ingress: a thin
// surface exercising C3 (tracestore), C5 (pipeline), and C6 (ingest)
// end-to-end, grounded on the teacher's middleware chain and the
// ktr0328-pipeline_engine Server/ListenAndServe/Shutdown shape.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spantrail/spantrail/internal/api/middleware"
	"github.com/spantrail/spantrail/internal/config"
)

// Server is the repository's HTTP ingress.
type Server struct {
	cfg        *config.ServerConfig
	store      traceStore
	ingestor   eventSender
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server
}

// NewServer wires routes, the middleware chain (correlation ID, recovery,
// rate limiting, request logging, CORS — authentication is deliberately
// absent, per spec.md's out-of-scope "authentication middleware" note), and
// returns a Server ready to Start.
func NewServer(
	cfg *config.ServerConfig,
	store traceStore,
	ingestor eventSender,
	limiter middleware.RateLimiter,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, store: store, ingestor: ingestor, logger: logger}

	corsCfg := ToCORSConfig(cfg)

	s.handler = middleware.Apply(s.routes(),
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(limiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(corsCfg),
	)

	return s
}

// Start begins serving and blocks until the server stops or an error occurs.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              Address(s.cfg),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting repository HTTP server", slog.String("address", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully stops the underlying HTTP server, then the store's
// batch scheduler.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}

	return s.store.Close()
}

// Handler exposes the wrapped handler, useful for tests that drive the
// server via httptest without binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}
