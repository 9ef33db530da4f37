package api

import "net/http"

// routes registers the minimal HTTP surface exercising C3/C5/C6, per
// spec.md's "HTTP/SDK surface is out of scope, referenced only by the
// interfaces it supplies" scope note.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/spans", s.handleIngestSpan)
	mux.HandleFunc("GET /api/v1/traces/{traceId}", s.handleGetTraceSummary)
	mux.HandleFunc("GET /api/v1/traces/{traceId}/subscribe", s.handleSubscribeTrace)
	mux.HandleFunc("POST /api/v1/events", s.handleIngestEvent)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	return mux
}
