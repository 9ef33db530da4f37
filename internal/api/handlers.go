package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spantrail/spantrail/internal/broker"
	"github.com/spantrail/spantrail/internal/eventrecord"
	"github.com/spantrail/spantrail/internal/ingest"
	"github.com/spantrail/spantrail/internal/tracestore"
)

// traceStore narrows *tracestore.Store to what handlers need, so tests can
// drive the HTTP layer against a fake instead of a live database.
type traceStore interface {
	Insert(span tracestore.Span)
	GetTraceSummary(ctx context.Context, traceID string) (*tracestore.TraceSummary, error)
	SubscribeToTrace(ctx context.Context, traceID string) (*broker.Subscription, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// eventSender narrows *ingest.Ingestor to what handlers need.
type eventSender interface {
	Send(
		ctx context.Context,
		environmentID string,
		eventID string,
		name string,
		payload []byte,
		opts ingest.SendOptions,
		sourceContext ingest.SourceContext,
		source string,
	) (*eventrecord.Record, error)
}

var (
	_ traceStore  = (*tracestore.Store)(nil)
	_ eventSender = (*ingest.Ingestor)(nil)
)

// handleIngestSpan handles POST /api/v1/spans: decodes a span and enqueues
// it to the batch scheduler via tracestore.Store.Insert.
func (s *Server) handleIngestSpan(w http.ResponseWriter, r *http.Request) {
	var req ingestSpanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("malformed request body: "+err.Error()))

		return
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = tracestore.GenerateTraceID()
	}

	spanID := req.SpanID
	if spanID == "" {
		spanID = tracestore.GenerateSpanID()
	}

	span := tracestore.Span{
		ID:          spanID + "-" + traceID,
		TraceID:     traceID,
		SpanID:      spanID,
		ParentID:    req.ParentID,
		IsPartial:   req.IsPartial,
		IsCancelled: req.IsCancelled,
		IsError:     req.IsError,
		Status:      tracestore.StatusOK,
		StartTime:   req.StartTime,
		Duration:    req.Duration,
		Message:     req.Message,
		Properties:  req.Properties,
		Metadata:    req.Metadata,
		Payload:     req.Payload,
		PayloadType: req.PayloadType,
	}

	if req.IsError {
		span.Status = tracestore.StatusError
	}

	s.store.Insert(span)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(ingestSpanResponse{
		TraceID:     traceID,
		SpanID:      spanID,
		Traceparent: tracestore.Traceparent(traceID, spanID),
	})
}

// handleGetTraceSummary handles GET /api/v1/traces/{traceId}.
func (s *Server) handleGetTraceSummary(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("traceId")

	if traceID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("traceId is required"))

		return
	}

	summary, err := s.store.GetTraceSummary(r.Context(), traceID)
	if err != nil {
		s.logger.Error("get trace summary failed", slog.String("trace_id", traceID), slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load trace"))

		return
	}

	if summary == nil || summary.RootSpan == nil {
		WriteErrorResponse(w, r, s.logger, NotFound(fmt.Sprintf("trace %s not found", traceID)))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

// handleSubscribeTrace handles GET /api/v1/traces/{traceId}/subscribe via
// Server-Sent Events, streaming Update notifications as they arrive.
func (s *Server) handleSubscribeTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("traceId")

	if traceID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("traceId is required"))

		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorResponse(w, r, s.logger, InternalServerError("streaming unsupported"))

		return
	}

	sub, err := s.store.SubscribeToTrace(r.Context(), traceID)
	if err != nil {
		s.logger.Error("subscribe failed", slog.String("trace_id", traceID), slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to subscribe"))

		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case update, open := <-sub.Ch:
			if !open {
				return
			}

			body, err := json.Marshal(update)
			if err != nil {
				continue
			}

			_, _ = fmt.Fprintf(w, "data: %s\n\n", body)
			flusher.Flush()
		}
	}
}

// handleIngestEvent handles POST /api/v1/events.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("malformed request body: "+err.Error()))

		return
	}

	if req.EnvironmentID == "" || req.EventID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("environmentId and eventId are required"))

		return
	}

	opts := ingest.SendOptions{
		ProjectID:    req.ProjectID,
		QueueID:      req.QueueID,
		AccountID:    req.AccountID,
		Identifier:   req.Identifier,
		DeliverAt:    req.DeliverAt,
		DeliverAfter: time.Duration(req.DeliverAfter) * time.Second,
	}

	rec, err := s.ingestor.Send(r.Context(), req.EnvironmentID, req.EventID, req.Name, req.Payload, opts, req.SourceContext, req.Source)
	if err != nil {
		s.logger.Error("send event failed", slog.String("event_id", req.EventID), slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ingestEventResponse{ID: rec.ID, EventID: rec.EventID, DeliverAt: rec.DeliverAt})
}

// handleHealthz reports process liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz reports readiness, including a storage health check.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))

		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
