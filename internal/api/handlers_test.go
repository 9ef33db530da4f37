package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spantrail/spantrail/internal/broker"
	"github.com/spantrail/spantrail/internal/eventrecord"
	"github.com/spantrail/spantrail/internal/ingest"
	"github.com/spantrail/spantrail/internal/tracestore"
)

// fakeTraceStore is a minimal in-memory traceStore for handler tests.
type fakeTraceStore struct {
	inserted   []tracestore.Span
	summary    *tracestore.TraceSummary
	summaryErr error
	subErr     error
	healthErr  error
}

func (f *fakeTraceStore) Insert(span tracestore.Span) {
	f.inserted = append(f.inserted, span)
}

func (f *fakeTraceStore) GetTraceSummary(_ context.Context, _ string) (*tracestore.TraceSummary, error) {
	return f.summary, f.summaryErr
}

func (f *fakeTraceStore) SubscribeToTrace(_ context.Context, _ string) (*broker.Subscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}

	ch := make(chan broker.Update)
	close(ch)

	return &broker.Subscription{Ch: ch, Unsubscribe: func() {}}, nil
}

func (f *fakeTraceStore) HealthCheck(_ context.Context) error {
	return f.healthErr
}

func (f *fakeTraceStore) Close() error { return nil }

// fakeEventSender is a minimal in-memory eventSender for handler tests.
type fakeEventSender struct {
	record *eventrecord.Record
	err    error
}

func (f *fakeEventSender) Send(
	_ context.Context,
	_ string,
	_ string,
	_ string,
	_ []byte,
	_ ingest.SendOptions,
	_ ingest.SourceContext,
	_ string,
) (*eventrecord.Record, error) {
	return f.record, f.err
}

func newTestServer(store traceStore, sender eventSender) *Server {
	s := &Server{
		store:    store,
		ingestor: sender,
		logger:   slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)),
	}
	s.handler = s.routes()

	return s
}

func TestHandleIngestSpan(t *testing.T) {
	store := &fakeTraceStore{}
	s := newTestServer(store, &fakeEventSender{})

	body := `{"traceId":"t1","startTime":100,"message":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/spans", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "t1", store.inserted[0].TraceID)

	var resp ingestSpanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.TraceID)
	assert.NotEmpty(t, resp.SpanID)
	assert.NotEmpty(t, resp.Traceparent)
}

func TestHandleIngestSpan_MalformedBody(t *testing.T) {
	store := &fakeTraceStore{}
	s := newTestServer(store, &fakeEventSender{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/spans", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.inserted)
}

func TestHandleGetTraceSummary_Found(t *testing.T) {
	summary := &tracestore.TraceSummary{
		RootSpan: &tracestore.ReconstructedSpan{Span: tracestore.Span{TraceID: "t1", SpanID: "root"}},
	}
	store := &fakeTraceStore{summary: summary}
	s := newTestServer(store, &fakeEventSender{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/traces/t1", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got tracestore.TraceSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "root", got.RootSpan.SpanID)
}

func TestHandleGetTraceSummary_NotFound(t *testing.T) {
	store := &fakeTraceStore{summary: nil}
	s := newTestServer(store, &fakeEventSender{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/traces/missing", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSubscribeTrace_ClosesOnChannelClose(t *testing.T) {
	store := &fakeTraceStore{}
	s := newTestServer(store, &fakeEventSender{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/traces/t1/subscribe", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestHandleIngestEvent(t *testing.T) {
	rec := &eventrecord.Record{ID: "rec1", EventID: "ev1"}
	sender := &fakeEventSender{record: rec}
	s := newTestServer(&fakeTraceStore{}, sender)

	body := `{"environmentId":"env1","eventId":"ev1","name":"order.created","payload":{"a":1}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp ingestEventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rec1", resp.ID)
	assert.Equal(t, "ev1", resp.EventID)
}

func TestHandleIngestEvent_MissingFields(t *testing.T) {
	s := newTestServer(&fakeTraceStore{}, &fakeEventSender{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthz(t *testing.T) {
	s := newTestServer(&fakeTraceStore{}, &fakeEventSender{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		s := newTestServer(&fakeTraceStore{}, &fakeEventSender{})

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()

		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unavailable", func(t *testing.T) {
		s := newTestServer(&fakeTraceStore{healthErr: assert.AnError}, &fakeEventSender{})

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()

		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
