package api

import (
	"encoding/json"
	"time"
)

// ingestSpanRequest is the wire shape of POST /api/v1/spans.
type ingestSpanRequest struct {
	TraceID     string          `json:"traceId,omitempty"`
	SpanID      string          `json:"spanId,omitempty"`
	ParentID    string          `json:"parentId,omitempty"`
	IsPartial   bool            `json:"isPartial,omitempty"`
	IsCancelled bool            `json:"isCancelled,omitempty"`
	IsError     bool            `json:"isError,omitempty"`
	StartTime   int64           `json:"startTime"`
	Duration    int64           `json:"duration,omitempty"`
	Message     string          `json:"message,omitempty"`
	Properties  map[string]any  `json:"properties,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	PayloadType string          `json:"payloadType,omitempty"`
}

// ingestSpanResponse confirms the identity of the span written.
type ingestSpanResponse struct {
	TraceID     string `json:"traceId"`
	SpanID      string `json:"spanId"`
	Traceparent string `json:"traceparent"`
}

// ingestEventRequest is the wire shape of POST /api/v1/events.
type ingestEventRequest struct {
	EnvironmentID string          `json:"environmentId"`
	EventID       string          `json:"eventId"`
	Name          string          `json:"name"`
	Payload       json.RawMessage `json:"payload"`
	Source        string          `json:"source,omitempty"`
	SourceContext map[string]any  `json:"sourceContext,omitempty"`

	ProjectID    string     `json:"projectId,omitempty"`
	QueueID      string     `json:"queueId,omitempty"`
	AccountID    string     `json:"accountId,omitempty"`
	Identifier   string     `json:"identifier,omitempty"`
	DeliverAt    *time.Time `json:"deliverAt,omitempty"`
	DeliverAfter int64      `json:"deliverAfterSeconds,omitempty"`
}

// ingestEventResponse reports the stored EventRecord's identity.
type ingestEventResponse struct {
	ID        string     `json:"id"`
	EventID   string     `json:"eventId"`
	DeliverAt *time.Time `json:"deliverAt,omitempty"`
}
