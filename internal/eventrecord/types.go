// Package eventrecord defines the EventRecord row shared between C6 (the
// event-ingest write path that creates and updates it) and C5 (the pipeline
// engine, which writes a derived outputEvent row of the same shape on
// finalize). Kept as its own package so neither C5 nor C6 has to import the
// other just to share a struct.
package eventrecord

import (
	"encoding/json"
	"time"
)

// Record is the EventRecord row (spec's EventRecord): immutable after
// create except for the small mutable fields C6's update-window logic
// touches (Payload, Context, QueueID, DeliverAt).
type Record struct {
	ID            string
	EventID       string
	EnvironmentID string

	Name          string
	Payload       json.RawMessage
	PayloadType   string
	Context       json.RawMessage
	SourceContext json.RawMessage
	Source        string
	Timestamp     time.Time

	QueueID                         string
	ShouldProcessQueuePipeline      bool
	ShouldProcessDispatcherPipeline bool
	DeliverAt                       *time.Time
	PipelineOutputRunID             string
}
