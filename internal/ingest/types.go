// Package ingest implements the event-ingest write path (C6): send() writes
// or updates an EventRecord and routes it onward to either the pipeline
// engine (C5) or direct delivery, per spec.md §4.6. Grounded on the
// teacher's StoreEvent upsert-with-row-lock shape in
// internal/storage/lineage_store.go.
package ingest

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/spantrail/spantrail/internal/pipeline"
)

// Sentinel errors for the ingest write path.
var (
	// ErrMissingQueue is returned when options.queueId does not resolve to a known queue.
	ErrMissingQueue = errors.New("ingest: queue not found")
	// ErrMissingDispatcher is returned when CreatePipeline is called with an unknown dispatcherId.
	ErrMissingDispatcher = errors.New("ingest: dispatcher not found")
)

const updateWindow = 5 * time.Second

type (
	// Queue is a named, ordered list of PipelineSteps scoped to a project,
	// addressed uniquely by (ProjectID, Slug).
	Queue struct {
		ID        string
		ProjectID string
		Slug      string
		Steps     []pipeline.Step
	}

	// Dispatcher is an EventDispatcher: the same shape as Queue but reached
	// only from CreatePipeline's DISPATCHER path, never from Send's queue
	// resolution.
	Dispatcher struct {
		ID    string
		Steps []pipeline.Step
	}

	// SendOptions carries the optional fields of spec.md §4.6's send()
	// contract. QueueID is the queue's slug, not a surrogate row id; it is
	// resolved together with ProjectID via (projectId, slug).
	SendOptions struct {
		ProjectID    string
		QueueID      string
		AccountID    string
		Identifier   string
		DeliverAt    *time.Time
		DeliverAfter time.Duration
	}

	// SourceContext is the free-form caller-supplied context blob.
	SourceContext map[string]any
)

// computeDeliverAt implements step 1: prefer options.DeliverAt, else
// now+DeliverAfter, else nil (immediate).
func computeDeliverAt(now time.Time, opts SendOptions) *time.Time {
	if opts.DeliverAt != nil {
		return opts.DeliverAt
	}

	if opts.DeliverAfter > 0 {
		t := now.Add(opts.DeliverAfter)

		return &t
	}

	return nil
}

func marshalAny(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}

	return json.Marshal(v)
}
