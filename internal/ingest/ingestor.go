package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/spantrail/spantrail/internal/eventrecord"
	"github.com/spantrail/spantrail/internal/pipeline"
	"github.com/spantrail/spantrail/internal/queue"
	"github.com/spantrail/spantrail/internal/storage"
)

// Ingestor implements C6's send()/createPipeline() write path.
type Ingestor struct {
	conn     *storage.Connection
	events   *eventrecord.Store
	queues   QueueStore
	runs     pipeline.RunStore
	enqueuer queue.Enqueuer
	logger   *slog.Logger
}

// NewIngestor constructs an Ingestor.
func NewIngestor(
	conn *storage.Connection,
	events *eventrecord.Store,
	queues QueueStore,
	runs pipeline.RunStore,
	enqueuer queue.Enqueuer,
	logger *slog.Logger,
) *Ingestor {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	return &Ingestor{conn: conn, events: events, queues: queues, runs: runs, enqueuer: enqueuer, logger: logger}
}

// Send implements spec.md §4.6's 6-step algorithm.
func (i *Ingestor) Send(
	ctx context.Context,
	environmentID string,
	eventID string,
	name string,
	payload []byte,
	opts SendOptions,
	sourceContext SourceContext,
	source string,
) (*eventrecord.Record, error) {
	now := time.Now().UTC()
	deliverAt := computeDeliverAt(now, opts)

	tx, err := i.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Step 2: resolve queue by (projectId, slug); options.QueueID is a slug,
	// not a surrogate id, per spec.md §4.6 step 2.
	var q *Queue

	if opts.QueueID != "" {
		q, err = i.queues.FindQueueBySlug(ctx, tx, opts.ProjectID, opts.QueueID)
		if err != nil {
			return nil, err
		}
	}

	// Step 3: upsert external account, if present.
	if opts.AccountID != "" {
		if err := upsertExternalAccount(ctx, tx, environmentID, opts.Identifier, opts.AccountID); err != nil {
			return nil, fmt.Errorf("ingest: upsert external account: %w", err)
		}
	}

	sourceCtxJSON, err := marshalAny(sourceContext)
	if err != nil {
		return nil, fmt.Errorf("ingest: marshal source context: %w", err)
	}

	// Step 4/5: look up existing row, update within window or create new.
	existing, err := i.events.FindByEventID(ctx, tx, eventID, environmentID)
	if err != nil && !errors.Is(err, eventrecord.ErrNotFound) {
		return nil, fmt.Errorf("ingest: lookup existing event: %w", err)
	}

	var rec *eventrecord.Record

	switch {
	case existing == nil:
		rec = &eventrecord.Record{
			ID:            uuid.NewString(),
			EventID:       eventID,
			EnvironmentID: environmentID,
			Name:          name,
			Payload:       payload,
			SourceContext: sourceCtxJSON,
			Source:        source,
			Timestamp:     now,
			DeliverAt:     deliverAt,
		}

		if q != nil {
			rec.QueueID = q.ID
		}

		if err := i.events.Insert(ctx, tx, rec); err != nil {
			return nil, fmt.Errorf("ingest: insert event: %w", err)
		}
	case existing.DeliverAt != nil && existing.DeliverAt.Sub(now) >= updateWindow:
		existing.Payload = payload
		existing.Context = sourceCtxJSON

		if q != nil {
			existing.QueueID = q.ID
		}

		existing.DeliverAt = deliverAt

		if err := i.events.Update(ctx, tx, existing); err != nil {
			return nil, fmt.Errorf("ingest: update event: %w", err)
		}

		rec = existing
	default:
		// Outside the update window: treat as final, no mutation.
		rec = existing
	}

	// Step 6: post-write routing.
	if q != nil && len(q.Steps) > 0 {
		createPipelinePayload := map[string]string{"type": "QUEUE", "queueId": q.ID, "eventRecordId": rec.ID}
		if err := i.enqueuer.Enqueue(ctx, queue.JobCreatePipeline, createPipelinePayload, queue.EnqueueOptions{Tx: tx}); err != nil {
			return nil, fmt.Errorf("ingest: enqueue createPipeline: %w", err)
		}
	} else if rec.DeliverAt != nil {
		opts := queue.EnqueueOptions{Tx: tx, RunAt: *rec.DeliverAt, JobKey: "event:" + rec.ID}
		if err := i.enqueuer.Enqueue(ctx, queue.JobDeliverEvent, map[string]string{"id": rec.ID}, opts); err != nil {
			return nil, fmt.Errorf("ingest: enqueue deliverEvent: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ingest: commit: %w", err)
	}

	return rec, nil
}

// CreatePipeline snapshots the owning queue or dispatcher's step list into a
// new PipelineRun row and enqueues runPipeline.
func (i *Ingestor) CreatePipeline(ctx context.Context, ownerType pipeline.OwnerType, eventRecordID, ownerID string) error {
	tx, err := i.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ingest: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		steps    []pipeline.Step
		metadata = map[string]any{}
	)

	switch ownerType {
	case pipeline.OwnerQueue:
		q, err := i.queues.FindQueueByID(ctx, tx, ownerID)
		if err != nil {
			return err
		}

		steps = q.Steps
		metadata["queueId"] = q.ID
	case pipeline.OwnerDispatcher:
		d, err := i.queues.FindDispatcherByID(ctx, tx, ownerID)
		if err != nil {
			return err
		}

		steps = d.Steps
		metadata["dispatcherId"] = d.ID
	}

	rec, err := i.loadEventRecordByID(ctx, tx, eventRecordID)
	if err != nil {
		return err
	}

	run := &pipeline.Run{
		ID:           uuid.NewString(),
		Type:         ownerType,
		Steps:        steps,
		InputEventID: rec.EventID,
		Output:       rec.Payload,
		Metadata:     metadata,
	}

	if err := i.runs.Create(ctx, tx, run); err != nil {
		return fmt.Errorf("ingest: create pipeline run: %w", err)
	}

	if err := i.enqueuer.Enqueue(ctx, queue.JobRunPipeline, map[string]string{"id": run.ID}, queue.EnqueueOptions{Tx: tx}); err != nil {
		return fmt.Errorf("ingest: enqueue runPipeline: %w", err)
	}

	return tx.Commit()
}

func (i *Ingestor) loadEventRecordByID(ctx context.Context, tx *sql.Tx, id string) (*eventrecord.Record, error) {
	const query = `
		SELECT id, event_id, environment_id, name, payload, payload_type, context, source_context, source, "timestamp",
			COALESCE(queue_id, ''), should_process_queue_pipeline, should_process_dispatcher_pipeline,
			deliver_at, COALESCE(pipeline_output_run_id, '')
		FROM event_records
		WHERE id = $1
	`

	var rec eventrecord.Record

	err := tx.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.EventID, &rec.EnvironmentID, &rec.Name, &rec.Payload, &rec.PayloadType, &rec.Context, &rec.SourceContext, &rec.Source, &rec.Timestamp,
		&rec.QueueID, &rec.ShouldProcessQueuePipeline, &rec.ShouldProcessDispatcherPipeline,
		&rec.DeliverAt, &rec.PipelineOutputRunID,
	)
	if err != nil {
		return nil, fmt.Errorf("ingest: load event record %s: %w", id, err)
	}

	return &rec, nil
}

func upsertExternalAccount(ctx context.Context, tx *sql.Tx, environmentID, identifier, accountID string) error {
	const query = `
		INSERT INTO external_accounts (id, environment_id, identifier)
		VALUES ($1, $2, $3)
		ON CONFLICT (environment_id, identifier) DO UPDATE SET id = EXCLUDED.id
	`

	_, err := tx.ExecContext(ctx, query, accountID, environmentID, identifier)

	return err
}
