package eventrecord

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no row matches the requested (eventId, environmentId).
var ErrNotFound = errors.New("eventrecord: not found")

// DB is the narrow subset of *sql.DB (and *storage.Connection, which embeds
// it) this store needs outside of an active transaction.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the shared Postgres-backed persistence for EventRecord rows,
// grounded on the teacher's StoreEvent upsert shape in lineage_store.go.
// Both C6 (creates/updates the input event) and C5 (creates the outputEvent
// row at finalize) depend on this, never on each other.
type Store struct {
	db DB
}

// NewStore wraps a connection satisfying DB.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Insert writes a new event_records row. Used both for C6's initial create
// and for C5's finalize-time outputEvent row.
func (s *Store) Insert(ctx context.Context, tx *sql.Tx, rec *Record) error {
	const query = `
		INSERT INTO event_records (
			id, event_id, environment_id, name,
			payload, payload_type, context, source_context, source, "timestamp",
			queue_id, should_process_queue_pipeline, should_process_dispatcher_pipeline,
			deliver_at, pipeline_output_run_id
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, $13,
			$14, $15
		)
	`

	exec := execer(tx, s.db)

	_, err := exec.ExecContext(ctx, query,
		rec.ID, rec.EventID, rec.EnvironmentID, rec.Name,
		rec.Payload, rec.PayloadType, rec.Context, rec.SourceContext, rec.Source, rec.Timestamp,
		nullableString(rec.QueueID), rec.ShouldProcessQueuePipeline, rec.ShouldProcessDispatcherPipeline,
		rec.DeliverAt, nullableString(rec.PipelineOutputRunID),
	)
	if err != nil {
		return fmt.Errorf("eventrecord: insert failed: %w", err)
	}

	return nil
}

// FindByEventID loads the row uniquely keyed by (eventId, environmentId),
// locking it for update when called inside tx.
func (s *Store) FindByEventID(ctx context.Context, tx *sql.Tx, eventID, environmentID string) (*Record, error) {
	const query = `
		SELECT id, event_id, environment_id, name,
			payload, payload_type, context, source_context, source, "timestamp",
			COALESCE(queue_id, ''), should_process_queue_pipeline, should_process_dispatcher_pipeline,
			deliver_at, COALESCE(pipeline_output_run_id, '')
		FROM event_records
		WHERE event_id = $1 AND environment_id = $2
		FOR UPDATE
	`

	row := queryRower(tx, s.db).QueryRowContext(ctx, query, eventID, environmentID)

	var rec Record

	err := row.Scan(
		&rec.ID, &rec.EventID, &rec.EnvironmentID, &rec.Name,
		&rec.Payload, &rec.PayloadType, &rec.Context, &rec.SourceContext, &rec.Source, &rec.Timestamp,
		&rec.QueueID, &rec.ShouldProcessQueuePipeline, &rec.ShouldProcessDispatcherPipeline,
		&rec.DeliverAt, &rec.PipelineOutputRunID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("eventrecord: find failed: %w", err)
	}

	return &rec, nil
}

// Update rewrites the mutable fields of an existing row: Payload, Context,
// QueueID, DeliverAt. Used by C6's within-update-window mutation path.
func (s *Store) Update(ctx context.Context, tx *sql.Tx, rec *Record) error {
	const query = `
		UPDATE event_records
		SET payload = $1, context = $2, queue_id = $3, deliver_at = $4
		WHERE id = $5
	`

	exec := execer(tx, s.db)

	_, err := exec.ExecContext(ctx, query, rec.Payload, rec.Context, nullableString(rec.QueueID), rec.DeliverAt, rec.ID)
	if err != nil {
		return fmt.Errorf("eventrecord: update failed: %w", err)
	}

	return nil
}

func execer(tx *sql.Tx, fallback DB) DB {
	if tx != nil {
		return tx
	}

	return fallback
}

func queryRower(tx *sql.Tx, fallback DB) DB {
	if tx != nil {
		return tx
	}

	return fallback
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
