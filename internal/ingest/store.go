package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spantrail/spantrail/internal/pipeline"
)

// QueueStore resolves Queue/Dispatcher rows and their pipeline step
// snapshots. Implemented against Postgres, grounded on the teacher's
// dataset/job_run lookup-by-unique-key shape.
type QueueStore interface {
	FindQueueBySlug(ctx context.Context, tx *sql.Tx, projectID, slug string) (*Queue, error)
	FindQueueByID(ctx context.Context, tx *sql.Tx, queueID string) (*Queue, error)
	FindDispatcherByID(ctx context.Context, tx *sql.Tx, dispatcherID string) (*Dispatcher, error)
}

// PostgresQueueStore is the Postgres-backed QueueStore implementation.
type PostgresQueueStore struct{}

// NewPostgresQueueStore constructs a PostgresQueueStore.
func NewPostgresQueueStore() *PostgresQueueStore {
	return &PostgresQueueStore{}
}

func (PostgresQueueStore) FindQueueBySlug(ctx context.Context, tx *sql.Tx, projectID, slug string) (*Queue, error) {
	const query = `SELECT id, project_id, slug FROM queues WHERE project_id = $1 AND slug = $2`

	var q Queue

	err := tx.QueryRowContext(ctx, query, projectID, slug).Scan(&q.ID, &q.ProjectID, &q.Slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMissingQueue
		}

		return nil, fmt.Errorf("ingest: find queue: %w", err)
	}

	steps, err := loadQueueSteps(ctx, tx, q.ID)
	if err != nil {
		return nil, err
	}

	q.Steps = steps

	return &q, nil
}

func (PostgresQueueStore) FindQueueByID(ctx context.Context, tx *sql.Tx, queueID string) (*Queue, error) {
	const query = `SELECT id, project_id, slug FROM queues WHERE id = $1`

	var q Queue

	err := tx.QueryRowContext(ctx, query, queueID).Scan(&q.ID, &q.ProjectID, &q.Slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMissingQueue
		}

		return nil, fmt.Errorf("ingest: find queue: %w", err)
	}

	steps, err := loadQueueSteps(ctx, tx, q.ID)
	if err != nil {
		return nil, err
	}

	q.Steps = steps

	return &q, nil
}

func (PostgresQueueStore) FindDispatcherByID(ctx context.Context, tx *sql.Tx, dispatcherID string) (*Dispatcher, error) {
	const query = `SELECT id FROM event_dispatchers WHERE id = $1`

	var d Dispatcher

	err := tx.QueryRowContext(ctx, query, dispatcherID).Scan(&d.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMissingDispatcher
		}

		return nil, fmt.Errorf("ingest: find dispatcher: %w", err)
	}

	const stepQuery = `
		SELECT step_id, step_type, step_config
		FROM event_dispatcher_pipeline_steps
		WHERE dispatcher_id = $1
		ORDER BY position ASC
	`

	rows, err := tx.QueryContext(ctx, stepQuery, dispatcherID)
	if err != nil {
		return nil, fmt.Errorf("ingest: load dispatcher steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step pipeline.Step
		if err := rows.Scan(&step.ID, &step.Type, &step.Config); err != nil {
			return nil, fmt.Errorf("ingest: scan dispatcher step: %w", err)
		}

		d.Steps = append(d.Steps, step)
	}

	return &d, rows.Err()
}

func loadQueueSteps(ctx context.Context, tx *sql.Tx, queueID string) ([]pipeline.Step, error) {
	const query = `
		SELECT step_id, step_type, step_config
		FROM queue_pipeline_steps
		WHERE queue_id = $1
		ORDER BY position ASC
	`

	rows, err := tx.QueryContext(ctx, query, queueID)
	if err != nil {
		return nil, fmt.Errorf("ingest: load queue steps: %w", err)
	}
	defer rows.Close()

	var steps []pipeline.Step

	for rows.Next() {
		var step pipeline.Step
		if err := rows.Scan(&step.ID, &step.Type, &step.Config); err != nil {
			return nil, fmt.Errorf("ingest: scan queue step: %w", err)
		}

		steps = append(steps, step)
	}

	return steps, rows.Err()
}

var _ QueueStore = PostgresQueueStore{}
