package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresRunStore is the Postgres-backed RunStore implementation.
// LoadForUpdate takes a row lock (`FOR UPDATE`) scoped to the caller's
// transaction, matching the teacher's fetchJobRunState row-lock shape in
// lineage_store.go, applied here to pipeline run re-delivery instead of job
// run idempotency.
type PostgresRunStore struct{}

// NewPostgresRunStore constructs a PostgresRunStore.
func NewPostgresRunStore() *PostgresRunStore {
	return &PostgresRunStore{}
}

// Create inserts a new pipeline_runs row together with its step-id
// snapshot, starting at nextStepIndex=0, status PENDING.
func (PostgresRunStore) Create(ctx context.Context, tx *sql.Tx, run *Run) error {
	metadata, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("pipeline: marshal metadata: %w", err)
	}

	zero := 0
	run.NextStepIndex = &zero
	run.Status = StatusPending

	const query = `
		INSERT INTO pipeline_runs (id, type, status, next_step_index, input_event_id, output, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := tx.ExecContext(ctx, query, run.ID, run.Type, run.Status, *run.NextStepIndex, run.InputEventID, run.Output, metadata); err != nil {
		return fmt.Errorf("pipeline: insert run: %w", err)
	}

	const stepQuery = `
		INSERT INTO pipeline_run_steps (run_id, position, step_id, step_type, step_config)
		VALUES ($1, $2, $3, $4, $5)
	`

	for i, step := range run.Steps {
		if _, err := tx.ExecContext(ctx, stepQuery, run.ID, i, step.ID, step.Type, step.Config); err != nil {
			return fmt.Errorf("pipeline: insert run step: %w", err)
		}
	}

	return nil
}

// LoadForUpdate loads and row-locks a pipeline_runs row plus its step
// snapshot.
func (PostgresRunStore) LoadForUpdate(ctx context.Context, tx *sql.Tx, runID string) (*Run, error) {
	const query = `
		SELECT id, type, status, next_step_index, input_event_id, output, metadata, error, COALESCE(pipeline_output_run_id, '')
		FROM pipeline_runs
		WHERE id = $1
		FOR UPDATE
	`

	var (
		run           Run
		nextStepIndex sql.NullInt32
		metadataRaw   []byte
	)

	err := tx.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.Type, &run.Status, &nextStepIndex, &run.InputEventID, &run.Output, &metadataRaw, &run.Error, &run.PipelineOutputRunID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}

		return nil, fmt.Errorf("pipeline: load run: %w", err)
	}

	if nextStepIndex.Valid {
		idx := int(nextStepIndex.Int32)
		run.NextStepIndex = &idx
	}

	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &run.Metadata); err != nil {
			return nil, fmt.Errorf("pipeline: decode metadata: %w", err)
		}
	}

	steps, err := loadSteps(ctx, tx, runID)
	if err != nil {
		return nil, err
	}

	run.Steps = steps

	return &run, nil
}

func loadSteps(ctx context.Context, tx *sql.Tx, runID string) ([]Step, error) {
	const query = `
		SELECT step_id, step_type, step_config
		FROM pipeline_run_steps
		WHERE run_id = $1
		ORDER BY position ASC
	`

	rows, err := tx.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load steps: %w", err)
	}
	defer rows.Close()

	var steps []Step

	for rows.Next() {
		var step Step
		if err := rows.Scan(&step.ID, &step.Type, &step.Config); err != nil {
			return nil, fmt.Errorf("pipeline: scan step: %w", err)
		}

		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// Save persists the mutable fields of a run: status, cursor, output,
// error, and the output-run link.
func (PostgresRunStore) Save(ctx context.Context, tx *sql.Tx, run *Run) error {
	var nextStepIndex sql.NullInt32
	if run.NextStepIndex != nil {
		nextStepIndex = sql.NullInt32{Int32: int32(*run.NextStepIndex), Valid: true}
	}

	metadata, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("pipeline: marshal metadata: %w", err)
	}

	const query = `
		UPDATE pipeline_runs
		SET status = $1, next_step_index = $2, output = $3, metadata = $4, error = $5, pipeline_output_run_id = $6
		WHERE id = $7
	`

	_, err = tx.ExecContext(ctx, query, run.Status, nextStepIndex, run.Output, metadata, nullableString(run.Error), nullableString(run.PipelineOutputRunID), run.ID)
	if err != nil {
		return fmt.Errorf("pipeline: save run: %w", err)
	}

	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

var _ RunStore = PostgresRunStore{}
