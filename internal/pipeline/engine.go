package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/spantrail/spantrail/internal/eventrecord"
	"github.com/spantrail/spantrail/internal/filter"
	"github.com/spantrail/spantrail/internal/queue"
	"github.com/spantrail/spantrail/internal/storage"
)

const stepTimeout = 10 * time.Second

type (
	// RunStore is the minimal persistence contract RunStep needs, mirroring
	// ktr0328-pipeline_engine's JobStore split between engine logic and
	// storage. LoadForUpdate must take a row lock scoped to tx so concurrent
	// re-deliveries of the same runId serialize instead of racing.
	RunStore interface {
		Create(ctx context.Context, tx *sql.Tx, run *Run) error
		LoadForUpdate(ctx context.Context, tx *sql.Tx, runID string) (*Run, error)
		Save(ctx context.Context, tx *sql.Tx, run *Run) error
	}

	// EventWriter is the subset of eventrecord persistence the engine needs
	// to write a finalize step's derived outputEvent row.
	EventWriter interface {
		Insert(ctx context.Context, tx *sql.Tx, rec *eventrecord.Record) error
	}

	// Engine drives RunStep. Grounded on ktr0328-pipeline_engine's
	// BasicEngine (an engine struct holding a store interface and driving
	// one step per invocation), re-targeted to spec.md's transactional
	// single-step-per-call contract: one DB transaction per RunStep call,
	// not a background goroutine-per-job runner.
	Engine struct {
		conn     *storage.Connection
		runs     RunStore
		events   EventWriter
		enqueuer queue.Enqueuer
		logger   *slog.Logger
	}
)

// NewEngine constructs an Engine.
func NewEngine(conn *storage.Connection, runs RunStore, events EventWriter, enqueuer queue.Enqueuer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	return &Engine{conn: conn, runs: runs, events: events, enqueuer: enqueuer, logger: logger}
}

// RunStep implements the 6-step transactional algorithm of spec.md §4.5,
// bounded by a single 10s-timeout DB transaction.
func (e *Engine) RunStep(ctx context.Context, runID string) error {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pipeline: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run, err := e.runs.LoadForUpdate(ctx, tx, runID)
	if err != nil {
		return fmt.Errorf("pipeline: load run %s: %w", runID, err)
	}

	// Step 1: terminal or already-finalized runs are a no-op.
	if terminalStatuses[run.Status] || run.NextStepIndex == nil {
		return tx.Commit()
	}

	// Step 2: out-of-range cursor finalizes instead of dispatching.
	if *run.NextStepIndex >= len(run.Steps) {
		if err := e.finalize(ctx, tx, run); err != nil {
			return fmt.Errorf("pipeline: finalize run %s: %w", runID, err)
		}

		return tx.Commit()
	}

	step := run.Steps[*run.NextStepIndex]

	// Step 3: dispatch on step type.
	if err := e.dispatchStep(step, run); err != nil {
		if err := validateStateTransition(run.Status, StatusFailure); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}

		run.Status = StatusFailure
		run.Error = err.Error()
		run.NextStepIndex = nil

		if err := e.runs.Save(ctx, tx, run); err != nil {
			return fmt.Errorf("pipeline: save failed run %s: %w", runID, err)
		}

		return tx.Commit()
	}

	// Step 4: advance if steps remain.
	if *run.NextStepIndex+1 < len(run.Steps) {
		if err := validateStateTransition(run.Status, StatusStarted); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}

		next := *run.NextStepIndex + 1
		run.Status = StatusStarted
		run.NextStepIndex = &next

		if err := e.runs.Save(ctx, tx, run); err != nil {
			return fmt.Errorf("pipeline: save advanced run %s: %w", runID, err)
		}

		if err := e.enqueuer.Enqueue(ctx, queue.JobRunPipeline, map[string]string{"id": run.ID}, queue.EnqueueOptions{Tx: tx}); err != nil {
			return fmt.Errorf("pipeline: enqueue runPipeline for %s: %w", runID, err)
		}

		return tx.Commit()
	}

	// Step 5: no steps remain — finalize.
	if err := e.finalize(ctx, tx, run); err != nil {
		return fmt.Errorf("pipeline: finalize run %s: %w", runID, err)
	}

	return tx.Commit()
}

// dispatchStep leaves run.Output unchanged: FILTER steps pass the payload
// through and only gate advancement.
func (e *Engine) dispatchStep(step Step, run *Run) error {
	switch step.Type {
	case StepFilter:
		f, err := filter.Parse(step.Config)
		if err != nil {
			return fmt.Errorf("%w: %w", filter.ErrInvalidFilter, err)
		}

		var doc map[string]any
		if err := json.Unmarshal(run.Output, &doc); err != nil {
			return fmt.Errorf("pipeline: decode run output: %w", err)
		}

		if !filter.Eval(f, doc) {
			return fmt.Errorf("%w: step %s", ErrFilterMismatch, step.ID)
		}

		return nil
	case StepWebhook:
		return fmt.Errorf("%w: %s", ErrUnsupportedStep, step.Type)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedStep, step.Type)
	}
}

// finalize implements step 5 of spec.md §4.5: derive and persist the
// outputEvent row, mark the run SUCCESS, and route it onward per owner type.
func (e *Engine) finalize(ctx context.Context, tx *sql.Tx, run *Run) error {
	now := time.Now().UTC()

	outputEvent := &eventrecord.Record{
		ID:                              uuid.NewString(),
		EventID:                         fmt.Sprintf("%s:pipeline:%s", run.InputEventID, run.ID),
		Payload:                         run.Output,
		Timestamp:                       now,
		DeliverAt:                       &now,
		ShouldProcessQueuePipeline:      false,
		ShouldProcessDispatcherPipeline: false,
	}

	if err := e.events.Insert(ctx, tx, outputEvent); err != nil {
		return fmt.Errorf("insert output event: %w", err)
	}

	if err := validateStateTransition(run.Status, StatusSuccess); err != nil {
		return err
	}

	run.Status = StatusSuccess
	run.NextStepIndex = nil
	run.PipelineOutputRunID = run.ID

	if err := e.runs.Save(ctx, tx, run); err != nil {
		return fmt.Errorf("save finalized run: %w", err)
	}

	switch run.Type {
	case OwnerQueue:
		opts := queue.EnqueueOptions{Tx: tx, RunAt: *outputEvent.DeliverAt, JobKey: "event:" + outputEvent.ID}

		if err := e.enqueuer.Enqueue(ctx, queue.JobDeliverEvent, map[string]string{"id": outputEvent.ID}, opts); err != nil {
			return fmt.Errorf("enqueue deliverEvent: %w", err)
		}
	case OwnerDispatcher:
		dispatcherID, _ := run.Metadata["dispatcherId"].(string)
		payload := map[string]string{"dispatcherId": dispatcherID, "eventRecordId": outputEvent.ID}

		if err := e.enqueuer.Enqueue(ctx, queue.JobInvokeDispatcher, payload, queue.EnqueueOptions{Tx: tx}); err != nil {
			return fmt.Errorf("enqueue events.invokeDispatcher: %w", err)
		}
	}

	return nil
}
