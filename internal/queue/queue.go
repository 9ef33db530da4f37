// Package queue provides the durable background worker queue that spec.md
// treats as an external collaborator exposing only enqueue(jobName, payload,
// opts). This repository must run standalone, so it carries a concrete
// adapter backed by segmentio/kafka-go: a topic-per-job-name producer plus a
// consumer-group runner that invokes a registered handler.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrUnknownJob reports a job name with no registered handler; Enqueue does
	// not check handlers and does not return it.
	ErrUnknownJob = errors.New("queue: no handler registered for job")
	// ErrQueueClosed is returned by Enqueue once Close has run.
	ErrQueueClosed = errors.New("queue: closed")
)

// Job names recognized by this repository, per spec.md §6.
const (
	JobCreatePipeline   = "createPipeline"
	JobRunPipeline      = "runPipeline"
	JobDeliverEvent     = "deliverEvent"
	JobInvokeDispatcher = "events.invokeDispatcher"
)

// EnqueueOptions carries the options spec.md's enqueue contract recognizes:
// RunAt (earliest execution time), JobKey (dedup across identical jobs), and
// Tx (enlist in the caller's DB transaction so the enqueue commits atomically
// with the caller's writes).
type EnqueueOptions struct {
	RunAt  time.Time
	JobKey string
	Tx     *sql.Tx
}

// Enqueuer is the interface C5/C6 depend on; satisfied by *Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobName string, payload any, opts EnqueueOptions) error
}

// Handler processes one job's payload. Returning an error marks the
// underlying Kafka message unacknowledged; kafka-go's at-least-once
// consumer-group semantics redeliver it on restart.
type Handler func(ctx context.Context, payload json.RawMessage) error

// job is the wire envelope written to each job-name topic.
type job struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	RunAt   time.Time       `json:"runAt,omitempty"`
	JobKey  string          `json:"jobKey,omitempty"`
}
