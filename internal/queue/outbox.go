package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spantrail/spantrail/internal/storage"
)

// writeOutbox records a job as an outbox_jobs row inside the caller's
// transaction, so the enqueue commits atomically with the caller's writes.
// Used when the Kafka backend cannot itself enlist in a database
// transaction, per spec.md's Design Notes §9 outbox-pattern requirement.
func writeOutbox(ctx context.Context, tx *sql.Tx, j job) error {
	body, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("queue: marshal outbox job: %w", err)
	}

	const query = `
		INSERT INTO outbox_jobs (job_name, body, created_at)
		VALUES ($1, $2, now())
	`

	if _, err := tx.ExecContext(ctx, query, j.Name, body); err != nil {
		return fmt.Errorf("queue: outbox insert failed: %w", err)
	}

	return nil
}

const (
	outboxPollInterval = 1 * time.Second
	outboxBatchSize    = 100
)

// OutboxShipper polls outbox_jobs for unshipped rows and publishes them to
// Kafka, mirroring the teacher's background-cleanup-goroutine shutdown
// idiom (stop/done channel pair).
type OutboxShipper struct {
	conn   *storage.Connection
	queue  *Queue
	logger *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewOutboxShipper creates a shipper that publishes outbox rows written
// against conn through queue.
func NewOutboxShipper(conn *storage.Connection, queue *Queue, logger *slog.Logger) *OutboxShipper {
	if logger == nil {
		logger = slog.Default()
	}

	return &OutboxShipper{
		conn:   conn,
		queue:  queue,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run polls outbox_jobs until Close is called. Intended to run on its own
// goroutine, started once at process bootstrap.
func (s *OutboxShipper) Run() {
	defer close(s.done)

	ticker := time.NewTicker(outboxPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.shipBatch()
		case <-s.stop:
			return
		}
	}
}

func (s *OutboxShipper) shipBatch() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const selectQuery = `
		SELECT id, job_name, body FROM outbox_jobs
		WHERE shipped_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("outbox: begin failed", slog.String("error", err.Error()))

		return
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, selectQuery, outboxBatchSize)
	if err != nil {
		s.logger.Error("outbox: query failed", slog.String("error", err.Error()))

		return
	}

	type outboxRow struct {
		id      int64
		jobName string
		body    []byte
	}

	var toShip []outboxRow

	for rows.Next() {
		var r outboxRow
		if err := rows.Scan(&r.id, &r.jobName, &r.body); err != nil {
			s.logger.Error("outbox: scan failed", slog.String("error", err.Error()))

			continue
		}

		toShip = append(toShip, r)
	}

	rows.Close()

	for _, r := range toShip {
		var j job
		if err := json.Unmarshal(r.body, &j); err != nil {
			s.logger.Error("outbox: malformed job, skipping", slog.Int64("id", r.id), slog.String("error", err.Error()))

			continue
		}

		if err := s.queue.publish(ctx, j); err != nil {
			s.logger.Error("outbox: publish failed", slog.Int64("id", r.id), slog.String("error", err.Error()))

			continue
		}

		const markShipped = `UPDATE outbox_jobs SET shipped_at = now() WHERE id = $1`
		if _, err := tx.ExecContext(ctx, markShipped, r.id); err != nil {
			s.logger.Error("outbox: mark shipped failed", slog.Int64("id", r.id), slog.String("error", err.Error()))
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("outbox: commit failed", slog.String("error", err.Error()))
	}
}

// Close stops the poll loop and waits for the in-flight batch to finish.
func (s *OutboxShipper) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}

	<-s.done

	return nil
}
