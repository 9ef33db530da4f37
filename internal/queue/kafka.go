package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/spantrail/spantrail/internal/storage"
)

const (
	jobKeyTTL          = 24 * time.Hour
	producerBatchBytes = 1 << 20
)

// Queue is a Kafka-backed Enqueuer plus consumer-group runner. One topic per
// job name; RunAt is honored by a delay-queue goroutine since Kafka has no
// native per-message delay, and JobKey dedup is backed by a short-TTL marker
// row in internal/storage.
type Queue struct {
	brokers []string
	logger  *slog.Logger
	writer  *kafka.Writer
	dedup   *storage.Connection

	mu       sync.Mutex
	handlers map[string]Handler
	readers  []*kafka.Reader

	closed chan struct{}
	wg     sync.WaitGroup
}

// New creates a Queue. dedup is the connection backing JobKey deduplication;
// it may be the same *storage.Connection the rest of the repository uses.
func New(brokers []string, dedup *storage.Connection, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		brokers: brokers,
		logger:  logger,
		dedup:   dedup,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchBytes:   producerBatchBytes,
			RequiredAcks: kafka.RequireOne,
		},
		handlers: make(map[string]Handler),
		closed:   make(chan struct{}),
	}
}

// RegisterHandler records handler for jobName; Consume starts one
// consumer-group reader per registered job. Must be called before Consume.
func (q *Queue) RegisterHandler(jobName string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[jobName] = handler
}

// Enqueue implements Enqueuer. With opts.Tx set, the job is written to the
// transactional outbox table instead of Kafka directly, per spec.md's
// tx-enlisted enqueue requirement; an OutboxShipper ships it after commit.
func (q *Queue) Enqueue(ctx context.Context, jobName string, payload any, opts EnqueueOptions) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}

	j := job{Name: jobName, Payload: raw, RunAt: opts.RunAt, JobKey: opts.JobKey}

	if opts.Tx != nil {
		return writeOutbox(ctx, opts.Tx, j)
	}

	return q.publish(ctx, j)
}

func (q *Queue) publish(ctx context.Context, j job) error {
	body, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}

	if !j.RunAt.IsZero() && j.RunAt.After(time.Now()) {
		q.wg.Add(1)

		go q.publishDelayed(j, body)

		return nil
	}

	return q.writeMessage(ctx, j.Name, body)
}

// publishDelayed holds a job until its RunAt before handing it to Kafka,
// since Kafka itself has no native per-message delay.
func (q *Queue) publishDelayed(j job, body []byte) {
	defer q.wg.Done()

	timer := time.NewTimer(time.Until(j.RunAt))
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-q.closed:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := q.writeMessage(ctx, j.Name, body); err != nil {
		q.logger.Error("queue: delayed publish failed", slog.String("job", j.Name), slog.String("error", err.Error()))
	}
}

func (q *Queue) writeMessage(ctx context.Context, topic string, body []byte) error {
	err := q.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: body})
	if err != nil {
		return fmt.Errorf("queue: publish to %q failed: %w", topic, err)
	}

	return nil
}

// Consume starts the registered consumer-group readers. Blocks until ctx is
// cancelled or Close is called.
func (q *Queue) Consume(ctx context.Context, groupID string) error {
	q.mu.Lock()

	for jobName, handler := range q.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: q.brokers,
			Topic:   jobName,
			GroupID: groupID,
		})

		q.readers = append(q.readers, reader)

		q.wg.Add(1)

		go q.consumeLoop(ctx, reader, jobName, handler)
	}

	q.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-q.closed:
	}

	return nil
}

func (q *Queue) consumeLoop(ctx context.Context, reader *kafka.Reader, jobName string, handler Handler) {
	defer q.wg.Done()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			q.logger.Error("queue: fetch failed", slog.String("job", jobName), slog.String("error", err.Error()))

			continue
		}

		q.handle(ctx, reader, msg, jobName, handler)
	}
}

func (q *Queue) handle(ctx context.Context, reader *kafka.Reader, msg kafka.Message, jobName string, handler Handler) {
	var j job
	if err := json.Unmarshal(msg.Value, &j); err != nil {
		q.logger.Error("queue: malformed job envelope, dropping", slog.String("job", jobName), slog.String("error", err.Error()))
		_ = reader.CommitMessages(ctx, msg)

		return
	}

	if j.JobKey != "" {
		seen, err := q.markJobKey(ctx, j.JobKey)
		if err != nil {
			q.logger.Error("queue: jobKey dedup check failed", slog.String("error", err.Error()))

			return
		}

		if seen {
			_ = reader.CommitMessages(ctx, msg)

			return
		}
	}

	if err := handler(ctx, j.Payload); err != nil {
		q.logger.Error("queue: handler failed", slog.String("job", jobName), slog.String("error", err.Error()))

		return
	}

	if err := reader.CommitMessages(ctx, msg); err != nil {
		q.logger.Error("queue: commit failed", slog.String("job", jobName), slog.String("error", err.Error()))
	}
}

// markJobKey inserts a short-TTL marker row for jobKey, returning true if
// the key was already present (i.e. this job has already run).
func (q *Queue) markJobKey(ctx context.Context, jobKey string) (bool, error) {
	const query = `
		INSERT INTO job_idempotency (job_key, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (job_key) DO NOTHING
	`

	result, err := q.dedup.ExecContext(ctx, query, jobKey, time.Now().Add(jobKeyTTL))
	if err != nil {
		return false, fmt.Errorf("queue: jobKey insert failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue: jobKey rows affected: %w", err)
	}

	return rows == 0, nil
}

// Close stops accepting new publishes, tears down delayed-publish goroutines
// and consumer readers, and waits for in-flight work to finish.
func (q *Queue) Close() error {
	select {
	case <-q.closed:
		return nil
	default:
		close(q.closed)
	}

	q.mu.Lock()
	for _, reader := range q.readers {
		_ = reader.Close()
	}
	q.mu.Unlock()

	q.wg.Wait()

	if err := q.writer.Close(); err != nil {
		return fmt.Errorf("queue: writer close failed: %w", err)
	}

	return nil
}

var _ Enqueuer = (*Queue)(nil)
