package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spantrail/spantrail/internal/batch"
	"github.com/spantrail/spantrail/internal/broker"
	"github.com/spantrail/spantrail/internal/config"
	"github.com/spantrail/spantrail/internal/storage"
)

const (
	defaultRetention  = 30 * 24 * time.Hour
	txTimeout         = 10 * time.Second
	updateWindowDelta = 0 // spans have no update window; kept for symmetry with ingest's 5s window
)

type (
	// SchedulerConfig configures the batch scheduler that Insert() enqueues
	// to (C2).
	SchedulerConfig struct {
		BatchSize     int
		FlushInterval time.Duration
	}

	// SpanContext identifies the run and, optionally, the parent span a new
	// span is synthesized under.
	SpanContext struct {
		RunID    string
		TraceID  string
		ParentID string
	}

	// RecordEventOptions configures RecordEvent.
	RecordEventOptions struct {
		Context     SpanContext
		SpanIDSeed  string
		Properties  map[string]any
		Metadata    map[string]any
		Payload     json.RawMessage
		PayloadType string
	}

	// TraceEventOptions configures TraceEvent.
	TraceEventOptions struct {
		Context          SpanContext
		SpanIDSeed       string
		Incomplete       bool
		SpanParentAsLink bool
		Properties       map[string]any
	}

	// CompleteEventOptions configures CompleteEvent.
	CompleteEventOptions struct {
		EndTime    int64
		Output     json.RawMessage
		OutputType string
	}

	// Store is the structural analogue of the teacher's LineageStore: a
	// struct wrapping a pooled connection, a logger, a batch scheduler (C2)
	// and a broker publisher (C7), exposing the 15 operations of spec.md
	// §4.3 as methods.
	Store struct {
		conn      *storage.Connection
		logger    *slog.Logger
		scheduler *batch.Scheduler[Span]
		publisher broker.Publisher
		subscribe broker.Subscriber
		retention time.Duration

		subscriberCount atomic.Int64
	}

	// Option configures optional Store behavior.
	Option func(*Store)
)

// WithRetention overrides the default 30-day retention used by TruncateEvents.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithLogger overrides the default stdout JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore constructs a Store. The scheduler's flush callback writes each
// batch with dedup-on-conflict semantics (a partial row is suppressed from a
// flushed batch iff a non-partial row with the same spanId is present in the
// same batch) and publishes once per distinct (traceId, spanId) pair in the
// batch, mirroring NewLineageStore's functional-options constructor shape.
func NewStore(
	conn *storage.Connection,
	schedulerCfg SchedulerConfig,
	publisher broker.Publisher,
	subscribe broker.Subscriber,
	opts ...Option,
) (*Store, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: nil connection", ErrStorageFailed)
	}

	store := &Store{
		conn:      conn,
		publisher: publisher,
		subscribe: subscribe,
		retention: defaultRetention,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})),
	}

	for _, opt := range opts {
		opt(store)
	}

	store.scheduler = batch.New(schedulerCfg.BatchSize, schedulerCfg.FlushInterval, store.flushBatch, store.logger)

	return store, nil
}

// Close flushes any buffered spans, then stops the batch scheduler, waiting
// for queued flushes to drain.
func (s *Store) Close() error {
	s.scheduler.Flush()

	return s.scheduler.Close()
}

// HealthCheck verifies the underlying connection is alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Insert enqueues a span to the batch scheduler (C2); it returns as soon as
// the span is buffered, before it is durably written.
func (s *Store) Insert(span Span) {
	s.scheduler.AddToBatch(span)
}

// InsertMany enqueues multiple spans to the batch scheduler.
func (s *Store) InsertMany(spans []Span) {
	s.scheduler.AddToBatch(spans...)
}

// InsertImmediate bypasses the scheduler: it writes the row synchronously,
// then publishes.
func (s *Store) InsertImmediate(ctx context.Context, span Span) error {
	return s.InsertManyImmediate(ctx, []Span{span})
}

// InsertManyImmediate writes rows synchronously and publishes once per
// distinct (traceId, spanId) pair.
func (s *Store) InsertManyImmediate(ctx context.Context, spans []Span) error {
	if err := s.writeSpans(ctx, spans); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailed, err)
	}

	s.publishAll(ctx, spans)

	return nil
}

// flushBatch is the scheduler callback (C2's callback contract): it applies
// the partial-suppression rule within the batch, writes the survivors, and
// publishes. A write failure here is logged and the batch discarded — the
// scheduler never retries, per spec's at-most-once scheduled-batch semantics.
func (s *Store) flushBatch(spans []Span) error {
	survivors := suppressPartials(spans)

	ctx, cancel := context.WithTimeout(context.Background(), txTimeout)
	defer cancel()

	if err := s.writeSpans(ctx, survivors); err != nil {
		return err
	}

	s.publishAll(ctx, survivors)

	return nil
}

// suppressPartials implements the batch flush rule: a partial row is
// suppressed from a flushed batch iff a non-partial row with the same
// spanId is present in the same batch.
func suppressPartials(spans []Span) []Span {
	completed := make(map[string]bool, len(spans))

	for _, s := range spans {
		if !s.IsPartial {
			completed[s.SpanID] = true
		}
	}

	survivors := make([]Span, 0, len(spans))

	for _, s := range spans {
		if s.IsPartial && completed[s.SpanID] {
			continue
		}

		survivors = append(survivors, s)
	}

	return survivors
}

func (s *Store) publishAll(ctx context.Context, spans []Span) {
	if s.publisher == nil {
		return
	}

	seen := make(map[string]bool, len(spans))

	for _, span := range spans {
		key := span.TraceID + ":" + span.SpanID
		if seen[key] {
			continue
		}

		seen[key] = true

		if err := s.publisher.Publish(ctx, span.TraceID, span.SpanID); err != nil {
			s.logger.Error("tracestore: publish failed",
				slog.String("trace_id", span.TraceID),
				slog.String("span_id", span.SpanID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Store) writeSpans(ctx context.Context, spans []Span) error {
	if len(spans) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `
		INSERT INTO spans (
			id, trace_id, span_id, parent_id,
			is_partial, is_cancelled, is_error, status,
			start_time, duration,
			message, properties, metadata, style,
			payload, payload_type, output, output_type,
			events, links
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18,
			$19, $20
		)
	`

	for _, span := range spans {
		properties, metadata, style, events, links, err := marshalSpanJSON(span)
		if err != nil {
			return fmt.Errorf("marshal span %s: %w", span.SpanID, err)
		}

		_, err = tx.ExecContext(ctx, insert,
			span.ID, span.TraceID, span.SpanID, nullableString(span.ParentID),
			span.IsPartial, span.IsCancelled, span.IsError, string(span.Status),
			span.StartTime, span.Duration,
			span.Message, properties, metadata, style,
			span.Payload, span.PayloadType, span.Output, span.OutputType,
			events, links,
		)
		if err != nil {
			return fmt.Errorf("insert span %s: %w", span.SpanID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func marshalSpanJSON(span Span) (properties, metadata, style, events, links []byte, err error) {
	if properties, err = json.Marshal(span.Properties); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	if metadata, err = json.Marshal(span.Metadata); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	if style, err = json.Marshal(span.Style); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	if events, err = json.Marshal(span.Events); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	if links, err = json.Marshal(span.Links); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	return properties, metadata, style, events, links, nil
}

// RecordEvent synthesizes a zero-duration, non-partial span and inserts it.
// Generates traceId if no parent trace is present in opts.Context, and
// generates spanId deterministically if SpanIDSeed is given.
func (s *Store) RecordEvent(ctx context.Context, message string, opts RecordEventOptions) (*Span, error) {
	if opts.Context.RunID == "" {
		return nil, ErrMissingRunID
	}

	traceID := opts.Context.TraceID
	if traceID == "" {
		traceID = GenerateTraceID()
	}

	spanID := GenerateSpanID()
	if opts.SpanIDSeed != "" {
		spanID = DeterministicSpanID(traceID, opts.SpanIDSeed)
	}

	now := time.Now().UnixNano()

	span := Span{
		ID:          spanID + "-" + traceID,
		TraceID:     traceID,
		SpanID:      spanID,
		ParentID:    opts.Context.ParentID,
		IsPartial:   false,
		Status:      StatusOK,
		StartTime:   now,
		Duration:    0,
		Message:     message,
		Properties:  opts.Properties,
		Metadata:    opts.Metadata,
		Payload:     opts.Payload,
		PayloadType: opts.PayloadType,
	}

	if err := s.InsertImmediate(ctx, span); err != nil {
		return nil, err
	}

	return &span, nil
}

// TraceEvent synthesizes a span, invokes fn with a context propagated for
// children, measures wall-clock duration via a monotonic clock, and inserts
// on completion. If fn returns an error, the span is still persisted before
// the error is re-propagated to the caller.
func (s *Store) TraceEvent(
	ctx context.Context,
	message string,
	opts TraceEventOptions,
	fn func(ctx context.Context, propagated SpanContext) (json.RawMessage, error),
) (json.RawMessage, error) {
	if opts.Context.RunID == "" {
		return nil, ErrMissingRunID
	}

	traceID := opts.Context.TraceID
	parentID := opts.Context.ParentID
	var links []SpanLink

	if opts.SpanParentAsLink && parentID != "" {
		links = append(links, SpanLink{TraceID: traceID, SpanID: parentID})
		traceID = GenerateTraceID()
		parentID = ""
	}

	if traceID == "" {
		traceID = GenerateTraceID()
	}

	spanID := GenerateSpanID()
	if opts.SpanIDSeed != "" {
		spanID = DeterministicSpanID(traceID, opts.SpanIDSeed)
	}

	propagated := SpanContext{RunID: opts.Context.RunID, TraceID: traceID, ParentID: spanID}
	start := time.Now()
	startNanos := start.UnixNano()

	output, fnErr := fn(ctx, propagated)

	duration := time.Since(start).Nanoseconds()

	span := Span{
		ID:         spanID + "-" + traceID,
		TraceID:    traceID,
		SpanID:     spanID,
		ParentID:   parentID,
		IsPartial:  opts.Incomplete,
		Status:     StatusOK,
		StartTime:  startNanos,
		Message:    message,
		Properties: opts.Properties,
		Output:     output,
		Links:      links,
	}

	if opts.Incomplete {
		span.Duration = 0
	} else {
		span.Duration = duration
	}

	if fnErr != nil {
		span.IsError = true
		span.Status = StatusError
	}

	if err := s.InsertImmediate(ctx, span); err != nil {
		return nil, err
	}

	if fnErr != nil {
		return nil, fnErr
	}

	return output, nil
}

// CompleteEvent finds any incomplete row(s) for spanId and inserts a
// completion row: carries forward all content, sets IsPartial=false,
// Duration = EndTime-StartTime, and merges Output.
func (s *Store) CompleteEvent(ctx context.Context, spanID string, opts CompleteEventOptions) (*Span, error) {
	incomplete, err := s.queryIncompleteBySpanID(ctx, spanID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailed, err)
	}

	if incomplete == nil {
		return nil, fmt.Errorf("%w: no incomplete span %s", ErrSpanNotFound, spanID)
	}

	completed := *incomplete
	completed.IsPartial = false
	completed.Duration = opts.EndTime - incomplete.StartTime

	if completed.Duration < 0 {
		completed.Duration = 0
	}

	completed.Output = mergeOutput(incomplete.OutputType, opts.OutputType, incomplete.Output, opts.Output)
	completed.OutputType = opts.OutputType

	if err := s.InsertImmediate(ctx, completed); err != nil {
		return nil, err
	}

	return &completed, nil
}

// mergeOutput canonicalizes output on completion: application/store and
// text/plain payloads are preserved verbatim; anything else is assumed to be
// JSON and is re-encoded with attribute-style flattening (dotted-path keys
// instead of nested objects/arrays) per spec.md's Attribute definition.
func mergeOutput(_, newType string, existing, incoming json.RawMessage) json.RawMessage {
	if len(incoming) == 0 {
		return existing
	}

	switch newType {
	case "application/store", "text/plain":
		return incoming
	default:
		return flattenJSON(incoming)
	}
}

// flattenJSON re-encodes a JSON value as a flat object whose keys are
// dotted paths into the original structure, e.g. {"a":{"b":1}} becomes
// {"a.b":1}. Scalars and already-flat values are re-marshaled unchanged.
// Malformed input is returned verbatim rather than discarded.
func flattenJSON(raw json.RawMessage) json.RawMessage {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return raw
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return raw
	}

	flat := make(map[string]any)
	flattenInto(flat, "", obj)

	out, err := json.Marshal(flat)
	if err != nil {
		return raw
	}

	return out
}

// flattenInto walks obj, writing dotted-path leaves into flat. Arrays are
// treated as leaves (not indexed) since spec.md's Attribute is a scalar
// keyed by a JSON object path.
func flattenInto(flat map[string]any, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flattenInto(flat, key, nested)
			continue
		}

		flat[key] = v
	}
}

// CancelEvent inserts a non-partial row marked IsCancelled, prepending a
// cancellation span-event. Only valid if row.IsPartial.
func (s *Store) CancelEvent(ctx context.Context, row Span, cancelledAt int64, reason string) (*Span, error) {
	if !row.IsPartial {
		return nil, fmt.Errorf("%w: span %s is not partial", ErrStorageFailed, row.SpanID)
	}

	cancelled := row
	cancelled.IsPartial = false
	cancelled.IsCancelled = true
	cancelled.Duration = cancelledAt - row.StartTime

	if cancelled.Duration < 0 {
		cancelled.Duration = 0
	}

	cancelled.Events = append([]SpanEvent{{
		Name:       cancellationEventName,
		Time:       cancelledAt,
		Properties: map[string]any{"reason": reason},
	}}, row.Events...)

	if err := s.InsertImmediate(ctx, cancelled); err != nil {
		return nil, err
	}

	return &cancelled, nil
}

// CrashEvent is CancelEvent's shape with an exception span-event and
// IsError=true instead of a cancellation reason.
func (s *Store) CrashEvent(ctx context.Context, row Span, crashedAt int64, exception string) (*Span, error) {
	if !row.IsPartial {
		return nil, fmt.Errorf("%w: span %s is not partial", ErrStorageFailed, row.SpanID)
	}

	crashed := row
	crashed.IsPartial = false
	crashed.IsError = true
	crashed.Status = StatusError
	crashed.Duration = crashedAt - row.StartTime

	if crashed.Duration < 0 {
		crashed.Duration = 0
	}

	crashed.Events = append([]SpanEvent{{
		Name:       "exception",
		Time:       crashedAt,
		Properties: map[string]any{"exception": exception},
	}}, row.Events...)

	if err := s.InsertImmediate(ctx, crashed); err != nil {
		return nil, err
	}

	return &crashed, nil
}

// QueryEvents is a pass-through filtered read. Only the "traceId" key of
// where is applied (see queryAll).
func (s *Store) QueryEvents(ctx context.Context, where Where) ([]Span, error) {
	spans, err := s.queryAll(ctx, where)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailed, err)
	}

	return spans, nil
}

// QueryIncompleteEvents returns rows that are partial, not cancelled, and
// for which no completed row sharing spanId exists in the result.
func (s *Store) QueryIncompleteEvents(ctx context.Context, where Where) ([]Span, error) {
	spans, err := s.queryAll(ctx, where)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailed, err)
	}

	completed := make(map[string]bool, len(spans))

	for _, s := range spans {
		if !s.IsPartial {
			completed[s.SpanID] = true
		}
	}

	incomplete := make([]Span, 0, len(spans))

	for _, s := range spans {
		if s.IsPartial && !s.IsCancelled && !completed[s.SpanID] {
			incomplete = append(incomplete, s)
		}
	}

	return incomplete, nil
}

// GetTraceSummary returns the rooted trace tree for traceId via C4.
func (s *Store) GetTraceSummary(ctx context.Context, traceID string) (*TraceSummary, error) {
	spans, err := s.queryByTraceID(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailed, err)
	}

	return Reconstruct(spans)
}

// GetSpan hydrates a single span by (spanId, traceId): links come through
// unmodified, stack traces are rewritten relative to PROJECT_DIR, and
// private (dollar-prefixed) properties are stripped before the row leaves
// the store.
func (s *Store) GetSpan(ctx context.Context, spanID, traceID string) (*Span, error) {
	spans, err := s.queryByTraceID(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailed, err)
	}

	deduped := dedupBySpanID(spans)

	span, ok := deduped[spanID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpanNotFound, spanID)
	}

	visible := visibleSpan(span)

	return &visible, nil
}

// privatePropertyPrefix marks a property as internal; such properties are
// stripped by visibleSpan before a span is returned to a caller.
const privatePropertyPrefix = "$"

// stackTraceProperty holds the raw, absolute-path stack trace captured at
// span-creation time; visibleSpan rewrites it relative to projectDir.
const stackTraceProperty = "stackTrace"

// visibleSpan returns a copy of span with private properties removed and
// its stack trace (if any) rewritten relative to PROJECT_DIR.
func visibleSpan(span Span) Span {
	if len(span.Properties) == 0 {
		return span
	}

	projectDir := config.GetEnvStr("PROJECT_DIR", "")

	visible := make(map[string]any, len(span.Properties))

	for k, v := range span.Properties {
		if strings.HasPrefix(k, privatePropertyPrefix) {
			continue
		}

		if k == stackTraceProperty {
			v = rewriteStackTrace(v, projectDir)
		}

		visible[k] = v
	}

	span.Properties = visible

	return span
}

// rewriteStackTrace strips projectDir from absolute paths in a stack trace
// property, which may be a single string or a slice of per-frame strings.
func rewriteStackTrace(trace any, projectDir string) any {
	if projectDir == "" {
		return trace
	}

	prefix := strings.TrimSuffix(projectDir, "/") + "/"

	switch t := trace.(type) {
	case string:
		return strings.ReplaceAll(t, prefix, "")
	case []any:
		rewritten := make([]any, len(t))

		for i, frame := range t {
			if s, ok := frame.(string); ok {
				rewritten[i] = strings.ReplaceAll(s, prefix, "")
				continue
			}

			rewritten[i] = frame
		}

		return rewritten
	default:
		return trace
	}
}

// SubscribeToTrace opens a broker pattern subscription and increments the
// live subscriber gauge; the returned Subscription's Unsubscribe decrements
// it again.
func (s *Store) SubscribeToTrace(ctx context.Context, traceID string) (*broker.Subscription, error) {
	sub, err := s.subscribe.Subscribe(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrokerFailed, err)
	}

	s.subscriberCount.Add(1)

	unsubscribe := sub.Unsubscribe
	sub.Unsubscribe = func() {
		unsubscribe()
		s.subscriberCount.Add(-1)
	}

	return sub, nil
}

// SubscriberCount reports the live subscriber gauge value.
func (s *Store) SubscriberCount() int64 {
	return s.subscriberCount.Load()
}

// TruncateEvents deletes rows older than the configured retention. Safe to
// run concurrently with writes; called periodically by an external
// scheduler, per spec.
func (s *Store) TruncateEvents(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention).UnixNano()

	const query = `DELETE FROM spans WHERE start_time < $1`

	if _, err := s.conn.ExecContext(ctx, query, cutoff); err != nil {
		return fmt.Errorf("%w: truncate failed: %w", ErrStorageFailed, err)
	}

	return nil
}

func (s *Store) queryIncompleteBySpanID(ctx context.Context, spanID string) (*Span, error) {
	const query = `
		SELECT id, trace_id, span_id, COALESCE(parent_id, ''),
			is_partial, is_cancelled, is_error, status,
			start_time, duration,
			message, properties, metadata, style,
			payload, payload_type, output, output_type,
			events, links
		FROM spans
		WHERE span_id = $1 AND is_partial = true AND is_cancelled = false
		ORDER BY start_time DESC
		LIMIT 1
	`

	row := s.conn.QueryRowContext(ctx, query, spanID)

	span, err := scanSpan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, err
	}

	return &span, nil
}

func (s *Store) queryByTraceID(ctx context.Context, traceID string) ([]Span, error) {
	return s.queryAll(ctx, Where{"traceId": []any{traceID}})
}

// queryAll executes a read against the spans table. A "traceId" key holding
// exactly one value becomes a SQL predicate on trace_id; every other key of
// where is ignored, and without that key all rows are returned. Rows are not
// evaluated against internal/filter.
func (s *Store) queryAll(ctx context.Context, where Where) ([]Span, error) {
	traceID, _ := where["traceId"].([]any)

	const byTrace = `
		SELECT id, trace_id, span_id, COALESCE(parent_id, ''),
			is_partial, is_cancelled, is_error, status,
			start_time, duration,
			message, properties, metadata, style,
			payload, payload_type, output, output_type,
			events, links
		FROM spans
		WHERE trace_id = $1
		ORDER BY start_time ASC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if len(traceID) == 1 {
		rows, err = s.conn.QueryContext(ctx, byTrace, traceID[0])
	} else {
		rows, err = s.conn.QueryContext(ctx, `
			SELECT id, trace_id, span_id, COALESCE(parent_id, ''),
				is_partial, is_cancelled, is_error, status,
				start_time, duration,
				message, properties, metadata, style,
				payload, payload_type, output, output_type,
				events, links
			FROM spans
			ORDER BY start_time ASC
		`)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []Span

	for rows.Next() {
		span, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}

		spans = append(spans, span)
	}

	return spans, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpan(row rowScanner) (Span, error) {
	var (
		span                                       Span
		status                                     string
		properties, metadata, style, events, links []byte
	)

	err := row.Scan(
		&span.ID, &span.TraceID, &span.SpanID, &span.ParentID,
		&span.IsPartial, &span.IsCancelled, &span.IsError, &status,
		&span.StartTime, &span.Duration,
		&span.Message, &properties, &metadata, &style,
		&span.Payload, &span.PayloadType, &span.Output, &span.OutputType,
		&events, &links,
	)
	if err != nil {
		return Span{}, err
	}

	span.Status = SpanStatus(status)

	if err := json.Unmarshal(properties, &span.Properties); err != nil {
		return Span{}, fmt.Errorf("unmarshal properties: %w", err)
	}

	if err := json.Unmarshal(metadata, &span.Metadata); err != nil {
		return Span{}, fmt.Errorf("unmarshal metadata: %w", err)
	}

	if err := json.Unmarshal(style, &span.Style); err != nil {
		return Span{}, fmt.Errorf("unmarshal style: %w", err)
	}

	if err := json.Unmarshal(events, &span.Events); err != nil {
		return Span{}, fmt.Errorf("unmarshal events: %w", err)
	}

	if err := json.Unmarshal(links, &span.Links); err != nil {
		return Span{}, fmt.Errorf("unmarshal links: %w", err)
	}

	return span, nil
}
