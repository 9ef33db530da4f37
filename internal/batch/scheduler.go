// Package batch implements the dynamic flush scheduler: it coalesces
// single-item writes into size- or time-bounded batches, swapping the active
// buffer atomically before handing it to the flush callback.
package batch

import (
	"log/slog"
	"sync"
	"time"
)

const shutdownTimeout = 5 * time.Second

// Callback is invoked with exactly the items accumulated since the previous
// flush, in submission order. A callback that returns an error causes the
// batch to be logged and discarded; the scheduler never retries.
type Callback[T any] func(batch []T) error

// Scheduler coalesces AddToBatch calls into batches bounded by size and
// flush interval. Flushes run one at a time, in trigger order: if a callback
// is still running when the next trigger fires, that flush waits for the
// previous one to return before it starts (back-pressure), while items keep
// accumulating in the buffer in the interim.
type Scheduler[T any] struct {
	batchSize     int
	flushInterval time.Duration
	callback      Callback[T]
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []T
	timer  *time.Timer

	flushQueue chan []T
	drained    chan struct{}
	closeOne   sync.Once
}

// New constructs a Scheduler. batchSize and flushInterval must both be
// positive. The returned Scheduler owns a background goroutine that runs
// flushed batches through callback one at a time; call Close to stop it.
func New[T any](batchSize int, flushInterval time.Duration, callback Callback[T], logger *slog.Logger) *Scheduler[T] {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler[T]{
		batchSize:     batchSize,
		flushInterval: flushInterval,
		callback:      callback,
		logger:        logger,
		flushQueue:    make(chan []T, 1),
		drained:       make(chan struct{}),
	}

	go s.runFlushLoop()

	return s
}

// runFlushLoop is the Scheduler's single flush worker: it pulls queued
// batches and runs callback on each in turn, never overlapping two
// invocations.
func (s *Scheduler[T]) runFlushLoop() {
	defer close(s.drained)

	for batch := range s.flushQueue {
		if err := s.callback(batch); err != nil {
			s.logger.Error("batch flush failed, discarding batch", "error", err, "size", len(batch))
		}
	}
}

// AddToBatch appends items to the active buffer, returning immediately. A
// size-trigger queues a flush synchronously with respect to buffer mutation
// (the buffer is swapped before the callback runs); a time-trigger queues a
// flush from a background timer started on first use.
func (s *Scheduler[T]) AddToBatch(items ...T) {
	if len(items) == 0 {
		return
	}

	s.mu.Lock()

	first := len(s.buffer) == 0 && s.timer == nil
	s.buffer = append(s.buffer, items...)

	var toFlush [][]T
	for len(s.buffer) >= s.batchSize {
		toFlush = append(toFlush, append([]T(nil), s.buffer[:s.batchSize]...))
		s.buffer = s.buffer[s.batchSize:]
	}

	switch {
	case len(toFlush) > 0 && s.timer != nil:
		s.timer.Stop()
		s.timer = nil
	case len(toFlush) == 0 && first:
		s.timer = time.AfterFunc(s.flushInterval, s.onTimerFire)
	}

	if len(toFlush) > 0 && len(s.buffer) > 0 && s.timer == nil {
		s.timer = time.AfterFunc(s.flushInterval, s.onTimerFire)
	}

	s.mu.Unlock()

	for _, batch := range toFlush {
		s.flushQueue <- batch
	}
}

// swapLocked must be called with mu held. It detaches the active buffer and
// stops any pending timer so the next batch starts fresh.
func (s *Scheduler[T]) swapLocked() []T {
	buf := s.buffer
	s.buffer = nil

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	return buf
}

func (s *Scheduler[T]) onTimerFire() {
	s.mu.Lock()
	toFlush := s.swapLocked()
	s.mu.Unlock()

	if toFlush != nil {
		s.flushQueue <- toFlush
	}
}

// Close stops any pending timer, stops accepting new flushes, and waits for
// the flush worker to drain its queue and exit, up to a bounded timeout. It
// does not flush the current buffer; callers needing a final flush should
// call Flush before Close.
func (s *Scheduler[T]) Close() error {
	s.closeOne.Do(func() {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.mu.Unlock()

		close(s.flushQueue)

		select {
		case <-s.drained:
			s.logger.Info("batch scheduler flushes drained")
		case <-time.After(shutdownTimeout):
			s.logger.Warn("batch scheduler did not drain in-flight flushes within timeout")
		}
	})

	return nil
}

// Flush forces an immediate flush of whatever is currently buffered,
// bypassing the size/time triggers. tracestore.Store.Close calls it at
// shutdown so that buffered items reach the callback before Close.
func (s *Scheduler[T]) Flush() {
	s.mu.Lock()
	toFlush := s.swapLocked()
	s.mu.Unlock()

	if toFlush != nil {
		s.flushQueue <- toFlush
	}
}
