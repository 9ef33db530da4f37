package batch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_SizeTrigger(t *testing.T) {
	var mu sync.Mutex
	var flushes [][]int

	s := New(3, time.Hour, func(batch []int) error {
		mu.Lock()
		defer mu.Unlock()
		flushes = append(flushes, append([]int(nil), batch...))
		return nil
	}, nil)
	defer s.Close()

	s.AddToBatch(1, 2, 3, 4, 5, 6)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushes) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, flushes[0])
	assert.Equal(t, []int{4, 5, 6}, flushes[1])
	mu.Unlock()
}

func TestScheduler_TimeTrigger(t *testing.T) {
	var mu sync.Mutex
	var flushes [][]int

	s := New(100, 20*time.Millisecond, func(batch []int) error {
		mu.Lock()
		defer mu.Unlock()
		flushes = append(flushes, batch)
		return nil
	}, nil)
	defer s.Close()

	s.AddToBatch(1, 2)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushes) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{1, 2}, flushes[0])
	mu.Unlock()
}

func TestScheduler_ExactBatchCount(t *testing.T) {
	var mu sync.Mutex
	var callCount int
	var delivered []int

	s := New(5, time.Hour, func(batch []int) error {
		mu.Lock()
		defer mu.Unlock()
		callCount++
		delivered = append(delivered, batch...)
		return nil
	}, nil)
	defer s.Close()

	items := make([]int, 23)
	for i := range items {
		items[i] = i
	}

	s.AddToBatch(items...)
	s.Flush()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 23
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, callCount) // ceil(23/5) = 5
	assert.Equal(t, items, delivered)
}

func TestScheduler_FailedCallbackDiscardsBatch(t *testing.T) {
	called := make(chan struct{}, 1)

	s := New(2, time.Hour, func(batch []int) error {
		called <- struct{}{}
		return errors.New("boom")
	}, nil)
	defer s.Close()

	s.AddToBatch(1, 2)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}

	// Scheduler does not retry: the failed batch is not handed to the callback again.
	select {
	case <-called:
		t.Fatal("failed batch was retried")
	case <-time.After(50 * time.Millisecond):
	}

	// A separate scheduler whose callback succeeds delivers its own batch.
	var mu sync.Mutex
	var next []int
	s2 := New(2, time.Hour, func(batch []int) error {
		mu.Lock()
		defer mu.Unlock()
		next = batch
		return nil
	}, nil)
	defer s2.Close()

	s2.AddToBatch(9, 10)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(next) == 2
	}, time.Second, 10*time.Millisecond)
}
