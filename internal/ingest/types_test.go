package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeDeliverAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("prefers explicit deliverAt", func(t *testing.T) {
		explicit := now.Add(time.Hour)
		got := computeDeliverAt(now, SendOptions{DeliverAt: &explicit})
		assert.True(t, got.Equal(explicit))
	})

	t.Run("falls back to deliverAfter", func(t *testing.T) {
		got := computeDeliverAt(now, SendOptions{DeliverAfter: 30 * time.Second})
		assert.True(t, got.Equal(now.Add(30*time.Second)))
	})

	t.Run("immediate when neither set", func(t *testing.T) {
		got := computeDeliverAt(now, SendOptions{})
		assert.Nil(t, got)
	})
}
