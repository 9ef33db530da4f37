package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobEnvelope_RoundTrip(t *testing.T) {
	runAt := time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)

	j := job{
		Name:    JobRunPipeline,
		Payload: json.RawMessage(`{"id":"run-1"}`),
		RunAt:   runAt,
		JobKey:  "event:run-1",
	}

	body, err := json.Marshal(j)
	require.NoError(t, err)

	var decoded job
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.Equal(t, j.Name, decoded.Name)
	assert.Equal(t, j.JobKey, decoded.JobKey)
	assert.True(t, j.RunAt.Equal(decoded.RunAt))
	assert.JSONEq(t, string(j.Payload), string(decoded.Payload))
}
