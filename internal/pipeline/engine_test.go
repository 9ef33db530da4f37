package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStateTransition(t *testing.T) {
	assert.NoError(t, validateStateTransition(StatusPending, StatusStarted))
	assert.NoError(t, validateStateTransition(StatusStarted, StatusStarted))
	assert.NoError(t, validateStateTransition(StatusStarted, StatusSuccess))

	err := validateStateTransition(StatusSuccess, StatusStarted)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	err = validateStateTransition(StatusFailure, StatusSuccess)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	// re-saving the same terminal status is not a transition.
	assert.NoError(t, validateStateTransition(StatusSuccess, StatusSuccess))
}

func TestEngine_DispatchStep_FilterMatch(t *testing.T) {
	e := &Engine{}

	run := &Run{Output: json.RawMessage(`{"foo":"bar"}`)}
	step := Step{ID: "s1", Type: StepFilter, Config: json.RawMessage(`{"foo": ["bar"]}`)}

	err := e.dispatchStep(step, run)
	assert.NoError(t, err)
}

func TestEngine_DispatchStep_FilterMismatch(t *testing.T) {
	e := &Engine{}

	run := &Run{Output: json.RawMessage(`{"foo":"baz"}`)}
	step := Step{ID: "s1", Type: StepFilter, Config: json.RawMessage(`{"foo": ["bar"]}`)}

	err := e.dispatchStep(step, run)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFilterMismatch)
}

func TestEngine_DispatchStep_UnsupportedWebhook(t *testing.T) {
	e := &Engine{}

	run := &Run{Output: json.RawMessage(`{}`)}
	step := Step{ID: "s1", Type: StepWebhook}

	err := e.dispatchStep(step, run)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedStep)
}

func TestEngine_DispatchStep_InvalidFilterConfig(t *testing.T) {
	e := &Engine{}

	run := &Run{Output: json.RawMessage(`{}`)}
	step := Step{ID: "s1", Type: StepFilter, Config: json.RawMessage(`not json`)}

	err := e.dispatchStep(step, run)
	require.Error(t, err)
}
