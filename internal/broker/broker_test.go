package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelFor(t *testing.T) {
	assert.Equal(t, "events:trace1:span1", channelFor("trace1", "span1"))
}

func TestPatternFor(t *testing.T) {
	assert.Equal(t, "events:trace1:*", patternFor("trace1"))
}

func TestSpanIDFromChannel(t *testing.T) {
	spanID, ok := spanIDFromChannel("trace1", "events:trace1:span1")
	assert.True(t, ok)
	assert.Equal(t, "span1", spanID)

	_, ok = spanIDFromChannel("trace1", "events:trace2:span1")
	assert.False(t, ok)
}
