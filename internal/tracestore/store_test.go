package tracestore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuppressPartials(t *testing.T) {
	tests := []struct {
		name  string
		spans []Span
		want  []string // spanIds expected to survive, in order
	}{
		{
			name: "partial suppressed by completed sibling in same batch",
			spans: []Span{
				{SpanID: "s1", IsPartial: true},
				{SpanID: "s1", IsPartial: false},
			},
			want: []string{"s1"},
		},
		{
			name: "partial alone in batch survives",
			spans: []Span{
				{SpanID: "s1", IsPartial: true},
			},
			want: []string{"s1"},
		},
		{
			name: "unrelated spans all survive",
			spans: []Span{
				{SpanID: "s1", IsPartial: false},
				{SpanID: "s2", IsPartial: true},
			},
			want: []string{"s1", "s2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := suppressPartials(tt.spans)

			gotIDs := make([]string, 0, len(got))
			for _, s := range got {
				gotIDs = append(gotIDs, s.SpanID)
			}

			assert.Equal(t, tt.want, gotIDs)
		})
	}
}

func TestNullableString(t *testing.T) {
	assert.Nil(t, nullableString(""))
	assert.Equal(t, "parent-1", nullableString("parent-1"))
}

func TestMergeOutput(t *testing.T) {
	existing := []byte(`{"old":true}`)
	incoming := []byte(`{"new":true}`)

	assert.Equal(t, existing, mergeOutput("", "", existing, nil))
	assert.Equal(t, incoming, mergeOutput("", "application/store", existing, incoming))
	assert.Equal(t, incoming, mergeOutput("", "text/plain", existing, incoming))

	var flattened map[string]any
	require.NoError(t, json.Unmarshal(mergeOutput("", "application/json", existing, incoming), &flattened))
	assert.Equal(t, map[string]any{"new": true}, flattened)
}

func TestFlattenJSON(t *testing.T) {
	raw := json.RawMessage(`{"a":{"b":1,"c":{"d":"x"}},"e":[1,2],"f":null}`)

	var got map[string]any
	require.NoError(t, json.Unmarshal(flattenJSON(raw), &got))

	assert.Equal(t, map[string]any{
		"a.b":   float64(1),
		"a.c.d": "x",
		"e":     []any{float64(1), float64(2)},
		"f":     nil,
	}, got)
}

func TestVisibleSpan(t *testing.T) {
	t.Setenv("PROJECT_DIR", "/home/user/app")

	span := Span{
		SpanID: "s1",
		Properties: map[string]any{
			"user.id":    "u1",
			"$internal":  "secret",
			"stackTrace": "/home/user/app/index.ts:10\n/home/user/app/lib/run.ts:4",
		},
	}

	got := visibleSpan(span)

	assert.Equal(t, map[string]any{
		"user.id":    "u1",
		"stackTrace": "index.ts:10\nlib/run.ts:4",
	}, got.Properties)
}

func TestVisibleSpan_NoProjectDir(t *testing.T) {
	t.Setenv("PROJECT_DIR", "")

	span := Span{
		SpanID: "s1",
		Properties: map[string]any{
			"$private":   "x",
			"stackTrace": "/abs/path.ts:1",
		},
	}

	got := visibleSpan(span)

	assert.Equal(t, map[string]any{"stackTrace": "/abs/path.ts:1"}, got.Properties)
}
