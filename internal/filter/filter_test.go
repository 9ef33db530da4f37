package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval_S1(t *testing.T) {
	f, err := Parse([]byte(`{"foo": ["bar"], "n": [{"$gt": 10}]}`))
	require.NoError(t, err)

	assert.True(t, Eval(f, map[string]any{"foo": "bar", "n": 11.0}))
	assert.False(t, Eval(f, map[string]any{"foo": "bar", "n": 10.0}))
	assert.False(t, Eval(f, map[string]any{"foo": "baz", "n": 11.0}))
}

func TestEval_PrimitiveEquality(t *testing.T) {
	f, err := Parse([]byte(`{"k": ["v"]}`))
	require.NoError(t, err)

	assert.True(t, Eval(f, map[string]any{"k": "v"}))
	assert.False(t, Eval(f, map[string]any{"k": "v2"}))

	fNum, err := Parse([]byte(`{"k": [1]}`))
	require.NoError(t, err)
	assert.True(t, Eval(fNum, map[string]any{"k": 1.0}))

	fBool, err := Parse([]byte(`{"k": [true]}`))
	require.NoError(t, err)
	assert.True(t, Eval(fBool, map[string]any{"k": true}))
	assert.False(t, Eval(fBool, map[string]any{"k": false}))
}

func TestEval_KeyOrderInsensitive(t *testing.T) {
	f1, err := Parse([]byte(`{"a": ["x"], "b": ["y"]}`))
	require.NoError(t, err)

	f2, err := Parse([]byte(`{"b": ["y"], "a": ["x"]}`))
	require.NoError(t, err)

	doc1 := map[string]any{"a": "x", "b": "y"}
	doc2 := map[string]any{"b": "y", "a": "x"}

	assert.Equal(t, Eval(f1, doc1), Eval(f2, doc2))
}

func TestEval_ExistsAndIsNull(t *testing.T) {
	f, err := Parse([]byte(`{"k": [{"$exists": false}]}`))
	require.NoError(t, err)
	assert.True(t, Eval(f, map[string]any{}))
	assert.False(t, Eval(f, map[string]any{"k": "v"}))

	fNull, err := Parse([]byte(`{"k": [{"$isNull": true}]}`))
	require.NoError(t, err)
	assert.True(t, Eval(fNull, map[string]any{"k": nil}))
	assert.False(t, Eval(fNull, map[string]any{"k": "v"}))
}

func TestEval_StringMatchers(t *testing.T) {
	f, err := Parse([]byte(`{"k": [{"$endsWith": "lo"}, {"$startsWith": "HE"}]}`))
	require.NoError(t, err)

	assert.True(t, Eval(f, map[string]any{"k": "hello"}))
	assert.True(t, Eval(f, map[string]any{"k": "HELLO"}))
	assert.False(t, Eval(f, map[string]any{"k": "nope"}))

	fIgnore, err := Parse([]byte(`{"k": [{"$ignoreCaseEquals": "abc"}]}`))
	require.NoError(t, err)
	assert.True(t, Eval(fIgnore, map[string]any{"k": "ABC"}))
}

func TestEval_AnythingBut(t *testing.T) {
	f, err := Parse([]byte(`{"k": [{"$anythingBut": ["a", "b"]}]}`))
	require.NoError(t, err)

	assert.True(t, Eval(f, map[string]any{"k": "c"}))
	assert.False(t, Eval(f, map[string]any{"k": "a"}))
}

func TestEval_NumericRanges(t *testing.T) {
	f, err := Parse([]byte(`{"k": [{"$between": [10, 20]}]}`))
	require.NoError(t, err)

	assert.True(t, Eval(f, map[string]any{"k": 10.0}))
	assert.True(t, Eval(f, map[string]any{"k": 20.0}))
	assert.False(t, Eval(f, map[string]any{"k": 21.0}))
	assert.False(t, Eval(f, map[string]any{"k": "not-a-number"}))
}

func TestEval_Includes(t *testing.T) {
	fArr, err := Parse([]byte(`{"k": [{"$includes": "x"}]}`))
	require.NoError(t, err)
	assert.True(t, Eval(fArr, map[string]any{"k": []any{"x", "y"}}))
	assert.False(t, Eval(fArr, map[string]any{"k": []any{"y"}}))

	fStr, err := Parse([]byte(`{"k": [{"$includes": "ell"}]}`))
	require.NoError(t, err)
	assert.True(t, Eval(fStr, map[string]any{"k": "hello"}))
}

func TestEval_MissingPathFailsByDefault(t *testing.T) {
	f, err := Parse([]byte(`{"k": ["v"]}`))
	require.NoError(t, err)
	assert.False(t, Eval(f, map[string]any{}))
}

func TestParse_InvalidDocument(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"k": "not-an-array"}`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"k": [{"$unknown": 1}]}`))
	require.Error(t, err)
}
