package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTransform_AddsField(t *testing.T) {
	script := `function transform(payload) { payload.seen = true; return payload }`
	result, err := runTransform(script, map[string]interface{}{"id": "1"}, 0)
	require.NoError(t, err)

	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, m["seen"])
	assert.Equal(t, "1", m["id"])
}

func TestRunTransform_MissingFunction(t *testing.T) {
	_, err := runTransform(`var x = 1;`, map[string]interface{}{}, 0)
	require.Error(t, err)
}

func TestRunTransform_ThrowingScript(t *testing.T) {
	_, err := runTransform(`function transform(payload) { throw new Error("boom") }`, nil, 0)
	require.Error(t, err)
}

func TestRunTransform_ExceedsBudget(t *testing.T) {
	script := `function transform(payload) { while (true) {} }`
	_, err := runTransform(script, nil, 5*time.Millisecond)
	require.Error(t, err)
}

func TestRunTransform_CompileError(t *testing.T) {
	_, err := runTransform(`function transform(payload) {`, nil, 0)
	require.Error(t, err)
}
