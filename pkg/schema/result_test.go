package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccess_HasNoError(t *testing.T) {
	r := Success("done", map[string]any{"object_name": "sphere_1"})
	assert.True(t, r.Success)
	assert.Empty(t, r.Error)
	assert.Equal(t, "sphere_1", r.Context["object_name"])
}

func TestFailure_AlwaysHasError(t *testing.T) {
	r := Failure("could not run", "", nil)
	assert.False(t, r.Success)
	assert.Equal(t, "could not run", r.Error)
	assert.NotNil(t, r.Context)

	r = Failure("", "", nil)
	assert.Equal(t, "unknown error", r.Error)
}

func TestFromError_ActionError(t *testing.T) {
	err := NewError(ErrCodeValidation, "radius: must be greater than 0").
		WithDetails(map[string]any{"fields": []string{"radius"}})

	r := FromError("validation failed", err)
	assert.False(t, r.Success)
	assert.Equal(t, "radius: must be greater than 0", r.Error)
	assert.Equal(t, ErrCodeValidation, r.Context["error_code"])
	assert.NotNil(t, r.Context["error_details"])
}

func TestFromError_PlainError(t *testing.T) {
	r := FromError("boom", errors.New("kaput"))
	assert.Equal(t, "kaput", r.Error)
	_, hasCode := r.Context["error_code"]
	assert.False(t, hasCode)
}

func TestResult_CopiesDoNotMutate(t *testing.T) {
	ctx := map[string]any{"a": 1}
	r := Success("ok", ctx)
	ctx["a"] = 2
	assert.Equal(t, 1, r.Context["a"])

	r2 := r.WithContext("b", true).WithPrompt("next")
	_, ok := r.Context["b"]
	assert.False(t, ok)
	assert.Empty(t, r.Prompt)
	assert.Equal(t, true, r2.Context["b"])
	assert.Equal(t, "next", r2.Prompt)
}

func TestResult_WireShape(t *testing.T) {
	data, err := json.Marshal(Success("ok", nil))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "ok", m["message"])
	assert.Contains(t, m, "prompt")
	assert.Nil(t, m["prompt"])
	assert.Contains(t, m, "error")
	assert.Equal(t, map[string]any{}, m["context"])

	var back ActionResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Success)
	assert.Empty(t, back.Error)
}
