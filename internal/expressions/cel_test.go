package expressions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rendis/dccmcp/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_IntegerArithmetic(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

func TestCEL_ValueRule_CrossTypeNumbers(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	tests := []struct {
		value any
		want  bool
	}{
		{2.0, true},
		{float64(-1), false},
		{int64(3), true},
		{0, false},
	}
	for _, tt := range tests {
		ok, err := EvaluateBool(context.Background(), e, "value > 0", map[string]any{"value": tt.value})
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "value=%v", tt.value)
	}
}

func TestCEL_ArgsAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{"args": map[string]any{"count": int64(3), "name": "cube"}}
	ok, err := EvaluateBool(context.Background(), e, `args.count < 5 && args.name.startsWith("cu")`, data)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCEL_MissingVariablesDefault(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `size(args) == 0 && value == null`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	err = e.Compile("value >")
	require.Error(t, err)
	var ae *schema.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrCodeValidation, ae.Code)

	assert.Error(t, e.Compile(""))
}

func TestCEL_EvaluateBool_NonBoolean(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = EvaluateBool(context.Background(), e, "1 + 1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must evaluate to a boolean")
}

func TestCEL_ConcurrentEvaluate(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "value * 2", map[string]any{"value": int64(i)})
			assert.NoError(t, err)
			assert.Equal(t, int64(i*2), out)
		}(i)
	}
	wg.Wait()
}

func TestCEL_MapResultIsNative(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(),
		`{"name": args.name, "sizes": [1, 2], "meta": {"ok": true}, "none": null}`,
		map[string]any{"args": map[string]any{"name": "pCube1"}})
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pCube1", m["name"])
	assert.Equal(t, []any{int64(1), int64(2)}, m["sizes"])
	assert.Equal(t, map[string]any{"ok": true}, m["meta"])
	assert.Nil(t, m["none"])
}
