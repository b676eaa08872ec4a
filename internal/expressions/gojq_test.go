package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoJQ_Reshape(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())

	out, err := e.Evaluate(context.Background(),
		`{count: (.args.names | length), first: .args.names[0]}`,
		map[string]any{"args": map[string]any{"names": []any{"a", "b"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 2, "first": "a"}, out)
}

func TestGoJQ_IntegersWidened(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), `.args.n + 1`, map[string]any{"args": map[string]any{"n": 41}})
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)
}

func TestGoJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), `.args.items[]`, map[string]any{"args": map[string]any{"items": []any{"x", "y"}}})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, out)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()
	err := e.Compile(`{broken`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jq parse error")
}

func TestGoJQ_EnvBlocked(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), `$ENV | length`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}
