package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpr_MapLiteral(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())

	out, err := e.Evaluate(context.Background(),
		`{"object_name": "sphere_" + string(args.index), "radius": args.radius * 2}`,
		map[string]any{"args": map[string]any{"index": 1, "radius": 1.5}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"object_name": "sphere_1", "radius": 3.0}, out)
}

func TestExpr_UndefinedVariablesAllowed(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), `missing ?? "fallback"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()
	err := e.Compile(`1 +`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expr compile error")
	assert.Error(t, e.Compile(""))
}

func TestExpr_RuntimeError(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), `int(args.count)`, map[string]any{"args": map[string]any{"count": "many"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expr evaluation failed")
}
