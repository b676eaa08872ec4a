package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/rendis/dccmcp/internal/actions"
	"github.com/rendis/dccmcp/internal/expressions"
	"github.com/rendis/dccmcp/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCall(name string, args map[string]any) *Call {
	return &Call{
		ID:      "call-1",
		Key:     actions.Key{Scope: "maya", Name: name},
		Args:    args,
		Context: map[string]any{"dcc_name": "maya"},
	}
}

func okTerminal(trace *[]string) Handler {
	return func(_ context.Context, call *Call) (*schema.ActionResult, error) {
		if trace != nil {
			*trace = append(*trace, "body")
		}
		return schema.Success("done "+call.Key.Name, nil), nil
	}
}

func tracer(name string, trace *[]string) Middleware {
	return Func(func(ctx context.Context, call *Call, next Handler) (*schema.ActionResult, error) {
		*trace = append(*trace, name+"-before")
		res, err := next(ctx, call)
		*trace = append(*trace, name+"-after")
		return res, err
	})
}

func TestChain_Ordering(t *testing.T) {
	var trace []string
	c := NewChain()
	c.Use("A", tracer("A", &trace))
	c.Use("B", tracer("B", &trace))

	run, err := c.Build(okTerminal(&trace))
	require.NoError(t, err)

	res := run(context.Background(), testCall("x", nil))
	require.True(t, res.Success)
	assert.Equal(t, []string{"A-before", "B-before", "body", "B-after", "A-after"}, trace)
}

func TestChain_Empty(t *testing.T) {
	run, err := NewChain().Build(okTerminal(nil))
	require.NoError(t, err)
	res := run(context.Background(), testCall("x", nil))
	assert.True(t, res.Success)
	assert.Equal(t, "done x", res.Message)
}

func TestChain_Entries(t *testing.T) {
	c := NewChain()
	c.Add("first", LoggingFactory(nil), nil)
	c.Add("second", PerformanceFactory(nil), map[string]any{"threshold": 0.5})

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "first", entries[0].Name)
	assert.Equal(t, 1, entries[1].Position)

	entries[0].Name = "changed"
	assert.Equal(t, "first", c.Entries()[0].Name)
}

func TestChain_FactoryErrors(t *testing.T) {
	c := NewChain()
	c.Add("broken", func(map[string]any) (Middleware, error) { return nil, errors.New("bad options") }, nil)
	_, err := c.Build(okTerminal(nil))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeMiddleware))
	assert.Contains(t, err.Error(), "broken")

	c = NewChain()
	c.Add("nil", func(map[string]any) (Middleware, error) { return nil, nil }, nil)
	_, err = c.Build(okTerminal(nil))
	assert.Error(t, err)

	c = NewChain()
	c.Add("nofactory", nil, nil)
	_, err = c.Build(okTerminal(nil))
	assert.Error(t, err)
}

func TestChain_ErrorBecomesFailure(t *testing.T) {
	c := NewChain()
	c.Use("failing", Func(func(ctx context.Context, call *Call, next Handler) (*schema.ActionResult, error) {
		return nil, errors.New("middleware exploded")
	}))
	run, err := c.Build(okTerminal(nil))
	require.NoError(t, err)

	res := run(context.Background(), testCall("create_sphere", nil))
	assert.False(t, res.Success)
	assert.Equal(t, "middleware exploded", res.Error)
	assert.Equal(t, "Action create_sphere execution failed: middleware exploded", res.Message)
	assert.Equal(t, schema.PromptCheckParameters, res.Prompt)
}

func TestChain_PanicBecomesFailure(t *testing.T) {
	run, err := NewChain().Build(func(context.Context, *Call) (*schema.ActionResult, error) {
		panic("body panic")
	})
	require.NoError(t, err)

	var res *schema.ActionResult
	require.NotPanics(t, func() { res = run(context.Background(), testCall("x", nil)) })
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "body panic")
	assert.Equal(t, schema.ErrCodeExecution, res.Context["error_code"])
}

func TestChain_NilResult(t *testing.T) {
	run, err := NewChain().Build(func(context.Context, *Call) (*schema.ActionResult, error) { return nil, nil })
	require.NoError(t, err)
	res := run(context.Background(), testCall("x", nil))
	assert.False(t, res.Success)
	assert.Equal(t, "no result produced", res.Error)
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	c := NewChain()
	c.Add(NameLogging, LoggingFactory(logger), nil)
	run, err := c.Build(okTerminal(nil))
	require.NoError(t, err)

	res := run(context.Background(), testCall("create_sphere", nil))
	assert.True(t, res.Success)
	out := buf.String()
	assert.Contains(t, out, "executing action")
	assert.Contains(t, out, "action completed")
	assert.Contains(t, out, "action=create_sphere")

	buf.Reset()
	run, err = c.Build(func(context.Context, *Call) (*schema.ActionResult, error) {
		return schema.Failure("nope", "radius must be positive", nil), nil
	})
	require.NoError(t, err)
	run(context.Background(), testCall("create_sphere", nil))
	assert.Contains(t, buf.String(), "action failed")
}

func TestPerformance(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	c := NewChain()
	c.Add(NamePerformance, PerformanceFactory(logger), map[string]any{"threshold": 0.01})
	run, err := c.Build(func(_ context.Context, call *Call) (*schema.ActionResult, error) {
		time.Sleep(20 * time.Millisecond)
		return schema.Success("slow", map[string]any{"kept": true}), nil
	})
	require.NoError(t, err)

	res := run(context.Background(), testCall("slow_action", nil))
	require.True(t, res.Success)
	perf, ok := res.Context["performance"].(map[string]any)
	require.True(t, ok)
	assert.Greater(t, perf["execution_time"].(float64), 0.0)
	assert.Equal(t, true, res.Context["kept"])
	assert.Contains(t, buf.String(), "slow action detected")
}

func TestPerformance_BadThreshold(t *testing.T) {
	_, err := PerformanceFactory(nil)(map[string]any{"threshold": "fast"})
	assert.Error(t, err)
	_, err = PerformanceFactory(nil)(map[string]any{"threshold": -1})
	assert.Error(t, err)
}

func TestGuard(t *testing.T) {
	engine, err := expressions.NewCELEngine()
	require.NoError(t, err)

	c := NewChain()
	c.Add(NameGuard, GuardFactory(engine), map[string]any{
		"rule":    "args.count <= 100",
		"message": "too many objects",
	})
	var trace []string
	run, err := c.Build(okTerminal(&trace))
	require.NoError(t, err)

	res := run(context.Background(), testCall("create_spheres", map[string]any{"count": int64(5)}))
	assert.True(t, res.Success)

	res = run(context.Background(), testCall("create_spheres", map[string]any{"count": int64(500)}))
	assert.False(t, res.Success)
	assert.Equal(t, "too many objects", res.Error)
	assert.Equal(t, schema.ErrCodeMiddleware, res.Context["error_code"])
	assert.Equal(t, []string{"body"}, trace)
}

func TestGuard_ContextAndScopedActions(t *testing.T) {
	engine, err := expressions.NewCELEngine()
	require.NoError(t, err)

	c := NewChain()
	c.Add(NameGuard, GuardFactory(engine), map[string]any{
		"rule":    `context.dcc_name == "houdini"`,
		"actions": []any{"houdini_only"},
	})
	run, err := c.Build(okTerminal(nil))
	require.NoError(t, err)

	assert.True(t, run(context.Background(), testCall("anything", nil)).Success)
	res := run(context.Background(), testCall("houdini_only", nil))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "precondition")
}

func TestGuard_Options(t *testing.T) {
	engine, err := expressions.NewCELEngine()
	require.NoError(t, err)

	_, err = GuardFactory(engine)(nil)
	assert.ErrorContains(t, err, "requires a rule")

	_, err = GuardFactory(engine)(map[string]any{"rule": "args.x >"})
	assert.Error(t, err)
}
