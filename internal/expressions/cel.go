package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/rendis/dccmcp/pkg/schema"
)

// DefaultCELVariables are the top-level names visible to CEL expressions.
var DefaultCELVariables = []string{"args", "context", "value"}

// CELEngine implements the Engine interface using Google's Common Expression Language.
// It evaluates parameter rules, guard checks and CEL action bodies.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env  *cel.Env
	vars []string

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a new CEL engine. Every variable is declared dyn so
// that maps, lists and scalars can all be inspected:
//   - args:    validated call arguments
//   - context: merged execution context
//   - value:   the field value under test (rules only)
func NewCELEngine(vars ...string) (*CELEngine, error) {
	if len(vars) == 0 {
		vars = DefaultCELVariables
	}

	opts := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		vars:  vars,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Compile parses and type-checks expression, caching the program.
func (e *CELEngine) Compile(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}
	_, err := e.getOrCompile(expression)
	return err
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates it
// against the provided data.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, e.activation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return toNative(out), nil
}

// toNative converts CEL values into plain Go maps, slices and scalars.
func toNative(v ref.Val) any {
	switch val := v.(type) {
	case types.Null:
		return nil
	case traits.Mapper:
		out := map[string]any{}
		it := val.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			out[fmt.Sprint(toNative(k))] = toNative(val.Get(k))
		}
		return out
	case traits.Lister:
		n, _ := val.Size().(types.Int)
		out := make([]any, 0, int(n))
		for i := types.Int(0); i < n; i++ {
			out = append(out, toNative(val.Get(i)))
		}
		return out
	}
	return v.Value()
}

func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// activation fills every declared variable. Missing maps default to empty
// maps so selections like args.x fail with a clear "no such key" instead of
// an unbound variable.
func (e *CELEngine) activation(data map[string]any) map[string]any {
	act := make(map[string]any, len(e.vars))
	for _, key := range e.vars {
		if v, ok := data[key]; ok {
			act[key] = v
			continue
		}
		if key == "value" {
			act[key] = nil
		} else {
			act[key] = map[string]any{}
		}
	}
	return act
}

var _ Engine = (*CELEngine)(nil)
