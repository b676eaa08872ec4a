package expressions

import (
	"context"
	"fmt"
	"sort"

	"github.com/rendis/dccmcp/pkg/schema"
)

// Engine evaluates the expressions that make up manifest action bodies,
// parameter rules and guard checks.
// Three implementations: CEL (rules, guards), GoJQ (reshaping), Expr (logic).
type Engine interface {
	Name() string
	// Compile checks the expression and caches the compiled program.
	Compile(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Set is an immutable lookup of engines by name.
type Set struct {
	engines map[string]Engine
}

// NewSet builds the default engine set (expr, cel, jq).
func NewSet() (*Set, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return NewSetOf(NewExprEngine(), celEngine, NewGoJQEngine()), nil
}

// NewSetOf builds a set from the given engines. Later engines with the same
// name win.
func NewSetOf(engines ...Engine) *Set {
	s := &Set{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		s.engines[e.Name()] = e
	}
	return s
}

// Get returns the engine registered under name.
func (s *Set) Get(name string) (Engine, error) {
	e, ok := s.engines[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown expression engine %q (available: %v)", name, s.Names())
	}
	return e, nil
}

// Names returns the sorted engine names.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.engines))
	for n := range s.engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EvaluateBool evaluates expression and requires a boolean outcome.
func EvaluateBool(ctx context.Context, e Engine, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"%s expression %q must evaluate to a boolean, got %s", e.Name(), expression, fmt.Sprintf("%T", out))
	}
	return b, nil
}
