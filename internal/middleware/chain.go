// Package middleware composes the processing chain wrapped around every
// action body.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rendis/dccmcp/internal/actions"
	"github.com/rendis/dccmcp/pkg/schema"
)

// Call is the per-invocation state seen by middleware. Args are already
// validated against the action's input schema.
type Call struct {
	ID      string
	Key     actions.Key
	Action  actions.Action
	Args    map[string]any
	Context map[string]any
}

// Handler processes a call and produces its result.
type Handler func(ctx context.Context, call *Call) (*schema.ActionResult, error)

// Middleware wraps the next handler in the chain.
type Middleware interface {
	Process(ctx context.Context, call *Call, next Handler) (*schema.ActionResult, error)
}

// Func adapts a function to the Middleware interface.
type Func func(ctx context.Context, call *Call, next Handler) (*schema.ActionResult, error)

// Process calls f.
func (f Func) Process(ctx context.Context, call *Call, next Handler) (*schema.ActionResult, error) {
	return f(ctx, call, next)
}

// Factory creates a middleware instance from its options.
type Factory func(opts map[string]any) (Middleware, error)

// Entry is one configured link of a chain.
type Entry struct {
	Name     string
	Factory  Factory
	Options  map[string]any
	Position int
}

// Chain is an ordered list of middleware entries. The first entry added
// runs outermost.
type Chain struct {
	mu      sync.Mutex
	entries []Entry
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Add appends a middleware factory.
func (c *Chain) Add(name string, f Factory, opts map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{
		Name:     name,
		Factory:  f,
		Options:  opts,
		Position: len(c.entries),
	})
}

// Use appends an already constructed middleware.
func (c *Chain) Use(name string, mw Middleware) {
	c.Add(name, func(map[string]any) (Middleware, error) { return mw, nil }, nil)
}

// Len returns the number of entries.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a copy of the configured entries in order.
func (c *Chain) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// Pipeline runs a call through the built chain. It never returns nil and
// never panics.
type Pipeline func(ctx context.Context, call *Call) *schema.ActionResult

// Build instantiates every factory once and composes the links around
// terminal. Errors and panics raised anywhere in the chain become failing
// results at the pipeline boundary.
func (c *Chain) Build(terminal Handler) (Pipeline, error) {
	entries := c.Entries()

	links := make([]Middleware, 0, len(entries))
	for _, e := range entries {
		if e.Factory == nil {
			return nil, schema.NewErrorf(schema.ErrCodeMiddleware, "middleware %q has no factory", e.Name)
		}
		mw, err := e.Factory(e.Options)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeMiddleware, "create middleware %q: %s", e.Name, err.Error()).WithCause(err)
		}
		if mw == nil {
			return nil, schema.NewErrorf(schema.ErrCodeMiddleware, "middleware %q factory returned nil", e.Name)
		}
		links = append(links, mw)
	}

	h := terminal
	for i := len(links) - 1; i >= 0; i-- {
		h = wrap(links[i], h)
	}

	return func(ctx context.Context, call *Call) (res *schema.ActionResult) {
		defer func() {
			if r := recover(); r != nil {
				res = Fail(call, schema.NewErrorf(schema.ErrCodeExecution, "panic: %v", r))
			}
		}()
		out, err := h(ctx, call)
		if err != nil {
			return Fail(call, err)
		}
		if out == nil {
			return Fail(call, schema.NewError(schema.ErrCodeExecution, "no result produced"))
		}
		return out
	}, nil
}

func wrap(mw Middleware, next Handler) Handler {
	return func(ctx context.Context, call *Call) (*schema.ActionResult, error) {
		return mw.Process(ctx, call, next)
	}
}

// Fail converts err into the failing result reported for call.
func Fail(call *Call, err error) *schema.ActionResult {
	name := ""
	if call != nil {
		name = call.Key.Name
	}
	res := schema.FromError(fmt.Sprintf("Action %s execution failed: %s", name, errorText(err)), err)
	return res.WithPrompt(schema.PromptCheckParameters)
}

func errorText(err error) string {
	var ae *schema.ActionError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
