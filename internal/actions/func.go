package actions

import (
	"context"

	"github.com/rendis/dccmcp/internal/params"
)

// HandlerFunc is the body of a native Go action.
type HandlerFunc func(ctx context.Context, input Input) (map[string]any, error)

// FuncAction adapts a Go function into an Action.
type FuncAction struct {
	Meta   Metadata
	Input  *params.Schema
	Output *params.Schema
	Fn     HandlerFunc
}

// NewFuncAction creates a native action with the given schemas.
func NewFuncAction(meta Metadata, in, out *params.Schema, fn HandlerFunc) *FuncAction {
	return &FuncAction{Meta: meta, Input: in, Output: out, Fn: fn}
}

func (a *FuncAction) Metadata() Metadata { return a.Meta }
func (a *FuncAction) InputSchema() *params.Schema { return a.Input }
func (a *FuncAction) OutputSchema() *params.Schema { return a.Output }

func (a *FuncAction) Execute(ctx context.Context, input Input) (map[string]any, error) {
	if a.Fn == nil {
		return map[string]any{}, nil
	}
	return a.Fn(ctx, input)
}
