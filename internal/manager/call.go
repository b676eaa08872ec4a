package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/dccmcp/internal/actions"
	"github.com/rendis/dccmcp/internal/events"
	"github.com/rendis/dccmcp/internal/logging"
	"github.com/rendis/dccmcp/internal/middleware"
	"github.com/rendis/dccmcp/pkg/schema"
)

// CallOption customizes a single CallAction.
type CallOption func(*callConfig)

type callConfig struct {
	scope   string
	context map[string]any
	callID  string
}

// WithScope looks the action up in scope instead of the manager's scope.
func WithScope(scope string) CallOption {
	return func(c *callConfig) { c.scope = scope }
}

// WithContext merges ctx over the default call context.
func WithContext(ctx map[string]any) CallOption {
	return func(c *callConfig) {
		if c.context == nil {
			c.context = map[string]any{}
		}
		maps.Copy(c.context, ctx)
	}
}

// WithCallID sets the call ID instead of generating one.
func WithCallID(id string) CallOption {
	return func(c *callConfig) { c.callID = id }
}

// CallAction looks up, validates and runs an action. It always returns a
// result and never panics; every failure is reported as a failing result.
// The registry is only locked for the lookup. before_execute is published
// once the arguments are valid; after_execute or execute_failed closes
// every call.
func (m *Manager) CallAction(ctx context.Context, name string, args map[string]any, opts ...CallOption) (res *schema.ActionResult) {
	cfg := callConfig{scope: m.scope}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.callID == "" {
		cfg.callID = uuid.NewString()
	}
	ctx = logging.WithCall(ctx, cfg.callID, name, cfg.scope)
	start := time.Now()

	base := map[string]any{
		events.KeyAction: name,
		events.KeyScope:  cfg.scope,
		events.KeyCallID: cfg.callID,
	}
	call := &middleware.Call{ID: cfg.callID, Key: actions.Key{Scope: cfg.scope, Name: name}}

	defer func() {
		if r := recover(); r != nil {
			res = middleware.Fail(call, schema.NewErrorf(schema.ErrCodeExecution, "panic: %v", r))
			m.publishOutcome(ctx, base, res, start)
		}
	}()

	d, err := m.registry.Get(cfg.scope, name)
	if err != nil {
		res = m.notFound(name, cfg.scope, err)
		m.publishOutcome(ctx, base, res, start)
		return res
	}

	call.Key = d.Key
	call.Action = d.Action
	call.Context = maps.Clone(m.defaults)
	maps.Copy(call.Context, cfg.context)

	validated, err := m.validateInput(ctx, d.Action, args)
	if err != nil {
		res = middleware.Fail(call, err)
		m.publishOutcome(ctx, base, res, start)
		return res
	}
	call.Args = validated

	m.bus.Publish(ctx, schema.EventBeforeExecute, with(base, map[string]any{
		events.KeyArgs:    validated,
		events.KeyContext: call.Context,
	}))

	res = (*m.pipeline.Load())(ctx, call)
	m.publishOutcome(ctx, base, res, start)
	return res
}

// validateInput applies the action's input schema. A panicking schema or
// rule becomes an execution error.
func (m *Manager) validateInput(ctx context.Context, a actions.Action, args map[string]any) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, schema.NewErrorf(schema.ErrCodeExecution, "input validation panicked: %v", r)
		}
	}()
	return m.validator.ValidateInput(ctx, a.InputSchema(), args)
}

// execute is the terminal handler of the middleware chain.
func (m *Manager) execute(ctx context.Context, call *middleware.Call) (*schema.ActionResult, error) {
	in := actions.Input{CallID: call.ID, Args: call.Args, Context: call.Context}

	out, err := call.Action.Execute(ctx, in)
	if err != nil {
		var ae *schema.ActionError
		if !errors.As(err, &ae) {
			err = schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
		}
		return nil, err
	}

	out, err = m.validator.ValidateOutput(ctx, call.Action.OutputSchema(), out)
	if err != nil {
		return nil, err
	}

	var message, prompt string
	if r, ok := call.Action.(actions.Reporter); ok {
		message, prompt = r.Report(in, out)
	}
	if message == "" {
		message = fmt.Sprintf("Action %s executed successfully", call.Key.Name)
	}
	res := schema.Success(message, out)
	if prompt != "" {
		res = res.WithPrompt(prompt)
	}
	return res, nil
}

func (m *Manager) notFound(name, scope string, err error) *schema.ActionResult {
	available := m.ListAvailableActions(scope)
	return schema.Failure(
		fmt.Sprintf("Action %s not found", name),
		fmt.Sprintf("Action %s not found in registry", name),
		map[string]any{
			"error_code":        schema.CodeOf(err),
			"available_actions": available,
		},
	).WithPrompt(schema.PromptCheckActionName)
}

func (m *Manager) publishOutcome(ctx context.Context, base map[string]any, res *schema.ActionResult, start time.Time) {
	elapsed := time.Since(start)
	payload := with(base, map[string]any{
		events.KeyResult:   res.ToMap(),
		events.KeyDuration: elapsed.Seconds(),
	})

	log := logging.LogWith(ctx, m.logger)
	if res.Success {
		log.Debug("action call succeeded", slog.Duration("duration", elapsed))
		m.bus.Publish(ctx, schema.EventAfterExecute, payload)
		return
	}

	payload[events.KeyError] = res.Error
	if code, ok := res.Context["error_code"]; ok {
		payload[events.KeyCode] = code
	}
	log.Debug("action call failed", slog.String("error", res.Error), slog.Duration("duration", elapsed))
	m.bus.Publish(ctx, schema.EventExecuteFailed, payload)
}

func with(base, extra map[string]any) map[string]any {
	out := maps.Clone(base)
	maps.Copy(out, extra)
	return out
}
