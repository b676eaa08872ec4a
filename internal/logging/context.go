package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	callIDKey ctxKey = iota
	actionKey
	scopeKey
)

// WithCallID returns a context with the action call ID set.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey, id)
}

// WithAction returns a context with the action name set.
func WithAction(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actionKey, name)
}

// WithScope returns a context with the target application scope set.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// CallID extracts the call ID from the context, or "" if absent.
func CallID(ctx context.Context) string {
	v, _ := ctx.Value(callIDKey).(string)
	return v
}

// Action extracts the action name from the context, or "" if absent.
func Action(ctx context.Context) string {
	v, _ := ctx.Value(actionKey).(string)
	return v
}

// Scope extracts the scope from the context, or "" if absent.
func Scope(ctx context.Context) string {
	v, _ := ctx.Value(scopeKey).(string)
	return v
}

// WithCall sets all three correlation values on the context at once.
func WithCall(ctx context.Context, callID, action, scope string) context.Context {
	ctx = WithCallID(ctx, callID)
	ctx = WithAction(ctx, action)
	ctx = WithScope(ctx, scope)
	return ctx
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	if v := CallID(ctx); v != "" {
		out = append(out, slog.String("call_id", v))
	}
	if v := Action(ctx); v != "" {
		out = append(out, slog.String("action", v))
	}
	if v := Scope(ctx); v != "" {
		out = append(out, slog.String("scope", v))
	}
	return out
}

// LogWith returns a logger enriched with correlation values from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, injecting correlation values
// from the context into every record logged with a *Context method.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
