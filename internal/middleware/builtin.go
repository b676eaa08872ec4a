package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cast"

	"github.com/rendis/dccmcp/internal/expressions"
	"github.com/rendis/dccmcp/internal/logging"
	"github.com/rendis/dccmcp/pkg/schema"
)

// Names under which the built-in middleware are usually registered.
const (
	NameLogging     = "logging"
	NamePerformance = "performance"
	NameGuard       = "guard"
)

// DefaultSlowThreshold is the Performance threshold when none is given.
const DefaultSlowThreshold = time.Second

// Logging logs the start and the outcome of every call.
type Logging struct {
	Logger *slog.Logger
}

// LoggingFactory returns a Factory producing Logging middleware bound to
// logger.
func LoggingFactory(logger *slog.Logger) Factory {
	return func(map[string]any) (Middleware, error) {
		return &Logging{Logger: logging.OrDiscard(logger)}, nil
	}
}

func (m *Logging) Process(ctx context.Context, call *Call, next Handler) (*schema.ActionResult, error) {
	log := logging.LogWith(ctx, m.Logger).With(slog.String("action", call.Key.Name))
	log.InfoContext(ctx, "executing action")

	start := time.Now()
	res, err := next(ctx, call)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		log.ErrorContext(ctx, "action raised an error",
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
	case res != nil && !res.Success:
		log.WarnContext(ctx, "action failed",
			slog.Duration("duration", elapsed),
			slog.String("error", res.Error),
		)
	default:
		log.InfoContext(ctx, "action completed", slog.Duration("duration", elapsed))
	}
	return res, err
}

// Performance records the execution time in seconds under
// context.performance.execution_time and warns about slow calls.
type Performance struct {
	Threshold time.Duration
	Logger    *slog.Logger
}

// PerformanceFactory returns a Factory producing Performance middleware.
// The "threshold" option is in seconds.
func PerformanceFactory(logger *slog.Logger) Factory {
	return func(opts map[string]any) (Middleware, error) {
		m := &Performance{Threshold: DefaultSlowThreshold, Logger: logging.OrDiscard(logger)}
		if v, ok := opts["threshold"]; ok {
			secs, err := cast.ToFloat64E(v)
			if err != nil || secs < 0 {
				return nil, fmt.Errorf("threshold must be a non-negative number of seconds, got %v", v)
			}
			m.Threshold = time.Duration(secs * float64(time.Second))
		}
		return m, nil
	}
}

func (m *Performance) Process(ctx context.Context, call *Call, next Handler) (*schema.ActionResult, error) {
	start := time.Now()
	res, err := next(ctx, call)
	elapsed := time.Since(start)

	if m.Threshold > 0 && elapsed > m.Threshold {
		logging.LogWith(ctx, m.Logger).WarnContext(ctx, "slow action detected",
			slog.String("action", call.Key.Name),
			slog.Duration("duration", elapsed),
			slog.Duration("threshold", m.Threshold),
		)
	}
	if res == nil {
		return res, err
	}
	return res.WithContext("performance", map[string]any{
		"execution_time": elapsed.Seconds(),
	}), err
}

// Guard refuses calls whose arguments fail a CEL precondition.
type Guard struct {
	Rule    string
	Message string
	Engine  expressions.Engine
}

// GuardFactory returns a Factory producing Guard middleware. Options:
// "rule" (required CEL expression over args and context) and "message".
// When "actions" lists names, only those actions are guarded.
func GuardFactory(engine expressions.Engine) Factory {
	return func(opts map[string]any) (Middleware, error) {
		rule, err := cast.ToStringE(opts["rule"])
		if err != nil || rule == "" {
			return nil, fmt.Errorf("guard requires a rule")
		}
		if err := engine.Compile(rule); err != nil {
			return nil, err
		}
		msg, _ := cast.ToStringE(opts["message"])
		g := &Guard{Rule: rule, Message: msg, Engine: engine}
		if v, ok := opts["actions"]; ok {
			names, err := cast.ToStringSliceE(v)
			if err != nil {
				return nil, fmt.Errorf("guard actions must be a list of names")
			}
			return &scoped{names: names, inner: g}, nil
		}
		return g, nil
	}
}

func (g *Guard) Process(ctx context.Context, call *Call, next Handler) (*schema.ActionResult, error) {
	ok, err := expressions.EvaluateBool(ctx, g.Engine, g.Rule, map[string]any{
		"args":    call.Args,
		"context": call.Context,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMiddleware, "guard %q: %s", g.Rule, err.Error()).WithCause(err)
	}
	if !ok {
		msg := g.Message
		if msg == "" {
			msg = fmt.Sprintf("precondition %s not met", g.Rule)
		}
		return schema.Failure(fmt.Sprintf("Action %s was refused", call.Key.Name), msg, map[string]any{
			"error_code": schema.ErrCodeMiddleware,
			"guard":      g.Rule,
		}).WithPrompt(schema.PromptCheckParameters), nil
	}
	return next(ctx, call)
}

// scoped applies inner only to the named actions.
type scoped struct {
	names []string
	inner Middleware
}

func (s *scoped) Process(ctx context.Context, call *Call, next Handler) (*schema.ActionResult, error) {
	for _, n := range s.names {
		if n == call.Key.Name {
			return s.inner.Process(ctx, call, next)
		}
	}
	return next(ctx, call)
}
