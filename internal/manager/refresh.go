package manager

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/dccmcp/internal/events"
	"github.com/rendis/dccmcp/internal/loader"
	"github.com/rendis/dccmcp/internal/scheduler"
	"github.com/rendis/dccmcp/pkg/schema"
)

// RefreshHandle controls a running auto-refresh loop.
type RefreshHandle = scheduler.Handle

// RefreshOptions selects how RefreshActions loads files.
type RefreshOptions struct {
	Parallel bool
	// MaxWorkers overrides the manager's worker bound for this refresh.
	MaxWorkers int
	// Extra paths are searched after every configured root.
	Extra []string
}

// RefreshActions re-reads the environment, discovers every action file and
// loads it. Individual file failures are reported in the returned map and
// as load_failed events; they never fail the refresh as a whole.
func (m *Manager) RefreshActions(ctx context.Context, opts RefreshOptions) map[string]loader.Outcome {
	start := time.Now()
	m.bus.Publish(ctx, schema.EventBeforeRefresh, map[string]any{
		events.KeyScope: m.scope,
		"parallel":      opts.Parallel,
	})

	m.discovery.Reload()
	paths := slices.Collect(m.discovery.Discover(opts.Extra...))
	for _, e := range m.discovery.Skipped() {
		m.logger.DebugContext(ctx, "action path skipped", slog.String("path", e.Path), slog.String("reason", e.Message))
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = m.maxWorkers
	}
	results := m.loader.LoadAll(ctx, paths, loader.Strategy{Parallel: opts.Parallel, MaxWorkers: workers})

	failed := 0
	for _, p := range paths {
		o := results[p]
		if o.OK() {
			continue
		}
		failed++
		m.bus.Publish(ctx, schema.EventLoadFailed, map[string]any{
			events.KeyScope: m.scope,
			events.KeyPath:  p,
			events.KeyError: o.Err.Error(),
			events.KeyCode:  schema.CodeOf(o.Err),
		})
	}

	elapsed := time.Since(start)
	m.logger.InfoContext(ctx, "actions refreshed",
		slog.Int("files", len(paths)),
		slog.Int("failed", failed),
		slog.Int("actions", m.registry.Count()),
		slog.Duration("duration", elapsed),
	)
	m.bus.Publish(ctx, schema.EventAfterRefresh, map[string]any{
		events.KeyScope:    m.scope,
		"files":            len(paths),
		"failed":           failed,
		"actions":          m.registry.Count(),
		events.KeyDuration: elapsed.Seconds(),
	})
	return results
}

// StartAutoRefresh refreshes every interval on a background loop. A loop
// that is already running is signalled to stop first.
func (m *Manager) StartAutoRefresh(interval time.Duration) (*RefreshHandle, error) {
	sched, err := scheduler.Every(interval)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	return m.startAutoRefresh(sched, interval.String()), nil
}

// StartAutoRefreshSchedule refreshes on a cron schedule ("*/5 * * * *",
// "@every 30s").
func (m *Manager) StartAutoRefreshSchedule(spec string) (*RefreshHandle, error) {
	sched, err := scheduler.Parse(spec)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	return m.startAutoRefresh(sched, spec), nil
}

func (m *Manager) startAutoRefresh(sched cron.Schedule, desc string) *RefreshHandle {
	ctx := context.Background()
	h := m.refresher.Start(ctx, sched, func(ctx context.Context) {
		m.RefreshActions(ctx, RefreshOptions{Parallel: true})
	})
	m.bus.Publish(ctx, schema.EventAutoRefreshStarted, map[string]any{
		events.KeyScope: m.scope,
		"schedule":      desc,
	})
	go func() {
		<-h.Done()
		m.bus.Publish(ctx, schema.EventAutoRefreshStopped, map[string]any{
			events.KeyScope: m.scope,
			"runs":          h.Runs(),
		})
	}()
	return h
}

// StopAutoRefresh signals the auto-refresh loop to stop and returns
// immediately; it reports whether a loop was running. It is safe to call
// from an event handler running on the loop itself.
func (m *Manager) StopAutoRefresh() bool {
	return m.refresher.Stop()
}

// AutoRefresh returns the active auto-refresh handle, or nil.
func (m *Manager) AutoRefresh() *RefreshHandle {
	return m.refresher.Current()
}
