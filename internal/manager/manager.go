// Package manager is the facade hosts use to discover, load, list and call
// actions for one DCC application.
package manager

import (
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/dccmcp/internal/actions"
	"github.com/rendis/dccmcp/internal/discovery"
	"github.com/rendis/dccmcp/internal/events"
	"github.com/rendis/dccmcp/internal/expressions"
	"github.com/rendis/dccmcp/internal/loader"
	"github.com/rendis/dccmcp/internal/logging"
	"github.com/rendis/dccmcp/internal/middleware"
	"github.com/rendis/dccmcp/internal/params"
	"github.com/rendis/dccmcp/internal/scheduler"
	"github.com/rendis/dccmcp/pkg/schema"
)

// Default context keys every call receives.
const (
	CtxDCCName     = "dcc_name"
	CtxManagerName = "manager_name"
	CtxPlatform    = "platform"
	CtxGoVersion   = "go_version"
	CtxTimestamp   = "timestamp"
)

// Options configures a Manager. Zero values get sensible defaults; the
// registry, chain, bus and discovery are created when not injected.
type Options struct {
	// Name identifies the manager; defaults to Scope.
	Name string
	// Scope is the DCC the manager serves ("maya", "houdini"). Empty means
	// the wildcard scope.
	Scope string
	// Context is merged into the default call context.
	Context map[string]any

	DuplicatePolicy actions.DuplicatePolicy
	// ActionPaths are registered as search paths on construction.
	ActionPaths  []string
	DefaultRoots []string
	NoUserRoot   bool
	// MaxWorkers bounds parallel refreshes; zero means runtime.NumCPU().
	MaxWorkers int

	Registry  *actions.Registry
	Chain     *middleware.Chain
	Bus       *events.Bus
	Discovery *discovery.Discovery
	Validator *params.Validator
	Engines   *expressions.Set
	Logger    *slog.Logger
}

// Manager composes discovery, loading, the registry, the middleware chain
// and the event bus. All methods are safe for concurrent use.
type Manager struct {
	name       string
	scope      string
	defaults   map[string]any
	maxWorkers int

	registry  *actions.Registry
	bus       *events.Bus
	discovery *discovery.Discovery
	loader    *loader.Loader
	validator *params.Validator
	engines   *expressions.Set
	logger    *slog.Logger
	refresher *scheduler.Scheduler

	chainMu  sync.Mutex
	chain    *middleware.Chain
	pipeline atomic.Pointer[middleware.Pipeline]
}

// New creates a Manager.
func New(opts Options) (*Manager, error) {
	logger := logging.OrDiscard(opts.Logger)

	scope := opts.Scope
	if scope == "" {
		scope = schema.AnyScope
	}
	name := opts.Name
	if name == "" {
		name = scope
	}

	if opts.Engines == nil {
		set, err := expressions.NewSet()
		if err != nil {
			return nil, err
		}
		opts.Engines = set
	}
	if opts.Validator == nil {
		v, err := params.NewValidator()
		if err != nil {
			return nil, err
		}
		opts.Validator = v
	}
	if opts.Registry == nil {
		policy, err := actions.ParseDuplicatePolicy(string(opts.DuplicatePolicy))
		if err != nil {
			return nil, err
		}
		opts.Registry = actions.NewRegistry(policy)
	}
	if opts.Chain == nil {
		opts.Chain = middleware.NewChain()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(logger)
	}
	if opts.Discovery == nil {
		opts.Discovery = discovery.New(discovery.Options{
			Scope:        scope,
			DefaultRoots: opts.DefaultRoots,
			NoUserRoot:   opts.NoUserRoot,
			Logger:       logger,
		})
	}

	ld, err := loader.New(loader.Options{
		Registry:  opts.Registry,
		Validator: opts.Validator,
		Engines:   opts.Engines,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	defaults := map[string]any{
		CtxDCCName:     scope,
		CtxManagerName: name,
		CtxPlatform:    runtime.GOOS,
		CtxGoVersion:   runtime.Version(),
		CtxTimestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	maps.Copy(defaults, opts.Context)

	m := &Manager{
		name:       name,
		scope:      scope,
		defaults:   defaults,
		maxWorkers: opts.MaxWorkers,
		registry:   opts.Registry,
		bus:        opts.Bus,
		discovery:  opts.Discovery,
		loader:     ld,
		validator:  opts.Validator,
		engines:    opts.Engines,
		logger:     logger.With(slog.String("manager", name), slog.String("scope", scope)),
		refresher:  scheduler.New(logger),
		chain:      opts.Chain,
	}

	p, err := m.chain.Build(m.execute)
	if err != nil {
		return nil, err
	}
	m.pipeline.Store(&p)

	for _, path := range opts.ActionPaths {
		m.RegisterActionPath(path)
	}
	return m, nil
}

// Name returns the manager name.
func (m *Manager) Name() string { return m.name }

// Scope returns the DCC scope the manager serves.
func (m *Manager) Scope() string { return m.scope }

// Registry returns the action registry.
func (m *Manager) Registry() *actions.Registry { return m.registry }

// Bus returns the event bus.
func (m *Manager) Bus() *events.Bus { return m.bus }

// Discovery returns the path discovery.
func (m *Manager) Discovery() *discovery.Discovery { return m.discovery }

// DefaultContext returns a copy of the context every call starts from.
func (m *Manager) DefaultContext() map[string]any {
	return maps.Clone(m.defaults)
}

// RegisterActionPath adds a search path. Registering the same path twice is
// a no-op; the result reports whether the path was new.
func (m *Manager) RegisterActionPath(path string) bool {
	added := m.discovery.RegisterPath(path)
	if added {
		m.logger.Debug("action path registered", slog.String("path", path))
	}
	return added
}

// RegisterAction registers a native action under the registry's duplicate
// policy.
func (m *Manager) RegisterAction(a actions.Action) error {
	if a == nil {
		return fmt.Errorf("nil action")
	}
	meta := a.Metadata()
	if err := meta.Check(); err != nil {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	if err := m.validator.CompileRules(a.InputSchema()); err != nil {
		return err
	}
	if err := m.validator.CompileRules(a.OutputSchema()); err != nil {
		return err
	}
	return m.registry.Register(actions.NewDescriptor(a, "", ""))
}

// Use appends a middleware and rebuilds the chain. The new chain takes
// effect for calls that start after Use returns; on error nothing changes.
func (m *Manager) Use(name string, f middleware.Factory, opts map[string]any) error {
	m.chainMu.Lock()
	defer m.chainMu.Unlock()

	next := middleware.NewChain()
	for _, e := range m.chain.Entries() {
		next.Add(e.Name, e.Factory, e.Options)
	}
	next.Add(name, f, opts)

	p, err := next.Build(m.execute)
	if err != nil {
		return err
	}
	m.chain = next
	m.pipeline.Store(&p)
	return nil
}

// UseBuiltin installs one of the built-in middleware by name.
func (m *Manager) UseBuiltin(name string, opts map[string]any) error {
	switch name {
	case middleware.NameLogging:
		return m.Use(name, middleware.LoggingFactory(m.logger), opts)
	case middleware.NamePerformance:
		return m.Use(name, middleware.PerformanceFactory(m.logger), opts)
	case middleware.NameGuard:
		cel, err := m.engines.Get("cel")
		if err != nil {
			return err
		}
		return m.Use(name, middleware.GuardFactory(cel), opts)
	}
	return schema.NewErrorf(schema.ErrCodeMiddleware, "unknown built-in middleware %q", name)
}

// Middleware lists the configured middleware names in execution order.
func (m *Manager) Middleware() []string {
	m.chainMu.Lock()
	entries := m.chain.Entries()
	m.chainMu.Unlock()

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

// Subscribe registers an event handler and returns its unsubscribe func.
func (m *Manager) Subscribe(event string, h events.Handler) func() {
	return m.bus.Subscribe(event, h)
}

// Close stops auto-refresh. It does not wait for a running refresh.
func (m *Manager) Close() {
	m.StopAutoRefresh()
}
