// Package loader turns action source files into registered actions.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/dccmcp/internal/actions"
	"github.com/rendis/dccmcp/internal/expressions"
	"github.com/rendis/dccmcp/internal/logging"
	"github.com/rendis/dccmcp/internal/params"
	"github.com/rendis/dccmcp/internal/pool"
	"github.com/rendis/dccmcp/pkg/schema"
)

// moduleNamespace seeds the deterministic per-path module IDs.
var moduleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/rendis/dccmcp/modules"))

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// Source is a read action file handed to a Format.
type Source struct {
	Path   string
	Module string
	Data   []byte
}

// Format parses one kind of action source.
type Format interface {
	Name() string
	Parse(ctx context.Context, src Source) ([]actions.Action, error)
}

// Outcome reports what loading one file produced.
type Outcome struct {
	Path     string        `json:"path"`
	Module   string        `json:"module"`
	Actions  []actions.Key `json:"actions"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the file loaded without error.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Strategy selects how LoadAll processes its paths.
type Strategy struct {
	Parallel bool
	// MaxWorkers bounds parallel loading; zero means runtime.NumCPU().
	MaxWorkers int
}

// Options configures a Loader.
type Options struct {
	Registry  *actions.Registry
	Validator *params.Validator
	Engines   *expressions.Set
	Logger    *slog.Logger
}

// Loader reads, parses and registers action files. It is safe for
// concurrent use; registration is serialized by the registry.
type Loader struct {
	registry  *actions.Registry
	validator *params.Validator
	logger    *slog.Logger

	mu      sync.RWMutex
	formats map[string]Format
}

// New creates a loader with the manifest and Lua formats installed.
func New(opts Options) (*Loader, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("loader requires a registry")
	}
	if opts.Validator == nil {
		v, err := params.NewValidator()
		if err != nil {
			return nil, err
		}
		opts.Validator = v
	}
	if opts.Engines == nil {
		set, err := expressions.NewSet()
		if err != nil {
			return nil, err
		}
		opts.Engines = set
	}

	l := &Loader{
		registry:  opts.Registry,
		validator: opts.Validator,
		logger:    logging.OrDiscard(opts.Logger),
		formats:   make(map[string]Format),
	}
	manifest := NewManifestFormat(opts.Engines)
	l.RegisterFormat(".yaml", manifest)
	l.RegisterFormat(".yml", manifest)
	l.RegisterFormat(".json", manifest)
	l.RegisterFormat(".lua", NewLuaFormat())
	return l, nil
}

// RegisterFormat installs f for files with extension ext (".yaml").
func (l *Loader) RegisterFormat(ext string, f Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.formats[strings.ToLower(ext)] = f
}

func (l *Loader) format(path string) (Format, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.formats[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// ModuleName derives the unique module name for a source path:
// dccmcp_<stem>_<id>, where id is stable for the path.
func ModuleName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.Trim(unsafeChars.ReplaceAllString(stem, "_"), "_")
	if stem == "" {
		stem = "action"
	}
	id := strings.ReplaceAll(uuid.NewSHA1(moduleNamespace, []byte(filepath.Clean(path))).String(), "-", "")
	return fmt.Sprintf("dccmcp_%s_%s", stem, id[:12])
}

// Load reads path, parses it and atomically replaces every action the file
// previously registered. Failures never escape as panics.
func (l *Loader) Load(ctx context.Context, path string) (out Outcome) {
	start := time.Now()
	out = Outcome{Path: path, Module: ModuleName(path)}
	defer func() {
		if r := recover(); r != nil {
			out.Err = loadError(path, fmt.Errorf("panic: %v", r))
		}
		out.Duration = time.Since(start)
		if out.Err != nil {
			l.logger.WarnContext(ctx, "action source failed to load",
				slog.String("path", path),
				slog.String("error", out.Err.Error()),
			)
		} else {
			l.logger.DebugContext(ctx, "action source loaded",
				slog.String("path", path),
				slog.Int("actions", len(out.Actions)),
				slog.Duration("duration", out.Duration),
			)
		}
	}()

	keys, err := l.load(ctx, path, out.Module)
	if err != nil {
		out.Err = loadError(path, err)
		return out
	}
	out.Actions = keys
	return out
}

func (l *Loader) load(ctx context.Context, path, module string) ([]actions.Key, error) {
	f, ok := l.format(path)
	if !ok {
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	acts, err := f.Parse(ctx, Source{Path: path, Module: module, Data: data})
	if err != nil {
		return nil, err
	}
	if len(acts) == 0 {
		return nil, fmt.Errorf("%s source defines no actions", f.Name())
	}

	descs := make([]actions.Descriptor, 0, len(acts))
	for _, a := range acts {
		meta := a.Metadata()
		if err := meta.Check(); err != nil {
			return nil, err
		}
		if err := l.validator.CompileRules(a.InputSchema()); err != nil {
			return nil, fmt.Errorf("action %q input schema: %w", meta.Name, err)
		}
		if err := l.validator.CompileRules(a.OutputSchema()); err != nil {
			return nil, fmt.Errorf("action %q output schema: %w", meta.Name, err)
		}
		descs = append(descs, actions.NewDescriptor(a, path, module))
	}

	return l.registry.ReplaceSource(path, descs)
}

// LoadAll loads every path and returns one outcome per path. A failing
// file never prevents the others from loading.
func (l *Loader) LoadAll(ctx context.Context, paths []string, s Strategy) map[string]Outcome {
	results := make(map[string]Outcome, len(paths))
	if !s.Parallel || len(paths) < 2 {
		for _, p := range paths {
			results[p] = l.Load(ctx, p)
		}
		return results
	}

	workers := s.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	wp := pool.New(workers, pool.WithPanicHandler(func(v any) {
		l.logger.ErrorContext(ctx, "loader worker panicked", slog.String("panic", fmt.Sprint(v)))
	}))
	defer wp.Shutdown()

	var mu sync.Mutex
	for _, p := range paths {
		err := wp.Submit(ctx, func(ctx context.Context) error {
			o := l.Load(ctx, p)
			mu.Lock()
			results[p] = o
			mu.Unlock()
			return o.Err
		})
		if err != nil {
			mu.Lock()
			results[p] = Outcome{Path: p, Module: ModuleName(p), Err: loadError(p, err)}
			mu.Unlock()
		}
	}
	wp.Wait()

	m := wp.Metrics()
	l.logger.DebugContext(ctx, "parallel load finished",
		slog.Int("workers", wp.Size()),
		slog.Int64("completed", m.Completed),
		slog.Int64("failed", m.Failed),
		slog.Int64("panics", m.Panics),
	)
	return results
}

func loadError(path string, cause error) error {
	if schema.IsCode(cause, schema.ErrCodeLoad) {
		return cause
	}
	msg := cause.Error()
	if ae, ok := cause.(*schema.ActionError); ok {
		msg = ae.Message
	}
	return schema.NewErrorf(schema.ErrCodeLoad, "cannot load %s: %s", filepath.Base(path), msg).
		WithPath(path).
		WithCause(cause)
}
