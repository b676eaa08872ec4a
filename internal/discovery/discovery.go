// Package discovery resolves the set of action source files from
// registered paths, environment variables and default roots.
package discovery

import (
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/mitchellh/go-homedir"

	"github.com/rendis/dccmcp/internal/logging"
	"github.com/rendis/dccmcp/pkg/schema"
)

// Environment variables consulted by Discovery.
const (
	// EnvActionPaths holds extra search paths separated by os.PathListSeparator.
	EnvActionPaths = "DCC_MCP_ACTION_PATHS"
	// EnvActionPathPrefix followed by an upper-case scope holds paths for
	// that scope only, e.g. DCC_MCP_ACTION_PATH_MAYA.
	EnvActionPathPrefix = "DCC_MCP_ACTION_PATH_"
	// EnvActionsDir overrides the per-user default root.
	EnvActionsDir = "DCC_MCP_ACTIONS_DIR"
)

// DefaultUserRoot is the per-user actions directory; the scope is appended.
const DefaultUserRoot = "~/.dccmcp/actions"

// SupportedExtensions lists the source file types the loader understands.
var SupportedExtensions = []string{".yaml", ".yml", ".json", ".lua"}

// Options configures a Discovery.
type Options struct {
	// Scope selects per-scope environment variables and the user root.
	Scope string
	// DefaultRoots are searched after registered and environment paths.
	DefaultRoots []string
	// NoUserRoot disables the DCC_MCP_ACTIONS_DIR / ~/.dccmcp/actions root.
	NoUserRoot bool
	Logger     *slog.Logger
}

// Discovery enumerates candidate action files. It is safe for concurrent use.
type Discovery struct {
	scope      string
	noUserRoot bool
	logger     *slog.Logger

	mu         sync.RWMutex
	registered []string
	defaults   []string
	envPaths   []string
	userRoot   string
	skipped    []*schema.ActionError
}

// New creates a Discovery and reads the environment once.
func New(opts Options) *Discovery {
	d := &Discovery{
		scope:      opts.Scope,
		noUserRoot: opts.NoUserRoot,
		logger:     logging.OrDiscard(opts.Logger),
	}
	for _, p := range opts.DefaultRoots {
		if n := normalize(p); n != "" && !slices.Contains(d.defaults, n) {
			d.defaults = append(d.defaults, n)
		}
	}
	d.Reload()
	return d
}

// Scope returns the scope this discovery was created for.
func (d *Discovery) Scope() string {
	return d.scope
}

// Reload re-reads the environment variables.
func (d *Discovery) Reload() {
	var env []string
	env = append(env, splitList(os.Getenv(EnvActionPaths))...)
	env = append(env, scopedEnvPaths(d.scope)...)

	userRoot := ""
	if !d.noUserRoot {
		if dir := os.Getenv(EnvActionsDir); dir != "" {
			userRoot = normalize(dir)
		} else if d.scope != "" && d.scope != schema.AnyScope {
			userRoot = normalize(filepath.Join(DefaultUserRoot, strings.ToLower(d.scope)))
		}
	}

	d.mu.Lock()
	d.envPaths = env
	d.userRoot = userRoot
	d.mu.Unlock()
}

// RegisterPath adds a search path. It reports whether the path was new.
func (d *Discovery) RegisterPath(path string) bool {
	n := normalize(path)
	if n == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if slices.Contains(d.registered, n) {
		return false
	}
	d.registered = append(d.registered, n)
	return true
}

// Paths returns a snapshot of the registered paths.
func (d *Discovery) Paths() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.registered)
}

// Roots returns every search root in precedence order: registered paths,
// environment paths, default roots, then extra. Duplicates keep their
// first position.
func (d *Discovery) Roots(extra ...string) []string {
	d.mu.RLock()
	all := make([]string, 0, len(d.registered)+len(d.envPaths)+len(d.defaults)+1+len(extra))
	all = append(all, d.registered...)
	all = append(all, d.envPaths...)
	if d.userRoot != "" {
		all = append(all, d.userRoot)
	}
	all = append(all, d.defaults...)
	d.mu.RUnlock()

	for _, p := range extra {
		all = append(all, normalize(p))
	}

	out := make([]string, 0, len(all))
	seen := make(map[string]struct{}, len(all))
	for _, p := range all {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Discover yields every supported source file under the search roots.
// Directories are walked recursively in lexical order; files and
// directories whose names start with "_" or "." are private and skipped.
// Each file is yielded once. Missing or unreadable roots are recorded in
// Skipped. The sequence is lazy and may be ranged over again, which
// re-scans the file system.
func (d *Discovery) Discover(extra ...string) iter.Seq[string] {
	return func(yield func(string) bool) {
		var skipped []*schema.ActionError
		defer func() {
			d.mu.Lock()
			d.skipped = skipped
			d.mu.Unlock()
		}()

		seen := make(map[string]struct{})
		emit := func(p string) bool {
			if _, ok := seen[p]; ok {
				return true
			}
			seen[p] = struct{}{}
			return yield(p)
		}
		skip := func(path, msg string, err error) {
			e := schema.NewError(schema.ErrCodeDiscovery, msg).WithPath(path)
			if err != nil {
				e = e.WithCause(err)
			}
			skipped = append(skipped, e)
			d.logger.Debug("skipping action path", slog.String("path", path), slog.String("reason", msg))
		}

		for _, root := range d.Roots(extra...) {
			info, err := os.Stat(root)
			if err != nil {
				skip(root, "path does not exist or is unreadable", err)
				continue
			}
			if !info.IsDir() {
				if !Supported(root) {
					skip(root, "unsupported file type", nil)
					continue
				}
				if !emit(root) {
					return
				}
				continue
			}

			files, err := walk(root, skip)
			if err != nil {
				skip(root, "directory could not be scanned", err)
			}
			for _, f := range files {
				if !emit(f) {
					return
				}
			}
		}
	}
}

// Skipped returns the diagnostics recorded by the most recent completed
// Discover iteration.
func (d *Discovery) Skipped() []*schema.ActionError {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.skipped)
}

// Supported reports whether path has a loadable extension.
func Supported(path string) bool {
	return slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(path)))
}

func walk(root string, skip func(path, msg string, err error)) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			skip(path, "unreadable entry", err)
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		if private(entry.Name()) {
			if entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !entry.IsDir() && Supported(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func private(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")
}

func scopedEnvPaths(scope string) []string {
	if scope != "" && scope != schema.AnyScope {
		return splitList(os.Getenv(EnvActionPathPrefix + strings.ToUpper(scope)))
	}
	var keys []string
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, EnvActionPathPrefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	var out []string
	for _, k := range keys {
		out = append(out, splitList(os.Getenv(k))...)
	}
	return out
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, p := range filepath.SplitList(v) {
		if n := normalize(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// normalize expands "~", makes the path absolute and cleans it.
func normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if expanded, err := homedir.Expand(p); err == nil {
		p = expanded
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.Clean(p)
}
