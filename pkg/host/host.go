// Package host composes a configured action manager, the optional execution
// journal and the MCP tool adapter for an embedding application. The
// application owns the process and the transport: it serves MCPServer() on
// whatever channel it already has.
package host

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/dccmcp/internal/config"
	"github.com/rendis/dccmcp/internal/manager"
	"github.com/rendis/dccmcp/internal/store"
	dccmcp "github.com/rendis/dccmcp/pkg/mcp"
)

// Options tune New beyond the settings in config.Config.
type Options struct {
	// LogOutput receives the structured logs; defaults to stderr.
	LogOutput io.Writer
	// MCPServer is handed to the MCP adapter; nil creates one.
	MCPServer *server.MCPServer
	// ToolPrefix is prepended to every action tool name.
	ToolPrefix string
	// NoUserRoot skips ~/.dccmcp/actions/<scope> during discovery.
	NoUserRoot bool
}

// Host is one running composition. It is safe for concurrent use.
type Host struct {
	cfg     config.Config
	logger  *slog.Logger
	manager *manager.Manager
	journal store.Journal
	server  *dccmcp.Server
	detach  func()
}

// Load reads the user settings and environment, then calls New.
func Load(ctx context.Context, opts Options) (*Host, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, opts)
}

// New validates cfg and builds the manager with its middleware and
// auto-refresh, the journal when cfg.JournalPath is set, and the MCP
// adapter. Actions are not loaded until Refresh.
func New(ctx context.Context, cfg config.Config, opts Options) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := cfg.Logger(out)
	if err != nil {
		return nil, err
	}

	mopts := cfg.ManagerOptions(logger)
	mopts.NoUserRoot = opts.NoUserRoot
	m, err := manager.New(mopts)
	if err != nil {
		return nil, err
	}
	h := &Host{cfg: cfg, logger: logger, manager: m}

	if cfg.JournalPath != "" {
		if err := h.openJournal(ctx); err != nil {
			h.Close()
			return nil, err
		}
	}

	h.server = dccmcp.NewServer(dccmcp.ServerDeps{
		Manager:   m,
		Journal:   h.journal,
		MCPServer: opts.MCPServer,
		Prefix:    opts.ToolPrefix,
		Logger:    logger,
	})

	// Applied last so an auto-refresh tick already finds the adapter
	// subscribed.
	if err := cfg.Apply(m); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Host) openJournal(ctx context.Context) error {
	path := h.cfg.JournalPath
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	j, err := store.NewLibSQLStore(path)
	if err != nil {
		return err
	}
	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		return err
	}
	h.journal = j
	h.detach = store.NewRecorder(j).Attach(h.manager.Bus())
	h.logger.Debug("journal opened", slog.String("path", path))
	return nil
}

// Refresh loads every action file, logs the failing ones and returns how
// many failed. The MCP tool set follows automatically.
func (h *Host) Refresh(ctx context.Context, parallel bool) int {
	failed := 0
	for path, o := range h.manager.RefreshActions(ctx, manager.RefreshOptions{Parallel: parallel}) {
		if !o.OK() {
			failed++
			h.logger.Warn("action file failed to load", slog.String("path", path), slog.String("error", o.Err.Error()))
		}
	}
	return failed
}

// Manager returns the action manager.
func (h *Host) Manager() *manager.Manager { return h.manager }

// Journal returns the execution journal, or nil when disabled.
func (h *Host) Journal() store.Journal { return h.journal }

// MCP returns the tool adapter.
func (h *Host) MCP() *dccmcp.Server { return h.server }

// MCPServer returns the server to serve on the application's transport.
func (h *Host) MCPServer() *server.MCPServer { return h.server.MCPServer() }

// Logger returns the configured logger.
func (h *Host) Logger() *slog.Logger { return h.logger }

// Close stops auto-refresh, detaches the adapter and the journal recorder,
// and closes the journal.
func (h *Host) Close() {
	h.manager.Close()
	if h.server != nil {
		h.server.Close()
	}
	if h.detach != nil {
		h.detach()
		h.detach = nil
	}
	if h.journal != nil {
		if err := h.journal.Close(); err != nil {
			h.logger.Warn("journal close failed", slog.String("error", err.Error()))
		}
		h.journal = nil
	}
}
