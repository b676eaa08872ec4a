package mcp

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/dccmcp/internal/events"
	"github.com/rendis/dccmcp/internal/manager"
	"github.com/rendis/dccmcp/internal/store"
	"github.com/rendis/dccmcp/pkg/schema"
)

const (
	// ListToolName lists the actions callable on the manager's scope.
	ListToolName = "dcc.list_actions"
	// RefreshToolName rescans the action paths and resyncs the tool set.
	RefreshToolName = "dcc.refresh_actions"
	// JournalToolName queries the execution journal; registered only when
	// a journal is configured.
	JournalToolName = "dcc.journal"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Manager *manager.Manager
	// Journal is optional.
	Journal store.Journal
	// MCPServer receives the tools. When nil a new server named after the
	// manager is created; the caller still owns the transport.
	MCPServer *server.MCPServer
	// Prefix is prepended to every action tool name, e.g. "maya.".
	Prefix string
	Logger *slog.Logger
}

// Server exposes a Manager's actions as MCP tools. It keeps the tool set in
// step with the registry by resyncing after every refresh.
type Server struct {
	manager   *manager.Manager
	journal   store.Journal
	mcpServer *server.MCPServer
	prefix    string
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *EventNotifier

	mu      sync.Mutex
	actions map[string]string // tool name to action name
	unsubs  []func()
}

// NewServer registers the list and refresh tools plus one tool per action
// on the MCP server, and subscribes to the manager's bus.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	mcpSrv := deps.MCPServer
	if mcpSrv == nil {
		mcpSrv = server.NewMCPServer(
			deps.Manager.Name(),
			"1.0.0",
			server.WithToolCapabilities(true),
			server.WithLogging(),
			server.WithRecovery(),
			server.WithInstructions("Each tool runs one DCC action. Use "+ListToolName+" to describe the available actions and "+RefreshToolName+" after adding action files."),
		)
	}

	s := &Server{
		manager:   deps.Manager,
		journal:   deps.Journal,
		mcpServer: mcpSrv,
		prefix:    deps.Prefix,
		logger:    logger,
		sessions:  NewSessionRegistry(),
		actions:   map[string]string{},
	}
	s.notifier = NewEventNotifier(mcpSrv, s.sessions, logger)

	mcpSrv.AddTools(
		server.ServerTool{Tool: listTool(), Handler: s.handleList},
		server.ServerTool{Tool: refreshTool(), Handler: s.handleRefresh},
	)
	if s.journal != nil {
		mcpSrv.AddTool(journalTool(), s.handleJournal)
	}
	s.Sync()

	bus := deps.Manager.Bus()
	s.unsubs = append(s.unsubs,
		bus.Subscribe(events.Wildcard, s.notifier.Handle),
		bus.Subscribe(schema.EventAfterRefresh, func(context.Context, events.Event) error {
			s.Sync()
			return nil
		}),
	)
	return s
}

// MCPServer returns the underlying MCPServer for custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the call-to-session routing table.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// Sync reconciles the action tools with the registry: new actions are
// added, changed ones replaced and vanished ones removed. It returns the
// number of action tools registered.
func (s *Server) Sync() int {
	infos := s.manager.GetActionsInfo("")

	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]string, len(infos))
	tools := make([]server.ServerTool, 0, len(infos))
	for _, info := range infos {
		toolName := s.toolName(info)
		want[toolName] = info.Name
		scope := ""
		if s.manager.Scope() == schema.AnyScope {
			scope = info.Scope
		}
		tools = append(tools, server.ServerTool{Tool: actionTool(toolName, info), Handler: s.actionHandler(info.Name, scope)})
	}

	var stale []string
	for toolName := range s.actions {
		if _, ok := want[toolName]; !ok {
			stale = append(stale, toolName)
		}
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		s.mcpServer.DeleteTools(stale...)
	}
	if len(tools) > 0 {
		s.mcpServer.AddTools(tools...)
	}
	s.actions = want

	s.logger.Debug("mcp tools synced", slog.Int("actions", len(want)), slog.Int("removed", len(stale)))
	return len(want)
}

// toolName names the tool of one action. A wildcard manager serves every
// scope, so scoped actions are qualified as "scope.name" there.
func (s *Server) toolName(info manager.ActionInfo) string {
	if s.manager.Scope() == schema.AnyScope && info.Scope != schema.AnyScope {
		return s.prefix + info.Scope + "." + info.Name
	}
	return s.prefix + info.Name
}

// Tools returns the registered action tool names, sorted.
func (s *Server) Tools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.actions))
	for name := range s.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close detaches from the manager's bus. Registered tools stay in place.
func (s *Server) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// --- Tool definitions ---

func listTool() mcp.Tool {
	return mcp.NewTool(ListToolName,
		mcp.WithDescription("List the DCC actions available to call"),
		mcp.WithString("scope", mcp.Description("Scope to list (default: the server's scope)")),
	)
}

func refreshTool() mcp.Tool {
	return mcp.NewTool(RefreshToolName,
		mcp.WithDescription("Rescan the action paths and reload every action file"),
		mcp.WithBoolean("parallel", mcp.Description("Load files concurrently")),
	)
}

func journalTool() mcp.Tool {
	return mcp.NewTool(JournalToolName,
		mcp.WithDescription("Query recorded action events or per-action outcome counts"),
		mcp.WithString("resource",
			mcp.Enum("events", "stats"),
			mcp.Description("What to query (default: events)"),
		),
		mcp.WithString("action", mcp.Description("Only events of this action")),
		mcp.WithString("call_id", mcp.Description("Only events of this call")),
		mcp.WithArray("events", mcp.Description("Event names to include"), mcp.WithStringItems()),
		mcp.WithString("since", mcp.Description("Only events newer than this duration, e.g. 1h")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of events (default: 50)")),
	)
}
