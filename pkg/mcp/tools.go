package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/dccmcp/internal/manager"
	"github.com/rendis/dccmcp/internal/store"
)

// actionTool describes one action as a tool whose input schema is the
// action's parameter schema.
func actionTool(toolName string, info manager.ActionInfo) mcp.Tool {
	desc := info.Description
	if desc == "" {
		desc = fmt.Sprintf("Run the %s action", info.Name)
	}
	raw, err := json.Marshal(info.InputJSON)
	if err != nil || info.InputJSON == nil {
		raw = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return mcp.NewToolWithRawSchema(toolName, desc, raw)
}

// actionHandler runs the named action, looked up in scope when one is
// given. Failing results are returned as tool errors carrying the full
// ActionResult.
func (s *Server) actionHandler(action, scope string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callID := uuid.NewString()
		if session := server.ClientSessionFromContext(ctx); session != nil {
			s.sessions.Register(callID, session.SessionID())
			defer s.sessions.Release(callID)
		}

		opts := []manager.CallOption{manager.WithCallID(callID)}
		if scope != "" {
			opts = append(opts, manager.WithScope(scope))
		}
		res := s.manager.CallAction(ctx, action, req.GetArguments(), opts...)
		if !res.Success {
			s.logger.InfoContext(ctx, "mcp action failed",
				slog.String("action", action),
				slog.String("call_id", callID),
				slog.String("error", res.Error),
			)
		}
		out, err := marshalResult(res)
		if err == nil && out != nil && !res.Success {
			out.IsError = true
		}
		return out, err
	}
}

// handleList describes the actions of a scope.
func (s *Server) handleList(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope := req.GetString("scope", "")
	return marshalResult(s.manager.ActionsInfoResult(scope))
}

type refreshFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// handleRefresh reloads every action file. The tool set follows through
// the after_refresh subscription.
func (s *Server) handleRefresh(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	parallel := req.GetBool("parallel", false)
	results := s.manager.RefreshActions(ctx, manager.RefreshOptions{Parallel: parallel})

	failures := make([]refreshFailure, 0)
	for path, o := range results {
		if !o.OK() {
			failures = append(failures, refreshFailure{Path: path, Error: o.Err.Error()})
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })

	return marshalResult(map[string]any{
		"files":   len(results),
		"failed":  failures,
		"actions": s.manager.ListAvailableActions(""),
		"tools":   s.Tools(),
	})
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

// handleJournal lists journaled events of the manager's scope, or the
// per-action outcome counts.
func (s *Server) handleJournal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope := s.manager.Scope()
	if req.GetString("resource", "events") == "stats" {
		stats, err := s.journal.ActionStats(ctx, scope)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("journal query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"stats": stats})
	}

	filter := store.EventFilter{
		Names:  req.GetStringSlice("events", nil),
		Action: req.GetString("action", ""),
		Scope:  scope,
		CallID: req.GetString("call_id", ""),
		Limit:  req.GetInt("limit", 50),
	}
	if raw := req.GetString("since", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since: %v", err)), nil
		}
		since := time.Now().Add(-d)
		filter.Since = &since
	}
	entries, err := s.journal.ListEvents(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("journal query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": entries})
}
