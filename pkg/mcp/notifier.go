package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/dccmcp/internal/events"
)

const (
	notificationMethod = "notifications/message"
	notificationLogger = "dccmcp"
)

// Sender is the part of *server.MCPServer the notifier pushes through.
type Sender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
	SendNotificationToAllClients(method string, params map[string]any)
}

// EventNotifier forwards bus events to MCP clients as log notifications.
// Events of a call go to the calling session only; events without a call
// ID (refresh, auto-refresh) are broadcast. Calls made outside MCP are not
// forwarded.
type EventNotifier struct {
	sender   Sender
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewEventNotifier creates a notifier that pushes via the MCP server.
func NewEventNotifier(sender Sender, sessions *SessionRegistry, logger *slog.Logger) *EventNotifier {
	return &EventNotifier{sender: sender, sessions: sessions, logger: logger}
}

// Handle is an events.Handler. Best-effort: delivery failures are logged
// and never propagate to the publisher.
func (n *EventNotifier) Handle(ctx context.Context, e events.Event) error {
	params := notificationParams(e)

	callID, _ := e.Payload[events.KeyCallID].(string)
	if callID == "" {
		n.sender.SendNotificationToAllClients(notificationMethod, params)
		return nil
	}

	sessionID, ok := n.sessions.SessionFor(callID)
	if !ok {
		return nil
	}
	err := n.sender.SendNotificationToSpecificClient(sessionID, notificationMethod, params)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session closed while the call was running.
		n.sessions.Remove(sessionID)
		return nil
	}
	if err != nil {
		n.logger.DebugContext(ctx, "event notification dropped",
			slog.String("event", e.Name),
			slog.String("session", sessionID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func notificationParams(e events.Event) map[string]any {
	level := "info"
	if _, failed := e.Payload[events.KeyError]; failed {
		level = "error"
	}
	return map[string]any{
		"level":  level,
		"logger": notificationLogger,
		"data": map[string]any{
			"event":   e.Name,
			"payload": e.Payload,
			"at":      e.At,
		},
	}
}
