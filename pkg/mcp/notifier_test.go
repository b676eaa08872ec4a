package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/dccmcp/internal/events"
	"github.com/rendis/dccmcp/pkg/schema"
)

type sent struct {
	session string
	method  string
	params  map[string]any
}

type fakeSender struct {
	direct    []sent
	broadcast []sent
	err       error
}

func (f *fakeSender) SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.direct = append(f.direct, sent{session: sessionID, method: method, params: params})
	return nil
}

func (f *fakeSender) SendNotificationToAllClients(method string, params map[string]any) {
	f.broadcast = append(f.broadcast, sent{method: method, params: params})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventNotifier_RoutesCallEventsToSession(t *testing.T) {
	sender := &fakeSender{}
	sessions := NewSessionRegistry()
	sessions.Register("call-1", "session-abc")
	n := NewEventNotifier(sender, sessions, quietLogger())

	err := n.Handle(context.Background(), events.Event{
		Name:    schema.EventAfterExecute,
		Payload: map[string]any{events.KeyCallID: "call-1", events.KeyAction: "create_sphere"},
		At:      time.Now(),
	})
	require.NoError(t, err)

	require.Len(t, sender.direct, 1)
	assert.Empty(t, sender.broadcast)
	assert.Equal(t, "session-abc", sender.direct[0].session)
	assert.Equal(t, "notifications/message", sender.direct[0].method)
	assert.Equal(t, "info", sender.direct[0].params["level"])
	data := sender.direct[0].params["data"].(map[string]any)
	assert.Equal(t, schema.EventAfterExecute, data["event"])
}

func TestEventNotifier_SkipsUnknownCalls(t *testing.T) {
	sender := &fakeSender{}
	n := NewEventNotifier(sender, NewSessionRegistry(), quietLogger())

	require.NoError(t, n.Handle(context.Background(), events.Event{
		Name:    schema.EventBeforeExecute,
		Payload: map[string]any{events.KeyCallID: "in-process"},
	}))
	assert.Empty(t, sender.direct)
	assert.Empty(t, sender.broadcast)
}

func TestEventNotifier_BroadcastsRefreshEvents(t *testing.T) {
	sender := &fakeSender{}
	n := NewEventNotifier(sender, NewSessionRegistry(), quietLogger())

	require.NoError(t, n.Handle(context.Background(), events.Event{
		Name:    schema.EventLoadFailed,
		Payload: map[string]any{events.KeyPath: "bad.yaml", events.KeyError: "boom"},
	}))
	require.Len(t, sender.broadcast, 1)
	assert.Equal(t, "error", sender.broadcast[0].params["level"])
}

func TestEventNotifier_ClosedSessionIsForgotten(t *testing.T) {
	sender := &fakeSender{err: server.ErrSessionNotFound}
	sessions := NewSessionRegistry()
	sessions.Register("call-1", "gone")
	n := NewEventNotifier(sender, sessions, quietLogger())

	require.NoError(t, n.Handle(context.Background(), events.Event{
		Name:    schema.EventAfterExecute,
		Payload: map[string]any{events.KeyCallID: "call-1"},
	}))
	assert.Zero(t, sessions.Len())
}

func TestEventNotifier_SendErrorIsSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("queue full")}
	sessions := NewSessionRegistry()
	sessions.Register("call-1", "busy")
	n := NewEventNotifier(sender, sessions, quietLogger())

	assert.NoError(t, n.Handle(context.Background(), events.Event{
		Name:    schema.EventAfterExecute,
		Payload: map[string]any{events.KeyCallID: "call-1"},
	}))
	assert.Equal(t, 1, sessions.Len())
}
