// Package events implements the synchronous lifecycle event bus.
package events

import (
	"context"
	"time"
)

// Payload keys shared by the lifecycle events.
const (
	KeyAction   = "action_name"
	KeyScope    = "scope"
	KeyCallID   = "call_id"
	KeyArgs     = "args"
	KeyContext  = "context"
	KeyResult   = "result"
	KeyError    = "error"
	KeyCode     = "error_code"
	KeyPath     = "path"
	KeyDuration = "duration"
)

// Event is one published lifecycle notification.
type Event struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// Action returns the action name carried in the payload, if any.
func (e Event) Action() string {
	s, _ := e.Payload[KeyAction].(string)
	return s
}

// Handler receives events on the publisher's goroutine. Returned errors are
// logged and otherwise ignored.
type Handler func(ctx context.Context, e Event) error
