// Package store persists the execution journal: every lifecycle event an
// action manager publishes, queryable for diagnostics.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Journal records lifecycle events.
// All implementations must be safe for concurrent use.
type Journal interface {
	Record(ctx context.Context, e *Entry) error
	ListEvents(ctx context.Context, filter EventFilter) ([]*Entry, error)
	ActionStats(ctx context.Context, scope string) ([]*ActionStat, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Entry is one journaled event.
type Entry struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Action string `json:"action,omitempty"`
	Scope  string `json:"scope,omitempty"`
	CallID string `json:"call_id,omitempty"`
	// Success is set for execution outcomes only.
	Success   *bool           `json:"success,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventFilter narrows ListEvents. Zero values match everything; results
// are newest first.
type EventFilter struct {
	Names  []string
	Action string
	Scope  string
	CallID string
	Since  *time.Time
	Limit  int
}

// ActionStat aggregates execution outcomes for one action.
type ActionStat struct {
	Scope      string    `json:"scope"`
	Action     string    `json:"action"`
	Calls      int64     `json:"calls"`
	Failures   int64     `json:"failures"`
	LastCallAt time.Time `json:"last_call_at"`
}
