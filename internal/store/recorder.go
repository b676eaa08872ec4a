package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/dccmcp/internal/events"
	"github.com/rendis/dccmcp/pkg/schema"
)

// Recorder journals every event published on a bus. Events are written
// synchronously on the publisher's goroutine so the journal is complete
// when a call returns.
type Recorder struct {
	journal Journal
}

// NewRecorder creates a Recorder writing to j.
func NewRecorder(j Journal) *Recorder {
	return &Recorder{journal: j}
}

// Attach subscribes to every event on bus and returns the detach func.
func (r *Recorder) Attach(bus *events.Bus) func() {
	return bus.Subscribe(events.Wildcard, r.Handle)
}

// Handle records one event. It is an events.Handler; errors are logged by
// the bus.
func (r *Recorder) Handle(ctx context.Context, e events.Event) error {
	entry, err := EntryFrom(e)
	if err != nil {
		return err
	}
	return r.journal.Record(ctx, entry)
}

// EntryFrom converts a bus event into a journal entry.
func EntryFrom(e events.Event) (*Entry, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Name, err)
	}
	entry := &Entry{
		Name:      e.Name,
		Action:    e.Action(),
		Scope:     stringOf(e.Payload[events.KeyScope]),
		CallID:    stringOf(e.Payload[events.KeyCallID]),
		Payload:   payload,
		CreatedAt: e.At.UTC(),
	}
	switch e.Name {
	case schema.EventAfterExecute:
		ok := true
		entry.Success = &ok
	case schema.EventExecuteFailed:
		ok := false
		entry.Success = &ok
	}
	return entry, nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}
