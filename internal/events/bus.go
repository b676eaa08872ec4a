package events

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/dccmcp/internal/logging"
)

// Wildcard subscribes a handler to every event.
const Wildcard = "*"

type subscription struct {
	id      uint64
	name    string
	handler Handler
}

// Bus dispatches events synchronously to handlers in subscription order.
// It is safe for concurrent use.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs []subscription
	seq  atomic.Uint64
}

// NewBus creates an empty bus. A nil logger discards handler failures.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logging.OrDiscard(logger)}
}

// Subscribe registers h for events called name, or for all events when name
// is Wildcard. The returned function removes the subscription and may be
// called more than once.
func (b *Bus) Subscribe(name string, h Handler) func() {
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, name: name, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers an event to every matching handler on the calling
// goroutine. Handler errors and panics are logged, never propagated.
func (b *Bus) Publish(ctx context.Context, name string, payload map[string]any) {
	e := Event{Name: name, Payload: maps.Clone(payload), At: time.Now()}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.name == name || s.name == Wildcard {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(ctx, h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "event handler panicked",
				slog.String("event", e.Name),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	if err := h(ctx, e); err != nil {
		b.logger.WarnContext(ctx, "event handler failed",
			slog.String("event", e.Name),
			slog.String("error", err.Error()),
		)
	}
}

// Subscribers returns the number of handlers registered for name, counting
// wildcard handlers.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if s.name == name || s.name == Wildcard {
			n++
		}
	}
	return n
}
