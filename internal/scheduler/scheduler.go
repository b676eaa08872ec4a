// Package scheduler runs a recurring task on a single background loop that
// can be stopped without waiting for it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/dccmcp/internal/logging"
)

// State is the lifecycle state of a loop.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Task is the work run on every tick.
type Task func(ctx context.Context)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse parses a cron expression. Five fields, an optional leading seconds
// field and descriptors such as "@hourly" or "@every 30s" are accepted.
func Parse(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return sched, nil
}

// Every returns a schedule firing interval after each run. Unlike
// cron.Every it keeps sub-second precision.
func Every(interval time.Duration) (cron.Schedule, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	return every(interval), nil
}

type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// Handle controls one loop.
type Handle struct {
	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	runs     atomic.Int64
}

func newHandle() *Handle {
	return &Handle{stop: make(chan struct{}), done: make(chan struct{})}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Stop signals the loop to stop and returns immediately. The loop exits at
// its next iteration boundary; a task already running is not interrupted.
// Stop is idempotent and safe to call from inside the task.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		for {
			cur := h.state.Load()
			if cur == int32(StateStopped) || h.state.CompareAndSwap(cur, int32(StateStopping)) {
				break
			}
		}
		close(h.stop)
	})
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Runs counts completed task executions.
func (h *Handle) Runs() int64 {
	return h.runs.Load()
}

func (h *Handle) stopping() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// Scheduler owns at most one active loop.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	current *Handle
}

// New creates a Scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logging.OrDiscard(logger)}
}

// Start launches a loop running task on sched. A loop that is already
// active is signalled to stop first; Start never waits for it.
func (s *Scheduler) Start(ctx context.Context, sched cron.Schedule, task Task) *Handle {
	h := newHandle()

	s.mu.Lock()
	prev := s.current
	s.current = h
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	go s.loop(ctx, h, sched, task)
	return h
}

// Stop signals the active loop, if any, and reports whether there was one.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	h := s.current
	s.current = nil
	s.mu.Unlock()

	if h == nil {
		return false
	}
	h.Stop()
	return true
}

// Current returns the handle of the active loop, or nil.
func (s *Scheduler) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) loop(ctx context.Context, h *Handle, sched cron.Schedule, task Task) {
	defer func() {
		h.state.Store(int32(StateStopped))
		close(h.done)
		s.mu.Lock()
		if s.current == h {
			s.current = nil
		}
		s.mu.Unlock()
		s.logger.Info("scheduler stopped", slog.Int64("runs", h.Runs()))
	}()

	if !h.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return
	}
	s.logger.Info("scheduler started")

	for {
		now := time.Now()
		timer := time.NewTimer(sched.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-h.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		if h.stopping() {
			return
		}
		s.run(ctx, h, task)
	}
}

func (s *Scheduler) run(ctx context.Context, h *Handle, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	task(ctx)
	h.runs.Add(1)
}
