// Package pool provides the bounded goroutine pool used for parallel
// action loading.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Metrics tracks worker pool operational counters.
type Metrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrShutdown is returned when work is submitted to a shut-down pool.
var ErrShutdown = errors.New("worker pool is shut down")

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithPanicHandler installs fn to receive recovered panic values.
func WithPanicHandler(fn func(v any)) Option {
	return func(p *WorkerPool) { p.onPanic = fn }
}

// WorkerPool runs submitted tasks with at most Size() running at once.
type WorkerPool struct {
	size    int
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics Metrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
	onPanic func(v any)
}

// New creates a pool with the given max concurrency. Sizes below one are
// raised to one.
func New(size int, opts ...Option) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	p := &WorkerPool{
		size: size,
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the concurrency bound.
func (p *WorkerPool) Size() int {
	return p.size
}

// Submit schedules fn. It blocks while the pool is at capacity and gives up
// when ctx is cancelled or the pool shuts down.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait sees it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
				if p.onPanic != nil {
					p.onPanic(r)
				}
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
		} else {
			atomic.AddInt64(&p.metrics.Completed, 1)
		}
	}()

	return nil
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting work and waits for running tasks.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() Metrics {
	return Metrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
