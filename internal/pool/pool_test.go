package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_BasicExecution(t *testing.T) {
	p := New(2)
	defer p.Shutdown()

	var ran int64
	err := p.Submit(context.Background(), func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	p.Wait()

	if atomic.LoadInt64(&ran) != 1 {
		t.Error("work did not execute")
	}
	if m := p.Metrics(); m.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", m.Completed)
	}
}

func TestWorkerPool_SizeFloor(t *testing.T) {
	if got := New(0).Size(); got != 1 {
		t.Errorf("expected size 1, got %d", got)
	}
	if got := New(4).Size(); got != 4 {
		t.Errorf("expected size 4, got %d", got)
	}
}

func TestWorkerPool_ConcurrencyLimit(t *testing.T) {
	size := 3
	p := New(size)
	defer p.Shutdown()

	var maxConcurrent, current int64
	var mu sync.Mutex

	for range 10 {
		err := p.Submit(context.Background(), func(ctx context.Context) error {
			c := atomic.AddInt64(&current, 1)
			mu.Lock()
			if c > maxConcurrent {
				maxConcurrent = c
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected submit error: %v", err)
		}
	}

	p.Wait()

	if maxConcurrent > int64(size) {
		t.Errorf("max concurrent %d exceeded pool size %d", maxConcurrent, size)
	}
	if maxConcurrent == 0 {
		t.Error("no concurrent execution detected")
	}
}

func TestWorkerPool_Backpressure(t *testing.T) {
	p := New(1)
	defer p.Shutdown()

	started := make(chan struct{})
	block := make(chan struct{})

	if err := p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	<-started

	submitted := make(chan struct{})
	go func() {
		_ = p.Submit(context.Background(), func(ctx context.Context) error { return nil })
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Error("second submit should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Error("second submit did not unblock after first task completed")
	}
	p.Wait()
}

func TestWorkerPool_PanicRecovery(t *testing.T) {
	var recovered atomic.Value
	p := New(2, WithPanicHandler(func(v any) { recovered.Store(v) }))
	defer p.Shutdown()

	if err := p.Submit(context.Background(), func(ctx context.Context) error {
		panic("broken loader")
	}); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	p.Wait()

	m := p.Metrics()
	if m.Panics != 1 || m.Failed != 1 {
		t.Errorf("expected 1 panic and 1 failed, got %+v", m)
	}
	if recovered.Load() != "broken loader" {
		t.Errorf("panic handler got %v", recovered.Load())
	}

	var ran int64
	if err := p.Submit(context.Background(), func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	}); err != nil {
		t.Fatalf("submit after panic failed: %v", err)
	}
	p.Wait()
	if atomic.LoadInt64(&ran) != 1 {
		t.Error("work after panic did not execute")
	}
}

func TestWorkerPool_ContextCancellation(t *testing.T) {
	p := New(1)
	defer p.Shutdown()

	block := make(chan struct{})
	_ = p.Submit(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Submit(ctx, func(ctx context.Context) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("submit did not return after context cancellation")
	}

	close(block)
	p.Wait()
}

func TestWorkerPool_GracefulShutdown(t *testing.T) {
	p := New(2)

	var completed int64
	for range 5 {
		_ = p.Submit(context.Background(), func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&completed, 1)
			return nil
		})
	}

	p.Shutdown()

	if got := atomic.LoadInt64(&completed); got != 5 {
		t.Errorf("expected 5 completed after shutdown, got %d", got)
	}
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	p := New(2)
	p.Shutdown()
	p.Shutdown()

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrShutdown) {
		t.Errorf("expected ErrShutdown, got %v", err)
	}
}

func TestWorkerPool_MetricsAccuracy(t *testing.T) {
	p := New(4)
	defer p.Shutdown()

	errTarget := errors.New("intentional error")
	for range 3 {
		_ = p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	}
	for range 2 {
		_ = p.Submit(context.Background(), func(ctx context.Context) error { return errTarget })
	}
	p.Wait()

	m := p.Metrics()
	if m.Completed != 3 {
		t.Errorf("expected 3 completed, got %d", m.Completed)
	}
	if m.Failed != 2 {
		t.Errorf("expected 2 failed, got %d", m.Failed)
	}
	if m.Active != 0 {
		t.Errorf("expected 0 active after wait, got %d", m.Active)
	}
}
