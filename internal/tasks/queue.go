// Package tasks runs fire-and-forget background work with bounded
// concurrency. Task errors and panics are logged, never propagated.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("task queue closed")

// Func is one unit of background work.
type Func func(ctx context.Context) error

// Queue runs submitted tasks, at most concurrency at a time, each under its
// own timeout.
type Queue struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	log     *zap.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a queue. A non-positive timeout disables the per-task limit.
func New(concurrency int, timeout time.Duration, log *zap.Logger) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Queue{
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: timeout,
		log:     log.Named("tasks"),
		base:    base,
		cancel:  cancel,
	}
}

// Submit schedules fn and returns immediately.
func (q *Queue) Submit(name string, fn Func) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("submit %s: %w", name, ErrClosed)
	}
	q.wg.Add(1)
	go q.run(name, fn)
	return nil
}

func (q *Queue) run(name string, fn Func) {
	defer q.wg.Done()
	if err := q.sem.Acquire(q.base, 1); err != nil {
		q.log.Warn("task dropped before start", zap.String("task", name), zap.Error(err))
		return
	}
	defer q.sem.Release(1)

	ctx := q.base
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("task panicked", zap.String("task", name), zap.Any("panic", r))
		}
	}()
	if err := fn(ctx); err != nil {
		q.log.Warn("task failed", zap.String("task", name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	q.log.Debug("task done", zap.String("task", name), zap.Duration("elapsed", time.Since(start)))
}

// Close stops accepting work and waits for queued and running tasks. If ctx
// ends first, outstanding tasks are cancelled and Close returns ctx.Err()
// once they have exited.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
