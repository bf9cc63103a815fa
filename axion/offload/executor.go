// Package offload runs blocking compute on a bounded set of workers and
// exposes both blocking and future-based entry points.
package offload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/semaphore"
)

// ErrExecutorClosed is returned for work submitted after Close.
var ErrExecutorClosed = errors.New("offload executor closed")

// Executor bounds how many blocking tasks run at once.
type Executor struct {
	workers int
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	running atomic.Int64
	logger  zerolog.Logger
}

// NewExecutor creates an executor with the given number of worker slots.
// Values below 1 are clamped to 1.
func NewExecutor(workers int, logger zerolog.Logger) *Executor {
	if workers < 1 {
		logger.Warn().Int("workers", workers).Msg("Invalid worker count, clamping to 1")
		workers = 1
	}
	return &Executor{
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
		logger:  logger.With().Str("component", "offload").Logger(),
	}
}

// Workers returns the number of worker slots.
func (e *Executor) Workers() int {
	return e.workers
}

// Running returns the number of tasks currently holding a worker slot.
func (e *Executor) Running() int {
	return int(e.running.Load())
}

// Close stops accepting work and waits for submitted tasks to finish.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Debug().Msg("Executor closed")
	return nil
}

// Submit schedules fn on e without blocking the caller. The task waits for a
// free worker slot; if ctx ends first the future resolves with ctx.Err().
func Submit[T any](ctx context.Context, e *Executor, name string, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		f.resolve(*new(T), ErrExecutorClosed)
		return f
	}
	e.wg.Add(1)
	e.mu.RUnlock()
	go func() {
		defer e.wg.Done()

		if err := e.sem.Acquire(ctx, 1); err != nil {
			f.resolve(*new(T), err)
			return
		}
		e.running.Add(1)
		start := time.Now()
		v, err := call(ctx, fn)
		e.running.Add(-1)
		e.sem.Release(1)

		e.logger.Debug().
			Str("task", name).
			Dur("duration", time.Since(start)).
			Bool("failed", err != nil).
			Msg("Offloaded task finished")
		f.resolve(v, err)
	}()

	return f
}

// Run is the blocking entry point: it submits fn and waits for the result.
func Run[T any](ctx context.Context, e *Executor, name string, fn func(context.Context) (T, error)) (T, error) {
	return Submit(ctx, e, name, fn).Await(ctx)
}

// Go runs fn on its own goroutine and returns a future for its result.
// It does not take a worker slot, so it is safe to call Run from inside fn.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	go func() {
		v, err := call(ctx, fn)
		f.resolve(v, err)
	}()
	return f
}

// call runs fn and turns a panic into an error.
func call[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		v, err = fn(ctx)
	})
	if r := pc.Recovered(); r != nil {
		var zero T
		return zero, fmt.Errorf("offloaded task panicked: %w", r.AsError())
	}
	return v, err
}
