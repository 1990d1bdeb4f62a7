// Package concurrency provides the shared worker pool that executes tile
// computations and small channel helpers used by the streaming machinery.
package concurrency

import (
	"context"
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

// WorkerPool is a fixed-size pool of workers shared by all queries of an
// engine. Submission blocks while every worker is busy, which throttles
// query drivers against each other; per-query in-flight limits are enforced
// above the pool, not here.
type WorkerPool struct {
	pool      *pool.Pool
	closeOnce sync.Once
}

// NewWorkerPool returns a pool running at most maxWorkers tasks at once.
// A non-positive maxWorkers falls back to the number of CPUs.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	return &WorkerPool{
		pool: pool.New().WithMaxGoroutines(maxWorkers),
	}
}

// Submit schedules task on the pool, blocking until a worker is available.
// Submit must not be called after Close.
func (p *WorkerPool) Submit(task func()) {
	p.pool.Go(task)
}

// Close waits for all submitted tasks to finish and releases the workers.
// It is idempotent.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(p.pool.Wait)
}

// NewContextPool returns a pool whose tasks respect context cancellation.
// Wait() returns the first error seen and cancels the remaining tasks.
func NewContextPool(ctx context.Context, maxGoroutines int) *pool.ContextPool {
	return pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(maxGoroutines)
}

// TrySendThroughChannel attempts to send an object through a channel.
// If the context is canceled, it will not send the object.
func TrySendThroughChannel[T any](ctx context.Context, msg T, channel chan<- T) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case channel <- msg:
		return true
	}
}
