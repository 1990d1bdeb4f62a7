package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2younis/geoengine/internal/concurrency"
	"github.com/2younis/geoengine/pkg/engine"
)

// countingIterator yields 0..n-1 and records how it was released.
type countingIterator struct {
	n       int
	next    int
	stopped atomic.Bool
}

func (c *countingIterator) Next(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if c.next >= c.n {
		return 0, engine.ErrIteratorDone
	}
	v := c.next
	c.next++
	return v, nil
}

func (c *countingIterator) Stop() { c.stopped.Store(true) }

func TestParallelPreservesInputOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := concurrency.NewWorkerPool(8)
	defer pool.Close()

	input := &countingIterator{n: 100}
	stream := NewParallel(context.Background(), pool, 8, input,
		func(ctx context.Context, item int) (int, error) {
			// Later items finish earlier so completions arrive scrambled.
			time.Sleep(time.Duration((100-item)%7) * time.Millisecond)
			return item * 2, nil
		})
	defer stream.Stop()

	results, err := engine.Collect[int](context.Background(), stream)
	require.NoError(t, err)
	require.Len(t, results, 100)
	for i, v := range results {
		require.Equal(t, i*2, v)
	}
	require.True(t, input.stopped.Load())
}

func TestParallelBoundsInFlightWork(t *testing.T) {
	defer goleak.VerifyNone(t)

	const limit = 4

	pool := concurrency.NewWorkerPool(16)
	defer pool.Close()

	var running, peak atomic.Int64
	stream := NewParallel(context.Background(), pool, limit, &countingIterator{n: 32},
		func(ctx context.Context, item int) (int, error) {
			now := running.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
			return item, nil
		})
	defer stream.Stop()

	for i := 0; i < 32; i++ {
		v, err := stream.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, i, v)
		// A slow consumer must stall the producer side.
		time.Sleep(time.Millisecond)
	}
	_, err := stream.Next(context.Background())
	require.ErrorIs(t, err, engine.ErrIteratorDone)

	require.LessOrEqual(t, peak.Load(), int64(limit))
}

func TestParallelDeliversErrorsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := concurrency.NewWorkerPool(4)
	defer pool.Close()

	boom := errors.New("boom")
	stream := NewParallel(context.Background(), pool, 4, &countingIterator{n: 20},
		func(ctx context.Context, item int) (int, error) {
			if item == 5 {
				return 0, boom
			}
			// Failures on later items must not overtake earlier results.
			time.Sleep(time.Duration(item%3) * time.Millisecond)
			return item, nil
		})
	defer stream.Stop()

	for i := 0; i < 5; i++ {
		v, err := stream.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	_, err := stream.Next(context.Background())
	require.ErrorIs(t, err, boom)

	// The failure is sticky.
	_, err = stream.Next(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestParallelPropagatesInputFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := concurrency.NewWorkerPool(4)
	defer pool.Close()

	boom := errors.New("source broke")
	inner := &countingIterator{n: 3}
	stream := NewParallel(context.Background(), pool, 4,
		failAfter[int]{inner: inner, err: boom},
		func(ctx context.Context, item int) (int, error) { return item, nil })
	defer stream.Stop()

	for i := 0; i < 3; i++ {
		v, err := stream.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	_, err := stream.Next(context.Background())
	require.ErrorIs(t, err, boom)
}

// failAfter forwards its inner iterator and replaces the end of the stream
// with an error.
type failAfter[T any] struct {
	inner engine.Iterator[T]
	err   error
}

func (f failAfter[T]) Next(ctx context.Context) (T, error) {
	v, err := f.inner.Next(ctx)
	if errors.Is(err, engine.ErrIteratorDone) {
		var zero T
		return zero, f.err
	}
	return v, err
}

func (f failAfter[T]) Stop() { f.inner.Stop() }

func TestParallelStopAbandonsPendingWork(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := concurrency.NewWorkerPool(4)
	defer pool.Close()

	var started, finished atomic.Int64
	release := make(chan struct{})
	var once sync.Once

	input := &countingIterator{n: 100}
	stream := NewParallel(context.Background(), pool, 4, input,
		func(ctx context.Context, item int) (int, error) {
			started.Add(1)
			<-release
			finished.Add(1)
			return item, nil
		})

	// Give the driver a chance to saturate the in-flight budget, then walk
	// away without consuming anything.
	require.Eventually(t, func() bool { return started.Load() > 0 }, time.Second, time.Millisecond)
	once.Do(func() { close(release) })
	stream.Stop()

	require.True(t, input.stopped.Load())
	require.LessOrEqual(t, started.Load(), int64(4))

	// Started work runs to completion even though nobody reads it.
	require.Eventually(t, func() bool { return finished.Load() == started.Load() },
		time.Second, time.Millisecond)

	_, err := stream.Next(context.Background())
	require.ErrorIs(t, err, engine.ErrIteratorDone)
}

func TestParallelEmptyInput(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := concurrency.NewWorkerPool(2)
	defer pool.Close()

	stream := NewParallel(context.Background(), pool, 2, &countingIterator{n: 0},
		func(ctx context.Context, item int) (int, error) { return item, nil })
	defer stream.Stop()

	_, err := stream.Next(context.Background())
	require.ErrorIs(t, err, engine.ErrIteratorDone)
}

func TestParallelRespectsConsumerContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := concurrency.NewWorkerPool(2)
	defer pool.Close()

	block := make(chan struct{})
	defer close(block)

	stream := NewParallel(context.Background(), pool, 2, &countingIterator{n: 4},
		func(ctx context.Context, item int) (int, error) {
			<-block
			return item, nil
		})
	defer stream.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := stream.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
