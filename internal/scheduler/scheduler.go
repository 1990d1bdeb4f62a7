// Package scheduler runs the per-tile work of a query in parallel while
// keeping the stream contract sequential: inputs are pulled one at a time,
// computations fan out onto the shared worker pool, and results come back
// in input order.
//
// The number of computations that are scheduled or finished-but-unconsumed
// is capped per stream. The cap is the engine's backpressure mechanism: a
// slow consumer stops the driver from pulling further inputs, which bounds
// peak memory regardless of how many tiles a query covers.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"github.com/2younis/geoengine/internal/concurrency"
	"github.com/2younis/geoengine/pkg/engine"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoengine",
		Subsystem: "scheduler",
		Name:      "tasks_total",
		Help:      "Number of finished tile computations by outcome.",
	}, []string{"outcome"})

	inFlightTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoengine",
		Subsystem: "scheduler",
		Name:      "in_flight_tasks",
		Help:      "Tile computations currently submitted to the worker pool, over all queries.",
	})

	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geoengine",
		Subsystem: "scheduler",
		Name:      "task_duration_seconds",
		Help:      "Wall time of one tile computation.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	})
)

// completion is one computed element, tagged with the sequence number of
// the input it was computed from.
type completion[T any] struct {
	seq   uint64
	value T
	err   error
}

func compareBySequence[T any](a, b interface{}) int {
	sa, sb := a.(completion[T]).seq, b.(completion[T]).seq
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

// Parallel maps an input stream through a compute function on the shared
// worker pool. It is an engine iterator: results arrive in input order, a
// computation error ends the stream at that element's position, and Stop
// releases everything without waiting for discarded results.
//
// Inputs are pulled by a single driver goroutine, so the input iterator is
// never used concurrently. At most maxInFlight elements are outstanding at
// any moment, counting both running computations and finished results the
// consumer has not taken yet.
type Parallel[In, Out any] struct {
	input   engine.Iterator[In]
	compute func(context.Context, In) (Out, error)

	// taskCtx is handed to compute calls. It is the stream's parent
	// context, deliberately not canceled by Stop: tiles that already
	// started are computed and dropped, not preempted.
	taskCtx    context.Context
	submitCtx  context.Context
	stopSubmit context.CancelFunc

	sem        *semaphore.Weighted
	results    chan completion[Out]
	driverDone chan struct{}

	// endSeq is the number of sequence slots the driver produced. It is
	// written by the driver before driverDone closes and read by the
	// consumer only afterwards.
	endSeq uint64

	reorder  *binaryheap.Heap
	next     uint64
	finished bool
	failed   error
	stopOnce sync.Once
}

// NewParallel starts the driver for one stream. ctx is the query context:
// canceling it stops input pulls and reaches running computations. The
// input iterator is owned by the returned stream and stopped with it.
func NewParallel[In, Out any](
	ctx context.Context,
	pool *concurrency.WorkerPool,
	maxInFlight int,
	input engine.Iterator[In],
	compute func(context.Context, In) (Out, error),
) *Parallel[In, Out] {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	submitCtx, stopSubmit := context.WithCancel(ctx)
	p := &Parallel[In, Out]{
		input:      input,
		compute:    compute,
		taskCtx:    ctx,
		submitCtx:  submitCtx,
		stopSubmit: stopSubmit,
		sem:        semaphore.NewWeighted(int64(maxInFlight)),
		results:    make(chan completion[Out], maxInFlight),
		driverDone: make(chan struct{}),
		reorder:    binaryheap.NewWith(compareBySequence[Out]),
	}
	go p.drive(pool)
	return p
}

// drive pulls inputs and hands them to the pool until the input ends, the
// input fails, or submission is stopped. Each iteration first acquires an
// in-flight token; the token travels with the element and is only returned
// when the consumer takes the result.
func (p *Parallel[In, Out]) drive(pool *concurrency.WorkerPool) {
	defer close(p.driverDone)
	var seq uint64
	for {
		if err := p.sem.Acquire(p.submitCtx, 1); err != nil {
			p.endSeq = seq
			return
		}
		item, err := p.input.Next(p.submitCtx)
		if err != nil {
			if errors.Is(err, engine.ErrIteratorDone) {
				p.sem.Release(1)
				p.endSeq = seq
				return
			}
			// The input failed. The error takes this sequence slot so it
			// reaches the consumer in order, after every element before it.
			p.results <- completion[Out]{seq: seq, err: err}
			p.endSeq = seq + 1
			return
		}
		p.submitTask(pool, seq, item)
		seq++
	}
}

func (p *Parallel[In, Out]) submitTask(pool *concurrency.WorkerPool, seq uint64, item In) {
	inFlightTasks.Inc()
	pool.Submit(func() {
		defer inFlightTasks.Dec()
		start := time.Now()
		value, err := p.compute(p.taskCtx, item)
		taskDuration.Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		tasksTotal.WithLabelValues(outcome).Inc()
		// The channel capacity matches the in-flight limit and every
		// unconsumed completion holds a token, so this send cannot block
		// even when the consumer is gone.
		p.results <- completion[Out]{seq: seq, value: value, err: err}
	})
}

// Next returns the result for the next input in order. It blocks until that
// result is ready, the stream ends (engine.ErrIteratorDone), an element
// fails, or ctx is done. After a failure the same error is returned again.
func (p *Parallel[In, Out]) Next(ctx context.Context) (Out, error) {
	var zero Out
	if p.failed != nil {
		return zero, p.failed
	}
	driverDone := p.driverDone
	if p.finished {
		driverDone = nil
	}
	for {
		if top, ok := p.reorder.Peek(); ok && top.(completion[Out]).seq == p.next {
			c, _ := p.reorder.Pop()
			p.next++
			p.sem.Release(1)
			result := c.(completion[Out])
			if result.err != nil {
				p.failed = result.err
				p.stopSubmit()
				return zero, result.err
			}
			return result.value, nil
		}
		if p.finished && p.next >= p.endSeq {
			p.failed = engine.ErrIteratorDone
			return zero, engine.ErrIteratorDone
		}
		select {
		case c := <-p.results:
			p.reorder.Push(c)
			if c.err != nil {
				// Stop pulling further inputs right away; completions for
				// earlier sequences still drain in order before the error
				// surfaces.
				p.stopSubmit()
			}
		case <-driverDone:
			p.finished = true
			driverDone = nil
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Stop ends the stream: no further input is pulled, results of running
// computations are dropped, and the input iterator is stopped. Stop is
// idempotent and safe to call after Next returned an error.
func (p *Parallel[In, Out]) Stop() {
	p.stopOnce.Do(func() {
		p.stopSubmit()
		// The driver exits promptly once its context is canceled; waiting
		// for it means the input iterator is never stopped mid-pull.
		<-p.driverDone
		p.input.Stop()
		if p.failed == nil {
			p.failed = engine.ErrIteratorDone
		}
	})
}
