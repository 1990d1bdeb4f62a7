// Package engine is the core of the query engine: operator and processor
// contracts, the operator registry, graph initialization, the execution
// context with its shared resources, and the tiling arithmetic that pins
// every raster stream to the global grid.
//
// The engine itself is transport-agnostic. A service layer parses requests
// into workflows and query rectangles, calls Execute and serializes the
// resulting streams; nothing in this package knows about HTTP, persistence
// or sessions.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/raster"
)

// ErrIteratorDone is returned by Iterator.Next when the stream is
// exhausted.
var ErrIteratorDone = errors.New("iterator done")

// Iterator is a pull-based stream. Next blocks until the next element is
// available, the stream ends (ErrIteratorDone), the stream fails, or ctx is
// done. Stop releases all resources held by the stream; it is idempotent
// and must be called even after Next returned an error.
//
// Iterators are not safe for concurrent use.
type Iterator[T any] interface {
	Next(ctx context.Context) (T, error)
	Stop()
}

// TileIterator streams the tiles of a raster query in canonical order:
// time slices ascending, within a slice rows ascending, within a row
// columns ascending.
type TileIterator = Iterator[raster.Tile]

// CollectionIterator streams the feature chunks of a vector query in
// temporal order.
type CollectionIterator = Iterator[*features.Collection]

type sliceIterator[T any] struct {
	items []T
	pos   int
}

// NewSliceIterator returns an iterator over a fixed slice.
func NewSliceIterator[T any](items []T) Iterator[T] {
	return &sliceIterator[T]{items: items}
}

// NewEmptyIterator returns an iterator that is exhausted from the start.
func NewEmptyIterator[T any]() Iterator[T] {
	return &sliceIterator[T]{}
}

func (s *sliceIterator[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if s.pos >= len(s.items) {
		return zero, ErrIteratorDone
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

func (s *sliceIterator[T]) Stop() {
	s.items = nil
	s.pos = 0
}

// Collect drains the iterator into a slice and stops it. On error the
// elements received so far are returned alongside the error.
func Collect[T any](ctx context.Context, it Iterator[T]) ([]T, error) {
	defer it.Stop()
	var out []T
	for {
		item, err := it.Next(ctx)
		if errors.Is(err, ErrIteratorDone) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
}

type mappedIterator[T, U any] struct {
	inner Iterator[T]
	fn    func(context.Context, T) (U, error)
}

// NewMappedIterator applies fn to every element of inner. An fn error fails
// the stream.
func NewMappedIterator[T, U any](inner Iterator[T], fn func(context.Context, T) (U, error)) Iterator[U] {
	return &mappedIterator[T, U]{inner: inner, fn: fn}
}

func (m *mappedIterator[T, U]) Next(ctx context.Context) (U, error) {
	var zero U
	item, err := m.inner.Next(ctx)
	if err != nil {
		return zero, err
	}
	return m.fn(ctx, item)
}

func (m *mappedIterator[T, U]) Stop() { m.inner.Stop() }

type cleanupIterator[T any] struct {
	inner Iterator[T]
	once  sync.Once
	fn    func()
}

// NewCleanupIterator runs fn exactly once when the stream is stopped or
// finishes (successfully or not). It is how the engine ties resource
// lifetimes, like per-query scratch space, to result streams.
func NewCleanupIterator[T any](inner Iterator[T], fn func()) Iterator[T] {
	return &cleanupIterator[T]{inner: inner, fn: fn}
}

func (c *cleanupIterator[T]) Next(ctx context.Context) (T, error) {
	item, err := c.inner.Next(ctx)
	if err != nil {
		c.once.Do(c.fn)
	}
	return item, err
}

func (c *cleanupIterator[T]) Stop() {
	c.inner.Stop()
	c.once.Do(c.fn)
}
