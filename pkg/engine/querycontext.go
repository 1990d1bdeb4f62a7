package engine

import "fmt"

const (
	// DefaultChunkByteSize is the default upper bound for one feature
	// collection chunk.
	DefaultChunkByteSize = 1 << 20

	// DefaultMaxInFlightTiles is the default per-query cap on tile
	// computations that are scheduled or buffered but not yet consumed.
	DefaultMaxInFlightTiles = 8
)

// QueryContext carries the per-query execution parameters. Cancellation is
// not part of it; queries are canceled through their context.Context.
type QueryContext struct {
	chunkByteSize    int
	maxInFlightTiles int
}

// NewQueryContext validates and builds a query context.
func NewQueryContext(chunkByteSize, maxInFlightTiles int) (*QueryContext, error) {
	if chunkByteSize <= 0 {
		return nil, fmt.Errorf("chunk byte size must be positive, got %d", chunkByteSize)
	}
	if maxInFlightTiles <= 0 {
		return nil, fmt.Errorf("max in-flight tiles must be positive, got %d", maxInFlightTiles)
	}
	return &QueryContext{chunkByteSize: chunkByteSize, maxInFlightTiles: maxInFlightTiles}, nil
}

// DefaultQueryContext returns a context with the package defaults.
func DefaultQueryContext() *QueryContext {
	qctx, err := NewQueryContext(DefaultChunkByteSize, DefaultMaxInFlightTiles)
	if err != nil {
		panic(err)
	}
	return qctx
}

// ChunkByteSize returns the byte budget for one feature collection chunk.
// Merging stops growing a chunk once it reaches this size; a single feature
// larger than the budget still travels alone rather than being dropped.
func (q *QueryContext) ChunkByteSize() int { return q.chunkByteSize }

// MaxInFlightTiles returns the per-query cap on concurrently outstanding
// tile computations, counting buffered but unconsumed results.
func (q *QueryContext) MaxInFlightTiles() int { return q.maxInFlightTiles }
