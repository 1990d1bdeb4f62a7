package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/raster"
)

// FillFactory builds the tile for an expected grid position and time slice
// the inner stream skipped.
type FillFactory func(position geo.GridIdx2D, time geo.TimeInterval) (raster.Tile, error)

// SparseFill completes a sparse tile stream against its expected
// enumeration. Sources only emit tiles where they have data; this adapter
// walks the full canonical sequence of (slice, position) pairs, forwards
// matching inner tiles and fabricates fill tiles for the gaps, so
// downstream consumers always see a dense stream.
//
// The inner stream must be a subsequence of the expected enumeration; a
// tile that matches no expected pair fails the stream.
type SparseFill struct {
	inner  engine.TileIterator
	slices []geo.TimeInterval
	grid   engine.TileGrid
	fill   FillFactory

	sliceIdx  int
	tileIdx   int64
	lookahead *raster.Tile
	innerDone bool
	failed    error
}

// NewSparseFill builds the adapter. slices are the expected time slices in
// ascending order; grid is the query's tile grid, shared by every slice.
func NewSparseFill(inner engine.TileIterator, slices []geo.TimeInterval, grid engine.TileGrid, fill FillFactory) *SparseFill {
	return &SparseFill{inner: inner, slices: slices, grid: grid, fill: fill}
}

// Next returns the next tile of the dense enumeration.
func (f *SparseFill) Next(ctx context.Context) (raster.Tile, error) {
	if f.failed != nil {
		return raster.Tile{}, f.failed
	}
	if f.sliceIdx >= len(f.slices) {
		return raster.Tile{}, f.finish(ctx)
	}

	slice := f.slices[f.sliceIdx]
	position := f.grid.PositionAt(f.tileIdx)

	if f.lookahead == nil && !f.innerDone {
		tile, err := f.inner.Next(ctx)
		switch {
		case errors.Is(err, engine.ErrIteratorDone):
			f.innerDone = true
		case err != nil:
			return raster.Tile{}, f.fail(err)
		default:
			f.lookahead = &tile
		}
	}

	f.advance()
	if f.lookahead != nil && f.lookahead.Time == slice && f.lookahead.Position == position {
		tile := *f.lookahead
		f.lookahead = nil
		return tile, nil
	}

	tile, err := f.fill(position, slice)
	if err != nil {
		return raster.Tile{}, f.fail(fmt.Errorf("fill tile %s %s: %w", position, slice, err))
	}
	return tile, nil
}

func (f *SparseFill) advance() {
	f.tileIdx++
	if f.tileIdx >= f.grid.NumTiles() {
		f.tileIdx = 0
		f.sliceIdx++
	}
}

// finish verifies the inner stream has nothing beyond the expected
// enumeration and ends the stream.
func (f *SparseFill) finish(ctx context.Context) error {
	if f.lookahead != nil {
		return f.fail(fmt.Errorf("source tile %s %s is outside the expected enumeration",
			f.lookahead.Position, f.lookahead.Time))
	}
	if !f.innerDone {
		tile, err := f.inner.Next(ctx)
		switch {
		case errors.Is(err, engine.ErrIteratorDone):
			f.innerDone = true
		case err != nil:
			return f.fail(err)
		default:
			return f.fail(fmt.Errorf("source tile %s %s is outside the expected enumeration",
				tile.Position, tile.Time))
		}
	}
	return engine.ErrIteratorDone
}

func (f *SparseFill) fail(err error) error {
	f.failed = err
	return err
}

// Stop releases the inner stream.
func (f *SparseFill) Stop() {
	f.inner.Stop()
	if f.failed == nil {
		f.failed = engine.ErrIteratorDone
	}
}
