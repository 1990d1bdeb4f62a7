// Package adapters holds the stream adapters that sit between operator
// streams: time alignment across raster sources, chunk merging for feature
// streams, and no-data fill for sparse tile streams. They all speak the
// engine's iterator contract on both sides.
package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/raster"
)

// TileSource opens one child's tile stream for a query rectangle. The time
// adapter re-opens its sources once per aligned slice, so a source whose
// native slice outlives the aligned one simply answers the follow-up query
// from the same slice again.
type TileSource func(ctx context.Context, rect geo.QueryRectangle) (engine.TileIterator, error)

// TileGroup is one matched set of tiles, one per source. All tiles in a
// group share their grid position and the aligned time interval.
type TileGroup []raster.Tile

// TimeAlign zips N raster streams whose sources may slice time differently
// into one stream of matched tile groups. Each aligned slice runs from the
// current cursor to the earliest end among the sources' current slices;
// every group's tiles are re-stamped with that interval, so consumers see
// identical validity on all inputs.
type TimeAlign struct {
	sources       []TileSource
	rect          geo.QueryRectangle
	tilesPerSlice int64

	cursor  geo.TimeInstance
	streams []engine.TileIterator
	aligned geo.TimeInterval
	emitted int64
	pending TileGroup
	done    bool
	failed  error
}

// NewTimeAlign builds the adapter. tilesPerSlice is the number of tiles
// each source emits per time slice, the size of the query's tile grid.
func NewTimeAlign(sources []TileSource, rect geo.QueryRectangle, tilesPerSlice int64) *TimeAlign {
	return &TimeAlign{
		sources:       sources,
		rect:          rect,
		tilesPerSlice: tilesPerSlice,
		cursor:        rect.Time().Start,
	}
}

// Next returns the next matched tile group in canonical order.
func (a *TimeAlign) Next(ctx context.Context) (TileGroup, error) {
	if a.failed != nil {
		return nil, a.failed
	}
	for {
		if a.done {
			return nil, engine.ErrIteratorDone
		}
		if a.streams == nil {
			if err := a.openSlice(ctx); err != nil {
				return nil, a.fail(err)
			}
			continue
		}
		if a.pending != nil {
			group := a.pending
			a.pending = nil
			a.emitted++
			return group, nil
		}
		if a.emitted < a.tilesPerSlice {
			group, err := a.pullGroup(ctx)
			if err != nil {
				return nil, a.fail(err)
			}
			a.emitted++
			return group, nil
		}
		a.closeSlice()
	}
}

// openSlice re-queries every source from the cursor, reads one tile from
// each to discover the sources' current slices, and fixes the aligned
// interval. The first tiles become the slice's first group.
func (a *TimeAlign) openSlice(ctx context.Context) error {
	remaining := geo.MustTimeInterval(a.cursor, a.rect.Time().End)
	streams := make([]engine.TileIterator, 0, len(a.sources))
	defer func() {
		if a.streams == nil {
			for _, s := range streams {
				s.Stop()
			}
		}
	}()

	for i, source := range a.sources {
		stream, err := source(ctx, a.rect.WithTime(remaining))
		if err != nil {
			return fmt.Errorf("time align: open source %d: %w", i, err)
		}
		streams = append(streams, stream)
	}

	first := make(TileGroup, len(streams))
	end := geo.MaxTimeInstance
	for i, stream := range streams {
		tile, err := stream.Next(ctx)
		if errors.Is(err, engine.ErrIteratorDone) {
			if i != 0 {
				return engine.NewUnsupportedOperationError("time align",
					fmt.Sprintf("source %d ended while source 0 still has data at %s", i, remaining))
			}
			return a.finish(ctx, streams)
		}
		if err != nil {
			return err
		}
		first[i] = tile
		if tile.Time.End < end {
			end = tile.Time.End
		}
	}

	switch {
	case a.rect.Time().IsInstant():
		a.aligned = a.rect.Time()
	case end <= a.cursor:
		return engine.NewUnsupportedOperationError("time align",
			fmt.Sprintf("source slice ends at %s, at or before the cursor %s", geo.NewTimeInstant(end), geo.NewTimeInstant(a.cursor)))
	default:
		if end > a.rect.Time().End {
			end = a.rect.Time().End
		}
		a.aligned = geo.MustTimeInterval(a.cursor, end)
	}

	for i := range first {
		if first[i].Position != first[0].Position {
			return engine.NewUnsupportedOperationError("time align",
				fmt.Sprintf("source %d produced tile %s where source 0 produced %s", i, first[i].Position, first[0].Position))
		}
		first[i].Time = a.aligned
	}

	a.streams = streams
	a.pending = first
	a.emitted = 0
	return nil
}

// finish ends the stream cleanly when source 0 has no further slice; the
// remaining sources must agree.
func (a *TimeAlign) finish(ctx context.Context, streams []engine.TileIterator) error {
	for i := 1; i < len(streams); i++ {
		if _, err := streams[i].Next(ctx); !errors.Is(err, engine.ErrIteratorDone) {
			if err != nil {
				return err
			}
			return engine.NewUnsupportedOperationError("time align",
				fmt.Sprintf("source %d still has data where source 0 ended", i))
		}
	}
	for _, s := range streams {
		s.Stop()
	}
	a.done = true
	return nil
}

func (a *TimeAlign) pullGroup(ctx context.Context) (TileGroup, error) {
	group := make(TileGroup, len(a.streams))
	for i, stream := range a.streams {
		tile, err := stream.Next(ctx)
		if errors.Is(err, engine.ErrIteratorDone) {
			return nil, engine.NewUnsupportedOperationError("time align",
				fmt.Sprintf("source %d ended mid slice after %d of %d tiles", i, a.emitted, a.tilesPerSlice))
		}
		if err != nil {
			return nil, err
		}
		tile.Time = a.aligned
		group[i] = tile
	}
	for i := range group {
		if group[i].Position != group[0].Position {
			return nil, engine.NewUnsupportedOperationError("time align",
				fmt.Sprintf("source %d produced tile %s where source 0 produced %s", i, group[i].Position, group[0].Position))
		}
	}
	return group, nil
}

// closeSlice stops the slice's streams and advances the cursor. Sources
// are re-queried from the new cursor on the next pull.
func (a *TimeAlign) closeSlice() {
	for _, s := range a.streams {
		s.Stop()
	}
	a.streams = nil
	a.pending = nil
	if a.rect.Time().IsInstant() || a.aligned.End >= a.rect.Time().End {
		a.done = true
		return
	}
	a.cursor = a.aligned.End
}

func (a *TimeAlign) fail(err error) error {
	a.failed = err
	a.stopStreams()
	return err
}

func (a *TimeAlign) stopStreams() {
	for _, s := range a.streams {
		s.Stop()
	}
	a.streams = nil
}

// Stop releases the adapter and any open child streams.
func (a *TimeAlign) Stop() {
	a.stopStreams()
	a.done = true
	if a.failed == nil {
		a.failed = engine.ErrIteratorDone
	}
}
