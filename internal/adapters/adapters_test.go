package adapters

import (
	"context"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/require"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/raster"
)

var testTransform = geo.MustGeoTransform(0, 0, 1, -1)

func valueTile(t *testing.T, position geo.GridIdx2D, interval geo.TimeInterval, value uint8) raster.Tile {
	t.Helper()
	grid, err := raster.NewFilledGrid(geo.GridShape(2, 2), value, nil)
	require.NoError(t, err)
	return raster.NewTile(position, interval, testTransform, grid)
}

func tileValue(t *testing.T, tile raster.Tile) float64 {
	t.Helper()
	v, ok := tile.Grid.SampleFloat(0)
	require.True(t, ok)
	return v
}

// slicedSource emits one tile per position for every native slice that
// intersects the queried time. Sample values encode base+sliceIndex so
// tests can tell which native slice a tile came from.
func slicedSource(t *testing.T, slices []geo.TimeInterval, positions []geo.GridIdx2D, base uint8) TileSource {
	return func(ctx context.Context, rect geo.QueryRectangle) (engine.TileIterator, error) {
		var tiles []raster.Tile
		for i, slice := range slices {
			if !slice.Intersects(rect.Time()) {
				continue
			}
			for _, position := range positions {
				tiles = append(tiles, valueTile(t, position, slice, base+uint8(i)))
			}
		}
		return engine.NewSliceIterator(tiles), nil
	}
}

func pointCollection(t *testing.T, values ...float64) *features.Collection {
	t.Helper()
	builder := features.NewCollectionBuilder(features.VectorDataTypeMultiPoint, geo.SpatialReferenceEpsg4326).
		AddColumn("v", features.ColumnTypeFloat)
	for i, v := range values {
		builder.AppendFeature(
			geom.MultiPoint{{float64(i), float64(i)}},
			geo.MaxTimeInterval,
			map[string]any{"v": v},
		)
	}
	collection, err := builder.Build()
	require.NoError(t, err)
	return collection
}
