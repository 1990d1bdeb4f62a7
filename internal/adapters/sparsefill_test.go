package adapters

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/raster"
)

func testFillGrid(t *testing.T) engine.TileGrid {
	t.Helper()
	spec := engine.TilingSpecification{Origin: geo.NewCoordinate2D(0, 0), TileShape: geo.GridShape(2, 2)}
	return spec.Strategy(geo.MustSpatialResolution(1, 1)).TileGrid(geo.MustBoundingBox2D(0, -4, 4, 0))
}

func noDataFill(t *testing.T) FillFactory {
	t.Helper()
	return func(position geo.GridIdx2D, interval geo.TimeInterval) (raster.Tile, error) {
		grid, err := raster.NewNoDataGrid(geo.GridShape(2, 2), uint8(0))
		if err != nil {
			return raster.Tile{}, err
		}
		return raster.NewTile(position, interval, testTransform, grid), nil
	}
}

func TestSparseFillCompletesMissingPositions(t *testing.T) {
	slice := geo.MustTimeInterval(0, 10)
	inner := engine.NewSliceIterator([]raster.Tile{
		valueTile(t, geo.GridIdx(0, 0), slice, 7),
		valueTile(t, geo.GridIdx(1, 1), slice, 9),
	})

	fill := NewSparseFill(inner, []geo.TimeInterval{slice}, testFillGrid(t), noDataFill(t))
	defer fill.Stop()

	tiles, err := engine.Collect[raster.Tile](context.Background(), fill)
	require.NoError(t, err)
	require.Len(t, tiles, 4)

	wantPositions := []geo.GridIdx2D{
		geo.GridIdx(0, 0), geo.GridIdx(0, 1), geo.GridIdx(1, 0), geo.GridIdx(1, 1),
	}
	for i, tile := range tiles {
		require.Equal(t, wantPositions[i], tile.Position)
		require.Equal(t, slice, tile.Time)
	}

	require.Equal(t, float64(7), tileValue(t, tiles[0]))
	require.Equal(t, float64(9), tileValue(t, tiles[3]))
	for _, i := range []int{1, 2} {
		v, ok := tiles[i].Grid.SampleFloat(0)
		require.False(t, ok)
		require.True(t, math.IsNaN(v))
	}
}

func TestSparseFillFabricatesWholeMissingSlice(t *testing.T) {
	first := geo.MustTimeInterval(0, 10)
	second := geo.MustTimeInterval(10, 20)
	inner := engine.NewSliceIterator([]raster.Tile{
		valueTile(t, geo.GridIdx(0, 0), second, 5),
	})

	fill := NewSparseFill(inner, []geo.TimeInterval{first, second}, testFillGrid(t), noDataFill(t))
	defer fill.Stop()

	tiles, err := engine.Collect[raster.Tile](context.Background(), fill)
	require.NoError(t, err)
	require.Len(t, tiles, 8)

	for _, tile := range tiles[:4] {
		require.Equal(t, first, tile.Time)
		_, ok := tile.Grid.SampleFloat(0)
		require.False(t, ok)
	}
	require.Equal(t, second, tiles[4].Time)
	require.Equal(t, float64(5), tileValue(t, tiles[4]))
}

func TestSparseFillEmptyInner(t *testing.T) {
	slice := geo.MustTimeInterval(0, 10)
	fill := NewSparseFill(engine.NewEmptyIterator[raster.Tile](), []geo.TimeInterval{slice}, testFillGrid(t), noDataFill(t))
	defer fill.Stop()

	tiles, err := engine.Collect[raster.Tile](context.Background(), fill)
	require.NoError(t, err)
	require.Len(t, tiles, 4)
	for _, tile := range tiles {
		_, ok := tile.Grid.SampleFloat(0)
		require.False(t, ok)
	}
}

func TestSparseFillRejectsStrayTile(t *testing.T) {
	slice := geo.MustTimeInterval(0, 10)
	inner := engine.NewSliceIterator([]raster.Tile{
		valueTile(t, geo.GridIdx(9, 9), slice, 1),
	})

	fill := NewSparseFill(inner, []geo.TimeInterval{slice}, testFillGrid(t), noDataFill(t))
	defer fill.Stop()

	_, err := engine.Collect[raster.Tile](context.Background(), fill)
	require.ErrorContains(t, err, "outside the expected enumeration")
}

func TestSparseFillNoSlices(t *testing.T) {
	fill := NewSparseFill(engine.NewEmptyIterator[raster.Tile](), nil, testFillGrid(t), noDataFill(t))
	defer fill.Stop()

	tiles, err := engine.Collect[raster.Tile](context.Background(), fill)
	require.NoError(t, err)
	require.Empty(t, tiles)
}
