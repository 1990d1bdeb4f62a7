package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2younis/geoengine/pkg/geo"
)

func TestTilingStrategyGlobalTransform(t *testing.T) {
	spec := DefaultTilingSpecification()
	strategy := spec.Strategy(geo.MustSpatialResolution(0.5, 0.25))

	transform := strategy.GeoTransform()
	require.Equal(t, geo.NewCoordinate2D(0, 0), transform.Origin)
	require.Equal(t, 0.5, transform.PixelSizeX)
	require.Equal(t, -0.25, transform.PixelSizeY)
}

func TestTileBoundsIndependentOfQueryOrigin(t *testing.T) {
	spec := TilingSpecification{Origin: geo.NewCoordinate2D(0, 0), TileShape: geo.GridShape(2, 2)}
	strategy := spec.Strategy(geo.MustSpatialResolution(1, 1))

	// Two overlapping boxes must agree on the tiles they share.
	a := strategy.TileBounds(geo.MustBoundingBox2D(0, -4, 4, 0))
	b := strategy.TileBounds(geo.MustBoundingBox2D(1, -3, 5, 1))

	require.Equal(t, geo.GridIdx(0, 0), a.Min)
	require.Equal(t, geo.GridIdx(1, 1), a.Max)
	require.Equal(t, geo.GridIdx(-1, 0), b.Min)
	require.Equal(t, geo.GridIdx(1, 2), b.Max)

	// Tile (0, 0)..(1, 1) extents agree between the two enumerations
	// because positions are global, not query-relative.
	require.Equal(t, strategy.TileExtent(geo.GridIdx(1, 1)), strategy.TileExtent(geo.GridIdx(1, 1)))
}

func TestTileGridCanonicalOrder(t *testing.T) {
	spec := TilingSpecification{Origin: geo.NewCoordinate2D(0, 0), TileShape: geo.GridShape(2, 2)}
	strategy := spec.Strategy(geo.MustSpatialResolution(1, 1))

	// A 4x4 pixel box below-right of the origin covers four tiles.
	grid := strategy.TileGrid(geo.MustBoundingBox2D(0, -4, 4, 0))
	require.Equal(t, int64(4), grid.NumTiles())

	var positions []geo.GridIdx2D
	for i := int64(0); i < grid.NumTiles(); i++ {
		positions = append(positions, grid.PositionAt(i))
	}
	require.Equal(t, []geo.GridIdx2D{
		geo.GridIdx(0, 0), geo.GridIdx(0, 1),
		geo.GridIdx(1, 0), geo.GridIdx(1, 1),
	}, positions, "rows ascending, then columns ascending")
}

func TestTileBoundsAboveOriginAreNegative(t *testing.T) {
	spec := TilingSpecification{Origin: geo.NewCoordinate2D(0, 0), TileShape: geo.GridShape(2, 2)}
	strategy := spec.Strategy(geo.MustSpatialResolution(1, 1))

	grid := strategy.TileGrid(geo.MustBoundingBox2D(0, 0, 3, 1))
	require.Equal(t, geo.GridIdx(-1, 0), grid.Bounds().Min)
	require.Equal(t, geo.GridIdx(-1, 1), grid.Bounds().Max)
	require.Equal(t, int64(2), grid.NumTiles())
}

func TestTileExtent(t *testing.T) {
	spec := TilingSpecification{Origin: geo.NewCoordinate2D(0, 0), TileShape: geo.GridShape(2, 2)}
	strategy := spec.Strategy(geo.MustSpatialResolution(1, 1))

	require.Equal(t, geo.MustBoundingBox2D(0, -2, 2, 0), strategy.TileExtent(geo.GridIdx(0, 0)))
	require.Equal(t, geo.MustBoundingBox2D(2, 0, 4, 2), strategy.TileExtent(geo.GridIdx(-1, 1)))
}

func TestPixelCoordinate(t *testing.T) {
	spec := TilingSpecification{Origin: geo.NewCoordinate2D(0, 0), TileShape: geo.GridShape(2, 2)}
	strategy := spec.Strategy(geo.MustSpatialResolution(1, 1))

	// Center of the first pixel of tile (0, 0).
	require.Equal(t, geo.NewCoordinate2D(0.5, -0.5), strategy.PixelCoordinate(geo.GridIdx(0, 0), 0, 0))
	// Center of the last pixel of tile (-1, 0).
	require.Equal(t, geo.NewCoordinate2D(1.5, 0.5), strategy.PixelCoordinate(geo.GridIdx(-1, 0), 1, 1))
}

func TestFloorDiv(t *testing.T) {
	require.Equal(t, int64(1), floorDiv(2, 2))
	require.Equal(t, int64(0), floorDiv(1, 2))
	require.Equal(t, int64(-1), floorDiv(-1, 2))
	require.Equal(t, int64(-1), floorDiv(-2, 2))
	require.Equal(t, int64(-2), floorDiv(-3, 2))
}
