package engine

import (
	"fmt"

	"github.com/2younis/geoengine/pkg/geo"
)

// DefaultTileShape is the tile size used unless configured otherwise.
var DefaultTileShape = geo.GridShape(512, 512)

// TilingSpecification pins the global tile grid: a canonical origin
// coordinate that pixel (0, 0) of every resolution is anchored to, and the
// shape of all tiles. Together with a query's resolution it fully
// determines tile extents, so overlapping queries at the same resolution
// see byte-identical tiles regardless of their bounding boxes.
type TilingSpecification struct {
	Origin    geo.Coordinate2D `json:"originCoordinate"`
	TileShape geo.GridShape2D  `json:"tileSizeInPixels"`
}

// DefaultTilingSpecification anchors the grid at (0, 0) with 512x512 tiles.
func DefaultTilingSpecification() TilingSpecification {
	return TilingSpecification{Origin: geo.NewCoordinate2D(0, 0), TileShape: DefaultTileShape}
}

// Validate checks the tile shape.
func (t TilingSpecification) Validate() error {
	if t.TileShape.Height <= 0 || t.TileShape.Width <= 0 {
		return fmt.Errorf("tile shape must be positive, got %s", t.TileShape)
	}
	if !t.Origin.IsFinite() {
		return fmt.Errorf("tiling origin must be finite, got %v", t.Origin)
	}
	return nil
}

// Strategy fixes the specification to a query resolution, yielding the
// concrete global grid of that query.
func (t TilingSpecification) Strategy(resolution geo.SpatialResolution) TilingStrategy {
	return TilingStrategy{
		tileShape: t.TileShape,
		geoTransform: geo.GeoTransform{
			Origin:     t.Origin,
			PixelSizeX: resolution.X,
			PixelSizeY: -resolution.Y,
		},
	}
}

// TilingStrategy is the global grid of one query: the pixel-level geo
// transform plus the tile shape. All tile positions are indices on this
// grid.
type TilingStrategy struct {
	tileShape    geo.GridShape2D
	geoTransform geo.GeoTransform
}

// GeoTransform returns the global pixel transform shared by all tiles.
func (s TilingStrategy) GeoTransform() geo.GeoTransform { return s.geoTransform }

// TileShape returns the shape of every tile.
func (s TilingStrategy) TileShape() geo.GridShape2D { return s.tileShape }

// TileBounds returns the inclusive range of tile positions covering bbox.
func (s TilingStrategy) TileBounds(bbox geo.BoundingBox2D) geo.GridBounds2D {
	pixels := s.geoTransform.PixelBounds(bbox)
	return geo.GridBounds2D{
		Min: geo.GridIdx2D{
			Y: floorDiv(pixels.Min.Y, int64(s.tileShape.Height)),
			X: floorDiv(pixels.Min.X, int64(s.tileShape.Width)),
		},
		Max: geo.GridIdx2D{
			Y: floorDiv(pixels.Max.Y, int64(s.tileShape.Height)),
			X: floorDiv(pixels.Max.X, int64(s.tileShape.Width)),
		},
	}
}

// TileGrid returns the canonical enumeration of the tiles covering bbox.
func (s TilingStrategy) TileGrid(bbox geo.BoundingBox2D) TileGrid {
	return TileGrid{bounds: s.TileBounds(bbox)}
}

// TileExtent returns the coordinate extent of the tile at position.
func (s TilingStrategy) TileExtent(position geo.GridIdx2D) geo.BoundingBox2D {
	ul := s.geoTransform.PixelToCoordinate(geo.GridIdx2D{
		Y: position.Y * int64(s.tileShape.Height),
		X: position.X * int64(s.tileShape.Width),
	})
	lr := geo.NewCoordinate2D(
		ul.X+float64(s.tileShape.Width)*s.geoTransform.PixelSizeX,
		ul.Y+float64(s.tileShape.Height)*s.geoTransform.PixelSizeY,
	)
	bbox, err := geo.NewBoundingBox2D(geo.NewCoordinate2D(ul.X, lr.Y), geo.NewCoordinate2D(lr.X, ul.Y))
	if err != nil {
		// Unreachable with a sign-checked transform.
		panic(err)
	}
	return bbox
}

// PixelCoordinate returns the coordinate of a pixel's center, addressed by
// tile position and the in-tile pixel offset.
func (s TilingStrategy) PixelCoordinate(position geo.GridIdx2D, y, x int) geo.Coordinate2D {
	return s.geoTransform.PixelCenterToCoordinate(geo.GridIdx2D{
		Y: position.Y*int64(s.tileShape.Height) + int64(y),
		X: position.X*int64(s.tileShape.Width) + int64(x),
	})
}

// TileGrid enumerates tile positions in canonical order: rows ascending,
// then columns ascending. The enumeration is pure arithmetic; nothing is
// materialized, so grids of any size are cheap.
type TileGrid struct {
	bounds geo.GridBounds2D
}

// Bounds returns the inclusive tile-position bounds.
func (g TileGrid) Bounds() geo.GridBounds2D { return g.bounds }

// NumTiles returns the number of positions in the enumeration.
func (g TileGrid) NumTiles() int64 { return g.bounds.NumTiles() }

// PositionAt maps a sequence number [0, NumTiles) to its tile position.
func (g TileGrid) PositionAt(i int64) geo.GridIdx2D {
	perRow := g.bounds.NumTilesX()
	return geo.GridIdx2D{
		Y: g.bounds.Min.Y + i/perRow,
		X: g.bounds.Min.X + i%perRow,
	}
}

// floorDiv divides rounding towards negative infinity, keeping tile
// indices correct on both sides of the origin.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
