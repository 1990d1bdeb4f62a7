package geo

import (
	"fmt"
	"math"
)

// GeoTransform maps between grid pixel positions and coordinates. Origin is
// the coordinate of the upper-left corner of pixel (0, 0). PixelSizeX is
// positive (x grows with columns) and PixelSizeY is negative (y shrinks with
// rows), the north-up convention of raster data.
type GeoTransform struct {
	Origin     Coordinate2D `json:"originCoordinate"`
	PixelSizeX float64      `json:"xPixelSize"`
	PixelSizeY float64      `json:"yPixelSize"`
}

// NewGeoTransform returns a transform with the given origin and pixel sizes,
// enforcing the sign convention.
func NewGeoTransform(origin Coordinate2D, pixelSizeX, pixelSizeY float64) (GeoTransform, error) {
	if !(pixelSizeX > 0) {
		return GeoTransform{}, fmt.Errorf("x pixel size must be positive, got %g", pixelSizeX)
	}
	if !(pixelSizeY < 0) {
		return GeoTransform{}, fmt.Errorf("y pixel size must be negative, got %g", pixelSizeY)
	}
	return GeoTransform{Origin: origin, PixelSizeX: pixelSizeX, PixelSizeY: pixelSizeY}, nil
}

// MustGeoTransform is NewGeoTransform that panics on error.
func MustGeoTransform(originX, originY, pixelSizeX, pixelSizeY float64) GeoTransform {
	g, err := NewGeoTransform(NewCoordinate2D(originX, originY), pixelSizeX, pixelSizeY)
	if err != nil {
		panic(err)
	}
	return g
}

// SpatialResolution returns the absolute pixel sizes.
func (g GeoTransform) SpatialResolution() SpatialResolution {
	return SpatialResolution{X: g.PixelSizeX, Y: math.Abs(g.PixelSizeY)}
}

// CoordinateToPixelFloor returns the grid index of the pixel containing c.
// A coordinate exactly on a pixel edge belongs to the pixel below/right of
// the edge, consistent with the upper-left anchoring of pixels.
func (g GeoTransform) CoordinateToPixelFloor(c Coordinate2D) GridIdx2D {
	return GridIdx2D{
		Y: int64(math.Floor((c.Y - g.Origin.Y) / g.PixelSizeY)),
		X: int64(math.Floor((c.X - g.Origin.X) / g.PixelSizeX)),
	}
}

// PixelToCoordinate returns the coordinate of the upper-left corner of the
// pixel at idx.
func (g GeoTransform) PixelToCoordinate(idx GridIdx2D) Coordinate2D {
	return Coordinate2D{
		X: g.Origin.X + float64(idx.X)*g.PixelSizeX,
		Y: g.Origin.Y + float64(idx.Y)*g.PixelSizeY,
	}
}

// PixelCenterToCoordinate returns the coordinate of the center of the pixel
// at idx, the sampling point for per-pixel coordinate lookups.
func (g GeoTransform) PixelCenterToCoordinate(idx GridIdx2D) Coordinate2D {
	ul := g.PixelToCoordinate(idx)
	return Coordinate2D{
		X: ul.X + g.PixelSizeX/2,
		Y: ul.Y + g.PixelSizeY/2,
	}
}

// PixelBounds returns the extent, in global pixel indices of this transform,
// covered by bbox. The upper-left corner of the box maps to Min. Edges
// shared with the lower/right neighbors are not included, so adjacent boxes
// yield disjoint pixel ranges.
func (g GeoTransform) PixelBounds(bbox BoundingBox2D) GridBounds2D {
	const eps = 1e-9

	min := g.CoordinateToPixelFloor(bbox.UpperLeft())
	// Nudge the far corner inwards so that a box edge landing exactly on a
	// pixel boundary does not claim the neighboring pixel.
	lr := bbox.LowerRight()
	maxY := int64(math.Floor((lr.Y-g.Origin.Y)/g.PixelSizeY - eps))
	maxX := int64(math.Floor((lr.X-g.Origin.X)/g.PixelSizeX - eps))
	if maxY < min.Y {
		maxY = min.Y
	}
	if maxX < min.X {
		maxX = min.X
	}
	return GridBounds2D{Min: min, Max: GridIdx2D{Y: maxY, X: maxX}}
}
