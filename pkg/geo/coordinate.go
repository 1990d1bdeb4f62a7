// Package geo holds the spatial and temporal primitives shared by all engine
// components: coordinates, bounding boxes, resolutions, time intervals,
// spatial reference identifiers and the grid arithmetic used for tiling.
//
// All types are immutable values. Constructors validate their arguments and
// the JSON codecs reject documents that would violate an invariant, so a
// value that exists is a value that is well formed.
package geo

import "math"

// Coordinate2D is a position in the plane of some spatial reference system.
// The axis order is always (X, Y) regardless of the authority's convention.
type Coordinate2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewCoordinate2D returns the coordinate (x, y).
func NewCoordinate2D(x, y float64) Coordinate2D {
	return Coordinate2D{X: x, Y: y}
}

// MinElements returns the element-wise minimum of c and other.
func (c Coordinate2D) MinElements(other Coordinate2D) Coordinate2D {
	return Coordinate2D{
		X: math.Min(c.X, other.X),
		Y: math.Min(c.Y, other.Y),
	}
}

// MaxElements returns the element-wise maximum of c and other.
func (c Coordinate2D) MaxElements(other Coordinate2D) Coordinate2D {
	return Coordinate2D{
		X: math.Max(c.X, other.X),
		Y: math.Max(c.Y, other.Y),
	}
}

// IsFinite reports whether both components are finite numbers.
func (c Coordinate2D) IsFinite() bool {
	return !math.IsNaN(c.X) && !math.IsInf(c.X, 0) &&
		!math.IsNaN(c.Y) && !math.IsInf(c.Y, 0)
}
