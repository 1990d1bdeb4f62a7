package geo

import (
	"encoding/json"
	"fmt"
)

// BoundingBox2D is an axis-aligned rectangle given by its lower-left and
// upper-right corners. Corners are inclusive. The invariant ll <= ur holds
// per axis for every value produced by this package.
type BoundingBox2D struct {
	lowerLeft  Coordinate2D
	upperRight Coordinate2D
}

type boundingBoxJSON struct {
	LowerLeftCoordinate  Coordinate2D `json:"lowerLeftCoordinate"`
	UpperRightCoordinate Coordinate2D `json:"upperRightCoordinate"`
}

// NewBoundingBox2D returns the box spanned by ll and ur. It fails if either
// coordinate is not finite or if ll exceeds ur on any axis.
func NewBoundingBox2D(ll, ur Coordinate2D) (BoundingBox2D, error) {
	if !ll.IsFinite() || !ur.IsFinite() {
		return BoundingBox2D{}, fmt.Errorf("bounding box corners must be finite, got ll=%v ur=%v", ll, ur)
	}
	if ll.X > ur.X || ll.Y > ur.Y {
		return BoundingBox2D{}, fmt.Errorf("bounding box lower left %v must not exceed upper right %v", ll, ur)
	}
	return BoundingBox2D{lowerLeft: ll, upperRight: ur}, nil
}

// MustBoundingBox2D is NewBoundingBox2D that panics on error, for statically
// known boxes in tests and defaults.
func MustBoundingBox2D(llx, lly, urx, ury float64) BoundingBox2D {
	b, err := NewBoundingBox2D(NewCoordinate2D(llx, lly), NewCoordinate2D(urx, ury))
	if err != nil {
		panic(err)
	}
	return b
}

// BoundingBoxFromCoordinates returns the smallest box containing all
// coordinates. It fails on an empty slice.
func BoundingBoxFromCoordinates(coords []Coordinate2D) (BoundingBox2D, error) {
	if len(coords) == 0 {
		return BoundingBox2D{}, fmt.Errorf("cannot derive a bounding box from zero coordinates")
	}
	ll, ur := coords[0], coords[0]
	for _, c := range coords[1:] {
		ll = ll.MinElements(c)
		ur = ur.MaxElements(c)
	}
	return NewBoundingBox2D(ll, ur)
}

// LowerLeft returns the minimum corner.
func (b BoundingBox2D) LowerLeft() Coordinate2D { return b.lowerLeft }

// UpperRight returns the maximum corner.
func (b BoundingBox2D) UpperRight() Coordinate2D { return b.upperRight }

// UpperLeft returns the (min x, max y) corner.
func (b BoundingBox2D) UpperLeft() Coordinate2D {
	return Coordinate2D{X: b.lowerLeft.X, Y: b.upperRight.Y}
}

// LowerRight returns the (max x, min y) corner.
func (b BoundingBox2D) LowerRight() Coordinate2D {
	return Coordinate2D{X: b.upperRight.X, Y: b.lowerLeft.Y}
}

// Width returns the extent along the x axis.
func (b BoundingBox2D) Width() float64 { return b.upperRight.X - b.lowerLeft.X }

// Height returns the extent along the y axis.
func (b BoundingBox2D) Height() float64 { return b.upperRight.Y - b.lowerLeft.Y }

// Contains reports whether c lies inside the box, corners inclusive.
func (b BoundingBox2D) Contains(c Coordinate2D) bool {
	return c.X >= b.lowerLeft.X && c.X <= b.upperRight.X &&
		c.Y >= b.lowerLeft.Y && c.Y <= b.upperRight.Y
}

// Intersects reports whether the two boxes share at least one point.
func (b BoundingBox2D) Intersects(other BoundingBox2D) bool {
	return b.lowerLeft.X <= other.upperRight.X && other.lowerLeft.X <= b.upperRight.X &&
		b.lowerLeft.Y <= other.upperRight.Y && other.lowerLeft.Y <= b.upperRight.Y
}

// Intersection returns the overlap of the two boxes, if any.
func (b BoundingBox2D) Intersection(other BoundingBox2D) (BoundingBox2D, bool) {
	if !b.Intersects(other) {
		return BoundingBox2D{}, false
	}
	ll := b.lowerLeft.MaxElements(other.lowerLeft)
	ur := b.upperRight.MinElements(other.upperRight)
	return BoundingBox2D{lowerLeft: ll, upperRight: ur}, true
}

// Union returns the smallest box containing both inputs.
func (b BoundingBox2D) Union(other BoundingBox2D) BoundingBox2D {
	return BoundingBox2D{
		lowerLeft:  b.lowerLeft.MinElements(other.lowerLeft),
		upperRight: b.upperRight.MaxElements(other.upperRight),
	}
}

func (b BoundingBox2D) String() string {
	return fmt.Sprintf("[%g, %g, %g, %g]", b.lowerLeft.X, b.lowerLeft.Y, b.upperRight.X, b.upperRight.Y)
}

// MarshalJSON encodes the box as its two corner coordinates.
func (b BoundingBox2D) MarshalJSON() ([]byte, error) {
	return json.Marshal(boundingBoxJSON{
		LowerLeftCoordinate:  b.lowerLeft,
		UpperRightCoordinate: b.upperRight,
	})
}

// UnmarshalJSON decodes and validates a box, rejecting inverted corners.
func (b *BoundingBox2D) UnmarshalJSON(data []byte) error {
	var raw boundingBoxJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	box, err := NewBoundingBox2D(raw.LowerLeftCoordinate, raw.UpperRightCoordinate)
	if err != nil {
		return err
	}
	*b = box
	return nil
}
