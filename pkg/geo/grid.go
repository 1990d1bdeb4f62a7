package geo

import (
	"encoding/json"
	"fmt"
)

// GridIdx2D addresses a pixel or a tile on an unbounded grid. Indices are
// signed: the grid extends in all directions from its origin. The order is
// [y, x], matching the row-major layout of raster data.
type GridIdx2D struct {
	Y int64
	X int64
}

// GridIdx returns the index [y, x].
func GridIdx(y, x int64) GridIdx2D {
	return GridIdx2D{Y: y, X: x}
}

func (g GridIdx2D) String() string {
	return fmt.Sprintf("[%d, %d]", g.Y, g.X)
}

// MarshalJSON encodes the index as the array [y, x].
func (g GridIdx2D) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{g.Y, g.X})
}

// UnmarshalJSON decodes the array form [y, x].
func (g *GridIdx2D) UnmarshalJSON(data []byte) error {
	var arr [2]int64
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	g.Y, g.X = arr[0], arr[1]
	return nil
}

// GridShape2D is the size of a bounded grid in pixels.
type GridShape2D struct {
	Height int
	Width  int
}

// GridShape returns the shape height x width.
func GridShape(height, width int) GridShape2D {
	return GridShape2D{Height: height, Width: width}
}

// NumElements returns the number of pixels in the shape.
func (s GridShape2D) NumElements() int { return s.Height * s.Width }

// LinearIndex maps the in-grid position (y, x) to a row-major offset.
func (s GridShape2D) LinearIndex(y, x int) int { return y*s.Width + x }

// Contains reports whether (y, x) lies inside the shape.
func (s GridShape2D) Contains(y, x int) bool {
	return y >= 0 && y < s.Height && x >= 0 && x < s.Width
}

func (s GridShape2D) String() string {
	return fmt.Sprintf("%dx%d", s.Height, s.Width)
}

// MarshalJSON encodes the shape as the array [height, width].
func (s GridShape2D) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{s.Height, s.Width})
}

// UnmarshalJSON decodes the array form [height, width], rejecting
// non-positive sizes.
func (s *GridShape2D) UnmarshalJSON(data []byte) error {
	var arr [2]int
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if arr[0] <= 0 || arr[1] <= 0 {
		return fmt.Errorf("grid shape must be positive, got [%d, %d]", arr[0], arr[1])
	}
	s.Height, s.Width = arr[0], arr[1]
	return nil
}

// GridBounds2D is an inclusive rectangle of grid indices.
type GridBounds2D struct {
	Min GridIdx2D
	Max GridIdx2D
}

// NumTilesY returns the number of rows covered by the bounds.
func (b GridBounds2D) NumTilesY() int64 { return b.Max.Y - b.Min.Y + 1 }

// NumTilesX returns the number of columns covered by the bounds.
func (b GridBounds2D) NumTilesX() int64 { return b.Max.X - b.Min.X + 1 }

// NumTiles returns the total number of indices covered by the bounds.
func (b GridBounds2D) NumTiles() int64 { return b.NumTilesY() * b.NumTilesX() }

// Contains reports whether idx lies within the bounds.
func (b GridBounds2D) Contains(idx GridIdx2D) bool {
	return idx.Y >= b.Min.Y && idx.Y <= b.Max.Y && idx.X >= b.Min.X && idx.X <= b.Max.X
}

func (b GridBounds2D) String() string {
	return fmt.Sprintf("%s..%s", b.Min, b.Max)
}
