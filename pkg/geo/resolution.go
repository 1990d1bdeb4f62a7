package geo

import (
	"encoding/json"
	"fmt"
	"math"
)

// SpatialResolution is the size of one pixel in coordinate units. Both
// components are strictly positive; the sign convention of a raster's y axis
// lives in GeoTransform, not here.
type SpatialResolution struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewSpatialResolution returns the resolution (x, y), failing unless both
// components are finite and strictly positive.
func NewSpatialResolution(x, y float64) (SpatialResolution, error) {
	if !(x > 0) || math.IsInf(x, 0) || !(y > 0) || math.IsInf(y, 0) {
		return SpatialResolution{}, fmt.Errorf("spatial resolution must be finite and positive, got (%g, %g)", x, y)
	}
	return SpatialResolution{X: x, Y: y}, nil
}

// MustSpatialResolution is NewSpatialResolution that panics on error.
func MustSpatialResolution(x, y float64) SpatialResolution {
	r, err := NewSpatialResolution(x, y)
	if err != nil {
		panic(err)
	}
	return r
}

func (r SpatialResolution) String() string {
	return fmt.Sprintf("%gx%g", r.X, r.Y)
}

// UnmarshalJSON decodes and validates a resolution.
func (r *SpatialResolution) UnmarshalJSON(data []byte) error {
	type raw SpatialResolution
	var v raw
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	res, err := NewSpatialResolution(v.X, v.Y)
	if err != nil {
		return err
	}
	*r = res
	return nil
}
