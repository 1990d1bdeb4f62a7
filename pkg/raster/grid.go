package raster

import (
	"fmt"
	"math"

	"github.com/2younis/geoengine/pkg/geo"
)

// GridData is the type-erased view of a grid that tiles and streams carry.
// Samples are observed as float64 plus a validity flag, which is lossless
// for every supported pixel type. Implementations are immutable once built.
type GridData interface {
	// DataType returns the underlying sample type.
	DataType() DataType

	// Shape returns the grid extent in pixels.
	Shape() geo.GridShape2D

	// Len returns the number of samples, Shape().NumElements().
	Len() int

	// SampleFloat returns the sample at the row-major offset i and whether
	// it holds data. No-data samples report ok == false with value NaN.
	SampleFloat(i int) (value float64, ok bool)

	// NoDataValue returns the no-data sentinel as a float64, if one is set.
	NoDataValue() (float64, bool)

	// EqualTo reports whether the other grid has the same shape, data type
	// and samples. No-data samples compare equal regardless of sentinel.
	EqualTo(other GridData) bool
}

// Grid is a dense row-major 2D array of pixels with an optional no-data
// sentinel. For float pixel types NaN always counts as no-data, with or
// without a sentinel. The grid owns its data slice outright; callers must
// not retain the slice passed to a constructor.
type Grid[P Pixel] struct {
	shape     geo.GridShape2D
	data      []P
	noData    P
	hasNoData bool
}

// NewGrid builds a grid over data, which must have exactly
// shape.NumElements() samples. A nil noData means the grid has no sentinel.
func NewGrid[P Pixel](shape geo.GridShape2D, data []P, noData *P) (*Grid[P], error) {
	if shape.Height <= 0 || shape.Width <= 0 {
		return nil, fmt.Errorf("grid shape must be positive, got %s", shape)
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("grid data length %d does not match shape %s (%d elements)",
			len(data), shape, shape.NumElements())
	}
	g := &Grid[P]{shape: shape, data: data}
	if noData != nil {
		g.noData = *noData
		g.hasNoData = true
	}
	return g, nil
}

// NewFilledGrid builds a grid with every sample set to value.
func NewFilledGrid[P Pixel](shape geo.GridShape2D, value P, noData *P) (*Grid[P], error) {
	data := make([]P, shape.NumElements())
	for i := range data {
		data[i] = value
	}
	return NewGrid(shape, data, noData)
}

// NewNoDataGrid builds a grid holding only no-data.
func NewNoDataGrid[P Pixel](shape geo.GridShape2D, noData P) (*Grid[P], error) {
	return NewFilledGrid(shape, noData, &noData)
}

// DataType implements GridData.
func (g *Grid[P]) DataType() DataType { return DataTypeOf[P]() }

// Shape implements GridData.
func (g *Grid[P]) Shape() geo.GridShape2D { return g.shape }

// Len implements GridData.
func (g *Grid[P]) Len() int { return len(g.data) }

// Data returns the grid's backing slice. It must be treated as read-only.
func (g *Grid[P]) Data() []P { return g.data }

// NoData returns the no-data sentinel, if set.
func (g *Grid[P]) NoData() (P, bool) { return g.noData, g.hasNoData }

// NoDataValue implements GridData.
func (g *Grid[P]) NoDataValue() (float64, bool) {
	if !g.hasNoData {
		return 0, false
	}
	return float64(g.noData), true
}

// At returns the sample at (y, x) within the grid.
func (g *Grid[P]) At(y, x int) P { return g.data[g.shape.LinearIndex(y, x)] }

// IsNoData reports whether v is the no-data sentinel (or NaN for floats).
func (g *Grid[P]) IsNoData(v P) bool {
	if math.IsNaN(float64(v)) {
		return true
	}
	if !g.hasNoData {
		return false
	}
	if math.IsNaN(float64(g.noData)) {
		// Only NaN matches a NaN sentinel, handled above.
		return false
	}
	return v == g.noData
}

// SampleFloat implements GridData.
func (g *Grid[P]) SampleFloat(i int) (float64, bool) {
	v := g.data[i]
	if g.IsNoData(v) {
		return math.NaN(), false
	}
	return float64(v), true
}

// EqualTo implements GridData.
func (g *Grid[P]) EqualTo(other GridData) bool {
	return gridDataEqual(g, other)
}

func gridDataEqual(a, b GridData) bool {
	if a.DataType() != b.DataType() || a.Shape() != b.Shape() {
		return false
	}
	for i := 0; i < a.Len(); i++ {
		av, aok := a.SampleFloat(i)
		bv, bok := b.SampleFloat(i)
		if aok != bok {
			return false
		}
		if aok && av != bv {
			return false
		}
	}
	return true
}

// MaterializeGrid builds a typed grid of the given data type from float64
// samples and their validity. Valid samples are clamped to the target range
// and rounded for integral types. Invalid samples become the no-data
// sentinel; noData must be NaN (float types only) or representable in the
// target type.
func MaterializeGrid(dataType DataType, shape geo.GridShape2D, samples []float64, valid []bool, noData float64) (GridData, error) {
	if len(samples) != shape.NumElements() || len(valid) != len(samples) {
		return nil, fmt.Errorf("materialize: %d samples / %d validity flags do not match shape %s",
			len(samples), len(valid), shape)
	}
	if !dataType.Contains(noData) {
		return nil, fmt.Errorf("materialize: no-data value %g is not representable as %s", noData, dataType)
	}
	switch dataType {
	case U8:
		return materializeInto[uint8](shape, samples, valid, noData)
	case U16:
		return materializeInto[uint16](shape, samples, valid, noData)
	case I16:
		return materializeInto[int16](shape, samples, valid, noData)
	case I32:
		return materializeInto[int32](shape, samples, valid, noData)
	case F32:
		return materializeInto[float32](shape, samples, valid, noData)
	case F64:
		return materializeInto[float64](shape, samples, valid, noData)
	default:
		return nil, fmt.Errorf("materialize: unknown data type %q", dataType)
	}
}

// MaterializeDenseGrid builds a typed grid without a no-data sentinel from
// samples that are all valid. NaN samples are rejected for integral types.
func MaterializeDenseGrid(dataType DataType, shape geo.GridShape2D, samples []float64) (GridData, error) {
	if len(samples) != shape.NumElements() {
		return nil, fmt.Errorf("materialize: %d samples do not match shape %s", len(samples), shape)
	}
	if !dataType.IsFloat() {
		for i, v := range samples {
			if math.IsNaN(v) {
				return nil, fmt.Errorf("materialize: NaN sample %d is not representable as %s", i, dataType)
			}
		}
	}
	switch dataType {
	case U8:
		return denseInto[uint8](shape, samples)
	case U16:
		return denseInto[uint16](shape, samples)
	case I16:
		return denseInto[int16](shape, samples)
	case I32:
		return denseInto[int32](shape, samples)
	case F32:
		return denseInto[float32](shape, samples)
	case F64:
		return denseInto[float64](shape, samples)
	default:
		return nil, fmt.Errorf("materialize: unknown data type %q", dataType)
	}
}

func denseInto[P Pixel](shape geo.GridShape2D, samples []float64) (*Grid[P], error) {
	data := make([]P, len(samples))
	for i, v := range samples {
		data[i] = castSample[P](v)
	}
	return NewGrid(shape, data, nil)
}

func materializeInto[P Pixel](shape geo.GridShape2D, samples []float64, valid []bool, noData float64) (*Grid[P], error) {
	sentinel := castSample[P](noData)
	data := make([]P, len(samples))
	for i, v := range samples {
		// NaN samples are no-data regardless of the validity flag, so
		// integral grids never see an unrepresentable value.
		if !valid[i] || math.IsNaN(v) {
			data[i] = sentinel
			continue
		}
		data[i] = castSample[P](v)
	}
	return NewGrid(shape, data, &sentinel)
}

// castSample converts a float64 sample to the pixel type, clamping to the
// representable range and rounding for integral types.
func castSample[P Pixel](v float64) P {
	dataType := DataTypeOf[P]()
	if math.IsNaN(v) {
		// Only reachable for float types, where NaN is the sentinel.
		return P(math.NaN())
	}
	if !dataType.IsFloat() {
		v = math.Round(v)
	}
	min, max := dataType.ValueRange()
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return P(v)
}
