// Package raster models gridded data: pixel data types, generic grids with
// an optional no-data sentinel, and tiles positioned on the engine's global
// tiling grid. Grids are strongly typed via generics; streams carry the
// type-erased GridData view so that pipelines stay monomorphic per query
// while sources choose their pixel type at runtime.
package raster

import (
	"encoding/json"
	"fmt"
	"math"
)

// DataType identifies the sample type of a grid.
type DataType string

const (
	U8  DataType = "U8"
	U16 DataType = "U16"
	I16 DataType = "I16"
	I32 DataType = "I32"
	F32 DataType = "F32"
	F64 DataType = "F64"
)

// ParseDataType parses the string form, e.g. "U8".
func ParseDataType(s string) (DataType, error) {
	d := DataType(s)
	if !d.IsValid() {
		return "", fmt.Errorf("unknown raster data type %q", s)
	}
	return d, nil
}

// IsValid reports whether d is one of the supported data types.
func (d DataType) IsValid() bool {
	switch d {
	case U8, U16, I16, I32, F32, F64:
		return true
	}
	return false
}

// IsFloat reports whether d stores floating point samples.
func (d DataType) IsFloat() bool { return d == F32 || d == F64 }

// ByteSize returns the width of one sample in bytes.
func (d DataType) ByteSize() int {
	switch d {
	case U8:
		return 1
	case U16, I16:
		return 2
	case I32, F32:
		return 4
	case F64:
		return 8
	}
	return 0
}

// ValueRange returns the representable sample range. Float types report the
// range of exactly representable integers rather than their full span, which
// is what clamping during materialization needs.
func (d DataType) ValueRange() (min, max float64) {
	switch d {
	case U8:
		return 0, math.MaxUint8
	case U16:
		return 0, math.MaxUint16
	case I16:
		return math.MinInt16, math.MaxInt16
	case I32:
		return math.MinInt32, math.MaxInt32
	case F32:
		return -math.MaxFloat32, math.MaxFloat32
	case F64:
		return -math.MaxFloat64, math.MaxFloat64
	}
	return 0, 0
}

// Contains reports whether v is representable in d without clamping.
// NaN is representable only in float types, where it doubles as no-data.
func (d DataType) Contains(v float64) bool {
	if math.IsNaN(v) {
		return d.IsFloat()
	}
	min, max := d.ValueRange()
	return v >= min && v <= max
}

func (d DataType) String() string { return string(d) }

// MarshalJSON encodes the type as its string name.
func (d DataType) MarshalJSON() ([]byte, error) {
	if !d.IsValid() {
		return nil, fmt.Errorf("cannot encode invalid raster data type %q", string(d))
	}
	return json.Marshal(string(d))
}

// UnmarshalJSON decodes and validates the string name.
func (d *DataType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDataType(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
