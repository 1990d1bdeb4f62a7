package engine

import (
	"encoding/json"

	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/raster"
)

// Measurement describes what raster samples mean, e.g. temperature in °C.
// The zero value is an unitless measurement.
type Measurement struct {
	Name string `json:"name,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// IsUnitless reports whether the measurement carries no semantics.
func (m Measurement) IsUnitless() bool { return m == Measurement{} }

// RasterResultDescriptor describes a raster stream without computing it:
// the sample type, reference system and measurement of every tile, plus the
// known data bounds when the source can state them. Descriptors are fixed
// at initialization.
type RasterResultDescriptor struct {
	DataType    raster.DataType      `json:"dataType"`
	SRS         geo.SpatialReference `json:"spatialReference"`
	Measurement Measurement          `json:"measurement"`

	// Bounds and Time are the known data extent, nil when unknown.
	Bounds *geo.BoundingBox2D `json:"bounds,omitempty"`
	Time   *geo.TimeInterval  `json:"time,omitempty"`
}

// VectorResultDescriptor describes a vector stream: geometry kind,
// reference system and the attribute schema of every chunk.
type VectorResultDescriptor struct {
	DataType features.VectorDataType        `json:"dataType"`
	SRS      geo.SpatialReference           `json:"spatialReference"`
	Columns  map[string]features.ColumnType `json:"columns"`
}

// PlotResultDescriptor describes a plot result. Plots are one-shot JSON
// documents, so there is nothing to promise beyond their existence.
type PlotResultDescriptor struct{}

// PlotData is the result of a plot query: a plot kind discriminator and the
// kind-specific payload.
type PlotData struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}
