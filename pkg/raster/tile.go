package raster

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/2younis/geoengine/pkg/geo"
)

// Tile is one unit of a streamed raster result: a grid positioned on the
// global tiling grid, valid for a time interval. Position is the tile index
// on that grid and GeoTransform is the transform of the whole tiling (its
// origin is the tiling origin, not the tile corner), so a tile's extent is
// fully determined by Position, Grid shape and GeoTransform. Tiles own
// their grids; no two tiles share a buffer.
type Tile struct {
	Position     geo.GridIdx2D
	Time         geo.TimeInterval
	GeoTransform geo.GeoTransform
	Grid         GridData
}

// NewTile assembles a tile.
func NewTile(position geo.GridIdx2D, time geo.TimeInterval, transform geo.GeoTransform, grid GridData) Tile {
	return Tile{Position: position, Time: time, GeoTransform: transform, Grid: grid}
}

// DataType returns the sample type of the tile's grid.
func (t Tile) DataType() DataType { return t.Grid.DataType() }

// PixelUpperLeft returns the global pixel index of the tile's upper-left
// pixel.
func (t Tile) PixelUpperLeft() geo.GridIdx2D {
	shape := t.Grid.Shape()
	return geo.GridIdx2D{
		Y: t.Position.Y * int64(shape.Height),
		X: t.Position.X * int64(shape.Width),
	}
}

// TileGeoTransform returns a transform whose origin is the tile's own
// upper-left corner, for in-tile pixel addressing.
func (t Tile) TileGeoTransform() geo.GeoTransform {
	ul := t.GeoTransform.PixelToCoordinate(t.PixelUpperLeft())
	return geo.GeoTransform{
		Origin:     ul,
		PixelSizeX: t.GeoTransform.PixelSizeX,
		PixelSizeY: t.GeoTransform.PixelSizeY,
	}
}

// SpatialExtent returns the coordinate extent covered by the tile.
func (t Tile) SpatialExtent() geo.BoundingBox2D {
	shape := t.Grid.Shape()
	ul := t.GeoTransform.PixelToCoordinate(t.PixelUpperLeft())
	lr := geo.NewCoordinate2D(
		ul.X+float64(shape.Width)*t.GeoTransform.PixelSizeX,
		ul.Y+float64(shape.Height)*t.GeoTransform.PixelSizeY,
	)
	box, err := geo.NewBoundingBox2D(geo.NewCoordinate2D(ul.X, lr.Y), geo.NewCoordinate2D(lr.X, ul.Y))
	if err != nil {
		// Unreachable with a sign-checked geo transform.
		panic(err)
	}
	return box
}

// SampleAtCoordinate returns the sample covering the coordinate, or
// ok == false when the coordinate is outside the tile or the pixel holds
// no-data.
func (t Tile) SampleAtCoordinate(c geo.Coordinate2D) (float64, bool) {
	local := t.TileGeoTransform().CoordinateToPixelFloor(c)
	shape := t.Grid.Shape()
	if !shape.Contains(int(local.Y), int(local.X)) {
		return math.NaN(), false
	}
	return t.Grid.SampleFloat(shape.LinearIndex(int(local.Y), int(local.X)))
}

// ByteSize estimates the in-memory size of the tile's samples.
func (t Tile) ByteSize() int {
	return t.Grid.Len() * t.DataType().ByteSize()
}

// EqualTo reports whether two tiles agree on position, time, transform and
// samples.
func (t Tile) EqualTo(other Tile) bool {
	return t.Position == other.Position &&
		t.Time == other.Time &&
		t.GeoTransform == other.GeoTransform &&
		t.Grid.EqualTo(other.Grid)
}

func (t Tile) String() string {
	return fmt.Sprintf("tile %s %s %s %s", t.Position, t.Grid.Shape(), t.DataType(), t.Time)
}

// tileJSON is the self-describing wire form of a tile. No-data samples are
// encoded as JSON null, which keeps NaN sentinels representable.
type tileJSON struct {
	Position     geo.GridIdx2D    `json:"position"`
	Time         geo.TimeInterval `json:"time"`
	GeoTransform geo.GeoTransform `json:"geoTransform"`
	Shape        geo.GridShape2D  `json:"shape"`
	DataType     DataType         `json:"dataType"`
	NoDataValue  *float64         `json:"noDataValue"`
	Data         []*float64       `json:"data"`
}

// MarshalJSON encodes the tile in its self-describing wire form.
func (t Tile) MarshalJSON() ([]byte, error) {
	if t.Grid == nil {
		return nil, fmt.Errorf("cannot encode a tile without a grid")
	}
	data := make([]*float64, t.Grid.Len())
	for i := range data {
		if v, ok := t.Grid.SampleFloat(i); ok {
			value := v
			data[i] = &value
		}
	}
	var noData *float64
	if v, ok := t.Grid.NoDataValue(); ok && !math.IsNaN(v) {
		noData = &v
	}
	return json.Marshal(tileJSON{
		Position:     t.Position,
		Time:         t.Time,
		GeoTransform: t.GeoTransform,
		Shape:        t.Grid.Shape(),
		DataType:     t.Grid.DataType(),
		NoDataValue:  noData,
		Data:         data,
	})
}

// UnmarshalJSON decodes the wire form, materializing a typed grid. For
// integral data types without an explicit no-data value, null samples are
// rejected since no sentinel could represent them.
func (t *Tile) UnmarshalJSON(raw []byte) error {
	var w tileJSON
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	if len(w.Data) != w.Shape.NumElements() {
		return fmt.Errorf("tile data length %d does not match shape %s", len(w.Data), w.Shape)
	}

	samples := make([]float64, len(w.Data))
	valid := make([]bool, len(w.Data))
	dense := true
	for i, v := range w.Data {
		if v != nil {
			samples[i] = *v
			valid[i] = true
		} else {
			samples[i] = math.NaN()
			dense = false
		}
	}

	var grid GridData
	var err error
	switch {
	case w.NoDataValue != nil:
		grid, err = MaterializeGrid(w.DataType, w.Shape, samples, valid, *w.NoDataValue)
	case w.DataType.IsFloat():
		grid, err = MaterializeGrid(w.DataType, w.Shape, samples, valid, math.NaN())
	case dense:
		grid, err = MaterializeDenseGrid(w.DataType, w.Shape, samples)
	default:
		return fmt.Errorf("tile of type %s has null samples but no no-data value", w.DataType)
	}
	if err != nil {
		return err
	}
	*t = Tile{
		Position:     w.Position,
		Time:         w.Time,
		GeoTransform: w.GeoTransform,
		Grid:         grid,
	}
	return nil
}
