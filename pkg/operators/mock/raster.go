// Package mock provides in-memory source operators: a raster source that
// serves constant-valued time slices and a vector source that serves a fixed
// feature list. Both answer queries exactly like real sources, canonical
// tile enumeration and time filtering included, which makes them the
// workhorses of operator and engine tests and of small standalone workflows.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/raster"
)

// RasterSourceTag is the registry type tag of the mock raster source.
const RasterSourceTag = "MockRasterSource"

// RasterSlice is one stored time slice of the mock raster: every pixel of
// the slice holds Value, or no-data when Value is nil.
type RasterSlice struct {
	Time  geo.TimeInterval `json:"time"`
	Value *float64         `json:"value"`
}

// RasterSourceParams configure a mock raster source.
type RasterSourceParams struct {
	DataType    raster.DataType      `json:"dataType"`
	SRS         geo.SpatialReference `json:"spatialReference"`
	Measurement engine.Measurement   `json:"measurement"`
	NoData      *float64             `json:"noDataValue,omitempty"`
	Slices      []RasterSlice        `json:"slices"`
}

// Validate checks the parameters without an execution context.
func (p *RasterSourceParams) Validate() error {
	if !p.DataType.IsValid() {
		return fmt.Errorf("unknown raster data type %q", p.DataType)
	}
	if p.SRS.IsZero() {
		return fmt.Errorf("spatial reference is required")
	}
	if p.NoData != nil && !p.DataType.Contains(*p.NoData) {
		return fmt.Errorf("no-data value %g is not representable as %s", *p.NoData, p.DataType)
	}
	for i, slice := range p.Slices {
		if slice.Value != nil && !p.DataType.Contains(*slice.Value) {
			return fmt.Errorf("slice %d value %g is not representable as %s", i, *slice.Value, p.DataType)
		}
		if slice.Value == nil && p.NoData == nil && !p.DataType.IsFloat() {
			return fmt.Errorf("slice %d holds no-data but type %s has no no-data value", i, p.DataType)
		}
		if i > 0 && slice.Time.Start < p.Slices[i-1].Time.Start {
			return fmt.Errorf("slice %d breaks ascending time order", i)
		}
	}
	return nil
}

// RasterSource serves the configured slices as dense constant tiles on the
// global grid.
type RasterSource struct {
	params RasterSourceParams
}

// NewRasterSource validates the parameters and builds the operator.
func NewRasterSource(params RasterSourceParams) (*RasterSource, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &RasterSource{params: params}, nil
}

// BuildRasterSource is the registry build function for MockRasterSource.
func BuildRasterSource(params json.RawMessage, sources []engine.Operator) (engine.Operator, error) {
	if len(sources) != 0 {
		return engine.Operator{}, fmt.Errorf("%s takes no sources, got %d", RasterSourceTag, len(sources))
	}
	var p RasterSourceParams
	if err := engine.DecodeParams(params, &p); err != nil {
		return engine.Operator{}, err
	}
	op, err := NewRasterSource(p)
	if err != nil {
		return engine.Operator{}, err
	}
	return engine.NewRasterNode(op), nil
}

// Name implements engine.RasterOperator.
func (s *RasterSource) Name() string { return RasterSourceTag }

// InitializeRaster implements engine.RasterOperator.
func (s *RasterSource) InitializeRaster(_ context.Context, ectx *engine.ExecutionContext) (engine.InitializedRasterOperator, error) {
	descriptor := engine.RasterResultDescriptor{
		DataType:    s.params.DataType,
		SRS:         s.params.SRS,
		Measurement: s.params.Measurement,
	}
	if len(s.params.Slices) > 0 {
		span := s.params.Slices[0].Time
		for _, slice := range s.params.Slices[1:] {
			span = span.Union(slice.Time)
		}
		descriptor.Time = &span
	}
	return &initializedRasterSource{
		descriptor: descriptor,
		params:     s.params,
		tiling:     ectx.Tiling(),
	}, nil
}

type initializedRasterSource struct {
	descriptor engine.RasterResultDescriptor
	params     RasterSourceParams
	tiling     engine.TilingSpecification
}

func (s *initializedRasterSource) ResultDescriptor() engine.RasterResultDescriptor {
	return s.descriptor
}

func (s *initializedRasterSource) QueryProcessor() (engine.RasterQueryProcessor, error) {
	return &rasterSourceProcessor{params: s.params, tiling: s.tiling}, nil
}

type rasterSourceProcessor struct {
	params RasterSourceParams
	tiling engine.TilingSpecification
}

// RasterQuery implements engine.RasterQueryProcessor. Tiles keep their
// slice's native validity; consumers clip or re-stamp as needed.
func (p *rasterSourceProcessor) RasterQuery(_ context.Context, rect geo.QueryRectangle, _ *engine.QueryContext) (engine.TileIterator, error) {
	var slices []RasterSlice
	for _, slice := range p.params.Slices {
		if slice.Time.Intersects(rect.Time()) {
			slices = append(slices, slice)
		}
	}
	if len(slices) == 0 {
		return engine.NewEmptyIterator[raster.Tile](), nil
	}
	strategy := p.tiling.Strategy(rect.Resolution())
	return &rasterSourceStream{
		params:   p.params,
		strategy: strategy,
		grid:     strategy.TileGrid(rect.BBox()),
		slices:   slices,
	}, nil
}

// rasterSourceStream walks (slice, position) pairs in canonical order and
// fabricates one constant tile per pair.
type rasterSourceStream struct {
	params   RasterSourceParams
	strategy engine.TilingStrategy
	grid     engine.TileGrid
	slices   []RasterSlice

	sliceIdx int
	tileIdx  int64
	failed   error
}

func (s *rasterSourceStream) Next(ctx context.Context) (raster.Tile, error) {
	if s.failed != nil {
		return raster.Tile{}, s.failed
	}
	if err := ctx.Err(); err != nil {
		return raster.Tile{}, err
	}
	if s.sliceIdx >= len(s.slices) {
		s.failed = engine.ErrIteratorDone
		return raster.Tile{}, s.failed
	}

	slice := s.slices[s.sliceIdx]
	position := s.grid.PositionAt(s.tileIdx)

	grid, err := s.constantGrid(slice.Value)
	if err != nil {
		s.failed = engine.NewTileComputationError(RasterSourceTag, position, slice.Time, err)
		return raster.Tile{}, s.failed
	}

	s.tileIdx++
	if s.tileIdx >= s.grid.NumTiles() {
		s.tileIdx = 0
		s.sliceIdx++
	}
	return raster.NewTile(position, slice.Time, s.strategy.GeoTransform(), grid), nil
}

func (s *rasterSourceStream) Stop() {
	if s.failed == nil {
		s.failed = engine.ErrIteratorDone
	}
}

// constantGrid builds one tile-shaped grid filled with value, or with
// no-data when value is nil. Validation guarantees a sentinel exists
// whenever one is needed.
func (s *rasterSourceStream) constantGrid(value *float64) (raster.GridData, error) {
	shape := s.strategy.TileShape()
	samples := make([]float64, shape.NumElements())
	valid := make([]bool, len(samples))
	if value != nil {
		for i := range samples {
			samples[i] = *value
			valid[i] = true
		}
	}

	switch {
	case s.params.NoData != nil:
		return raster.MaterializeGrid(s.params.DataType, shape, samples, valid, *s.params.NoData)
	case value == nil || s.params.DataType.IsFloat():
		return raster.MaterializeGrid(s.params.DataType, shape, samples, valid, math.NaN())
	default:
		return raster.MaterializeDenseGrid(s.params.DataType, shape, samples)
	}
}
