package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/raster"
)

// RasterScalingTag is the registry type tag of the raster scaling operator.
const RasterScalingTag = "RasterScaling"

// ScalingMode selects the direction of the linear transform.
type ScalingMode string

const (
	// ScalingModeScale maps stored values to physical ones: (p - offset) / slope.
	ScalingModeScale ScalingMode = "scale"

	// ScalingModeUnscale maps physical values to stored ones: p * slope + offset.
	ScalingModeUnscale ScalingMode = "unscale"
)

// IsValid reports whether m is a known scaling mode.
func (m ScalingMode) IsValid() bool {
	return m == ScalingModeScale || m == ScalingModeUnscale
}

// RasterScalingParams configure a raster scaling operator.
type RasterScalingParams struct {
	Slope             float64             `json:"slope"`
	Offset            float64             `json:"offset"`
	ScalingMode       ScalingMode         `json:"scalingMode"`
	OutputMeasurement *engine.Measurement `json:"outputMeasurement,omitempty"`
}

// RasterScaling applies a constant linear transform to every sample of its
// raster source, keeping data type and validity.
type RasterScaling struct {
	params RasterScalingParams
	source engine.RasterOperator
}

// NewRasterScaling validates the parameters and builds the operator.
func NewRasterScaling(params RasterScalingParams, source engine.RasterOperator) (*RasterScaling, error) {
	if !params.ScalingMode.IsValid() {
		return nil, fmt.Errorf("unknown scaling mode %q", params.ScalingMode)
	}
	if params.ScalingMode == ScalingModeScale && params.Slope == 0 {
		return nil, fmt.Errorf("scaling with slope 0 would divide by zero")
	}
	return &RasterScaling{params: params, source: source}, nil
}

// BuildRasterScaling is the registry build function for RasterScaling.
func BuildRasterScaling(params json.RawMessage, sources []engine.Operator) (engine.Operator, error) {
	if len(sources) != 1 {
		return engine.Operator{}, fmt.Errorf("%s takes exactly one raster source, got %d", RasterScalingTag, len(sources))
	}
	source, err := sources[0].Raster()
	if err != nil {
		return engine.Operator{}, err
	}
	var p RasterScalingParams
	if err := engine.DecodeParams(params, &p); err != nil {
		return engine.Operator{}, err
	}
	op, err := NewRasterScaling(p, source)
	if err != nil {
		return engine.Operator{}, err
	}
	return engine.NewRasterNode(op), nil
}

// Name implements engine.RasterOperator.
func (s *RasterScaling) Name() string { return RasterScalingTag }

// InitializeRaster implements engine.RasterOperator.
func (s *RasterScaling) InitializeRaster(ctx context.Context, ectx *engine.ExecutionContext) (engine.InitializedRasterOperator, error) {
	source, err := engine.InitializeRaster(ctx, ectx, s.source)
	if err != nil {
		return nil, err
	}
	descriptor := source.ResultDescriptor()
	if s.params.OutputMeasurement != nil {
		descriptor.Measurement = *s.params.OutputMeasurement
	}
	return &initializedRasterScaling{descriptor: descriptor, params: s.params, source: source}, nil
}

type initializedRasterScaling struct {
	descriptor engine.RasterResultDescriptor
	params     RasterScalingParams
	source     engine.InitializedRasterOperator
}

func (s *initializedRasterScaling) ResultDescriptor() engine.RasterResultDescriptor {
	return s.descriptor
}

func (s *initializedRasterScaling) QueryProcessor() (engine.RasterQueryProcessor, error) {
	source, err := s.source.QueryProcessor()
	if err != nil {
		return nil, err
	}
	return &rasterScalingProcessor{params: s.params, source: source}, nil
}

type rasterScalingProcessor struct {
	params RasterScalingParams
	source engine.RasterQueryProcessor
}

// RasterQuery implements engine.RasterQueryProcessor. The transform is a
// per-tile map over the source stream; it adds no parallelism of its own.
func (p *rasterScalingProcessor) RasterQuery(ctx context.Context, rect geo.QueryRectangle, qctx *engine.QueryContext) (engine.TileIterator, error) {
	inner, err := p.source.RasterQuery(ctx, rect, qctx)
	if err != nil {
		return nil, err
	}
	return engine.NewMappedIterator(inner, p.scaleTile), nil
}

func (p *rasterScalingProcessor) scaleTile(_ context.Context, tile raster.Tile) (raster.Tile, error) {
	shape := tile.Grid.Shape()
	samples := make([]float64, tile.Grid.Len())
	valid := make([]bool, len(samples))
	allValid := true
	for i := range samples {
		v, ok := tile.Grid.SampleFloat(i)
		if !ok {
			allValid = false
			samples[i] = math.NaN()
			continue
		}
		valid[i] = true
		samples[i] = p.apply(v)
	}

	dataType := tile.DataType()
	var grid raster.GridData
	var err error
	switch noData, hasNoData := tile.Grid.NoDataValue(); {
	case hasNoData:
		grid, err = raster.MaterializeGrid(dataType, shape, samples, valid, noData)
	case dataType.IsFloat():
		grid, err = raster.MaterializeGrid(dataType, shape, samples, valid, math.NaN())
	case allValid:
		grid, err = raster.MaterializeDenseGrid(dataType, shape, samples)
	default:
		err = fmt.Errorf("source tile of type %s holds no-data but declares no no-data value", dataType)
	}
	if err != nil {
		return raster.Tile{}, engine.NewTileComputationError(RasterScalingTag, tile.Position, tile.Time, err)
	}
	return raster.NewTile(tile.Position, tile.Time, tile.GeoTransform, grid), nil
}

func (p *rasterScalingProcessor) apply(v float64) float64 {
	if p.params.ScalingMode == ScalingModeScale {
		return (v - p.params.Offset) / p.params.Slope
	}
	return v*p.params.Slope + p.params.Offset
}
