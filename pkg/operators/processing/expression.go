// Package processing holds the raster and vector processing operators: the
// per-pixel expression evaluator, raster scaling, reprojection between the
// supported reference systems, CEL-based feature filtering and the
// raster-vector join.
package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/2younis/geoengine/internal/adapters"
	"github.com/2younis/geoengine/internal/expression"
	"github.com/2younis/geoengine/internal/scheduler"
	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/raster"
)

// ExpressionTag is the registry type tag of the expression operator.
const ExpressionTag = "Expression"

// maxExpressionSources bounds the number of raster inputs; they are bound
// to the variables A through H in source order.
const maxExpressionSources = 8

// ExpressionParams configure an expression operator.
type ExpressionParams struct {
	Expression        string              `json:"expression"`
	OutputType        raster.DataType     `json:"outputType"`
	OutputNoData      *float64            `json:"outputNoDataValue,omitempty"`
	OutputMeasurement *engine.Measurement `json:"outputMeasurement,omitempty"`
}

// Expression computes a new raster from up to eight aligned raster inputs
// by evaluating a compiled pixel expression over every sample.
type Expression struct {
	params   ExpressionParams
	compiled *expression.Expression
	sources  []engine.RasterOperator
}

// NewExpression compiles the expression against the band variables of the
// given sources and builds the operator.
func NewExpression(params ExpressionParams, sources ...engine.RasterOperator) (*Expression, error) {
	if len(sources) < 1 || len(sources) > maxExpressionSources {
		return nil, fmt.Errorf("%s takes between 1 and %d raster sources, got %d",
			ExpressionTag, maxExpressionSources, len(sources))
	}
	if params.Expression == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	if !params.OutputType.IsValid() {
		return nil, fmt.Errorf("unknown output data type %q", params.OutputType)
	}
	if params.OutputNoData != nil && !params.OutputType.Contains(*params.OutputNoData) {
		return nil, fmt.Errorf("output no-data value %g is not representable as %s",
			*params.OutputNoData, params.OutputType)
	}
	compiled, err := expression.Compile(params.Expression, bandNames(len(sources)))
	if err != nil {
		return nil, err
	}
	return &Expression{params: params, compiled: compiled, sources: sources}, nil
}

// BuildExpression is the registry build function for Expression.
func BuildExpression(params json.RawMessage, sources []engine.Operator) (engine.Operator, error) {
	var p ExpressionParams
	if err := engine.DecodeParams(params, &p); err != nil {
		return engine.Operator{}, err
	}
	rasterSources := make([]engine.RasterOperator, len(sources))
	for i, src := range sources {
		rasterOp, err := src.Raster()
		if err != nil {
			return engine.Operator{}, fmt.Errorf("source %d: %w", i, err)
		}
		rasterSources[i] = rasterOp
	}
	op, err := NewExpression(p, rasterSources...)
	if err != nil {
		return engine.Operator{}, err
	}
	return engine.NewRasterNode(op), nil
}

// bandNames returns the variable names bound to the first n sources.
func bandNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = string(rune('A' + i))
	}
	return names
}

// Name implements engine.RasterOperator.
func (e *Expression) Name() string { return ExpressionTag }

// InitializeRaster implements engine.RasterOperator. Sources with a foreign
// reference system are wrapped in an implicit reprojection where possible.
func (e *Expression) InitializeRaster(ctx context.Context, ectx *engine.ExecutionContext) (engine.InitializedRasterOperator, error) {
	children, err := engine.InitializeRasterSiblings(ctx, ectx, ExpressionTag, e.sources)
	if err != nil {
		return nil, err
	}

	descriptor := engine.RasterResultDescriptor{
		DataType: e.params.OutputType,
		SRS:      children[0].ResultDescriptor().SRS,
		Bounds:   intersectChildBounds(children),
		Time:     intersectChildTimes(children),
	}
	if e.params.OutputMeasurement != nil {
		descriptor.Measurement = *e.params.OutputMeasurement
	}

	return &initializedExpression{
		descriptor: descriptor,
		params:     e.params,
		compiled:   e.compiled,
		children:   children,
		ectx:       ectx,
	}, nil
}

// intersectChildBounds returns the intersection of the children's known
// bounds, or nil as soon as any child's bounds are unknown or disjoint.
func intersectChildBounds(children []engine.InitializedRasterOperator) *geo.BoundingBox2D {
	var bounds *geo.BoundingBox2D
	for _, child := range children {
		childBounds := child.ResultDescriptor().Bounds
		if childBounds == nil {
			return nil
		}
		if bounds == nil {
			b := *childBounds
			bounds = &b
			continue
		}
		intersected, ok := bounds.Intersection(*childBounds)
		if !ok {
			return nil
		}
		bounds = &intersected
	}
	return bounds
}

// intersectChildTimes is intersectChildBounds for the temporal extent.
func intersectChildTimes(children []engine.InitializedRasterOperator) *geo.TimeInterval {
	var span *geo.TimeInterval
	for _, child := range children {
		childTime := child.ResultDescriptor().Time
		if childTime == nil {
			return nil
		}
		if span == nil {
			t := *childTime
			span = &t
			continue
		}
		intersected, ok := span.Intersection(*childTime)
		if !ok {
			return nil
		}
		span = &intersected
	}
	return span
}

type initializedExpression struct {
	descriptor engine.RasterResultDescriptor
	params     ExpressionParams
	compiled   *expression.Expression
	children   []engine.InitializedRasterOperator
	ectx       *engine.ExecutionContext
}

func (e *initializedExpression) ResultDescriptor() engine.RasterResultDescriptor {
	return e.descriptor
}

func (e *initializedExpression) QueryProcessor() (engine.RasterQueryProcessor, error) {
	children := make([]engine.RasterQueryProcessor, len(e.children))
	for i, child := range e.children {
		proc, err := child.QueryProcessor()
		if err != nil {
			return nil, err
		}
		children[i] = proc
	}
	return &expressionProcessor{
		outputType:   e.params.OutputType,
		outputNoData: e.params.OutputNoData,
		compiled:     e.compiled,
		children:     children,
		ectx:         e.ectx,
	}, nil
}

type expressionProcessor struct {
	outputType   raster.DataType
	outputNoData *float64
	compiled     *expression.Expression
	children     []engine.RasterQueryProcessor
	ectx         *engine.ExecutionContext
}

// RasterQuery implements engine.RasterQueryProcessor: the children's
// streams are zipped into aligned tile groups, each group is evaluated on
// the worker pool and results come back in canonical order under the
// query's in-flight cap.
func (p *expressionProcessor) RasterQuery(ctx context.Context, rect geo.QueryRectangle, qctx *engine.QueryContext) (engine.TileIterator, error) {
	sources := make([]adapters.TileSource, len(p.children))
	for i, child := range p.children {
		child := child
		sources[i] = func(ctx context.Context, r geo.QueryRectangle) (engine.TileIterator, error) {
			return child.RasterQuery(ctx, r, qctx)
		}
	}

	strategy := p.ectx.Tiling().Strategy(rect.Resolution())
	tilesPerSlice := strategy.TileGrid(rect.BBox()).NumTiles()
	aligned := adapters.NewTimeAlign(sources, rect, tilesPerSlice)

	return scheduler.NewParallel(ctx, p.ectx.Pool(), qctx.MaxInFlightTiles(), aligned, p.computeTile), nil
}

// computeTile evaluates the expression over one aligned tile group. It runs
// concurrently for different groups and shares nothing mutable.
func (p *expressionProcessor) computeTile(ctx context.Context, group adapters.TileGroup) (raster.Tile, error) {
	first := group[0]
	if err := ctx.Err(); err != nil {
		return raster.Tile{}, err
	}

	shape := first.Grid.Shape()
	for i, tile := range group {
		if tile.Grid.Shape() != shape {
			return raster.Tile{}, engine.NewTileComputationError(ExpressionTag, first.Position, first.Time,
				fmt.Errorf("source %d produced shape %s where source 0 produced %s", i, tile.Grid.Shape(), shape))
		}
	}

	samples := make([]float64, shape.NumElements())
	valid := make([]bool, len(samples))
	args := make([]float64, len(group))
	allValid := true
	for i := range samples {
		for b, tile := range group {
			// No-data samples arrive as NaN, the expression's no-data marker.
			args[b], _ = tile.Grid.SampleFloat(i)
		}
		out := p.compiled.Evaluate(args)
		samples[i] = out
		valid[i] = !math.IsNaN(out)
		allValid = allValid && valid[i]
	}

	grid, err := p.materialize(shape, samples, valid, allValid)
	if err != nil {
		return raster.Tile{}, engine.NewTileComputationError(ExpressionTag, first.Position, first.Time, err)
	}
	return raster.NewTile(first.Position, first.Time, first.GeoTransform, grid), nil
}

func (p *expressionProcessor) materialize(shape geo.GridShape2D, samples []float64, valid []bool, allValid bool) (raster.GridData, error) {
	switch {
	case p.outputNoData != nil:
		return raster.MaterializeGrid(p.outputType, shape, samples, valid, *p.outputNoData)
	case p.outputType.IsFloat():
		return raster.MaterializeGrid(p.outputType, shape, samples, valid, math.NaN())
	case allValid:
		return raster.MaterializeDenseGrid(p.outputType, shape, samples)
	default:
		return nil, fmt.Errorf("expression produced no-data but output type %s has no no-data value", p.outputType)
	}
}
