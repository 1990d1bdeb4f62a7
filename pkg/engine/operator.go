package engine

import (
	"context"
	"fmt"

	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/workflow"
)

// RasterOperator is an uninitialized raster operator: parameters decoded
// and sources bound, but no context attached and no metadata touched yet.
type RasterOperator interface {
	// Name returns the operator's registered type tag.
	Name() string

	// InitializeRaster validates the operator against the execution
	// context and returns its immutable initialized form. Implementations
	// initialize their sources through InitializeRaster / InitializeVector
	// (the package functions) so shared subgraphs initialize once.
	InitializeRaster(ctx context.Context, ectx *ExecutionContext) (InitializedRasterOperator, error)
}

// VectorOperator is an uninitialized vector operator.
type VectorOperator interface {
	Name() string
	InitializeVector(ctx context.Context, ectx *ExecutionContext) (InitializedVectorOperator, error)
}

// PlotOperator is an uninitialized plot operator.
type PlotOperator interface {
	Name() string
	InitializePlot(ctx context.Context, ectx *ExecutionContext) (InitializedPlotOperator, error)
}

// InitializedRasterOperator can describe its result and produce a
// processor. Implementations are immutable.
type InitializedRasterOperator interface {
	ResultDescriptor() RasterResultDescriptor
	QueryProcessor() (RasterQueryProcessor, error)
}

// InitializedVectorOperator is the vector counterpart.
type InitializedVectorOperator interface {
	ResultDescriptor() VectorResultDescriptor
	QueryProcessor() (VectorQueryProcessor, error)
}

// InitializedPlotOperator is the plot counterpart.
type InitializedPlotOperator interface {
	ResultDescriptor() PlotResultDescriptor
	QueryProcessor() (PlotQueryProcessor, error)
}

// RasterQueryProcessor answers raster queries as ordered tile streams.
// Processors are safe for concurrent queries.
type RasterQueryProcessor interface {
	RasterQuery(ctx context.Context, rect geo.QueryRectangle, qctx *QueryContext) (TileIterator, error)
}

// VectorQueryProcessor answers vector queries as collection streams.
type VectorQueryProcessor interface {
	VectorQuery(ctx context.Context, rect geo.QueryRectangle, qctx *QueryContext) (CollectionIterator, error)
}

// PlotQueryProcessor answers plot queries with a single document.
type PlotQueryProcessor interface {
	PlotQuery(ctx context.Context, rect geo.QueryRectangle, qctx *QueryContext) (*PlotData, error)
}

// Operator is the closed union of the three operator kinds. Exactly one
// variant is set.
type Operator struct {
	raster RasterOperator
	vector VectorOperator
	plot   PlotOperator
}

// NewRasterNode wraps a raster operator.
func NewRasterNode(op RasterOperator) Operator { return Operator{raster: op} }

// NewVectorNode wraps a vector operator.
func NewVectorNode(op VectorOperator) Operator { return Operator{vector: op} }

// NewPlotNode wraps a plot operator.
func NewPlotNode(op PlotOperator) Operator { return Operator{plot: op} }

// Kind returns the result kind of the wrapped operator.
func (o Operator) Kind() workflow.Kind {
	switch {
	case o.raster != nil:
		return workflow.KindRaster
	case o.vector != nil:
		return workflow.KindVector
	case o.plot != nil:
		return workflow.KindPlot
	}
	return ""
}

// Name returns the type tag of the wrapped operator.
func (o Operator) Name() string {
	switch {
	case o.raster != nil:
		return o.raster.Name()
	case o.vector != nil:
		return o.vector.Name()
	case o.plot != nil:
		return o.plot.Name()
	}
	return ""
}

// Raster unwraps the raster variant.
func (o Operator) Raster() (RasterOperator, error) {
	if o.raster == nil {
		return nil, NewUnsupportedOperationError(o.Name(), fmt.Sprintf("expected a raster operator, got %s", o.Kind()))
	}
	return o.raster, nil
}

// Vector unwraps the vector variant.
func (o Operator) Vector() (VectorOperator, error) {
	if o.vector == nil {
		return nil, NewUnsupportedOperationError(o.Name(), fmt.Sprintf("expected a vector operator, got %s", o.Kind()))
	}
	return o.vector, nil
}

// Plot unwraps the plot variant.
func (o Operator) Plot() (PlotOperator, error) {
	if o.plot == nil {
		return nil, NewUnsupportedOperationError(o.Name(), fmt.Sprintf("expected a plot operator, got %s", o.Kind()))
	}
	return o.plot, nil
}

// InitializeRaster initializes op through the execution context's memo:
// initializing the same operator value twice yields the same initialized
// operator, so graphs sharing a subtree share its state and its metadata
// lookups.
func InitializeRaster(ctx context.Context, ectx *ExecutionContext, op RasterOperator) (InitializedRasterOperator, error) {
	if cached, ok := ectx.memoizedInit(op); ok {
		init, isRaster := cached.(InitializedRasterOperator)
		if !isRaster {
			return nil, NewInitializationError(op.Name(), fmt.Errorf("operator already initialized with a different kind"))
		}
		return init, nil
	}
	init, err := op.InitializeRaster(ctx, ectx)
	if err != nil {
		return nil, err
	}
	ectx.storeInit(op, init)
	return init, nil
}

// InitializeVector is InitializeRaster for vector operators.
func InitializeVector(ctx context.Context, ectx *ExecutionContext, op VectorOperator) (InitializedVectorOperator, error) {
	if cached, ok := ectx.memoizedInit(op); ok {
		init, isVector := cached.(InitializedVectorOperator)
		if !isVector {
			return nil, NewInitializationError(op.Name(), fmt.Errorf("operator already initialized with a different kind"))
		}
		return init, nil
	}
	init, err := op.InitializeVector(ctx, ectx)
	if err != nil {
		return nil, err
	}
	ectx.storeInit(op, init)
	return init, nil
}

// InitializePlot is InitializeRaster for plot operators.
func InitializePlot(ctx context.Context, ectx *ExecutionContext, op PlotOperator) (InitializedPlotOperator, error) {
	init, err := op.InitializePlot(ctx, ectx)
	if err != nil {
		return nil, err
	}
	return init, nil
}

// InitializeRasterSiblings initializes several raster sources that feed one
// operator and reconciles their reference systems: sources disagreeing with
// the first one are wrapped in an implicit reprojection when the execution
// context can build one, otherwise initialization fails.
func InitializeRasterSiblings(ctx context.Context, ectx *ExecutionContext, operator string, sources []RasterOperator) ([]InitializedRasterOperator, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	initialized := make([]InitializedRasterOperator, len(sources))

	first, err := InitializeRaster(ctx, ectx, sources[0])
	if err != nil {
		return nil, err
	}
	initialized[0] = first
	target := first.ResultDescriptor().SRS

	for i, src := range sources[1:] {
		init, err := InitializeRaster(ctx, ectx, src)
		if err != nil {
			return nil, err
		}
		srs := init.ResultDescriptor().SRS
		if srs == target {
			initialized[i+1] = init
			continue
		}
		wrapped, wrapErr := ectx.reprojectRasterSource(target, src)
		if wrapErr != nil {
			return nil, NewInitializationError(operator, fmt.Errorf(
				"source %d is in %s but the operator computes in %s and no reprojection is available: %w",
				i+1, srs, target, wrapErr))
		}
		init, err = InitializeRaster(ctx, ectx, wrapped)
		if err != nil {
			return nil, err
		}
		initialized[i+1] = init
	}
	return initialized, nil
}
