package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
)

// RasterVectorJoinTag is the registry type tag of the raster-vector join.
const RasterVectorJoinTag = "RasterVectorJoin"

// maxJoinRasters bounds the number of raster sources of one join.
const maxJoinRasters = 8

// JoinAggregation selects how samples are folded into one attribute value
// when a feature covers several valid samples.
type JoinAggregation string

const (
	// JoinAggregationFirst keeps the first valid sample in stream order.
	JoinAggregationFirst JoinAggregation = "first"
	// JoinAggregationMean averages all valid samples, each with equal
	// weight.
	JoinAggregationMean JoinAggregation = "mean"
)

// IsValid reports whether the aggregation is one of the defined modes.
func (a JoinAggregation) IsValid() bool {
	return a == JoinAggregationFirst || a == JoinAggregationMean
}

// RasterVectorJoinParams configure a raster-vector join.
type RasterVectorJoinParams struct {
	// Names are the attribute columns the join adds, one per raster source
	// in order.
	Names []string `json:"names"`
	// Aggregation folds multiple samples per feature into one value.
	Aggregation JoinAggregation `json:"aggregation"`
}

// RasterVectorJoin samples raster sources at the coordinates of a point
// collection and attaches the samples as new float columns. Rasters in a
// different reference system than the points are reprojected first.
type RasterVectorJoin struct {
	params  RasterVectorJoinParams
	vector  engine.VectorOperator
	rasters []engine.RasterOperator
}

// NewRasterVectorJoin builds a join of one point source and one raster
// source per requested column name.
func NewRasterVectorJoin(params RasterVectorJoinParams, vector engine.VectorOperator, rasters ...engine.RasterOperator) (*RasterVectorJoin, error) {
	if len(rasters) == 0 || len(rasters) > maxJoinRasters {
		return nil, fmt.Errorf("%s takes 1 to %d raster sources, got %d", RasterVectorJoinTag, maxJoinRasters, len(rasters))
	}
	if len(params.Names) != len(rasters) {
		return nil, fmt.Errorf("%s requires one column name per raster source: %d names for %d sources",
			RasterVectorJoinTag, len(params.Names), len(rasters))
	}
	seen := make(map[string]struct{}, len(params.Names))
	for _, name := range params.Names {
		if name == "" {
			return nil, fmt.Errorf("%s column names must not be empty", RasterVectorJoinTag)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%s column name %q given twice", RasterVectorJoinTag, name)
		}
		seen[name] = struct{}{}
	}
	if !params.Aggregation.IsValid() {
		return nil, fmt.Errorf("unknown aggregation %q", params.Aggregation)
	}
	return &RasterVectorJoin{params: params, vector: vector, rasters: rasters}, nil
}

// BuildRasterVectorJoin is the registry build function for RasterVectorJoin.
// The first source is the point collection, the remaining sources are the
// rasters to sample.
func BuildRasterVectorJoin(params json.RawMessage, sources []engine.Operator) (engine.Operator, error) {
	if len(sources) < 2 {
		return engine.Operator{}, fmt.Errorf("%s takes a vector source and at least one raster source, got %d sources",
			RasterVectorJoinTag, len(sources))
	}
	vector, err := sources[0].Vector()
	if err != nil {
		return engine.Operator{}, err
	}
	rasters := make([]engine.RasterOperator, 0, len(sources)-1)
	for _, src := range sources[1:] {
		raster, err := src.Raster()
		if err != nil {
			return engine.Operator{}, err
		}
		rasters = append(rasters, raster)
	}
	var p RasterVectorJoinParams
	if err := engine.DecodeParams(params, &p); err != nil {
		return engine.Operator{}, err
	}
	op, err := NewRasterVectorJoin(p, vector, rasters...)
	if err != nil {
		return engine.Operator{}, err
	}
	return engine.NewVectorNode(op), nil
}

// Name implements engine.VectorOperator.
func (j *RasterVectorJoin) Name() string { return RasterVectorJoinTag }

// InitializeVector implements engine.VectorOperator. Raster sources whose
// reference system differs from the point source are wrapped in a
// reprojection onto the point system.
func (j *RasterVectorJoin) InitializeVector(ctx context.Context, ectx *engine.ExecutionContext) (engine.InitializedVectorOperator, error) {
	vector, err := engine.InitializeVector(ctx, ectx, j.vector)
	if err != nil {
		return nil, err
	}
	descriptor := vector.ResultDescriptor()
	if descriptor.DataType != features.VectorDataTypeMultiPoint {
		return nil, engine.NewInitializationError(RasterVectorJoinTag,
			fmt.Errorf("join samples at points, got %s features", descriptor.DataType))
	}
	for _, name := range j.params.Names {
		if _, taken := descriptor.Columns[name]; taken {
			return nil, engine.NewInitializationError(RasterVectorJoinTag,
				fmt.Errorf("column %q already exists on the point source", name))
		}
	}

	rasters := make([]engine.InitializedRasterOperator, len(j.rasters))
	for i, src := range j.rasters {
		initialized, err := engine.InitializeRaster(ctx, ectx, src)
		if err != nil {
			return nil, err
		}
		if srs := initialized.ResultDescriptor().SRS; srs != descriptor.SRS {
			initialized, err = engine.InitializeRaster(ctx, ectx, NewRasterReprojection(descriptor.SRS, src))
			if err != nil {
				return nil, err
			}
		}
		rasters[i] = initialized
	}

	columns := make(map[string]features.ColumnType, len(descriptor.Columns)+len(j.params.Names))
	for name, t := range descriptor.Columns {
		columns[name] = t
	}
	for _, name := range j.params.Names {
		columns[name] = features.ColumnTypeFloat
	}
	descriptor.Columns = columns

	return &initializedRasterVectorJoin{
		descriptor: descriptor,
		params:     j.params,
		vector:     vector,
		rasters:    rasters,
	}, nil
}

type initializedRasterVectorJoin struct {
	descriptor engine.VectorResultDescriptor
	params     RasterVectorJoinParams
	vector     engine.InitializedVectorOperator
	rasters    []engine.InitializedRasterOperator
}

func (j *initializedRasterVectorJoin) ResultDescriptor() engine.VectorResultDescriptor {
	return j.descriptor
}

func (j *initializedRasterVectorJoin) QueryProcessor() (engine.VectorQueryProcessor, error) {
	vector, err := j.vector.QueryProcessor()
	if err != nil {
		return nil, err
	}
	rasters := make([]engine.RasterQueryProcessor, len(j.rasters))
	for i, r := range j.rasters {
		rasters[i], err = r.QueryProcessor()
		if err != nil {
			return nil, err
		}
	}
	return &rasterVectorJoinProcessor{
		descriptor: j.descriptor,
		params:     j.params,
		vector:     vector,
		rasters:    rasters,
	}, nil
}

type rasterVectorJoinProcessor struct {
	descriptor engine.VectorResultDescriptor
	params     RasterVectorJoinParams
	vector     engine.VectorQueryProcessor
	rasters    []engine.RasterQueryProcessor
}

// VectorQuery implements engine.VectorQueryProcessor.
func (p *rasterVectorJoinProcessor) VectorQuery(ctx context.Context, rect geo.QueryRectangle, qctx *engine.QueryContext) (engine.CollectionIterator, error) {
	source, err := p.vector.VectorQuery(ctx, rect, qctx)
	if err != nil {
		return nil, err
	}
	return engine.NewMappedIterator(source, func(ctx context.Context, chunk *features.Collection) (*features.Collection, error) {
		return p.joinChunk(ctx, chunk, rect, qctx)
	}), nil
}

// sampleFold accumulates the valid samples one feature collects from one
// raster.
type sampleFold struct {
	first float64
	sum   float64
	count int64
}

func (f *sampleFold) add(v float64) {
	if f.count == 0 {
		f.first = v
	}
	f.sum += v
	f.count++
}

func (f *sampleFold) value(mode JoinAggregation) (float64, bool) {
	if f.count == 0 {
		return 0, false
	}
	if mode == JoinAggregationMean {
		return f.sum / float64(f.count), true
	}
	return f.first, true
}

// joinChunk samples every raster at every feature coordinate. A sample
// counts when the feature's time intersects the tile's time and the pixel
// under the coordinate is valid; features that collect no sample get a null
// attribute. Tiles arrive in canonical order, so "first" is deterministic.
func (p *rasterVectorJoinProcessor) joinChunk(ctx context.Context, chunk *features.Collection, rect geo.QueryRectangle, qctx *engine.QueryContext) (*features.Collection, error) {
	coordinates := make([][]geo.Coordinate2D, chunk.Len())
	for i := range coordinates {
		coordinates[i] = features.GeometryCoordinates(chunk.GeometryAt(i))
	}

	folds := make([][]sampleFold, len(p.rasters))
	for r, processor := range p.rasters {
		folds[r] = make([]sampleFold, chunk.Len())
		if err := p.sampleRaster(ctx, processor, chunk, coordinates, folds[r], rect, qctx); err != nil {
			return nil, err
		}
	}

	builder := features.NewCollectionBuilder(chunk.DataType(), chunk.SRS())
	names := chunk.ColumnNames()
	types := chunk.ColumnTypes()
	for _, name := range names {
		builder.AddColumn(name, types[name])
	}
	for _, name := range p.params.Names {
		builder.AddColumn(name, features.ColumnTypeFloat)
	}
	for i := 0; i < chunk.Len(); i++ {
		values := make(map[string]any, len(names)+len(p.params.Names))
		for _, name := range names {
			values[name] = chunk.Column(name).ValueAt(i)
		}
		for r, name := range p.params.Names {
			if v, ok := folds[r][i].value(p.params.Aggregation); ok {
				values[name] = v
			}
		}
		builder.AppendFeature(chunk.GeometryAt(i), chunk.TimeAt(i), values)
	}
	return builder.Build()
}

// sampleRaster streams one raster over the query rectangle and feeds every
// hit into the per-feature folds.
func (p *rasterVectorJoinProcessor) sampleRaster(ctx context.Context, processor engine.RasterQueryProcessor, chunk *features.Collection, coordinates [][]geo.Coordinate2D, folds []sampleFold, rect geo.QueryRectangle, qctx *engine.QueryContext) error {
	tiles, err := processor.RasterQuery(ctx, rect, qctx)
	if err != nil {
		return err
	}
	defer tiles.Stop()

	for {
		tile, err := tiles.Next(ctx)
		if errors.Is(err, engine.ErrIteratorDone) {
			return nil
		}
		if err != nil {
			return err
		}
		for i := range folds {
			if !chunk.TimeAt(i).Intersects(tile.Time) {
				continue
			}
			for _, c := range coordinates[i] {
				if v, ok := tile.SampleAtCoordinate(c); ok {
					folds[i].add(v)
				}
			}
		}
	}
}
