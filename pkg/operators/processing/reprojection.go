package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/go-spatial/geom"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/geo/proj"
	"github.com/2younis/geoengine/pkg/raster"
	"github.com/2younis/geoengine/pkg/workflow"
)

// ReprojectionTag is the registry type tag of the reprojection operator.
const ReprojectionTag = "Reprojection"

// ReprojectionParams configure a reprojection operator.
type ReprojectionParams struct {
	Target geo.SpatialReference `json:"targetSpatialReference"`
}

// BuildReprojection is the registry build function for Reprojection. The
// operator kind follows its source: raster sources are resampled onto the
// target grid, vector sources have their geometries projected.
func BuildReprojection(params json.RawMessage, sources []engine.Operator) (engine.Operator, error) {
	if len(sources) != 1 {
		return engine.Operator{}, fmt.Errorf("%s takes exactly one source, got %d", ReprojectionTag, len(sources))
	}
	var p ReprojectionParams
	if err := engine.DecodeParams(params, &p); err != nil {
		return engine.Operator{}, err
	}
	if p.Target.IsZero() {
		return engine.Operator{}, fmt.Errorf("targetSpatialReference is required")
	}
	switch sources[0].Kind() {
	case workflow.KindRaster:
		source, err := sources[0].Raster()
		if err != nil {
			return engine.Operator{}, err
		}
		return engine.NewRasterNode(NewRasterReprojection(p.Target, source)), nil
	case workflow.KindVector:
		source, err := sources[0].Vector()
		if err != nil {
			return engine.Operator{}, err
		}
		return engine.NewVectorNode(NewVectorReprojection(p.Target, source)), nil
	default:
		return engine.Operator{}, fmt.Errorf("%s takes a raster or vector source, got %s", ReprojectionTag, sources[0].Kind())
	}
}

// RasterReprojection resamples a raster stream into the target reference
// system: every output pixel center is projected back into the source
// system and looks its sample up in the source slice.
type RasterReprojection struct {
	target geo.SpatialReference
	source engine.RasterOperator
}

// NewRasterReprojection builds the operator. Whether the projection pair is
// supported is checked at initialization, once the source system is known.
func NewRasterReprojection(target geo.SpatialReference, source engine.RasterOperator) *RasterReprojection {
	return &RasterReprojection{target: target, source: source}
}

// Name implements engine.RasterOperator.
func (r *RasterReprojection) Name() string { return ReprojectionTag }

// InitializeRaster implements engine.RasterOperator.
func (r *RasterReprojection) InitializeRaster(ctx context.Context, ectx *engine.ExecutionContext) (engine.InitializedRasterOperator, error) {
	source, err := engine.InitializeRaster(ctx, ectx, r.source)
	if err != nil {
		return nil, err
	}
	srcDescriptor := source.ResultDescriptor()

	forward, err := proj.New(srcDescriptor.SRS, r.target)
	if err != nil {
		return nil, engine.NewInitializationError(ReprojectionTag, err)
	}
	inverse, err := proj.New(r.target, srcDescriptor.SRS)
	if err != nil {
		return nil, engine.NewInitializationError(ReprojectionTag, err)
	}

	descriptor := srcDescriptor
	descriptor.SRS = r.target
	descriptor.Bounds = nil
	if srcDescriptor.Bounds != nil {
		if projected, err := forward.ProjectBoundingBox(*srcDescriptor.Bounds); err == nil {
			descriptor.Bounds = &projected
		}
	}

	return &initializedRasterReprojection{
		descriptor: descriptor,
		inverse:    inverse,
		source:     source,
		tiling:     ectx.Tiling(),
	}, nil
}

type initializedRasterReprojection struct {
	descriptor engine.RasterResultDescriptor
	inverse    *proj.Projection
	source     engine.InitializedRasterOperator
	tiling     engine.TilingSpecification
}

func (r *initializedRasterReprojection) ResultDescriptor() engine.RasterResultDescriptor {
	return r.descriptor
}

func (r *initializedRasterReprojection) QueryProcessor() (engine.RasterQueryProcessor, error) {
	source, err := r.source.QueryProcessor()
	if err != nil {
		return nil, err
	}
	return &rasterReprojectionProcessor{
		dataType: r.descriptor.DataType,
		inverse:  r.inverse,
		source:   source,
		tiling:   r.tiling,
	}, nil
}

type rasterReprojectionProcessor struct {
	dataType raster.DataType
	inverse  *proj.Projection
	source   engine.RasterQueryProcessor
	tiling   engine.TilingSpecification
}

// RasterQuery implements engine.RasterQueryProcessor. The query rectangle
// is rewritten into the source system with a pixel size that preserves the
// sample density; the source is then read one time slice at a time and each
// slice is resampled onto the target grid.
func (p *rasterReprojectionProcessor) RasterQuery(ctx context.Context, rect geo.QueryRectangle, qctx *engine.QueryContext) (engine.TileIterator, error) {
	srcBBox, err := p.inverse.ProjectBoundingBox(rect.BBox())
	if err != nil {
		return nil, engine.NewUnsupportedOperationError(ReprojectionTag,
			fmt.Sprintf("query %s has no projectable part in the source system: %v", rect.BBox(), err))
	}
	srcResolution, err := p.inverse.SuggestPixelSize(rect.BBox(), rect.Resolution())
	if err != nil {
		return nil, err
	}
	srcRect := rect.WithBBox(srcBBox).WithResolution(srcResolution)

	source, err := p.source.RasterQuery(ctx, srcRect, qctx)
	if err != nil {
		return nil, err
	}

	srcStrategy := p.tiling.Strategy(srcResolution)
	outStrategy := p.tiling.Strategy(rect.Resolution())
	return &rasterReprojectionStream{
		source:        source,
		inverse:       p.inverse,
		dataType:      p.dataType,
		srcStrategy:   srcStrategy,
		tilesPerSlice: srcStrategy.TileGrid(srcBBox).NumTiles(),
		outStrategy:   outStrategy,
		outGrid:       outStrategy.TileGrid(rect.BBox()),
	}, nil
}

// rasterReprojectionStream holds one source time slice as a mosaic of tiles
// and emits the target enumeration for it before loading the next slice.
type rasterReprojectionStream struct {
	source        engine.TileIterator
	inverse       *proj.Projection
	dataType      raster.DataType
	srcStrategy   engine.TilingStrategy
	tilesPerSlice int64
	outStrategy   engine.TilingStrategy
	outGrid       engine.TileGrid

	mosaic      map[geo.GridIdx2D]raster.Tile
	sliceTime   geo.TimeInterval
	sentinel    float64
	hasSentinel bool
	outIdx      int64
	srcDone     bool
	failed      error
}

func (s *rasterReprojectionStream) Next(ctx context.Context) (raster.Tile, error) {
	if s.failed != nil {
		return raster.Tile{}, s.failed
	}
	for {
		if s.mosaic == nil {
			if s.srcDone {
				s.failed = engine.ErrIteratorDone
				return raster.Tile{}, s.failed
			}
			if err := s.loadSlice(ctx); err != nil {
				return raster.Tile{}, s.fail(err)
			}
			continue
		}
		if s.outIdx >= s.outGrid.NumTiles() {
			s.mosaic = nil
			continue
		}
		tile, err := s.projectTile(ctx, s.outGrid.PositionAt(s.outIdx))
		if err != nil {
			return raster.Tile{}, s.fail(err)
		}
		s.outIdx++
		return tile, nil
	}
}

// loadSlice reads the source's next time slice, one tile per expected
// position. The source is a dense canonical stream, so a slice is exactly
// tilesPerSlice tiles sharing one time interval.
func (s *rasterReprojectionStream) loadSlice(ctx context.Context) error {
	first, err := s.source.Next(ctx)
	if errors.Is(err, engine.ErrIteratorDone) {
		s.srcDone = true
		return nil
	}
	if err != nil {
		return err
	}

	mosaic := map[geo.GridIdx2D]raster.Tile{first.Position: first}
	for int64(len(mosaic)) < s.tilesPerSlice {
		tile, err := s.source.Next(ctx)
		if errors.Is(err, engine.ErrIteratorDone) {
			return fmt.Errorf("source stream ended mid slice after %d of %d tiles", len(mosaic), s.tilesPerSlice)
		}
		if err != nil {
			return err
		}
		if tile.Time != first.Time {
			return fmt.Errorf("source tile %s %s arrived inside slice %s", tile.Position, tile.Time, first.Time)
		}
		mosaic[tile.Position] = tile
	}

	s.mosaic = mosaic
	s.sliceTime = first.Time
	s.sentinel, s.hasSentinel = first.Grid.NoDataValue()
	s.outIdx = 0
	return nil
}

// projectTile resamples one target tile from the loaded slice: each pixel
// center is projected into the source system and sampled there. Pixels the
// projection cannot reach and pixels outside the source data are no-data.
func (s *rasterReprojectionStream) projectTile(ctx context.Context, position geo.GridIdx2D) (raster.Tile, error) {
	if err := ctx.Err(); err != nil {
		return raster.Tile{}, err
	}

	shape := s.outStrategy.TileShape()
	samples := make([]float64, shape.NumElements())
	valid := make([]bool, len(samples))
	for y := 0; y < shape.Height; y++ {
		for x := 0; x < shape.Width; x++ {
			center := s.outStrategy.PixelCoordinate(position, y, x)
			srcCoord, err := s.inverse.ProjectCoordinate(center)
			if err != nil {
				continue
			}
			if v, ok := s.lookup(srcCoord); ok {
				i := shape.LinearIndex(y, x)
				samples[i] = v
				valid[i] = true
			}
		}
	}

	noData := s.sentinel
	if !s.hasSentinel {
		// Missing pixels still need a sentinel: NaN for float types, the
		// conventional zero fill otherwise.
		if s.dataType.IsFloat() {
			noData = math.NaN()
		} else {
			noData = 0
		}
	}
	grid, err := raster.MaterializeGrid(s.dataType, shape, samples, valid, noData)
	if err != nil {
		return raster.Tile{}, engine.NewTileComputationError(ReprojectionTag, position, s.sliceTime, err)
	}
	return raster.NewTile(position, s.sliceTime, s.outStrategy.GeoTransform(), grid), nil
}

// lookup samples the mosaic at a source-system coordinate.
func (s *rasterReprojectionStream) lookup(c geo.Coordinate2D) (float64, bool) {
	pixel := s.srcStrategy.GeoTransform().CoordinateToPixelFloor(c)
	shape := s.srcStrategy.TileShape()
	tile, ok := s.mosaic[geo.GridIdx2D{
		Y: floorDiv(pixel.Y, int64(shape.Height)),
		X: floorDiv(pixel.X, int64(shape.Width)),
	}]
	if !ok {
		return 0, false
	}
	return tile.SampleAtCoordinate(c)
}

func (s *rasterReprojectionStream) fail(err error) error {
	s.failed = err
	s.source.Stop()
	return err
}

// Stop releases the source stream.
func (s *rasterReprojectionStream) Stop() {
	s.source.Stop()
	s.mosaic = nil
	if s.failed == nil {
		s.failed = engine.ErrIteratorDone
	}
}

// floorDiv divides rounding towards negative infinity, mapping global pixel
// indices to tile positions on both sides of the origin.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// VectorReprojection projects the geometries of a vector stream into the
// target reference system.
type VectorReprojection struct {
	target geo.SpatialReference
	source engine.VectorOperator
}

// NewVectorReprojection builds the operator. Whether the projection pair is
// supported is checked at initialization.
func NewVectorReprojection(target geo.SpatialReference, source engine.VectorOperator) *VectorReprojection {
	return &VectorReprojection{target: target, source: source}
}

// Name implements engine.VectorOperator.
func (r *VectorReprojection) Name() string { return ReprojectionTag }

// InitializeVector implements engine.VectorOperator.
func (r *VectorReprojection) InitializeVector(ctx context.Context, ectx *engine.ExecutionContext) (engine.InitializedVectorOperator, error) {
	source, err := engine.InitializeVector(ctx, ectx, r.source)
	if err != nil {
		return nil, err
	}
	srcDescriptor := source.ResultDescriptor()

	forward, err := proj.New(srcDescriptor.SRS, r.target)
	if err != nil {
		return nil, engine.NewInitializationError(ReprojectionTag, err)
	}
	inverse, err := proj.New(r.target, srcDescriptor.SRS)
	if err != nil {
		return nil, engine.NewInitializationError(ReprojectionTag, err)
	}

	descriptor := srcDescriptor
	descriptor.SRS = r.target

	return &initializedVectorReprojection{
		descriptor: descriptor,
		forward:    forward,
		inverse:    inverse,
		source:     source,
	}, nil
}

type initializedVectorReprojection struct {
	descriptor engine.VectorResultDescriptor
	forward    *proj.Projection
	inverse    *proj.Projection
	source     engine.InitializedVectorOperator
}

func (r *initializedVectorReprojection) ResultDescriptor() engine.VectorResultDescriptor {
	return r.descriptor
}

func (r *initializedVectorReprojection) QueryProcessor() (engine.VectorQueryProcessor, error) {
	source, err := r.source.QueryProcessor()
	if err != nil {
		return nil, err
	}
	return &vectorReprojectionProcessor{
		descriptor: r.descriptor,
		forward:    r.forward,
		inverse:    r.inverse,
		source:     source,
	}, nil
}

type vectorReprojectionProcessor struct {
	descriptor engine.VectorResultDescriptor
	forward    *proj.Projection
	inverse    *proj.Projection
	source     engine.VectorQueryProcessor
}

// VectorQuery implements engine.VectorQueryProcessor. The rectangle is
// rewritten into the source system; returned features are projected forward
// and clipped to the requested box.
func (p *vectorReprojectionProcessor) VectorQuery(ctx context.Context, rect geo.QueryRectangle, qctx *engine.QueryContext) (engine.CollectionIterator, error) {
	srcBBox, err := p.inverse.ProjectBoundingBox(rect.BBox())
	if err != nil {
		// Nothing of the query is projectable into the source system, so
		// nothing can match; the schema still travels.
		empty, buildErr := features.NewEmptyCollection(p.descriptor.DataType, p.descriptor.SRS, p.descriptor.Columns)
		if buildErr != nil {
			return nil, buildErr
		}
		return engine.NewSliceIterator([]*features.Collection{empty}), nil
	}
	srcResolution, err := p.inverse.SuggestPixelSize(rect.BBox(), rect.Resolution())
	if err != nil {
		return nil, err
	}

	source, err := p.source.VectorQuery(ctx, rect.WithBBox(srcBBox).WithResolution(srcResolution), qctx)
	if err != nil {
		return nil, err
	}

	targetBBox := rect.BBox()
	return engine.NewMappedIterator(source, func(_ context.Context, chunk *features.Collection) (*features.Collection, error) {
		return p.projectChunk(chunk, targetBBox)
	}), nil
}

// projectChunk rebuilds one chunk with projected geometries, dropping
// features that land entirely outside the target query box. The source box
// is the envelope of the query's inverse image and may cover more.
func (p *vectorReprojectionProcessor) projectChunk(chunk *features.Collection, targetBBox geo.BoundingBox2D) (*features.Collection, error) {
	builder := features.NewCollectionBuilder(chunk.DataType(), p.descriptor.SRS)
	names := chunk.ColumnNames()
	types := chunk.ColumnTypes()
	for _, name := range names {
		builder.AddColumn(name, types[name])
	}

	for i := 0; i < chunk.Len(); i++ {
		geometry := chunk.GeometryAt(i)
		if geometry != nil {
			projected, err := projectGeometry(p.forward, geometry)
			if err != nil {
				return nil, fmt.Errorf("reprojecting feature %d: %w", i, err)
			}
			if !touchesBox(projected, targetBBox) {
				continue
			}
			geometry = projected
		}
		values := make(map[string]any, len(names))
		for _, name := range names {
			values[name] = chunk.Column(name).ValueAt(i)
		}
		builder.AppendFeature(geometry, chunk.TimeAt(i), values)
	}
	return builder.Build()
}

// projectGeometry maps every coordinate of a normalized geometry.
func projectGeometry(p *proj.Projection, g geom.Geometry) (geom.Geometry, error) {
	projectPoint := func(pt [2]float64) ([2]float64, error) {
		c, err := p.ProjectCoordinate(geo.NewCoordinate2D(pt[0], pt[1]))
		if err != nil {
			return [2]float64{}, err
		}
		return [2]float64{c.X, c.Y}, nil
	}

	switch x := g.(type) {
	case geom.MultiPoint:
		out := make(geom.MultiPoint, len(x))
		for i, pt := range x {
			projected, err := projectPoint(pt)
			if err != nil {
				return nil, err
			}
			out[i] = projected
		}
		return out, nil
	case geom.MultiLineString:
		out := make(geom.MultiLineString, len(x))
		for i, line := range x {
			outLine := make([][2]float64, len(line))
			for j, pt := range line {
				projected, err := projectPoint(pt)
				if err != nil {
					return nil, err
				}
				outLine[j] = projected
			}
			out[i] = outLine
		}
		return out, nil
	case geom.MultiPolygon:
		out := make(geom.MultiPolygon, len(x))
		for i, poly := range x {
			outPoly := make([][][2]float64, len(poly))
			for j, ring := range poly {
				outRing := make([][2]float64, len(ring))
				for k, pt := range ring {
					projected, err := projectPoint(pt)
					if err != nil {
						return nil, err
					}
					outRing[k] = projected
				}
				outPoly[j] = outRing
			}
			out[i] = outPoly
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot reproject geometry %T", g)
	}
}

// touchesBox reports whether any coordinate of the geometry lies in bbox.
func touchesBox(g geom.Geometry, bbox geo.BoundingBox2D) bool {
	for _, c := range features.GeometryCoordinates(g) {
		if bbox.Contains(c) {
			return true
		}
	}
	return false
}
