// Package dataset provides the raster source that serves stored datasets:
// flat binary grids located by catalog metadata, one file per band and time
// slice, resampled onto the query grid with nearest-neighbor lookups.
// Missing parts do not fail a query; their tiles come back as no-data.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/2younis/geoengine/internal/adapters"
	"github.com/2younis/geoengine/internal/tilecache"
	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/logger"
	"github.com/2younis/geoengine/pkg/raster"
	"github.com/2younis/geoengine/pkg/retryablehttp"
)

// SourceTag is the registry type tag of the dataset raster source.
const SourceTag = "DatasetSource"

// SourceParams select one band of a cataloged raster dataset.
type SourceParams struct {
	Dataset uuid.UUID `json:"dataset"`
	Band    int       `json:"band"`
}

// Source reads one band of a stored raster dataset.
type Source struct {
	params SourceParams
}

// NewSource validates the parameters and builds the operator. The dataset
// itself is resolved against the catalog at initialization.
func NewSource(params SourceParams) (*Source, error) {
	if params.Dataset == uuid.Nil {
		return nil, fmt.Errorf("%s requires a dataset id", SourceTag)
	}
	if params.Band < 0 {
		return nil, fmt.Errorf("%s band must not be negative, got %d", SourceTag, params.Band)
	}
	return &Source{params: params}, nil
}

// BuildSource is the registry build function for DatasetSource.
func BuildSource(params json.RawMessage, sources []engine.Operator) (engine.Operator, error) {
	if len(sources) != 0 {
		return engine.Operator{}, fmt.Errorf("%s takes no sources, got %d", SourceTag, len(sources))
	}
	var p SourceParams
	if err := engine.DecodeParams(params, &p); err != nil {
		return engine.Operator{}, err
	}
	op, err := NewSource(p)
	if err != nil {
		return engine.Operator{}, err
	}
	return engine.NewRasterNode(op), nil
}

// Name implements engine.RasterOperator.
func (s *Source) Name() string { return SourceTag }

// InitializeRaster implements engine.RasterOperator. It resolves the
// dataset against the execution context's catalog and derives the band's
// result descriptor.
func (s *Source) InitializeRaster(ctx context.Context, ectx *engine.ExecutionContext) (engine.InitializedRasterOperator, error) {
	meta, err := ectx.Metadata().RasterMetadata(ctx, s.params.Dataset)
	if err != nil {
		return nil, engine.NewInitializationError(SourceTag, err)
	}
	descriptor, err := meta.DescriptorForBand(s.params.Band)
	if err != nil {
		return nil, engine.NewInitializationError(SourceTag, err)
	}
	scratch, err := ectx.Scratch()
	if err != nil {
		return nil, engine.NewInitializationError(SourceTag, err)
	}
	return &initializedSource{
		descriptor: descriptor,
		meta:       meta,
		dataset:    s.params.Dataset,
		band:       s.params.Band,
		tiling:     ectx.Tiling(),
		cache:      ectx.TileCache(),
		scratch:    scratch,
		queryID:    ectx.QueryID(),
		log: ectx.Logger().With(
			zap.String("operator", SourceTag),
			zap.String("dataset", s.params.Dataset.String())),
	}, nil
}

type initializedSource struct {
	descriptor engine.RasterResultDescriptor
	meta       *engine.RasterDatasetMetadata
	dataset    uuid.UUID
	band       int
	tiling     engine.TilingSpecification
	cache      engine.TileCache
	scratch    *engine.ScratchSpace
	queryID    string
	log        logger.Logger
}

func (s *initializedSource) ResultDescriptor() engine.RasterResultDescriptor {
	return s.descriptor
}

func (s *initializedSource) QueryProcessor() (engine.RasterQueryProcessor, error) {
	return &sourceProcessor{
		meta:    s.meta,
		dataset: s.dataset,
		band:    s.band,
		tiling:  s.tiling,
		cache:   s.cache,
		scratch: s.scratch,
		queryID: s.queryID,
		client:  retryablehttp.NewClient(),
		log:     s.log,
	}, nil
}

type sourceProcessor struct {
	meta    *engine.RasterDatasetMetadata
	dataset uuid.UUID
	band    int
	tiling  engine.TilingSpecification
	cache   engine.TileCache
	scratch *engine.ScratchSpace
	queryID string
	client  *retryablehttp.Client
	log     logger.Logger
}

// RasterQuery implements engine.RasterQueryProcessor. The stream enumerates
// the intersecting time slices over the query's tile grid; parts the stream
// cannot find are filled with no-data tiles.
func (p *sourceProcessor) RasterQuery(_ context.Context, rect geo.QueryRectangle, _ *engine.QueryContext) (engine.TileIterator, error) {
	var slices []engine.RasterSliceMetadata
	for _, slice := range p.meta.Slices {
		if slice.Time.Intersects(rect.Time()) {
			slices = append(slices, slice)
		}
	}
	if len(slices) == 0 {
		return engine.NewEmptyIterator[raster.Tile](), nil
	}

	band := p.meta.Bands[p.band]
	strategy := p.tiling.Strategy(rect.Resolution())
	grid := strategy.TileGrid(rect.BBox())

	dir, release, err := p.scratch.PerQuery(p.queryID)
	if err != nil {
		return nil, err
	}

	stream := &sourceStream{
		slices:     slices,
		band:       band,
		bandIdx:    p.band,
		dataset:    p.dataset,
		strategy:   strategy,
		grid:       grid,
		resolution: rect.Resolution(),
		cache:      p.cache,
		handles:    newHandleSet(),
		fetch:      &fetcher{client: p.client, dir: dir, log: p.log},
		release:    release,
		log:        p.log,
	}

	sliceTimes := make([]geo.TimeInterval, len(slices))
	for i, slice := range slices {
		sliceTimes[i] = slice.Time
	}
	fill := func(position geo.GridIdx2D, time geo.TimeInterval) (raster.Tile, error) {
		fillGrid, err := noDataGrid(band.DataType, strategy.TileShape(), band.NoData)
		if err != nil {
			return raster.Tile{}, err
		}
		return raster.NewTile(position, time, strategy.GeoTransform(), fillGrid), nil
	}
	return adapters.NewSparseFill(stream, sliceTimes, grid, fill), nil
}

// sourceStream emits one tile per (slice, position) pair it can read,
// skipping pairs whose part is missing.
type sourceStream struct {
	slices     []engine.RasterSliceMetadata
	band       engine.RasterBandMetadata
	bandIdx    int
	dataset    uuid.UUID
	strategy   engine.TilingStrategy
	grid       engine.TileGrid
	resolution geo.SpatialResolution
	cache      engine.TileCache
	handles    *handleSet
	fetch      *fetcher
	release    func()
	log        logger.Logger

	sliceIdx int
	tileIdx  int64
	failed   error
}

func (s *sourceStream) Next(ctx context.Context) (raster.Tile, error) {
	if s.failed != nil {
		return raster.Tile{}, s.failed
	}
	for {
		if err := ctx.Err(); err != nil {
			return raster.Tile{}, s.fail(err)
		}
		if s.sliceIdx >= len(s.slices) {
			return raster.Tile{}, s.fail(engine.ErrIteratorDone)
		}
		slice := s.slices[s.sliceIdx]
		position := s.grid.PositionAt(s.tileIdx)
		s.advance()

		tile, ok, err := s.tileFor(ctx, slice, position)
		if err != nil {
			return raster.Tile{}, s.fail(engine.NewTileComputationError(SourceTag, position, slice.Time, err))
		}
		if !ok {
			continue
		}
		return tile, nil
	}
}

func (s *sourceStream) advance() {
	s.tileIdx++
	if s.tileIdx >= s.grid.NumTiles() {
		s.tileIdx = 0
		s.sliceIdx++
	}
}

func (s *sourceStream) fail(err error) error {
	s.failed = err
	s.release()
	return err
}

// Stop releases the stream's scratch directory and latches the stream.
func (s *sourceStream) Stop() {
	s.release()
	if s.failed == nil {
		s.failed = engine.ErrIteratorDone
	}
}

// tileFor loads one tile, consulting the tile cache first. A degraded
// cache downgrades to a miss instead of failing the query.
func (s *sourceStream) tileFor(ctx context.Context, slice engine.RasterSliceMetadata, position geo.GridIdx2D) (raster.Tile, bool, error) {
	key := tilecache.Key(s.dataset, s.bandIdx, s.resolution, position, slice.Time)
	if s.cache != nil {
		tile, ok, err := s.cache.GetTile(ctx, key)
		if err != nil {
			s.log.Warn("tile cache lookup failed", zap.Error(err))
		} else if ok {
			return tile, true, nil
		}
	}

	raw, err := s.handles.handle(slice.Locations[s.bandIdx]).bytes(ctx, s.fetch)
	if errors.Is(err, ErrPartMissing) {
		return raster.Tile{}, false, nil
	}
	if err != nil {
		return raster.Tile{}, false, err
	}

	tile, err := s.resample(raw, slice, position)
	if err != nil {
		return raster.Tile{}, false, err
	}
	if s.cache != nil {
		if err := s.cache.PutTile(ctx, key, tile); err != nil {
			s.log.Warn("tile cache store failed", zap.Error(err))
		}
	}
	return tile, true, nil
}

// resample fills one output tile by nearest-neighbor lookup: every output
// pixel center is mapped through the part's native geo transform and takes
// the sample of the source pixel it lands in.
func (s *sourceStream) resample(raw []byte, slice engine.RasterSliceMetadata, position geo.GridIdx2D) (raster.Tile, error) {
	dataType := s.band.DataType
	if want := slice.Shape.NumElements() * dataType.ByteSize(); len(raw) != want {
		return raster.Tile{}, fmt.Errorf("grid part %s holds %d bytes, a %s grid of %s needs %d",
			slice.Locations[s.bandIdx], len(raw), slice.Shape, dataType, want)
	}

	shape := s.strategy.TileShape()
	samples := make([]float64, shape.NumElements())
	valid := make([]bool, len(samples))
	allValid := true
	for y := 0; y < shape.Height; y++ {
		for x := 0; x < shape.Width; x++ {
			i := shape.LinearIndex(y, x)
			src := slice.GeoTransform.CoordinateToPixelFloor(s.strategy.PixelCoordinate(position, y, x))
			if !slice.Shape.Contains(int(src.Y), int(src.X)) {
				allValid = false
				continue
			}
			v := sampleAt(raw, dataType, slice.Shape.LinearIndex(int(src.Y), int(src.X)))
			samples[i] = v
			if s.isValid(v) {
				valid[i] = true
			} else {
				allValid = false
			}
		}
	}

	grid, err := s.materialize(shape, samples, valid, allValid)
	if err != nil {
		return raster.Tile{}, err
	}
	return raster.NewTile(position, slice.Time, s.strategy.GeoTransform(), grid), nil
}

func (s *sourceStream) isValid(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	return s.band.NoData == nil || v != *s.band.NoData
}

// materialize picks the sentinel for the output grid. Bands without a
// declared no-data value use NaN for float types; integral grids stay dense
// when every pixel is valid and otherwise fall back to zero, the stored
// convention for sentinel-less integral data.
func (s *sourceStream) materialize(shape geo.GridShape2D, samples []float64, valid []bool, allValid bool) (raster.GridData, error) {
	dataType := s.band.DataType
	switch {
	case s.band.NoData != nil:
		return raster.MaterializeGrid(dataType, shape, samples, valid, *s.band.NoData)
	case dataType.IsFloat():
		return raster.MaterializeGrid(dataType, shape, samples, valid, math.NaN())
	case allValid:
		return raster.MaterializeDenseGrid(dataType, shape, samples)
	default:
		return raster.MaterializeGrid(dataType, shape, samples, valid, 0)
	}
}

// noDataGrid builds a fully invalid tile grid for a missing part.
func noDataGrid(dataType raster.DataType, shape geo.GridShape2D, noData *float64) (raster.GridData, error) {
	sentinel := sentinelFor(dataType, noData)
	samples := make([]float64, shape.NumElements())
	for i := range samples {
		samples[i] = sentinel
	}
	return raster.MaterializeGrid(dataType, shape, samples, make([]bool, len(samples)), sentinel)
}

func sentinelFor(dataType raster.DataType, noData *float64) float64 {
	switch {
	case noData != nil:
		return *noData
	case dataType.IsFloat():
		return math.NaN()
	default:
		return 0
	}
}
