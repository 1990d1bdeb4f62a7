package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/2younis/geoengine/internal/concurrency"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/logger"
	"github.com/2younis/geoengine/pkg/raster"
)

// TileCache caches computed source tiles across queries. Keys already
// encode everything that makes a tile unique; the fixed global grid is what
// makes cached tiles reusable between overlapping queries. Implementations
// must be safe for concurrent use and may evict at will.
type TileCache interface {
	GetTile(ctx context.Context, key string) (raster.Tile, bool, error)
	PutTile(ctx context.Context, key string, tile raster.Tile) error
}

// metadataCacheEntries bounds the execution context's metadata cache.
const metadataCacheEntries = 1024

// ExecutionContext owns the shared resources operators bind to during
// initialization: the worker pool, the tiling specification, cached dataset
// metadata, the optional tile cache and scratch space. One execution
// context serves many queries; ForQuery derives a per-query view.
type ExecutionContext struct {
	log       logger.Logger
	pool      *concurrency.WorkerPool
	tiling    TilingSpecification
	metadata  MetadataProvider
	tileCache TileCache
	scratch   *ScratchSpace

	reprojector func(target geo.SpatialReference, source RasterOperator) (RasterOperator, error)

	// metadataCache is the cache wrapped around the configured provider,
	// owned by the context.
	metadataCache *CachedMetadataProvider

	queryID  string
	initMemo map[any]any
}

// ExecutionContextOption configures NewExecutionContext.
type ExecutionContextOption func(*ExecutionContext)

// WithLogger sets the logger; the default is the noop logger.
func WithLogger(l logger.Logger) ExecutionContextOption {
	return func(e *ExecutionContext) { e.log = l }
}

// WithWorkerPool sets the shared worker pool; the default is a pool sized
// to the number of CPUs. The execution context takes ownership either way.
func WithWorkerPool(p *concurrency.WorkerPool) ExecutionContextOption {
	return func(e *ExecutionContext) { e.pool = p }
}

// WithTilingSpecification sets the global grid; the default anchors 512x512
// tiles at the coordinate origin.
func WithTilingSpecification(t TilingSpecification) ExecutionContextOption {
	return func(e *ExecutionContext) { e.tiling = t }
}

// WithMetadataProvider sets the dataset catalog. The context caches its
// lookups; the default provider knows no datasets.
func WithMetadataProvider(m MetadataProvider) ExecutionContextOption {
	return func(e *ExecutionContext) { e.metadata = m }
}

// WithTileCache enables tile caching for source operators. Without it every
// query reads from the sources again.
func WithTileCache(c TileCache) ExecutionContextOption {
	return func(e *ExecutionContext) { e.tileCache = c }
}

// WithRasterReprojector installs the factory used to wrap raster sources in
// an implicit reprojection when sibling reference systems disagree. Without
// it such graphs fail to initialize.
func WithRasterReprojector(fn func(target geo.SpatialReference, source RasterOperator) (RasterOperator, error)) ExecutionContextOption {
	return func(e *ExecutionContext) { e.reprojector = fn }
}

// WithScratchSpace sets the scratch directory root; without it a temporary
// directory is created on first use.
func WithScratchSpace(s *ScratchSpace) ExecutionContextOption {
	return func(e *ExecutionContext) { e.scratch = s }
}

// NewExecutionContext builds an execution context and wraps the metadata
// provider with the write-once cache.
func NewExecutionContext(opts ...ExecutionContextOption) (*ExecutionContext, error) {
	e := &ExecutionContext{
		log:    logger.NewNoopLogger(),
		tiling: DefaultTilingSpecification(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.tiling.Validate(); err != nil {
		return nil, err
	}
	if e.pool == nil {
		e.pool = concurrency.NewWorkerPool(0)
	}
	if e.metadata == nil {
		e.metadata = NewStaticCatalog()
	}
	cached, err := NewCachedMetadataProvider(e.metadata, metadataCacheEntries)
	if err != nil {
		return nil, err
	}
	e.metadata = cached
	e.metadataCache = cached
	return e, nil
}

// Logger returns the context's logger, scoped to the query after ForQuery.
func (e *ExecutionContext) Logger() logger.Logger { return e.log }

// Pool returns the shared worker pool.
func (e *ExecutionContext) Pool() *concurrency.WorkerPool { return e.pool }

// Tiling returns the global grid specification.
func (e *ExecutionContext) Tiling() TilingSpecification { return e.tiling }

// Metadata returns the cached dataset catalog.
func (e *ExecutionContext) Metadata() MetadataProvider { return e.metadata }

// TileCache returns the tile cache, or nil when caching is disabled.
func (e *ExecutionContext) TileCache() TileCache { return e.tileCache }

// QueryID returns the identifier of the running query, empty on the base
// context.
func (e *ExecutionContext) QueryID() string { return e.queryID }

// Scratch returns the scratch space, creating a temporary one on first use.
func (e *ExecutionContext) Scratch() (*ScratchSpace, error) {
	if e.scratch == nil {
		s, err := NewTempScratchSpace()
		if err != nil {
			return nil, err
		}
		e.scratch = s
	}
	return e.scratch, nil
}

// ForQuery derives the per-query view: a scoped logger and a fresh
// initialization memo, sharing pool, tiling, metadata and caches.
func (e *ExecutionContext) ForQuery(queryID string) *ExecutionContext {
	derived := *e
	derived.queryID = queryID
	derived.log = e.log.With(zap.String("query_id", queryID))
	derived.initMemo = make(map[any]any)
	return &derived
}

// Close releases the resources the context owns: it drains the worker
// pool, stops the metadata cache and removes owned scratch space. The
// context must not be used afterwards.
func (e *ExecutionContext) Close() error {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.metadataCache != nil {
		e.metadataCache.Close()
	}
	if e.scratch != nil {
		return e.scratch.Close()
	}
	return nil
}

func (e *ExecutionContext) memoizedInit(op any) (any, bool) {
	if e.initMemo == nil {
		return nil, false
	}
	init, ok := e.initMemo[op]
	return init, ok
}

func (e *ExecutionContext) storeInit(op, init any) {
	if e.initMemo == nil {
		return
	}
	e.initMemo[op] = init
}

func (e *ExecutionContext) reprojectRasterSource(target geo.SpatialReference, source RasterOperator) (RasterOperator, error) {
	if e.reprojector == nil {
		return nil, fmt.Errorf("no reprojection factory configured")
	}
	return e.reprojector(target, source)
}

// ScratchSpace manages temporary working directories. Each query acquires
// its own subdirectory and releases it when its stream ends; the space
// removes its root on Close only when it created the root itself.
type ScratchSpace struct {
	root  string
	owned bool
}

// NewScratchSpace roots scratch directories at dir, creating it if needed.
// The caller keeps ownership of dir.
func NewScratchSpace(dir string) (*ScratchSpace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, NewIoError("creating scratch root", err)
	}
	return &ScratchSpace{root: dir}, nil
}

// NewTempScratchSpace roots scratch directories in a fresh temporary
// directory that Close removes.
func NewTempScratchSpace() (*ScratchSpace, error) {
	dir, err := os.MkdirTemp("", "geoengine-scratch-")
	if err != nil {
		return nil, NewIoError("creating scratch root", err)
	}
	return &ScratchSpace{root: dir, owned: true}, nil
}

// Root returns the root directory.
func (s *ScratchSpace) Root() string { return s.root }

// PerQuery creates a working directory for one query. The returned release
// function removes it and is safe to call more than once.
func (s *ScratchSpace) PerQuery(queryID string) (string, func(), error) {
	dir, err := os.MkdirTemp(s.root, filepath.Clean(queryID)+"-")
	if err != nil {
		return "", nil, NewIoError("creating query scratch directory", err)
	}
	release := func() { _ = os.RemoveAll(dir) }
	return dir, release, nil
}

// Close removes the root if this space created it.
func (s *ScratchSpace) Close() error {
	if !s.owned {
		return nil
	}
	if err := os.RemoveAll(s.root); err != nil {
		return NewIoError("removing scratch root", err)
	}
	return nil
}
