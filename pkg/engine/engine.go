package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/raster"
	"github.com/2younis/geoengine/pkg/workflow"
)

var tracer = otel.Tracer("geoengine/pkg/engine")

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoengine",
		Name:      "queries_total",
		Help:      "Number of executed queries by result kind and terminal status.",
	}, []string{"kind", "status"})

	queryDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoengine",
		Name:      "query_duration_seconds",
		Help:      "Wall time from Execute until the result stream ended.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"kind"})
)

var (
	queryIDMutex   sync.Mutex
	queryIDEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newQueryID returns a fresh ULID identifying one query execution.
func newQueryID() string {
	queryIDMutex.Lock()
	defer queryIDMutex.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), queryIDEntropy).String()
}

// Engine executes workflows: it builds operator graphs through its
// registry, initializes them against its execution context and runs
// queries. One engine serves many concurrent queries; Close shuts it down
// after the last stream is drained.
type Engine struct {
	registry *Registry
	ectx     *ExecutionContext
}

// New assembles an engine from a registry and an execution context. The
// engine takes ownership of the context.
func New(registry *Registry, ectx *ExecutionContext) *Engine {
	return &Engine{registry: registry, ectx: ectx}
}

// ExecutionContext exposes the engine's base context, mainly for tests and
// the command line runner.
func (e *Engine) ExecutionContext() *ExecutionContext { return e.ectx }

// Close releases the engine's resources.
func (e *Engine) Close() error { return e.ectx.Close() }

// RasterResult is a running raster query: the descriptor promised by
// initialization and the ordered tile stream.
type RasterResult struct {
	Descriptor RasterResultDescriptor
	Tiles      TileIterator
}

// VectorResult is a running vector query.
type VectorResult struct {
	Descriptor  VectorResultDescriptor
	Collections CollectionIterator
}

// PlotResult is a finished plot query.
type PlotResult struct {
	Descriptor PlotResultDescriptor
	Data       *PlotData
}

// Result is the outcome of Execute: the query identifier, the result kind
// and exactly one populated variant.
type Result struct {
	QueryID string
	Kind    workflow.Kind

	Raster *RasterResult
	Vector *VectorResult
	Plot   *PlotResult
}

// instrumentedStream finishes the query's span and metrics when the stream
// ends, labeling by how it ended.
type instrumentedStream[T any] struct {
	inner  Iterator[T]
	finish func(status string)
	once   sync.Once
}

func (s *instrumentedStream[T]) Next(ctx context.Context) (T, error) {
	item, err := s.inner.Next(ctx)
	switch {
	case err == nil:
		return item, nil
	case errors.Is(err, ErrIteratorDone):
		s.once.Do(func() { s.finish("ok") })
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		s.once.Do(func() { s.finish("canceled") })
	default:
		s.once.Do(func() { s.finish("error") })
	}
	return item, err
}

func (s *instrumentedStream[T]) Stop() {
	s.inner.Stop()
	s.once.Do(func() { s.finish("canceled") })
}

// ExecuteDocument parses a workflow document and executes it.
func (e *Engine) ExecuteDocument(ctx context.Context, doc []byte, rect geo.QueryRectangle, qctx *QueryContext) (*Result, error) {
	// Log the discriminants before strict parsing so malformed documents
	// still leave a trace of what they claimed to be.
	e.ectx.Logger().Debug("parsing workflow document",
		zap.String("workflow_kind", gjson.GetBytes(doc, "type").String()),
		zap.String("root_operator", gjson.GetBytes(doc, "operator.type").String()),
	)
	w, err := workflow.Parse(doc)
	if err != nil {
		return nil, NewInitializationError("workflow", err)
	}
	return e.Execute(ctx, w, rect, qctx)
}

// Execute runs a workflow against a query rectangle. Initialization errors
// surface here; runtime failures surface through the result stream. The
// caller must drain or stop the returned stream.
func (e *Engine) Execute(ctx context.Context, w *workflow.Workflow, rect geo.QueryRectangle, qctx *QueryContext) (*Result, error) {
	if qctx == nil {
		qctx = DefaultQueryContext()
	}
	queryID := newQueryID()
	ectx := e.ectx.ForQuery(queryID)
	log := ectx.Logger()

	ctx, span := tracer.Start(ctx, "engine.Execute", trace.WithAttributes(
		attribute.String("query_id", queryID),
		attribute.String("workflow_kind", string(w.Kind)),
	))

	start := time.Now()
	finish := func(status string) {
		queriesTotal.WithLabelValues(string(w.Kind), status).Inc()
		queryDurationSeconds.WithLabelValues(string(w.Kind)).Observe(time.Since(start).Seconds())
		span.End()
	}

	op, err := e.registry.Build(w.Operator)
	if err != nil {
		log.Error("building workflow failed", zap.Error(err))
		finish("error")
		return nil, err
	}
	if op.Kind() != w.Kind {
		err := NewInitializationError(w.Operator.Type, fmt.Errorf(
			"workflow declares kind %s but the root operator produces %s", w.Kind, op.Kind()))
		log.Error("building workflow failed", zap.Error(err))
		finish("error")
		return nil, err
	}

	log.Info("executing workflow",
		zap.String("workflow_kind", string(w.Kind)),
		zap.String("root_operator", w.Operator.Type),
		zap.String("query", rect.String()),
	)

	result := &Result{QueryID: queryID, Kind: w.Kind}
	switch w.Kind {
	case workflow.KindRaster:
		rasterOp, err := op.Raster()
		if err != nil {
			finish("error")
			return nil, err
		}
		init, err := InitializeRaster(ctx, ectx, rasterOp)
		if err != nil {
			log.Error("initialization failed", zap.Error(err))
			finish("error")
			return nil, err
		}
		proc, err := init.QueryProcessor()
		if err != nil {
			finish("error")
			return nil, err
		}
		tiles, err := proc.RasterQuery(ctx, rect, qctx)
		if err != nil {
			log.Error("starting raster query failed", zap.Error(err))
			finish("error")
			return nil, err
		}
		result.Raster = &RasterResult{
			Descriptor: init.ResultDescriptor(),
			Tiles: &instrumentedStream[raster.Tile]{inner: tiles, finish: func(status string) {
				finish(status)
				log.Info("raster query finished", zap.String("status", status))
			}},
		}
		return result, nil

	case workflow.KindVector:
		vectorOp, err := op.Vector()
		if err != nil {
			finish("error")
			return nil, err
		}
		init, err := InitializeVector(ctx, ectx, vectorOp)
		if err != nil {
			log.Error("initialization failed", zap.Error(err))
			finish("error")
			return nil, err
		}
		proc, err := init.QueryProcessor()
		if err != nil {
			finish("error")
			return nil, err
		}
		collections, err := proc.VectorQuery(ctx, rect, qctx)
		if err != nil {
			log.Error("starting vector query failed", zap.Error(err))
			finish("error")
			return nil, err
		}
		result.Vector = &VectorResult{
			Descriptor: init.ResultDescriptor(),
			Collections: &instrumentedStream[*features.Collection]{inner: collections, finish: func(status string) {
				finish(status)
				log.Info("vector query finished", zap.String("status", status))
			}},
		}
		return result, nil

	case workflow.KindPlot:
		plotOp, err := op.Plot()
		if err != nil {
			finish("error")
			return nil, err
		}
		init, err := InitializePlot(ctx, ectx, plotOp)
		if err != nil {
			log.Error("initialization failed", zap.Error(err))
			finish("error")
			return nil, err
		}
		proc, err := init.QueryProcessor()
		if err != nil {
			finish("error")
			return nil, err
		}
		data, err := proc.PlotQuery(ctx, rect, qctx)
		if err != nil {
			log.Error("plot query failed", zap.Error(err))
			finish("error")
			return nil, err
		}
		finish("ok")
		log.Info("plot query finished")
		result.Plot = &PlotResult{Descriptor: init.ResultDescriptor(), Data: data}
		return result, nil

	default:
		finish("error")
		return nil, NewInitializationError("workflow", fmt.Errorf("unknown workflow kind %q", w.Kind))
	}
}
