// Package plot holds the operators that reduce a query to a one-shot plot
// document instead of a stream.
package plot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/workflow"
)

// HistogramTag is the registry type tag of the histogram operator.
const HistogramTag = "Histogram"

// HistogramBounds select the value range of a histogram: either derived
// from the queried data or fixed up front. In workflow documents the bounds
// are the string "data" or an object with min and max.
type HistogramBounds struct {
	Data bool
	Min  float64
	Max  float64
}

// DataBounds derives the range from the data.
func DataBounds() HistogramBounds { return HistogramBounds{Data: true} }

// FixedBounds uses the given range; values outside it are not counted.
func FixedBounds(min, max float64) HistogramBounds {
	return HistogramBounds{Min: min, Max: max}
}

func (b *HistogramBounds) UnmarshalJSON(data []byte) error {
	var kind string
	if err := json.Unmarshal(data, &kind); err == nil {
		if kind != "data" {
			return fmt.Errorf(`histogram bounds must be "data" or an object with min and max, got %q`, kind)
		}
		*b = DataBounds()
		return nil
	}
	var fixed struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	}
	if err := json.Unmarshal(data, &fixed); err != nil {
		return fmt.Errorf("invalid histogram bounds: %w", err)
	}
	if fixed.Min == nil || fixed.Max == nil {
		return fmt.Errorf("histogram bounds need both min and max")
	}
	*b = FixedBounds(*fixed.Min, *fixed.Max)
	return nil
}

func (b HistogramBounds) MarshalJSON() ([]byte, error) {
	if b.Data {
		return json.Marshal("data")
	}
	return json.Marshal(struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	}{b.Min, b.Max})
}

// HistogramParams configure a histogram operator.
type HistogramParams struct {
	// ColumnName selects the attribute to count for vector sources. Raster
	// sources count their samples and take no column.
	ColumnName string `json:"columnName,omitempty"`
	// Bounds default to data-derived when absent.
	Bounds *HistogramBounds `json:"bounds,omitempty"`
	// Buckets defaults to the square-root rule when absent.
	Buckets *int `json:"buckets,omitempty"`
}

func (p HistogramParams) bounds() HistogramBounds {
	if p.Bounds == nil {
		return DataBounds()
	}
	return *p.Bounds
}

// Histogram counts the valid samples of a raster stream, or one numeric
// attribute of a vector stream, into equal-width buckets.
type Histogram struct {
	params HistogramParams
	source engine.Operator
}

// NewHistogram builds a histogram over a raster or vector source.
func NewHistogram(params HistogramParams, source engine.Operator) (*Histogram, error) {
	switch source.Kind() {
	case workflow.KindRaster:
		if params.ColumnName != "" {
			return nil, fmt.Errorf("%s: column name only applies to vector sources", HistogramTag)
		}
	case workflow.KindVector:
		if params.ColumnName == "" {
			return nil, fmt.Errorf("%s over a vector source needs a column name", HistogramTag)
		}
	default:
		return nil, fmt.Errorf("%s takes a raster or vector source, got %s", HistogramTag, source.Kind())
	}
	if params.Buckets != nil && *params.Buckets < 1 {
		return nil, fmt.Errorf("%s needs at least one bucket, got %d", HistogramTag, *params.Buckets)
	}
	if b := params.bounds(); !b.Data && b.Min > b.Max {
		return nil, fmt.Errorf("%s bounds are inverted: min %g > max %g", HistogramTag, b.Min, b.Max)
	}
	return &Histogram{params: params, source: source}, nil
}

// BuildHistogram is the registry build function for Histogram.
func BuildHistogram(params json.RawMessage, sources []engine.Operator) (engine.Operator, error) {
	if len(sources) != 1 {
		return engine.Operator{}, fmt.Errorf("%s takes exactly one source, got %d", HistogramTag, len(sources))
	}
	var p HistogramParams
	if err := engine.DecodeParams(params, &p); err != nil {
		return engine.Operator{}, err
	}
	op, err := NewHistogram(p, sources[0])
	if err != nil {
		return engine.Operator{}, err
	}
	return engine.NewPlotNode(op), nil
}

// Name implements engine.PlotOperator.
func (h *Histogram) Name() string { return HistogramTag }

// InitializePlot implements engine.PlotOperator.
func (h *Histogram) InitializePlot(ctx context.Context, ectx *engine.ExecutionContext) (engine.InitializedPlotOperator, error) {
	init := &initializedHistogram{params: h.params}

	switch h.source.Kind() {
	case workflow.KindRaster:
		source, err := h.source.Raster()
		if err != nil {
			return nil, err
		}
		init.raster, err = engine.InitializeRaster(ctx, ectx, source)
		if err != nil {
			return nil, err
		}
	case workflow.KindVector:
		source, err := h.source.Vector()
		if err != nil {
			return nil, err
		}
		vector, err := engine.InitializeVector(ctx, ectx, source)
		if err != nil {
			return nil, err
		}
		columnType, ok := vector.ResultDescriptor().Columns[h.params.ColumnName]
		if !ok {
			return nil, engine.NewInitializationError(HistogramTag,
				fmt.Errorf("source has no column %q", h.params.ColumnName))
		}
		if columnType != features.ColumnTypeInt && columnType != features.ColumnTypeFloat {
			return nil, engine.NewInitializationError(HistogramTag,
				fmt.Errorf("column %q is %s, histograms need a numeric column", h.params.ColumnName, columnType))
		}
		init.vector = vector
		init.columnType = columnType
	}
	return init, nil
}

type initializedHistogram struct {
	params     HistogramParams
	raster     engine.InitializedRasterOperator
	vector     engine.InitializedVectorOperator
	columnType features.ColumnType
}

func (h *initializedHistogram) ResultDescriptor() engine.PlotResultDescriptor {
	return engine.PlotResultDescriptor{}
}

func (h *initializedHistogram) QueryProcessor() (engine.PlotQueryProcessor, error) {
	p := &histogramProcessor{params: h.params, columnType: h.columnType}
	var err error
	if h.raster != nil {
		p.raster, err = h.raster.QueryProcessor()
	} else {
		p.vector, err = h.vector.QueryProcessor()
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

type histogramProcessor struct {
	params     HistogramParams
	raster     engine.RasterQueryProcessor
	vector     engine.VectorQueryProcessor
	columnType features.ColumnType
}

// histogramDocument is the payload behind PlotData.
type histogramDocument struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Counts []int64 `json:"counts"`
}

// PlotQuery implements engine.PlotQueryProcessor. The source stream is
// drained into memory first; bucket boundaries depend on the data when the
// bounds do.
func (p *histogramProcessor) PlotQuery(ctx context.Context, rect geo.QueryRectangle, qctx *engine.QueryContext) (*engine.PlotData, error) {
	var samples []float64
	var err error
	if p.raster != nil {
		samples, err = p.rasterSamples(ctx, rect, qctx)
	} else {
		samples, err = p.vectorSamples(ctx, rect, qctx)
	}
	if err != nil {
		return nil, err
	}

	bounds := p.params.bounds()
	min, max := bounds.Min, bounds.Max
	if bounds.Data {
		if len(samples) == 0 {
			return nil, engine.NewUnsupportedOperationError(HistogramTag,
				"cannot derive bounds from a result without valid values")
		}
		min, max = floats.Min(samples), floats.Max(samples)
	} else {
		kept := samples[:0]
		for _, v := range samples {
			if v >= min && v <= max {
				kept = append(kept, v)
			}
		}
		samples = kept
	}

	buckets := p.bucketCount(len(samples))
	counts := make([]int64, buckets)
	if len(samples) > 0 {
		sort.Float64s(samples)
		// The upper divider is nudged past max so the maximum itself is
		// counted in the last bucket.
		dividers := floats.Span(make([]float64, buckets+1), min, math.Nextafter(max, math.Inf(1)))
		for i, c := range stat.Histogram(make([]float64, buckets), dividers, samples, nil) {
			counts[i] = int64(c)
		}
	}

	payload, err := json.Marshal(histogramDocument{Min: min, Max: max, Counts: counts})
	if err != nil {
		return nil, err
	}
	return &engine.PlotData{Kind: "histogram", Data: payload}, nil
}

// bucketCount applies the square-root rule when no count is configured.
func (p *histogramProcessor) bucketCount(n int) int {
	if p.params.Buckets != nil {
		return *p.params.Buckets
	}
	buckets := int(math.Ceil(math.Sqrt(float64(n))))
	if buckets < 1 {
		buckets = 1
	}
	return buckets
}

func (p *histogramProcessor) rasterSamples(ctx context.Context, rect geo.QueryRectangle, qctx *engine.QueryContext) ([]float64, error) {
	tiles, err := p.raster.RasterQuery(ctx, rect, qctx)
	if err != nil {
		return nil, err
	}
	defer tiles.Stop()

	var samples []float64
	for {
		tile, err := tiles.Next(ctx)
		if errors.Is(err, engine.ErrIteratorDone) {
			return samples, nil
		}
		if err != nil {
			return nil, err
		}
		for i := 0; i < tile.Grid.Len(); i++ {
			if v, ok := tile.Grid.SampleFloat(i); ok {
				samples = append(samples, v)
			}
		}
	}
}

func (p *histogramProcessor) vectorSamples(ctx context.Context, rect geo.QueryRectangle, qctx *engine.QueryContext) ([]float64, error) {
	chunks, err := p.vector.VectorQuery(ctx, rect, qctx)
	if err != nil {
		return nil, err
	}
	defer chunks.Stop()

	var samples []float64
	for {
		chunk, err := chunks.Next(ctx)
		if errors.Is(err, engine.ErrIteratorDone) {
			return samples, nil
		}
		if err != nil {
			return nil, err
		}
		column := chunk.Column(p.params.ColumnName)
		for i := 0; i < chunk.Len(); i++ {
			if p.columnType == features.ColumnTypeInt {
				if v, ok := column.IntAt(i); ok {
					samples = append(samples, float64(v))
				}
			} else if v, ok := column.FloatAt(i); ok {
				samples = append(samples, v)
			}
		}
	}
}
