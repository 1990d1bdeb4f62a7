package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/go-spatial/geom"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
)

// FeatureCollectionSourceTag is the registry type tag of the mock vector
// source.
const FeatureCollectionSourceTag = "MockFeatureCollectionSource"

// Feature is one stored feature: a point, an optional validity interval
// (all of time when absent) and the attribute values.
type Feature struct {
	Point  [2]float64        `json:"point"`
	Time   *geo.TimeInterval `json:"time,omitempty"`
	Values map[string]any    `json:"values,omitempty"`
}

// FeatureCollectionSourceParams configure a mock vector source.
type FeatureCollectionSourceParams struct {
	SRS      geo.SpatialReference           `json:"spatialReference"`
	Columns  map[string]features.ColumnType `json:"columns,omitempty"`
	Features []Feature                      `json:"features"`
}

// FeatureCollectionSource serves the configured features as a MultiPoint
// collection, filtered by the query rectangle.
type FeatureCollectionSource struct {
	params FeatureCollectionSourceParams

	// all holds every configured feature; queries filter it.
	all *features.Collection
}

// NewFeatureCollectionSource validates the parameters, builds the full
// collection once and returns the operator.
func NewFeatureCollectionSource(params FeatureCollectionSourceParams) (*FeatureCollectionSource, error) {
	if params.SRS.IsZero() {
		return nil, fmt.Errorf("spatial reference is required")
	}

	builder := features.NewCollectionBuilder(features.VectorDataTypeMultiPoint, params.SRS)
	columns := make([]string, 0, len(params.Columns))
	for name := range params.Columns {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	for _, name := range columns {
		builder.AddColumn(name, params.Columns[name])
	}

	for i, f := range params.Features {
		time := geo.MaxTimeInterval
		if f.Time != nil {
			time = *f.Time
		}
		values, err := coerceValues(params.Columns, f.Values)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		builder.AppendFeature(geom.Point(f.Point), time, values)
	}

	all, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return &FeatureCollectionSource{params: params, all: all}, nil
}

// BuildFeatureCollectionSource is the registry build function for
// MockFeatureCollectionSource.
func BuildFeatureCollectionSource(params json.RawMessage, sources []engine.Operator) (engine.Operator, error) {
	if len(sources) != 0 {
		return engine.Operator{}, fmt.Errorf("%s takes no sources, got %d", FeatureCollectionSourceTag, len(sources))
	}
	var p FeatureCollectionSourceParams
	if err := engine.DecodeParams(params, &p); err != nil {
		return engine.Operator{}, err
	}
	op, err := NewFeatureCollectionSource(p)
	if err != nil {
		return engine.Operator{}, err
	}
	return engine.NewVectorNode(op), nil
}

// coerceValues aligns decoded JSON values with the declared column types:
// JSON numbers arrive as float64 and integral ones are converted for int
// columns. Type mismatches surface through the collection builder.
func coerceValues(columns map[string]features.ColumnType, values map[string]any) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(values))
	for name, v := range values {
		columnType, declared := columns[name]
		if !declared {
			return nil, fmt.Errorf("value for undeclared column %q", name)
		}
		if f, isFloat := v.(float64); isFloat && columnType == features.ColumnTypeInt {
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("value %g does not fit int column %q", f, name)
			}
			v = int64(f)
		}
		out[name] = v
	}
	return out, nil
}

// Name implements engine.VectorOperator.
func (s *FeatureCollectionSource) Name() string { return FeatureCollectionSourceTag }

// InitializeVector implements engine.VectorOperator.
func (s *FeatureCollectionSource) InitializeVector(_ context.Context, _ *engine.ExecutionContext) (engine.InitializedVectorOperator, error) {
	return &initializedFeatureCollectionSource{
		descriptor: engine.VectorResultDescriptor{
			DataType: features.VectorDataTypeMultiPoint,
			SRS:      s.params.SRS,
			Columns:  s.all.ColumnTypes(),
		},
		all: s.all,
	}, nil
}

type initializedFeatureCollectionSource struct {
	descriptor engine.VectorResultDescriptor
	all        *features.Collection
}

func (s *initializedFeatureCollectionSource) ResultDescriptor() engine.VectorResultDescriptor {
	return s.descriptor
}

func (s *initializedFeatureCollectionSource) QueryProcessor() (engine.VectorQueryProcessor, error) {
	return &featureCollectionProcessor{all: s.all}, nil
}

type featureCollectionProcessor struct {
	all *features.Collection
}

// VectorQuery implements engine.VectorQueryProcessor. The matching features
// travel as a single chunk; a query matching nothing yields one empty
// collection so consumers still see the schema.
func (p *featureCollectionProcessor) VectorQuery(_ context.Context, rect geo.QueryRectangle, _ *engine.QueryContext) (engine.CollectionIterator, error) {
	mask := make([]bool, p.all.Len())
	for i := range mask {
		if !p.all.TimeAt(i).Intersects(rect.Time()) {
			continue
		}
		for _, c := range features.GeometryCoordinates(p.all.GeometryAt(i)) {
			if rect.BBox().Contains(c) {
				mask[i] = true
				break
			}
		}
	}
	filtered, err := p.all.Filter(mask)
	if err != nil {
		return nil, err
	}
	return engine.NewSliceIterator([]*features.Collection{filtered}), nil
}
