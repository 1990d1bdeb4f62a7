package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common"
	celtypes "github.com/google/cel-go/common/types"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
)

// FeatureFilterTag is the registry type tag of the feature filter operator.
const FeatureFilterTag = "FeatureFilter"

// FeatureFilterParams configure a feature filter: a boolean expression over
// the source's attribute columns.
type FeatureFilterParams struct {
	Expression string `json:"expression"`
}

// FeatureFilter keeps the features of its source for which a boolean
// attribute expression holds. The expression sees one variable per source
// column; features whose expression references a null attribute are
// dropped.
type FeatureFilter struct {
	params FeatureFilterParams
	source engine.VectorOperator
}

// NewFeatureFilter builds a feature filter. The expression is compiled
// against the source schema at initialization.
func NewFeatureFilter(params FeatureFilterParams, source engine.VectorOperator) (*FeatureFilter, error) {
	if params.Expression == "" {
		return nil, fmt.Errorf("%s requires a non-empty expression", FeatureFilterTag)
	}
	return &FeatureFilter{params: params, source: source}, nil
}

// BuildFeatureFilter is the registry build function for FeatureFilter.
func BuildFeatureFilter(params json.RawMessage, sources []engine.Operator) (engine.Operator, error) {
	if len(sources) != 1 {
		return engine.Operator{}, fmt.Errorf("%s takes exactly one source, got %d", FeatureFilterTag, len(sources))
	}
	source, err := sources[0].Vector()
	if err != nil {
		return engine.Operator{}, err
	}
	var p FeatureFilterParams
	if err := engine.DecodeParams(params, &p); err != nil {
		return engine.Operator{}, err
	}
	op, err := NewFeatureFilter(p, source)
	if err != nil {
		return engine.Operator{}, err
	}
	return engine.NewVectorNode(op), nil
}

// Name implements engine.VectorOperator.
func (f *FeatureFilter) Name() string { return FeatureFilterTag }

// InitializeVector implements engine.VectorOperator. It compiles the
// expression against the source's column schema and rejects expressions
// that do not evaluate to a boolean.
func (f *FeatureFilter) InitializeVector(ctx context.Context, ectx *engine.ExecutionContext) (engine.InitializedVectorOperator, error) {
	source, err := engine.InitializeVector(ctx, ectx, f.source)
	if err != nil {
		return nil, err
	}
	descriptor := source.ResultDescriptor()

	env, err := cel.NewEnv()
	if err != nil {
		return nil, engine.NewInitializationError(FeatureFilterTag, err)
	}
	var vars []cel.EnvOption
	for name, columnType := range descriptor.Columns {
		celType, err := celColumnType(columnType)
		if err != nil {
			return nil, engine.NewInitializationError(FeatureFilterTag, err)
		}
		vars = append(vars, cel.Variable(name, celType))
	}
	env, err = env.Extend(vars...)
	if err != nil {
		return nil, engine.NewInitializationError(FeatureFilterTag, err)
	}

	ast, issues := env.CompileSource(common.NewStringSource(f.params.Expression, FeatureFilterTag))
	if issues != nil && issues.Err() != nil {
		return nil, engine.NewInitializationError(FeatureFilterTag,
			fmt.Errorf("compiling expression %q: %w", f.params.Expression, issues.Err()))
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, engine.NewInitializationError(FeatureFilterTag,
			fmt.Errorf("expression %q must evaluate to a boolean, got %s", f.params.Expression, ast.OutputType()))
	}
	prg, err := env.Program(ast, cel.EvalOptions(cel.OptPartialEval))
	if err != nil {
		return nil, engine.NewInitializationError(FeatureFilterTag, err)
	}

	return &initializedFeatureFilter{
		descriptor: descriptor,
		env:        env,
		prg:        prg,
		source:     source,
	}, nil
}

func celColumnType(t features.ColumnType) (*cel.Type, error) {
	switch t {
	case features.ColumnTypeInt:
		return cel.IntType, nil
	case features.ColumnTypeFloat:
		return cel.DoubleType, nil
	case features.ColumnTypeText:
		return cel.StringType, nil
	default:
		return nil, fmt.Errorf("column type %q has no expression representation", t)
	}
}

type initializedFeatureFilter struct {
	descriptor engine.VectorResultDescriptor
	env        *cel.Env
	prg        cel.Program
	source     engine.InitializedVectorOperator
}

func (f *initializedFeatureFilter) ResultDescriptor() engine.VectorResultDescriptor {
	return f.descriptor
}

func (f *initializedFeatureFilter) QueryProcessor() (engine.VectorQueryProcessor, error) {
	source, err := f.source.QueryProcessor()
	if err != nil {
		return nil, err
	}
	return &featureFilterProcessor{env: f.env, prg: f.prg, source: source}, nil
}

type featureFilterProcessor struct {
	env    *cel.Env
	prg    cel.Program
	source engine.VectorQueryProcessor
}

// VectorQuery implements engine.VectorQueryProcessor.
func (p *featureFilterProcessor) VectorQuery(ctx context.Context, rect geo.QueryRectangle, qctx *engine.QueryContext) (engine.CollectionIterator, error) {
	source, err := p.source.VectorQuery(ctx, rect, qctx)
	if err != nil {
		return nil, err
	}
	return engine.NewMappedIterator(source, p.filterChunk), nil
}

// filterChunk evaluates the expression once per feature. Null attributes
// are left out of the activation; an evaluation that comes back unknown
// means the expression touched one of them, and the feature is dropped.
func (p *featureFilterProcessor) filterChunk(_ context.Context, chunk *features.Collection) (*features.Collection, error) {
	names := chunk.ColumnNames()
	mask := make([]bool, chunk.Len())
	for i := range mask {
		values := make(map[string]any, len(names))
		for _, name := range names {
			if v := chunk.Column(name).ValueAt(i); v != nil {
				values[name] = v
			}
		}
		activation, err := p.env.PartialVars(values)
		if err != nil {
			return nil, fmt.Errorf("constructing activation for feature %d: %w", i, err)
		}
		out, _, err := p.prg.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("evaluating filter for feature %d: %w", i, err)
		}
		if celtypes.IsUnknown(out) {
			continue
		}
		keep, err := out.ConvertToNative(reflect.TypeOf(false))
		if err != nil {
			return nil, fmt.Errorf("converting filter result for feature %d: %w", i, err)
		}
		mask[i] = keep.(bool)
	}
	return chunk.Filter(mask)
}
