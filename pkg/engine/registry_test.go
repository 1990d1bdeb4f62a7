package engine

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2younis/geoengine/pkg/workflow"
)

func fakeSourceBuild(tag string, buildCount *int) BuildFunc {
	return func(params json.RawMessage, sources []Operator) (Operator, error) {
		if len(sources) != 0 {
			return Operator{}, fmt.Errorf("expected no sources, got %d", len(sources))
		}
		if buildCount != nil {
			*buildCount++
		}
		return NewRasterNode(&fakeRasterOperator{name: tag, descriptor: epsg4326Descriptor()}), nil
	}
}

func fakeCombinerBuild(tag string) BuildFunc {
	return func(params json.RawMessage, sources []Operator) (Operator, error) {
		ops := make([]RasterOperator, len(sources))
		for i, src := range sources {
			raster, err := src.Raster()
			if err != nil {
				return Operator{}, err
			}
			ops[i] = raster
		}
		return NewRasterNode(&fakeRasterOperator{name: tag, descriptor: epsg4326Descriptor(), sources: ops}), nil
	}
}

func TestRegistryRejectsDuplicateTags(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("source", fakeSourceBuild("source", nil)))
	require.ErrorContains(t, r.Register("source", fakeSourceBuild("source", nil)), "registered twice")
	require.ErrorContains(t, r.Register("", fakeSourceBuild("", nil)), "must not be empty")
	require.ErrorContains(t, r.Register("nil_build", nil), "must not be nil")
}

func TestRegistryTagsSorted(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("zeta", fakeSourceBuild("zeta", nil))
	r.MustRegister("alpha", fakeSourceBuild("alpha", nil))
	r.MustRegister("mid", fakeSourceBuild("mid", nil))
	require.Equal(t, []string{"alpha", "mid", "zeta"}, r.Tags())
}

func TestRegistryBuildUnknownTag(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build(&workflow.Node{Type: "no_such_operator"})
	require.Error(t, err)

	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	require.Equal(t, "no_such_operator", initErr.Operator)
	require.Contains(t, err.Error(), "unknown operator type")
}

func TestRegistryBuildRejectsMissingType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build(&workflow.Node{})
	require.ErrorContains(t, err, "missing its type tag")

	_, err = r.Build(nil)
	require.ErrorContains(t, err, "must not be null")
}

func TestRegistryBuildSharedSubtreeBuildsOnce(t *testing.T) {
	var sourceBuilds int
	r := NewRegistry()
	r.MustRegister("source", fakeSourceBuild("source", &sourceBuilds))
	r.MustRegister("combine", fakeCombinerBuild("combine"))

	// A diamond: both combiner inputs are the same node value.
	shared := &workflow.Node{Type: "source"}
	root := &workflow.Node{Type: "combine", Sources: []*workflow.Node{shared, shared}}

	op, err := r.Build(root)
	require.NoError(t, err)
	require.Equal(t, "combine", op.Name())
	require.Equal(t, 1, sourceBuilds)

	rasterOp, err := op.Raster()
	require.NoError(t, err)
	combiner := rasterOp.(*fakeRasterOperator)
	require.Len(t, combiner.sources, 2)
	require.Same(t, combiner.sources[0], combiner.sources[1])
}

func TestRegistryBuildRejectsCycle(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("combine", fakeCombinerBuild("combine"))

	node := &workflow.Node{Type: "combine"}
	node.Sources = []*workflow.Node{node}

	_, err := r.Build(node)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestRegistryBuildRejectsIndirectCycle(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("combine", fakeCombinerBuild("combine"))

	a := &workflow.Node{Type: "combine"}
	b := &workflow.Node{Type: "combine", Sources: []*workflow.Node{a}}
	a.Sources = []*workflow.Node{b}

	_, err := r.Build(a)
	require.ErrorContains(t, err, "cycle")
}

func TestRegistryBuildWrapsOperatorErrors(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("broken", func(params json.RawMessage, sources []Operator) (Operator, error) {
		return Operator{}, fmt.Errorf("bad parameters")
	})

	_, err := r.Build(&workflow.Node{Type: "broken"})
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	require.Equal(t, "broken", initErr.Operator)
}

func TestDecodeParams(t *testing.T) {
	type params struct {
		Value  float64 `json:"value"`
		Factor float64 `json:"factor"`
	}

	t.Run("decodes known fields", func(t *testing.T) {
		var p params
		require.NoError(t, DecodeParams(json.RawMessage(`{"value": 2, "factor": 0.5}`), &p))
		require.Equal(t, params{Value: 2, Factor: 0.5}, p)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		var p params
		err := DecodeParams(json.RawMessage(`{"value": 2, "typo": true}`), &p)
		require.ErrorContains(t, err, "invalid parameters")
	})

	t.Run("rejects trailing data", func(t *testing.T) {
		var p params
		err := DecodeParams(json.RawMessage(`{"value": 2}{"value": 3}`), &p)
		require.ErrorContains(t, err, "trailing data")
	})

	t.Run("empty parameters decode the zero value", func(t *testing.T) {
		var p params
		require.NoError(t, DecodeParams(nil, &p))
		require.Equal(t, params{}, p)
	})
}
