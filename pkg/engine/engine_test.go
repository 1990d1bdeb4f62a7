package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/raster"
	"github.com/2younis/geoengine/pkg/workflow"
)

func makeTestTile(t *testing.T, position geo.GridIdx2D, value float64) raster.Tile {
	t.Helper()
	shape := geo.GridShape(2, 2)
	samples := make([]float64, shape.NumElements())
	for i := range samples {
		samples[i] = value
	}
	grid, err := raster.MaterializeDenseGrid(raster.F64, shape, samples)
	require.NoError(t, err)
	return raster.NewTile(position, geo.MustTimeInterval(0, 10), geo.MustGeoTransform(0, 0, 1, -1), grid)
}

func testQueryRectangle() geo.QueryRectangle {
	return geo.NewQueryRectangle(
		geo.MustBoundingBox2D(0, -2, 2, 0),
		geo.MustTimeInterval(0, 10),
		geo.MustSpatialResolution(1, 1),
	)
}

func newTestEngine(t *testing.T, registry *Registry) *Engine {
	t.Helper()
	ectx, err := NewExecutionContext()
	require.NoError(t, err)
	eng := New(registry, ectx)
	t.Cleanup(func() {
		require.NoError(t, eng.Close())
	})
	return eng
}

func TestEngineExecuteRaster(t *testing.T) {
	tiles := []raster.Tile{
		makeTestTile(t, geo.GridIdx(0, 0), 1),
		makeTestTile(t, geo.GridIdx(0, 1), 2),
	}

	registry := NewRegistry()
	registry.MustRegister("fake_source", func(params json.RawMessage, sources []Operator) (Operator, error) {
		return NewRasterNode(&fakeRasterOperator{
			name:       "fake_source",
			descriptor: epsg4326Descriptor(),
			tiles:      tiles,
		}), nil
	})
	eng := newTestEngine(t, registry)

	w := &workflow.Workflow{Kind: workflow.KindRaster, Operator: &workflow.Node{Type: "fake_source"}}
	result, err := eng.Execute(context.Background(), w, testQueryRectangle(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.QueryID)
	require.Equal(t, workflow.KindRaster, result.Kind)
	require.NotNil(t, result.Raster)
	require.Equal(t, geo.SpatialReferenceEpsg4326, result.Raster.Descriptor.SRS)

	got, err := Collect(context.Background(), result.Raster.Tiles)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].EqualTo(tiles[0]))
	require.True(t, got[1].EqualTo(tiles[1]))
}

func TestEngineExecuteDocument(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("fake_source", func(params json.RawMessage, sources []Operator) (Operator, error) {
		return NewRasterNode(&fakeRasterOperator{name: "fake_source", descriptor: epsg4326Descriptor()}), nil
	})
	eng := newTestEngine(t, registry)

	doc := []byte(`{"type": "Raster", "operator": {"type": "fake_source"}}`)
	result, err := eng.ExecuteDocument(context.Background(), doc, testQueryRectangle(), DefaultQueryContext())
	require.NoError(t, err)
	require.NotNil(t, result.Raster)

	tiles, err := Collect(context.Background(), result.Raster.Tiles)
	require.NoError(t, err)
	require.Empty(t, tiles)
}

func TestEngineExecuteDocumentRejectsMalformed(t *testing.T) {
	eng := newTestEngine(t, NewRegistry())

	for name, doc := range map[string]string{
		"not json":      `{"type": "Raster"`,
		"unknown field": `{"type": "Raster", "operator": {"type": "x"}, "extra": 1}`,
		"unknown kind":  `{"type": "Scalar", "operator": {"type": "x"}}`,
		"no operator":   `{"type": "Raster"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := eng.ExecuteDocument(context.Background(), []byte(doc), testQueryRectangle(), nil)
			var initErr *InitializationError
			require.ErrorAs(t, err, &initErr)
		})
	}
}

func TestEngineExecuteKindMismatch(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("fake_source", func(params json.RawMessage, sources []Operator) (Operator, error) {
		return NewRasterNode(&fakeRasterOperator{name: "fake_source", descriptor: epsg4326Descriptor()}), nil
	})
	eng := newTestEngine(t, registry)

	w := &workflow.Workflow{Kind: workflow.KindVector, Operator: &workflow.Node{Type: "fake_source"}}
	_, err := eng.Execute(context.Background(), w, testQueryRectangle(), nil)
	require.ErrorContains(t, err, "declares kind Vector")
}

func TestEngineExecuteUnknownOperator(t *testing.T) {
	eng := newTestEngine(t, NewRegistry())

	w := &workflow.Workflow{Kind: workflow.KindRaster, Operator: &workflow.Node{Type: "nope"}}
	_, err := eng.Execute(context.Background(), w, testQueryRectangle(), nil)

	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	require.Equal(t, "nope", initErr.Operator)
}

func TestEngineQueryIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newQueryID()
		require.False(t, seen[id], "query id %s repeated", id)
		seen[id] = true
	}
}
