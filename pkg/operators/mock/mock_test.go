package mock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/raster"
)

// newTestExecutionContext uses 2x2 tiles so a handful of pixels already
// spans several tiles.
func newTestExecutionContext(t *testing.T) *engine.ExecutionContext {
	t.Helper()
	ectx, err := engine.NewExecutionContext(
		engine.WithTilingSpecification(engine.TilingSpecification{
			Origin:    geo.NewCoordinate2D(0, 0),
			TileShape: geo.GridShape(2, 2),
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ectx.Close())
	})
	return ectx
}

func floatPtr(v float64) *float64 { return &v }

func testQueryRect() geo.QueryRectangle {
	return geo.NewQueryRectangle(
		geo.MustBoundingBox2D(0, -4, 4, 0),
		geo.MustTimeInterval(0, 10),
		geo.MustSpatialResolution(1, 1),
	)
}

func queryRaster(t *testing.T, op *RasterSource, rect geo.QueryRectangle) []raster.Tile {
	t.Helper()
	ectx := newTestExecutionContext(t).ForQuery("test")
	init, err := engine.InitializeRaster(context.Background(), ectx, op)
	require.NoError(t, err)
	proc, err := init.QueryProcessor()
	require.NoError(t, err)
	stream, err := proc.RasterQuery(context.Background(), rect, engine.DefaultQueryContext())
	require.NoError(t, err)
	tiles, err := engine.Collect(context.Background(), stream)
	require.NoError(t, err)
	return tiles
}

func TestRasterSourceEmitsCanonicalGrid(t *testing.T) {
	op, err := NewRasterSource(RasterSourceParams{
		DataType: raster.U8,
		SRS:      geo.SpatialReferenceEpsg4326,
		Slices:   []RasterSlice{{Time: geo.MustTimeInterval(0, 10), Value: floatPtr(7)}},
	})
	require.NoError(t, err)

	tiles := queryRaster(t, op, testQueryRect())
	require.Len(t, tiles, 4)

	wantPositions := []geo.GridIdx2D{
		geo.GridIdx(0, 0), geo.GridIdx(0, 1), geo.GridIdx(1, 0), geo.GridIdx(1, 1),
	}
	for i, tile := range tiles {
		require.Equal(t, wantPositions[i], tile.Position)
		require.Equal(t, geo.MustTimeInterval(0, 10), tile.Time)
		require.Equal(t, geo.MustGeoTransform(0, 0, 1, -1), tile.GeoTransform)
		require.Equal(t, geo.GridShape(2, 2), tile.Grid.Shape())
		for j := 0; j < tile.Grid.Len(); j++ {
			v, ok := tile.Grid.SampleFloat(j)
			require.True(t, ok)
			require.Equal(t, 7.0, v)
		}
	}
}

func TestRasterSourceFiltersSlicesByTime(t *testing.T) {
	op, err := NewRasterSource(RasterSourceParams{
		DataType: raster.F64,
		SRS:      geo.SpatialReferenceEpsg4326,
		Slices: []RasterSlice{
			{Time: geo.MustTimeInterval(0, 10), Value: floatPtr(1)},
			{Time: geo.MustTimeInterval(10, 20), Value: floatPtr(2)},
			{Time: geo.MustTimeInterval(20, 30), Value: floatPtr(3)},
		},
	})
	require.NoError(t, err)

	rect := testQueryRect().WithTime(geo.MustTimeInterval(10, 20))
	tiles := queryRaster(t, op, rect)
	require.Len(t, tiles, 4)
	for _, tile := range tiles {
		require.Equal(t, geo.MustTimeInterval(10, 20), tile.Time)
		v, ok := tile.Grid.SampleFloat(0)
		require.True(t, ok)
		require.Equal(t, 2.0, v)
	}
}

func TestRasterSourceInstantQuery(t *testing.T) {
	op, err := NewRasterSource(RasterSourceParams{
		DataType: raster.F64,
		SRS:      geo.SpatialReferenceEpsg4326,
		Slices: []RasterSlice{
			{Time: geo.MustTimeInterval(0, 10), Value: floatPtr(1)},
			{Time: geo.MustTimeInterval(10, 20), Value: floatPtr(2)},
		},
	})
	require.NoError(t, err)

	rect := testQueryRect().WithTime(geo.NewTimeInstant(10))
	tiles := queryRaster(t, op, rect)
	require.Len(t, tiles, 4)
	for _, tile := range tiles {
		require.Equal(t, geo.MustTimeInterval(10, 20), tile.Time)
	}
}

func TestRasterSourceOutsideTimeIsEmpty(t *testing.T) {
	op, err := NewRasterSource(RasterSourceParams{
		DataType: raster.F64,
		SRS:      geo.SpatialReferenceEpsg4326,
		Slices:   []RasterSlice{{Time: geo.MustTimeInterval(0, 10), Value: floatPtr(1)}},
	})
	require.NoError(t, err)

	rect := testQueryRect().WithTime(geo.MustTimeInterval(100, 200))
	require.Empty(t, queryRaster(t, op, rect))
}

func TestRasterSourceNoDataSlice(t *testing.T) {
	op, err := NewRasterSource(RasterSourceParams{
		DataType: raster.U8,
		SRS:      geo.SpatialReferenceEpsg4326,
		NoData:   floatPtr(0),
		Slices:   []RasterSlice{{Time: geo.MustTimeInterval(0, 10)}},
	})
	require.NoError(t, err)

	tiles := queryRaster(t, op, testQueryRect())
	require.Len(t, tiles, 4)
	for _, tile := range tiles {
		for j := 0; j < tile.Grid.Len(); j++ {
			_, ok := tile.Grid.SampleFloat(j)
			require.False(t, ok)
		}
	}
}

func TestRasterSourceParamsValidation(t *testing.T) {
	tests := []struct {
		name    string
		params  RasterSourceParams
		wantErr string
	}{
		{
			name:    "unknown data type",
			params:  RasterSourceParams{DataType: "U7", SRS: geo.SpatialReferenceEpsg4326},
			wantErr: "unknown raster data type",
		},
		{
			name:    "missing srs",
			params:  RasterSourceParams{DataType: raster.U8},
			wantErr: "spatial reference is required",
		},
		{
			name: "value out of range",
			params: RasterSourceParams{
				DataType: raster.U8,
				SRS:      geo.SpatialReferenceEpsg4326,
				Slices:   []RasterSlice{{Time: geo.MustTimeInterval(0, 10), Value: floatPtr(300)}},
			},
			wantErr: "not representable",
		},
		{
			name: "no-data slice without sentinel",
			params: RasterSourceParams{
				DataType: raster.U8,
				SRS:      geo.SpatialReferenceEpsg4326,
				Slices:   []RasterSlice{{Time: geo.MustTimeInterval(0, 10)}},
			},
			wantErr: "no no-data value",
		},
		{
			name: "slices out of order",
			params: RasterSourceParams{
				DataType: raster.F64,
				SRS:      geo.SpatialReferenceEpsg4326,
				Slices: []RasterSlice{
					{Time: geo.MustTimeInterval(10, 20), Value: floatPtr(1)},
					{Time: geo.MustTimeInterval(0, 10), Value: floatPtr(2)},
				},
			},
			wantErr: "ascending time order",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRasterSource(tc.params)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestBuildRasterSourceRejectsSourcesAndUnknownFields(t *testing.T) {
	_, err := BuildRasterSource(nil, []engine.Operator{{}})
	require.ErrorContains(t, err, "takes no sources")

	_, err = BuildRasterSource(json.RawMessage(`{"dataType":"U8","spatialReference":"EPSG:4326","slices":[],"bogus":1}`), nil)
	require.ErrorContains(t, err, "invalid parameters")
}

func TestBuildRasterSourceFromDocument(t *testing.T) {
	params := json.RawMessage(`{
		"dataType": "F64",
		"spatialReference": "EPSG:4326",
		"measurement": {"name": "temperature", "unit": "K"},
		"slices": [{"time": {"start": 0, "end": 10}, "value": 1.5}]
	}`)
	op, err := BuildRasterSource(params, nil)
	require.NoError(t, err)
	require.Equal(t, RasterSourceTag, op.Name())

	rasterOp, err := op.Raster()
	require.NoError(t, err)
	init, err := engine.InitializeRaster(context.Background(), newTestExecutionContext(t).ForQuery("q"), rasterOp)
	require.NoError(t, err)
	descriptor := init.ResultDescriptor()
	require.Equal(t, raster.F64, descriptor.DataType)
	require.Equal(t, "temperature", descriptor.Measurement.Name)
	require.NotNil(t, descriptor.Time)
	require.Equal(t, geo.MustTimeInterval(0, 10), *descriptor.Time)
}

func queryVector(t *testing.T, op *FeatureCollectionSource, rect geo.QueryRectangle) []*features.Collection {
	t.Helper()
	ectx := newTestExecutionContext(t).ForQuery("test")
	init, err := engine.InitializeVector(context.Background(), ectx, op)
	require.NoError(t, err)
	proc, err := init.QueryProcessor()
	require.NoError(t, err)
	stream, err := proc.VectorQuery(context.Background(), rect, engine.DefaultQueryContext())
	require.NoError(t, err)
	chunks, err := engine.Collect(context.Background(), stream)
	require.NoError(t, err)
	return chunks
}

func testVectorParams() FeatureCollectionSourceParams {
	return FeatureCollectionSourceParams{
		SRS: geo.SpatialReferenceEpsg4326,
		Columns: map[string]features.ColumnType{
			"name":  features.ColumnTypeText,
			"count": features.ColumnTypeInt,
		},
		Features: []Feature{
			{Point: [2]float64{1, -1}, Values: map[string]any{"name": "inside", "count": float64(3)}},
			{Point: [2]float64{100, 100}, Values: map[string]any{"name": "outside"}},
			{
				Point:  [2]float64{2, -2},
				Time:   &geo.TimeInterval{Start: 100, End: 200},
				Values: map[string]any{"name": "later"},
			},
		},
	}
}

func TestFeatureCollectionSourceFiltersByRectangle(t *testing.T) {
	op, err := NewFeatureCollectionSource(testVectorParams())
	require.NoError(t, err)

	chunks := queryVector(t, op, testQueryRect())
	require.Len(t, chunks, 1)
	chunk := chunks[0]
	require.Equal(t, 1, chunk.Len())

	name, ok := chunk.Column("name").TextAt(0)
	require.True(t, ok)
	require.Equal(t, "inside", name)
	count, ok := chunk.Column("count").IntAt(0)
	require.True(t, ok)
	require.Equal(t, int64(3), count)
	require.Equal(t, geo.MaxTimeInterval, chunk.TimeAt(0))
}

func TestFeatureCollectionSourceEmptyMatchKeepsSchema(t *testing.T) {
	op, err := NewFeatureCollectionSource(testVectorParams())
	require.NoError(t, err)

	rect := testQueryRect().WithTime(geo.MustTimeInterval(500, 600))
	chunks := queryVector(t, op, rect)
	require.Len(t, chunks, 1)
	require.True(t, chunks[0].IsEmpty())
	require.Equal(t, map[string]features.ColumnType{
		"name":  features.ColumnTypeText,
		"count": features.ColumnTypeInt,
	}, chunks[0].ColumnTypes())
}

func TestFeatureCollectionSourceTimeFilter(t *testing.T) {
	op, err := NewFeatureCollectionSource(testVectorParams())
	require.NoError(t, err)

	rect := testQueryRect().WithTime(geo.MustTimeInterval(100, 150))
	chunks := queryVector(t, op, rect)
	require.Len(t, chunks, 1)
	require.Equal(t, 2, chunks[0].Len()) // "inside" is valid for all time, "later" matches the window
}

func TestFeatureCollectionSourceRejectsBadValues(t *testing.T) {
	params := testVectorParams()
	params.Features = []Feature{{Point: [2]float64{0, 0}, Values: map[string]any{"count": 1.5}}}
	_, err := NewFeatureCollectionSource(params)
	require.ErrorContains(t, err, "does not fit int column")

	params.Features = []Feature{{Point: [2]float64{0, 0}, Values: map[string]any{"unknown": "x"}}}
	_, err = NewFeatureCollectionSource(params)
	require.ErrorContains(t, err, "undeclared column")
}

func TestBuildFeatureCollectionSourceFromDocument(t *testing.T) {
	params := json.RawMessage(`{
		"spatialReference": "EPSG:4326",
		"columns": {"population": "int"},
		"features": [
			{"point": [1, -1], "values": {"population": 1200}},
			{"point": [3, -3], "time": {"start": 0, "end": 10}, "values": {"population": 45}}
		]
	}`)
	op, err := BuildFeatureCollectionSource(params, nil)
	require.NoError(t, err)
	require.Equal(t, FeatureCollectionSourceTag, op.Name())

	vectorOp, err := op.Vector()
	require.NoError(t, err)
	src, ok := vectorOp.(*FeatureCollectionSource)
	require.True(t, ok)

	chunks := queryVector(t, src, testQueryRect())
	require.Len(t, chunks, 1)
	require.Equal(t, 2, chunks[0].Len())
	population, ok := chunks[0].Column("population").IntAt(0)
	require.True(t, ok)
	require.Equal(t, int64(1200), population)
}
