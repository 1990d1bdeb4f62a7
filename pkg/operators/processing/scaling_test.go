package processing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/operators/mock"
	"github.com/2younis/geoengine/pkg/raster"
)

func TestRasterScalingUnscale(t *testing.T) {
	source := constantRaster(t, raster.F64, mock.RasterSlice{Time: geo.MustTimeInterval(0, 10), Value: floatPtr(2)})
	op, err := NewRasterScaling(RasterScalingParams{Slope: 3, Offset: 1, ScalingMode: ScalingModeUnscale}, source)
	require.NoError(t, err)

	tiles := collectTiles(t, op, testQueryRect())
	requireConstantTiles(t, tiles, geo.MustTimeInterval(0, 10), 7)
}

func TestRasterScalingScale(t *testing.T) {
	source := constantRaster(t, raster.F64, mock.RasterSlice{Time: geo.MustTimeInterval(0, 10), Value: floatPtr(7)})
	op, err := NewRasterScaling(RasterScalingParams{Slope: 3, Offset: 1, ScalingMode: ScalingModeScale}, source)
	require.NoError(t, err)

	tiles := collectTiles(t, op, testQueryRect())
	requireConstantTiles(t, tiles, geo.MustTimeInterval(0, 10), 2)
}

func TestRasterScalingPreservesNoData(t *testing.T) {
	source := mustRasterSource(t, mock.RasterSourceParams{
		DataType: raster.U8,
		SRS:      geo.SpatialReferenceEpsg4326,
		NoData:   floatPtr(0),
		Slices:   []mock.RasterSlice{{Time: geo.MustTimeInterval(0, 10)}},
	})
	op, err := NewRasterScaling(RasterScalingParams{Slope: 2, Offset: 0, ScalingMode: ScalingModeUnscale}, source)
	require.NoError(t, err)

	tiles := collectTiles(t, op, testQueryRect())
	require.Len(t, tiles, 4)
	for _, tile := range tiles {
		noData, ok := tile.Grid.NoDataValue()
		require.True(t, ok)
		require.Equal(t, 0.0, noData)
		for j := 0; j < tile.Grid.Len(); j++ {
			_, valid := tile.Grid.SampleFloat(j)
			require.False(t, valid)
		}
	}
}

func TestRasterScalingKeepsDataTypeAndClamps(t *testing.T) {
	source := constantRaster(t, raster.U8, mock.RasterSlice{Time: geo.MustTimeInterval(0, 10), Value: floatPtr(100)})
	op, err := NewRasterScaling(RasterScalingParams{Slope: 3, Offset: 0, ScalingMode: ScalingModeUnscale}, source)
	require.NoError(t, err)

	tiles := collectTiles(t, op, testQueryRect())
	require.Len(t, tiles, 4)
	for _, tile := range tiles {
		require.Equal(t, raster.U8, tile.DataType())
		v, ok := tile.Grid.SampleFloat(0)
		require.True(t, ok)
		require.Equal(t, 255.0, v) // 300 does not fit U8
	}
}

func TestRasterScalingDescriptor(t *testing.T) {
	source := constantRaster(t, raster.U8, mock.RasterSlice{Time: geo.MustTimeInterval(0, 10), Value: floatPtr(1)})
	op, err := NewRasterScaling(RasterScalingParams{
		Slope:             10,
		Offset:            0,
		ScalingMode:       ScalingModeScale,
		OutputMeasurement: &engine.Measurement{Name: "reflectance"},
	}, source)
	require.NoError(t, err)

	init, err := engine.InitializeRaster(context.Background(), newTestExecutionContext(t).ForQuery("q"), op)
	require.NoError(t, err)
	descriptor := init.ResultDescriptor()
	require.Equal(t, raster.U8, descriptor.DataType)
	require.Equal(t, geo.SpatialReferenceEpsg4326, descriptor.SRS)
	require.Equal(t, "reflectance", descriptor.Measurement.Name)
}

func TestRasterScalingValidation(t *testing.T) {
	source := constantRaster(t, raster.F64, mock.RasterSlice{Time: geo.MustTimeInterval(0, 10), Value: floatPtr(1)})

	_, err := NewRasterScaling(RasterScalingParams{Slope: 1, ScalingMode: "double"}, source)
	require.ErrorContains(t, err, "unknown scaling mode")

	_, err = NewRasterScaling(RasterScalingParams{Slope: 0, ScalingMode: ScalingModeScale}, source)
	require.ErrorContains(t, err, "divide by zero")
}

func TestBuildRasterScalingFromDocument(t *testing.T) {
	source := constantRaster(t, raster.F64, mock.RasterSlice{Time: geo.MustTimeInterval(0, 10), Value: floatPtr(4)})

	_, err := BuildRasterScaling(json.RawMessage(`{"slope": 2, "offset": 1, "scalingMode": "unscale"}`), nil)
	require.ErrorContains(t, err, "exactly one raster source")

	op, err := BuildRasterScaling(
		json.RawMessage(`{"slope": 2, "offset": 1, "scalingMode": "unscale"}`),
		[]engine.Operator{engine.NewRasterNode(source)},
	)
	require.NoError(t, err)
	require.Equal(t, RasterScalingTag, op.Name())

	rasterOp, err := op.Raster()
	require.NoError(t, err)
	tiles := collectTiles(t, rasterOp, testQueryRect())
	requireConstantTiles(t, tiles, geo.MustTimeInterval(0, 10), 9)
}
