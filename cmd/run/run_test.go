package run

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/2younis/geoengine/pkg/geo"
)

const rasterDoc = `{
	"type": "Raster",
	"operator": {
		"type": "MockRasterSource",
		"params": {
			"dataType": "U8",
			"spatialReference": "EPSG:4326",
			"measurement": {"name": "level"},
			"slices": [{"time": {"start": 0, "end": 10}, "value": 7}]
		}
	}
}`

const vectorDoc = `{
	"type": "Vector",
	"operator": {
		"type": "MockFeatureCollectionSource",
		"params": {
			"spatialReference": "EPSG:4326",
			"columns": {"name": "text"},
			"features": [
				{"point": [1, -1], "values": {"name": "a"}},
				{"point": [2, -2], "values": {"name": "b"}}
			]
		}
	}
}`

const plotDoc = `{
	"type": "Plot",
	"operator": {
		"type": "Histogram",
		"params": {"bounds": {"min": 0, "max": 10}, "buckets": 5},
		"sources": [
			{"type": "MockRasterSource", "params": {
				"dataType": "U8",
				"spatialReference": "EPSG:4326",
				"slices": [{"time": {"start": 0, "end": 10}, "value": 5}]
			}}
		]
	}
}`

// executeRun writes doc to a workflow file and runs the command against a
// fresh output directory, returning that directory.
func executeRun(t *testing.T, doc string, extraArgs ...string) string {
	t.Helper()

	dir := t.TempDir()
	workflowPath := filepath.Join(dir, "workflow.json")
	require.NoError(t, os.WriteFile(workflowPath, []byte(doc), 0o600))
	out := filepath.Join(dir, "out")

	args := []string{
		"--workflow", workflowPath,
		"--output", out,
		"--bbox", "0,-4,4,0",
		"--time", "0,10",
		"--resolution", "1",
		"--tile-size", "2,2",
		"--log-level", "none",
	}
	args = append(args, extraArgs...)

	cmd := NewRunCommand()
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())

	return out
}

func TestRunWritesRasterOutput(t *testing.T) {
	out := executeRun(t, rasterDoc)

	descriptor, err := os.ReadFile(filepath.Join(out, "descriptor.json"))
	require.NoError(t, err)
	assert.Equal(t, "U8", gjson.GetBytes(descriptor, "dataType").String())
	assert.Equal(t, "EPSG:4326", gjson.GetBytes(descriptor, "spatialReference").String())
	assert.Equal(t, "level", gjson.GetBytes(descriptor, "measurement.name").String())

	tiles, err := filepath.Glob(filepath.Join(out, "tile-*.json"))
	require.NoError(t, err)
	require.Len(t, tiles, 4)

	first, err := os.ReadFile(filepath.Join(out, "tile-000000.json"))
	require.NoError(t, err)
	res := gjson.ParseBytes(first)
	assert.Equal(t, "U8", res.Get("dataType").String())
	assert.JSONEq(t, `[0, 0]`, res.Get("position").Raw)
	require.EqualValues(t, 4, res.Get("data.#").Int())
	for _, sample := range res.Get("data").Array() {
		assert.EqualValues(t, 7, sample.Int())
	}
}

func TestRunWritesVectorOutput(t *testing.T) {
	out := executeRun(t, vectorDoc)

	descriptor, err := os.ReadFile(filepath.Join(out, "descriptor.json"))
	require.NoError(t, err)
	assert.Equal(t, "text", gjson.GetBytes(descriptor, "columns.name").String())

	doc, err := os.ReadFile(filepath.Join(out, "features.geojson"))
	require.NoError(t, err)
	res := gjson.ParseBytes(doc)
	assert.Equal(t, "FeatureCollection", res.Get("type").String())
	require.EqualValues(t, 2, res.Get("features.#").Int())
	assert.Equal(t, "a", res.Get("features.0.properties.name").String())
	assert.Equal(t, "MultiPoint", res.Get("features.1.geometry.type").String())
}

func TestRunWritesPlotOutput(t *testing.T) {
	out := executeRun(t, plotDoc)

	plot, err := os.ReadFile(filepath.Join(out, "plot.json"))
	require.NoError(t, err)
	res := gjson.ParseBytes(plot)
	assert.Equal(t, "histogram", res.Get("kind").String())
	// 16 pixels of the constant 5 land in the middle of five [0, 10] buckets.
	assert.JSONEq(t, `[0, 0, 16, 0, 0]`, res.Get("data.counts").Raw)
}

func TestRunRejectsMissingParameters(t *testing.T) {
	cmd := NewRunCommand()
	cmd.SetArgs([]string{"--bbox", "0,0,1,1"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	require.ErrorContains(t, err, "'workflow' parameter is required")
}

func TestValidateRequiresQueryParameters(t *testing.T) {
	base := func() *Config {
		c := DefaultConfig()
		c.Workflow = "workflow.json"
		c.BBox = "0,0,1,1"
		c.Time = "0"
		c.Resolution = "1"
		return c
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing workflow", func(c *Config) { c.Workflow = "" }, "'workflow' parameter is required"},
		{"missing bbox", func(c *Config) { c.BBox = "" }, "'bbox' parameter is required"},
		{"missing time", func(c *Config) { c.Time = "" }, "'time' parameter is required"},
		{"missing resolution", func(c *Config) { c.Resolution = "" }, "'resolution' parameter is required"},
		{"empty output", func(c *Config) { c.Output = "" }, "'output' parameter must not be empty"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := base()
			test.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), test.wantErr)
		})
	}
}

func TestQueryRectangleParsing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BBox = "-180, -90, 180, 90"
	cfg.Time = "2014-01-01T00:00:00Z,2015-01-01T00:00:00Z"
	cfg.Resolution = "0.1"

	rect, err := cfg.QueryRectangle()
	require.NoError(t, err)

	assert.Equal(t, geo.NewCoordinate2D(-180, -90), rect.BBox().LowerLeft())
	assert.Equal(t, geo.NewCoordinate2D(180, 90), rect.BBox().UpperRight())

	start := time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	end := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, geo.MustTimeInterval(geo.TimeInstance(start), geo.TimeInstance(end)), rect.Time())

	assert.Equal(t, 0.1, rect.Resolution().X)
	assert.Equal(t, 0.1, rect.Resolution().Y)
}

func TestQueryRectangleParsesInstantsAndPairs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BBox = "0,0,1,1"
	cfg.Resolution = "1,0.5"

	cfg.Time = "42"
	rect, err := cfg.QueryRectangle()
	require.NoError(t, err)
	assert.Equal(t, geo.NewTimeInstant(42), rect.Time())
	assert.Equal(t, 1.0, rect.Resolution().X)
	assert.Equal(t, 0.5, rect.Resolution().Y)

	cfg.Time = "-100,100"
	rect, err = cfg.QueryRectangle()
	require.NoError(t, err)
	assert.Equal(t, geo.MustTimeInterval(-100, 100), rect.Time())
}

func TestQueryRectangleRejectsMalformedParameters(t *testing.T) {
	tests := []struct {
		name       string
		bbox       string
		time       string
		resolution string
		wantErr    string
	}{
		{"too few bbox values", "0,0,1", "0", "1", "invalid bbox"},
		{"bbox not a number", "0,0,1,east", "0", "1", "invalid bbox"},
		{"bbox min above max", "1,1,0,0", "0", "1", "invalid bbox"},
		{"time not a timestamp", "0,0,1,1", "yesterday", "1", "neither epoch milliseconds nor RFC 3339"},
		{"time start after end", "0,0,1,1", "10,0", "1", "invalid time"},
		{"too many time values", "0,0,1,1", "0,1,2", "1", "invalid time"},
		{"negative resolution", "0,0,1,1", "0", "-1", "invalid resolution"},
		{"too many resolution values", "0,0,1,1", "0", "1,1,1", "invalid resolution"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.BBox = test.bbox
			cfg.Time = test.time
			cfg.Resolution = test.resolution

			_, err := cfg.QueryRectangle()
			require.ErrorContains(t, err, test.wantErr)
		})
	}
}

func TestTilingSpecificationParsing(t *testing.T) {
	cfg := DefaultConfig()

	spec, err := cfg.TilingSpecification()
	require.NoError(t, err)
	assert.Equal(t, geo.NewCoordinate2D(0, 0), spec.Origin)
	assert.Equal(t, geo.GridShape(512, 512), spec.TileShape)

	cfg.TileSize = "256, 128"
	cfg.TileOrigin = "-180,90"
	spec, err = cfg.TilingSpecification()
	require.NoError(t, err)
	assert.Equal(t, geo.NewCoordinate2D(-180, 90), spec.Origin)
	assert.Equal(t, geo.GridShape(256, 128), spec.TileShape)

	cfg.TileSize = "0,256"
	_, err = cfg.TilingSpecification()
	require.ErrorContains(t, err, "tile shape must be positive")

	cfg.TileSize = "256x256"
	_, err = cfg.TilingSpecification()
	require.ErrorContains(t, err, "invalid tile size")
}
