// Package run contains the command to execute a workflow query end to end:
// it assembles an engine from the configuration, runs the workflow over the
// requested query rectangle, and writes the streamed results to an output
// directory.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/2younis/geoengine/internal/concurrency"
	"github.com/2younis/geoengine/internal/tilecache"
	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/logger"
	"github.com/2younis/geoengine/pkg/operators"
)

// NewRunCommand returns the cobra command that executes a workflow document
// and writes the result to an output directory.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a workflow over a query rectangle",
		Long: `Execute a workflow document over a query rectangle and write the result.

Raster workflows write the result descriptor and one file per tile, vector
workflows write the descriptor and a GeoJSON FeatureCollection, and plot
workflows write the plot data.`,
		RunE: run,
		Args: cobra.NoArgs,
	}

	bindRunFlags(cmd)

	return cmd
}

// Config holds the runtime configuration of the run command. Values are
// layered from flags, GEOENGINE_ environment variables, and the optional
// config.yaml, over the defaults.
type Config struct {
	// Workflow is the path of the workflow document to execute.
	Workflow string

	// Catalog is the path or URL of the dataset catalog resolving dataset
	// identifiers referenced by source operators. Optional; workflows
	// without dataset sources run without a catalog.
	Catalog string

	// Output is the directory the query results are written to.
	Output string

	// BBox is the spatial extent of the query as "min-x,min-y,max-x,max-y".
	BBox string

	// Time is the temporal extent of the query: one instant or "start,end",
	// each either epoch milliseconds or RFC 3339.
	Time string

	// Resolution is the pixel size of the query: one value for square
	// pixels or "x,y".
	Resolution string

	// ChunkByteSize is the byte budget of one feature collection chunk.
	ChunkByteSize int

	// MaxInFlightTiles caps how many tiles are computed ahead of the
	// consumer.
	MaxInFlightTiles int

	// TileSize is the tile shape of the global grid as "height,width" in
	// pixels.
	TileSize string

	// TileOrigin is the coordinate the global grid is anchored at, "x,y".
	TileOrigin string

	// Workers is the size of the worker pool computing tiles. Zero uses
	// one worker per CPU.
	Workers int

	// TileCacheEntries is the capacity of the in-memory source tile cache.
	// Zero disables caching.
	TileCacheEntries int

	// ScratchDir is the directory for temporary working files. Empty uses
	// a fresh temporary directory that is removed on shutdown.
	ScratchDir string

	// Timeout is the wall time limit of the query. Zero means no limit.
	Timeout time.Duration

	LogFormat string
	LogLevel  string
}

// DefaultConfig is the base configuration before flag, environment, and
// config file overrides apply.
func DefaultConfig() *Config {
	return &Config{
		Output:           ".",
		TileSize:         "512,512",
		TileOrigin:       "0,0",
		ChunkByteSize:    engine.DefaultChunkByteSize,
		MaxInFlightTiles: engine.DefaultMaxInFlightTiles,
		TileCacheEntries: 256,
		LogFormat:        "text",
		LogLevel:         "info",
	}
}

// ReadConfig assembles the effective configuration from viper, which has the
// config file, environment, and flag values layered over the defaults.
func ReadConfig() *Config {
	config := DefaultConfig()

	config.Workflow = viper.GetString("workflow")
	config.Catalog = viper.GetString("catalog")
	config.Output = viper.GetString("output")
	config.BBox = viper.GetString("query.bbox")
	config.Time = viper.GetString("query.time")
	config.Resolution = viper.GetString("query.resolution")
	config.ChunkByteSize = viper.GetInt("query.chunkByteSize")
	config.MaxInFlightTiles = viper.GetInt("query.maxInFlightTiles")
	config.TileSize = viper.GetString("tiling.tileSize")
	config.TileOrigin = viper.GetString("tiling.origin")
	config.Workers = viper.GetInt("workers")
	config.TileCacheEntries = viper.GetInt("cache.tileEntries")
	config.ScratchDir = viper.GetString("scratchDir")
	config.Timeout = viper.GetDuration("timeout")
	config.LogFormat = viper.GetString("log.format")
	config.LogLevel = viper.GetString("log.level")

	return config
}

// Validate checks that the required parameters are present. Syntactic checks
// happen when the values are parsed.
func (c *Config) Validate() error {
	if c.Workflow == "" {
		return errors.New("the 'workflow' parameter is required")
	}
	if c.BBox == "" {
		return errors.New("the 'bbox' parameter is required")
	}
	if c.Time == "" {
		return errors.New("the 'time' parameter is required")
	}
	if c.Resolution == "" {
		return errors.New("the 'resolution' parameter is required")
	}
	if c.Output == "" {
		return errors.New("the 'output' parameter must not be empty")
	}
	return nil
}

// QueryRectangle parses the bbox, time, and resolution parameters into the
// query rectangle the workflow is executed over.
func (c *Config) QueryRectangle() (geo.QueryRectangle, error) {
	var zero geo.QueryRectangle

	coords, err := parseFloats(c.BBox, 4)
	if err != nil {
		return zero, fmt.Errorf("invalid bbox %q: %w", c.BBox, err)
	}
	bbox, err := geo.NewBoundingBox2D(
		geo.NewCoordinate2D(coords[0], coords[1]),
		geo.NewCoordinate2D(coords[2], coords[3]),
	)
	if err != nil {
		return zero, fmt.Errorf("invalid bbox %q: %w", c.BBox, err)
	}

	interval, err := parseTime(c.Time)
	if err != nil {
		return zero, fmt.Errorf("invalid time %q: %w", c.Time, err)
	}

	resolution, err := parseResolution(c.Resolution)
	if err != nil {
		return zero, fmt.Errorf("invalid resolution %q: %w", c.Resolution, err)
	}

	return geo.NewQueryRectangle(bbox, interval, resolution), nil
}

// TilingSpecification parses the tiling parameters into the global grid
// specification.
func (c *Config) TilingSpecification() (engine.TilingSpecification, error) {
	var zero engine.TilingSpecification

	size, err := parseInts(c.TileSize, 2)
	if err != nil {
		return zero, fmt.Errorf("invalid tile size %q: %w", c.TileSize, err)
	}
	origin, err := parseFloats(c.TileOrigin, 2)
	if err != nil {
		return zero, fmt.Errorf("invalid tile origin %q: %w", c.TileOrigin, err)
	}

	spec := engine.TilingSpecification{
		Origin:    geo.NewCoordinate2D(origin[0], origin[1]),
		TileShape: geo.GridShape(size[0], size[1]),
	}
	if err := spec.Validate(); err != nil {
		return zero, err
	}
	return spec, nil
}

// parseFloats splits a comma separated list and parses exactly want floats.
func parseFloats(s string, want int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != want {
		return nil, fmt.Errorf("want %d comma separated values, got %d", want, len(parts))
	}
	out := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

// parseInts splits a comma separated list and parses exactly want integers.
func parseInts(s string, want int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != want {
		return nil, fmt.Errorf("want %d comma separated values, got %d", want, len(parts))
	}
	out := make([]int, len(parts))
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

// parseTime reads one instant or a start,end pair.
func parseTime(s string) (geo.TimeInterval, error) {
	var zero geo.TimeInterval

	parts := strings.Split(s, ",")
	switch len(parts) {
	case 1:
		t, err := parseTimeBound(parts[0])
		if err != nil {
			return zero, err
		}
		return geo.NewTimeInstant(t), nil
	case 2:
		start, err := parseTimeBound(parts[0])
		if err != nil {
			return zero, err
		}
		end, err := parseTimeBound(parts[1])
		if err != nil {
			return zero, err
		}
		return geo.NewTimeInterval(start, end)
	default:
		return zero, fmt.Errorf("want one instant or start,end, got %d values", len(parts))
	}
}

// parseTimeBound accepts epoch milliseconds or an RFC 3339 timestamp.
func parseTimeBound(s string) (geo.TimeInstance, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return geo.TimeInstance(ms), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither epoch milliseconds nor RFC 3339", s)
	}
	return geo.TimeInstance(t.UnixMilli()), nil
}

// parseResolution accepts one value for square pixels or "x,y".
func parseResolution(s string) (geo.SpatialResolution, error) {
	var zero geo.SpatialResolution

	parts := strings.Split(s, ",")
	switch len(parts) {
	case 1:
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return zero, err
		}
		return geo.NewSpatialResolution(v, v)
	case 2:
		values, err := parseFloats(s, 2)
		if err != nil {
			return zero, err
		}
		return geo.NewSpatialResolution(values[0], values[1])
	default:
		return zero, fmt.Errorf("want one value or x,y, got %d values", len(parts))
	}
}

// loadCatalog reads the static dataset catalog from a local file or an
// http(s) URL.
func loadCatalog(location string) (*engine.StaticCatalog, error) {
	data, err := readLocation(location)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", location, err)
	}
	catalog, err := engine.ParseStaticCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", location, err)
	}
	return catalog, nil
}

func readLocation(location string) ([]byte, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return fetchURL(location)
	}
	return os.ReadFile(location)
}

// fetchURL downloads a document, retrying transient failures.
func fetchURL(url string) ([]byte, error) {
	client := retryablehttp.NewClient()
	client.Logger = nil

	resp, err := client.StandardClient().Get(url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func run(_ *cobra.Command, _ []string) error {
	config := ReadConfig()
	if err := config.Validate(); err != nil {
		return err
	}

	log, err := logger.NewLogger(config.LogFormat, config.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	rect, err := config.QueryRectangle()
	if err != nil {
		return err
	}
	tiling, err := config.TilingSpecification()
	if err != nil {
		return err
	}

	doc, err := os.ReadFile(config.Workflow)
	if err != nil {
		return fmt.Errorf("reading workflow %s: %w", config.Workflow, err)
	}

	opts := []engine.ExecutionContextOption{
		engine.WithLogger(log),
		engine.WithTilingSpecification(tiling),
		engine.WithRasterReprojector(operators.Reproject),
	}
	if config.Workers > 0 {
		opts = append(opts, engine.WithWorkerPool(concurrency.NewWorkerPool(config.Workers)))
	}
	if config.Catalog != "" {
		catalog, err := loadCatalog(config.Catalog)
		if err != nil {
			return err
		}
		log.Info("catalog loaded",
			zap.String("location", config.Catalog),
			zap.Int("rasters", len(catalog.RasterIDs())),
		)
		opts = append(opts, engine.WithMetadataProvider(catalog))
	}
	if config.TileCacheEntries > 0 {
		cache, err := tilecache.NewMemory(config.TileCacheEntries)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithTileCache(cache))
	}
	if config.ScratchDir != "" {
		scratch, err := engine.NewScratchSpace(config.ScratchDir)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithScratchSpace(scratch))
	}

	ectx, err := engine.NewExecutionContext(opts...)
	if err != nil {
		return fmt.Errorf("initializing execution context: %w", err)
	}
	eng := engine.New(operators.NewRegistry(), ectx)
	defer func() { _ = eng.Close() }()

	qctx, err := engine.NewQueryContext(config.ChunkByteSize, config.MaxInFlightTiles)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	if err := os.MkdirAll(config.Output, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", config.Output, err)
	}

	result, err := eng.ExecuteDocument(ctx, doc, rect, qctx)
	if err != nil {
		return fmt.Errorf("executing workflow: %w", err)
	}

	return writeResult(ctx, log, config.Output, result)
}
