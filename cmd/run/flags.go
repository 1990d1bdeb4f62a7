package run

import (
	"github.com/spf13/cobra"

	"github.com/2younis/geoengine/cmd/util"
)

// bindRunFlags binds the cobra cmd flags to the equivalent config value being
// managed by viper. This bridges the config between cobra flags and viper
// flags.
func bindRunFlags(command *cobra.Command) {
	defaultConfig := DefaultConfig()
	flags := command.Flags()

	flags.String("workflow", defaultConfig.Workflow, "the workflow document to execute")
	util.MustBindPFlag("workflow", flags.Lookup("workflow"))
	util.MustBindEnv("workflow", "GEOENGINE_WORKFLOW")

	flags.String("catalog", defaultConfig.Catalog, "the dataset catalog file or URL resolving dataset identifiers")
	util.MustBindPFlag("catalog", flags.Lookup("catalog"))
	util.MustBindEnv("catalog", "GEOENGINE_CATALOG")

	flags.String("output", defaultConfig.Output, "the directory the query results are written to")
	util.MustBindPFlag("output", flags.Lookup("output"))
	util.MustBindEnv("output", "GEOENGINE_OUTPUT")

	flags.String("bbox", defaultConfig.BBox, "the spatial extent of the query as min-x,min-y,max-x,max-y")
	util.MustBindPFlag("query.bbox", flags.Lookup("bbox"))
	util.MustBindEnv("query.bbox", "GEOENGINE_QUERY_BBOX")

	flags.String("time", defaultConfig.Time, "the temporal extent of the query: one instant or start,end, each RFC 3339 or epoch milliseconds")
	util.MustBindPFlag("query.time", flags.Lookup("time"))
	util.MustBindEnv("query.time", "GEOENGINE_QUERY_TIME")

	flags.String("resolution", defaultConfig.Resolution, "the pixel size of the query, one value or x,y")
	util.MustBindPFlag("query.resolution", flags.Lookup("resolution"))
	util.MustBindEnv("query.resolution", "GEOENGINE_QUERY_RESOLUTION")

	flags.Int("chunk-byte-size", defaultConfig.ChunkByteSize, "the byte budget of one feature collection chunk")
	util.MustBindPFlag("query.chunkByteSize", flags.Lookup("chunk-byte-size"))
	util.MustBindEnv("query.chunkByteSize", "GEOENGINE_QUERY_CHUNK_BYTE_SIZE", "GEOENGINE_QUERY_CHUNKBYTESIZE")

	flags.Int("max-in-flight-tiles", defaultConfig.MaxInFlightTiles, "the number of tiles computed ahead of the consumer")
	util.MustBindPFlag("query.maxInFlightTiles", flags.Lookup("max-in-flight-tiles"))
	util.MustBindEnv("query.maxInFlightTiles", "GEOENGINE_QUERY_MAX_IN_FLIGHT_TILES", "GEOENGINE_QUERY_MAXINFLIGHTTILES")

	flags.String("tile-size", defaultConfig.TileSize, "the tile size of the global grid in pixels, height,width")
	util.MustBindPFlag("tiling.tileSize", flags.Lookup("tile-size"))
	util.MustBindEnv("tiling.tileSize", "GEOENGINE_TILING_TILE_SIZE", "GEOENGINE_TILING_TILESIZE")

	flags.String("tile-origin", defaultConfig.TileOrigin, "the coordinate the global grid is anchored at, x,y")
	util.MustBindPFlag("tiling.origin", flags.Lookup("tile-origin"))
	util.MustBindEnv("tiling.origin", "GEOENGINE_TILING_ORIGIN")

	flags.Int("workers", defaultConfig.Workers, "the size of the worker pool computing tiles, 0 for the number of CPUs")
	util.MustBindPFlag("workers", flags.Lookup("workers"))
	util.MustBindEnv("workers", "GEOENGINE_WORKERS")

	flags.Int("tile-cache-entries", defaultConfig.TileCacheEntries, "the capacity of the in-memory source tile cache, 0 to disable caching")
	util.MustBindPFlag("cache.tileEntries", flags.Lookup("tile-cache-entries"))
	util.MustBindEnv("cache.tileEntries", "GEOENGINE_CACHE_TILE_ENTRIES", "GEOENGINE_CACHE_TILEENTRIES")

	flags.String("scratch-dir", defaultConfig.ScratchDir, "the directory for temporary working files, empty for a fresh temporary directory")
	util.MustBindPFlag("scratchDir", flags.Lookup("scratch-dir"))
	util.MustBindEnv("scratchDir", "GEOENGINE_SCRATCH_DIR", "GEOENGINE_SCRATCHDIR")

	flags.Duration("timeout", defaultConfig.Timeout, "the wall time limit of the query, 0 for none")
	util.MustBindPFlag("timeout", flags.Lookup("timeout"))
	util.MustBindEnv("timeout", "GEOENGINE_TIMEOUT")

	flags.String("log-format", defaultConfig.LogFormat, "the log output format, one of ['text', 'json']")
	util.MustBindPFlag("log.format", flags.Lookup("log-format"))
	util.MustBindEnv("log.format", "GEOENGINE_LOG_FORMAT")

	flags.String("log-level", defaultConfig.LogLevel, "the log level, one of ['none', 'debug', 'info', 'warn', 'error', 'fatal']")
	util.MustBindPFlag("log.level", flags.Lookup("log-level"))
	util.MustBindEnv("log.level", "GEOENGINE_LOG_LEVEL")
}
