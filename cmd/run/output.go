package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/logger"
)

// writeResult persists one query result to dir. Raster tiles are written as
// they stream in, so memory stays bounded by the in-flight cap regardless of
// the query size.
func writeResult(ctx context.Context, log logger.Logger, dir string, result *engine.Result) error {
	log = log.With(
		zap.String("query_id", result.QueryID),
		zap.String("kind", string(result.Kind)),
	)

	switch {
	case result.Raster != nil:
		return writeRasterResult(ctx, log, dir, result.Raster)
	case result.Vector != nil:
		return writeVectorResult(ctx, log, dir, result.Vector)
	case result.Plot != nil:
		return writePlotResult(log, dir, result.Plot)
	default:
		return errors.New("result carries no payload")
	}
}

func writeRasterResult(ctx context.Context, log logger.Logger, dir string, result *engine.RasterResult) error {
	defer result.Tiles.Stop()

	if err := writeJSONFile(filepath.Join(dir, "descriptor.json"), result.Descriptor); err != nil {
		return err
	}

	count := 0
	for {
		tile, err := result.Tiles.Next(ctx)
		if errors.Is(err, engine.ErrIteratorDone) {
			break
		}
		if err != nil {
			return fmt.Errorf("streaming tiles: %w", err)
		}

		// Tiles are written compact; an indented grid would put every
		// sample on its own line.
		data, err := json.Marshal(tile)
		if err != nil {
			return fmt.Errorf("encoding tile %v: %w", tile.Position, err)
		}
		name := fmt.Sprintf("tile-%06d.json", count)
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
		count++
	}

	log.Info("query finished", zap.Int("tiles", count), zap.String("output", dir))
	return nil
}

func writeVectorResult(ctx context.Context, log logger.Logger, dir string, result *engine.VectorResult) error {
	defer result.Collections.Stop()

	if err := writeJSONFile(filepath.Join(dir, "descriptor.json"), result.Descriptor); err != nil {
		return err
	}

	var merged *features.Collection
	chunks := 0
	for {
		chunk, err := result.Collections.Next(ctx)
		if errors.Is(err, engine.ErrIteratorDone) {
			break
		}
		if err != nil {
			return fmt.Errorf("streaming features: %w", err)
		}
		chunks++
		if merged == nil {
			merged = chunk
			continue
		}
		merged, err = merged.Append(chunk)
		if err != nil {
			return fmt.Errorf("merging feature chunks: %w", err)
		}
	}

	var (
		doc      = []byte(`{"type":"FeatureCollection","features":[]}`)
		featured int
	)
	if merged != nil {
		featured = merged.Len()
		var err error
		doc, err = merged.MarshalGeoJSON()
		if err != nil {
			return fmt.Errorf("encoding features: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "features.geojson"), doc, 0o644); err != nil {
		return err
	}

	log.Info("query finished",
		zap.Int("chunks", chunks),
		zap.Int("features", featured),
		zap.String("output", dir),
	)
	return nil
}

func writePlotResult(log logger.Logger, dir string, result *engine.PlotResult) error {
	if err := writeJSONFile(filepath.Join(dir, "plot.json"), result.Data); err != nil {
		return err
	}

	log.Info("query finished", zap.String("plot", result.Data.Kind), zap.String("output", dir))
	return nil
}

// writeJSONFile writes v as indented JSON with a trailing newline.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
