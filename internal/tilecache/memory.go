package tilecache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/raster"
)

// Memory is a process-local tile cache with LRU eviction. It bounds the
// number of entries, not bytes; with one fixed tile shape per deployment the
// two are proportional. Tiles are shared with callers, not copied: grids are
// immutable once a tile has been emitted.
type Memory struct {
	entries *lru.Cache[string, raster.Tile]
}

var _ engine.TileCache = (*Memory)(nil)

// NewMemory returns a cache holding up to maxEntries tiles.
func NewMemory(maxEntries int) (*Memory, error) {
	entries, err := lru.New[string, raster.Tile](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Memory{entries: entries}, nil
}

// GetTile implements engine.TileCache.
func (m *Memory) GetTile(_ context.Context, key string) (raster.Tile, bool, error) {
	tile, ok := m.entries.Get(key)
	if !ok {
		lookupsTotal.WithLabelValues("memory", "miss").Inc()
		return raster.Tile{}, false, nil
	}
	lookupsTotal.WithLabelValues("memory", "hit").Inc()
	return tile, true, nil
}

// PutTile implements engine.TileCache.
func (m *Memory) PutTile(_ context.Context, key string, tile raster.Tile) error {
	m.entries.Add(key, tile)
	return nil
}

// Len returns the number of cached tiles.
func (m *Memory) Len() int { return m.entries.Len() }
