package tilecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/raster"
)

// RedisOption adjusts the Redis client configuration.
type RedisOption func(*redis.Options)

// WithPoolSize sets the connection pool size.
func WithPoolSize(n int) RedisOption {
	return func(o *redis.Options) { o.PoolSize = n }
}

// WithDialTimeout sets the connect timeout.
func WithDialTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.DialTimeout = d }
}

// WithReadTimeout sets the per-command read timeout.
func WithReadTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

// WithWriteTimeout sets the per-command write timeout.
func WithWriteTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// Redis caches tiles in a shared Redis instance so that several engine
// processes reuse each other's work. Tiles travel in their JSON wire form
// and expire after the configured TTL. A failed lookup is reported as an
// error, not a miss; callers decide whether a degraded cache should degrade
// the query.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ engine.TileCache = (*Redis)(nil)

// NewRedis connects to addr and verifies the connection with a ping. A
// non-positive ttl stores tiles without expiry.
func NewRedis(ctx context.Context, addr string, ttl time.Duration, opts ...RedisOption) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     16,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

// GetTile implements engine.TileCache.
func (r *Redis) GetTile(ctx context.Context, key string) (raster.Tile, bool, error) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		lookupsTotal.WithLabelValues("redis", "miss").Inc()
		return raster.Tile{}, false, nil
	}
	if err != nil {
		return raster.Tile{}, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	var tile raster.Tile
	if err := json.Unmarshal(raw, &tile); err != nil {
		return raster.Tile{}, false, fmt.Errorf("decode cached tile %q: %w", key, err)
	}
	lookupsTotal.WithLabelValues("redis", "hit").Inc()
	return tile, true, nil
}

// PutTile implements engine.TileCache.
func (r *Redis) PutTile(ctx context.Context, key string, tile raster.Tile) error {
	raw, err := json.Marshal(tile)
	if err != nil {
		return fmt.Errorf("encode tile %q: %w", key, err)
	}
	var ttl time.Duration
	if r.ttl > 0 {
		ttl = r.ttl
	}
	if err := r.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
