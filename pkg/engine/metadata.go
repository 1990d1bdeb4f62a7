package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Yiling-J/theine-go"
	"github.com/google/uuid"

	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/raster"
)

// ErrDatasetNotFound is returned when no dataset exists for an identifier.
var ErrDatasetNotFound = errors.New("dataset not found")

// RasterBandMetadata describes one band of a raster dataset.
type RasterBandMetadata struct {
	Name        string          `json:"name"`
	DataType    raster.DataType `json:"dataType"`
	Measurement Measurement     `json:"measurement"`
	NoData      *float64        `json:"noDataValue,omitempty"`
}

// RasterSliceMetadata locates the stored grid of one time step. Locations
// holds one entry per band, parallel to the dataset's band list, each a
// file path or URL understood by the dataset raster source.
type RasterSliceMetadata struct {
	Time         geo.TimeInterval `json:"time"`
	Locations    []string         `json:"locations"`
	GeoTransform geo.GeoTransform `json:"geoTransform"`
	Shape        geo.GridShape2D  `json:"shape"`
}

// RasterDatasetMetadata is everything the engine needs to know about a
// raster dataset without reading pixels: reference system, band structure,
// native resolution and the time slices that exist. Slices are kept in
// ascending time order.
type RasterDatasetMetadata struct {
	SRS              geo.SpatialReference  `json:"spatialReference"`
	NativeResolution geo.SpatialResolution `json:"nativeResolution"`
	Bands            []RasterBandMetadata  `json:"bands"`
	Slices           []RasterSliceMetadata `json:"slices"`
	Bounds           *geo.BoundingBox2D    `json:"bounds,omitempty"`
}

// Validate checks band and slice consistency.
func (m *RasterDatasetMetadata) Validate() error {
	if len(m.Bands) == 0 {
		return fmt.Errorf("raster dataset needs at least one band")
	}
	for i, band := range m.Bands {
		if !band.DataType.IsValid() {
			return fmt.Errorf("band %d has unknown data type %q", i, band.DataType)
		}
		if band.NoData != nil && !band.DataType.Contains(*band.NoData) {
			return fmt.Errorf("band %d no-data value %g is not representable as %s", i, *band.NoData, band.DataType)
		}
	}
	for i, slice := range m.Slices {
		if len(slice.Locations) != len(m.Bands) {
			return fmt.Errorf("slice %d has %d locations for %d bands", i, len(slice.Locations), len(m.Bands))
		}
		if i > 0 && slice.Time.Start < m.Slices[i-1].Time.Start {
			return fmt.Errorf("slice %d breaks ascending time order", i)
		}
	}
	return nil
}

// TimeSpan returns the interval covered by the dataset's slices.
func (m *RasterDatasetMetadata) TimeSpan() (geo.TimeInterval, bool) {
	if len(m.Slices) == 0 {
		return geo.TimeInterval{}, false
	}
	span := m.Slices[0].Time
	for _, s := range m.Slices[1:] {
		span = span.Union(s.Time)
	}
	return span, true
}

// DescriptorForBand derives the result descriptor of a source reading one
// band of the dataset.
func (m *RasterDatasetMetadata) DescriptorForBand(band int) (RasterResultDescriptor, error) {
	if band < 0 || band >= len(m.Bands) {
		return RasterResultDescriptor{}, NewUnsupportedOperationError(
			"band selection", fmt.Sprintf("band %d of a dataset with %d bands", band, len(m.Bands)))
	}
	d := RasterResultDescriptor{
		DataType:    m.Bands[band].DataType,
		SRS:         m.SRS,
		Measurement: m.Bands[band].Measurement,
		Bounds:      m.Bounds,
	}
	if span, ok := m.TimeSpan(); ok {
		d.Time = &span
	}
	return d, nil
}

// MetadataProvider resolves dataset identifiers to metadata. Providers are
// read-only from the engine's perspective and must be safe for concurrent
// use.
type MetadataProvider interface {
	RasterMetadata(ctx context.Context, id uuid.UUID) (*RasterDatasetMetadata, error)
}

// StaticCatalog is an in-memory metadata provider, loadable from a JSON
// document mapping dataset identifiers to metadata. It serves tests and the
// standalone command line runner.
type StaticCatalog struct {
	mu      sync.RWMutex
	rasters map[uuid.UUID]*RasterDatasetMetadata
}

// NewStaticCatalog returns an empty catalog.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{rasters: make(map[uuid.UUID]*RasterDatasetMetadata)}
}

// ParseStaticCatalog loads a catalog document of the form
// {"rasters": {"<uuid>": {...}, ...}}.
func ParseStaticCatalog(data []byte) (*StaticCatalog, error) {
	var doc struct {
		Rasters map[string]*RasterDatasetMetadata `json:"rasters"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid catalog document: %w", err)
	}
	catalog := NewStaticCatalog()
	for key, meta := range doc.Rasters {
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("invalid dataset id %q: %w", key, err)
		}
		if err := catalog.AddRaster(id, meta); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// AddRaster registers a dataset after validating it.
func (c *StaticCatalog) AddRaster(id uuid.UUID, meta *RasterDatasetMetadata) error {
	if meta == nil {
		return fmt.Errorf("dataset %s: metadata must not be nil", id)
	}
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("dataset %s: %w", id, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rasters[id] = meta
	return nil
}

// RasterIDs returns the registered dataset identifiers in stable order.
func (c *StaticCatalog) RasterIDs() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(c.rasters))
	for id := range c.rasters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// RasterMetadata implements MetadataProvider.
func (c *StaticCatalog) RasterMetadata(_ context.Context, id uuid.UUID) (*RasterDatasetMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.rasters[id]
	if !ok {
		return nil, fmt.Errorf("raster dataset %s: %w", id, ErrDatasetNotFound)
	}
	return meta, nil
}

// CachedMetadataProvider memoizes lookups of an inner provider. Dataset
// metadata is written once and read many times during initialization, so a
// small cache in front of slow catalogs pays for itself. Negative results
// are not cached.
type CachedMetadataProvider struct {
	inner MetadataProvider
	cache *theine.Cache[uuid.UUID, *RasterDatasetMetadata]
}

// NewCachedMetadataProvider caches up to maxEntries datasets of inner.
func NewCachedMetadataProvider(inner MetadataProvider, maxEntries int64) (*CachedMetadataProvider, error) {
	cache, err := theine.NewBuilder[uuid.UUID, *RasterDatasetMetadata](maxEntries).Build()
	if err != nil {
		return nil, err
	}
	return &CachedMetadataProvider{inner: inner, cache: cache}, nil
}

// RasterMetadata implements MetadataProvider.
func (p *CachedMetadataProvider) RasterMetadata(ctx context.Context, id uuid.UUID) (*RasterDatasetMetadata, error) {
	if meta, ok := p.cache.Get(id); ok {
		return meta, nil
	}
	meta, err := p.inner.RasterMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	p.cache.Set(id, meta, 1)
	return meta, nil
}

// Close stops the cache's maintenance goroutines.
func (p *CachedMetadataProvider) Close() {
	p.cache.Close()
}
