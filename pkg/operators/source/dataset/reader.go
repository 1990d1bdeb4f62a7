package dataset

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/logger"
	"github.com/2younis/geoengine/pkg/raster"
	"github.com/2younis/geoengine/pkg/retryablehttp"
)

// ErrPartMissing marks a grid part whose backing file or URL does not
// exist. The stream skips such parts; the fill adapter produces no-data
// tiles in their place.
var ErrPartMissing = errors.New("grid part missing")

// EncodeSamples serializes samples in the flat binary grid layout: one
// value per pixel, row-major, little-endian. Values must be exactly
// representable; the encoder never clamps or rounds.
func EncodeSamples(dataType raster.DataType, samples []float64) ([]byte, error) {
	size := dataType.ByteSize()
	if size == 0 {
		return nil, fmt.Errorf("unknown raster data type %q", dataType)
	}
	out := make([]byte, 0, len(samples)*size)
	var buf [8]byte
	for i, v := range samples {
		if !dataType.Contains(v) {
			return nil, fmt.Errorf("sample %d (%g) is not representable as %s", i, v, dataType)
		}
		if !dataType.IsFloat() && v != math.Trunc(v) {
			return nil, fmt.Errorf("sample %d (%g) is not integral", i, v)
		}
		switch dataType {
		case raster.U8:
			out = append(out, byte(v))
		case raster.U16:
			binary.LittleEndian.PutUint16(buf[:2], uint16(v))
			out = append(out, buf[:2]...)
		case raster.I16:
			binary.LittleEndian.PutUint16(buf[:2], uint16(int16(v)))
			out = append(out, buf[:2]...)
		case raster.I32:
			binary.LittleEndian.PutUint32(buf[:4], uint32(int32(v)))
			out = append(out, buf[:4]...)
		case raster.F32:
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(float32(v)))
			out = append(out, buf[:4]...)
		case raster.F64:
			binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(v))
			out = append(out, buf[:8]...)
		}
	}
	return out, nil
}

// sampleAt decodes the i-th sample of a flat binary grid.
func sampleAt(raw []byte, dataType raster.DataType, i int) float64 {
	switch dataType {
	case raster.U8:
		return float64(raw[i])
	case raster.U16:
		return float64(binary.LittleEndian.Uint16(raw[2*i:]))
	case raster.I16:
		return float64(int16(binary.LittleEndian.Uint16(raw[2*i:])))
	case raster.I32:
		return float64(int32(binary.LittleEndian.Uint32(raw[4*i:])))
	case raster.F32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
	case raster.F64:
		return math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return math.NaN()
}

// partHandle owns the bytes of one grid part. Loading is serialized per
// part; once loaded the raw bytes are immutable and shared.
type partHandle struct {
	location string

	mu     sync.Mutex
	loaded bool
	raw    []byte
	err    error
}

func (h *partHandle) bytes(ctx context.Context, f *fetcher) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		h.raw, h.err = f.fetch(ctx, h.location)
		h.loaded = true
	}
	return h.raw, h.err
}

// handleSet hands out one handle per part location for the lifetime of a
// query stream.
type handleSet struct {
	mu      sync.Mutex
	handles map[string]*partHandle
}

func newHandleSet() *handleSet {
	return &handleSet{handles: make(map[string]*partHandle)}
}

func (s *handleSet) handle(location string) *partHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[location]
	if !ok {
		h = &partHandle{location: location}
		s.handles[location] = h
	}
	return h
}

// fetcher materializes part locations into bytes. Plain paths and file://
// URLs are read directly; http(s) parts are downloaded through the retrying
// client and kept in the query's scratch directory, so a part needed again
// within the query is served from disk.
type fetcher struct {
	client *retryablehttp.Client
	dir    string
	log    logger.Logger
}

func (f *fetcher) fetch(ctx context.Context, location string) ([]byte, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return f.fetchRemote(ctx, location)
	case strings.HasPrefix(location, "file://"):
		return readLocal(strings.TrimPrefix(location, "file://"))
	default:
		return readLocal(location)
	}
}

func readLocal(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrPartMissing)
	}
	if err != nil {
		return nil, engine.NewIoError("reading grid part", err)
	}
	return raw, nil
}

func (f *fetcher) fetchRemote(ctx context.Context, url string) ([]byte, error) {
	dest := filepath.Join(f.dir, fmt.Sprintf("part-%016x.grid", xxhash.Sum64String(url)))
	if raw, err := os.ReadFile(dest); err == nil {
		return raw, nil
	}

	resp, err := f.client.Get(ctx, url)
	if err != nil {
		return nil, engine.NewIoError("downloading grid part", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%s: %w", url, ErrPartMissing)
	case resp.StatusCode != http.StatusOK:
		return nil, engine.NewIoError("downloading grid part",
			fmt.Errorf("%s returned status %d", url, resp.StatusCode))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engine.NewIoError("downloading grid part", err)
	}

	if f.dir != "" {
		if err := os.WriteFile(dest, raw, 0o644); err != nil {
			f.log.Warn("cannot keep grid part in scratch space",
				zap.String("url", url), zap.Error(err))
		}
	}
	return raw, nil
}
