package gpkg

import (
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkb"
)

// GeoPackage geometry blob header flags.
const (
	flagEnvelopeMask = 0x0e
	flagEmpty        = 0x10
	flagExtended     = 0x20
)

// envelopeBytes maps the envelope contents indicator code onto the number of
// envelope bytes following the header.
var envelopeBytes = map[byte]int{
	0: 0,  // no envelope
	1: 32, // x, y
	2: 48, // x, y, z
	3: 48, // x, y, m
	4: 64, // x, y, z, m
}

// decodeGeometryBlob strips the GeoPackage binary header and decodes the
// enclosed well-known binary geometry. Blobs flagged empty decode to nil.
func decodeGeometryBlob(raw []byte) (geom.Geometry, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("geometry blob of %d bytes is truncated", len(raw))
	}
	if raw[0] != 'G' || raw[1] != 'P' {
		return nil, fmt.Errorf("geometry blob does not start with the GP magic")
	}
	if version := raw[2]; version != 0 {
		return nil, fmt.Errorf("geometry blob version %d is not supported", version)
	}

	flags := raw[3]
	if flags&flagExtended != 0 {
		return nil, fmt.Errorf("extended geometry types are not supported")
	}
	envelope, ok := envelopeBytes[(flags&flagEnvelopeMask)>>1]
	if !ok {
		return nil, fmt.Errorf("invalid envelope contents indicator %d", (flags&flagEnvelopeMask)>>1)
	}

	// The srs id and envelope are redundant with the layer metadata; only
	// their length matters here.
	payload := 8 + envelope
	if len(raw) < payload {
		return nil, fmt.Errorf("geometry blob of %d bytes is shorter than its %d byte header", len(raw), payload)
	}
	if flags&flagEmpty != 0 {
		return nil, nil
	}
	return wkb.DecodeBytes(raw[payload:])
}
