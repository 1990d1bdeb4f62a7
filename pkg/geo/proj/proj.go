// Package proj projects coordinates between the spatial reference systems
// the engine understands natively: EPSG:4326 (WGS 84 geographic) and
// EPSG:3857 (spherical web Mercator), in both directions, plus the identity
// projection for equal systems. The formulas are closed-form; there is no
// external projection database.
package proj

import (
	"errors"
	"fmt"
	"math"

	"github.com/2younis/geoengine/pkg/geo"
)

// ErrUnsupported is returned when no projection between two spatial
// reference systems is available.
var ErrUnsupported = errors.New("no projection between the spatial reference systems")

const (
	earthRadius = 6378137.0

	// mercatorMaxLat is the latitude at which web Mercator cuts off,
	// where the projected square reaches y = ±π·R.
	mercatorMaxLat = 85.06

	// pointsPerEdge controls bounding box densification: projected boxes
	// are sampled at this many intermediate points per edge before taking
	// the envelope, since straight edges do not stay straight under
	// projection.
	pointsPerEdge = 7
)

// Projection maps coordinates from one spatial reference system to another.
// A Projection is immutable and safe for concurrent use.
type Projection struct {
	from    geo.SpatialReference
	to      geo.SpatialReference
	project func(geo.Coordinate2D) (geo.Coordinate2D, error)
}

// Supported reports whether New would succeed for the pair.
func Supported(from, to geo.SpatialReference) bool {
	_, err := New(from, to)
	return err == nil
}

// New returns the projection from one reference system to another. Equal
// systems yield the identity projection. Unknown pairs fail with
// ErrUnsupported.
func New(from, to geo.SpatialReference) (*Projection, error) {
	p := &Projection{from: from, to: to}
	switch {
	case from == to:
		p.project = func(c geo.Coordinate2D) (geo.Coordinate2D, error) { return c, nil }
	case from == geo.SpatialReferenceEpsg4326 && to == geo.SpatialReferenceEpsg3857:
		p.project = lonLatToMercator
	case from == geo.SpatialReferenceEpsg3857 && to == geo.SpatialReferenceEpsg4326:
		p.project = mercatorToLonLat
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrUnsupported, from, to)
	}
	return p, nil
}

// From returns the source reference system.
func (p *Projection) From() geo.SpatialReference { return p.from }

// To returns the target reference system.
func (p *Projection) To() geo.SpatialReference { return p.to }

// Inverse returns the projection in the opposite direction.
func (p *Projection) Inverse() (*Projection, error) {
	return New(p.to, p.from)
}

// ProjectCoordinate maps a single coordinate. Coordinates outside the area
// where the projection is defined fail.
func (p *Projection) ProjectCoordinate(c geo.Coordinate2D) (geo.Coordinate2D, error) {
	return p.project(c)
}

// ProjectCoordinates maps a batch of coordinates into a fresh slice. The
// whole batch fails if any coordinate cannot be projected.
func (p *Projection) ProjectCoordinates(coords []geo.Coordinate2D) ([]geo.Coordinate2D, error) {
	out := make([]geo.Coordinate2D, len(coords))
	for i, c := range coords {
		projected, err := p.project(c)
		if err != nil {
			return nil, err
		}
		out[i] = projected
	}
	return out, nil
}

// ProjectBoundingBox maps a box by projecting densified edge points and
// taking their envelope. The input is first clipped to the part of the
// source system that the target system can represent; an input entirely
// outside that area fails.
func (p *Projection) ProjectBoundingBox(bbox geo.BoundingBox2D) (geo.BoundingBox2D, error) {
	if area, ok := p.projectableArea(); ok {
		clipped, ok := bbox.Intersection(area)
		if !ok {
			return geo.BoundingBox2D{}, fmt.Errorf(
				"bounding box %s lies outside the area projectable from %s to %s", bbox, p.from, p.to)
		}
		bbox = clipped
	}

	edge := densifyEdges(bbox)
	projected, err := p.ProjectCoordinates(edge)
	if err != nil {
		return geo.BoundingBox2D{}, err
	}
	return geo.BoundingBoxFromCoordinates(projected)
}

// projectableArea returns the subset of the source system, in source
// coordinates, that projects into the target system's area of use.
func (p *Projection) projectableArea() (geo.BoundingBox2D, bool) {
	if p.from == geo.SpatialReferenceEpsg4326 && p.to == geo.SpatialReferenceEpsg3857 {
		return geo.MustBoundingBox2D(-180, -mercatorMaxLat, 180, mercatorMaxLat), true
	}
	return p.from.AreaOfUse()
}

// SuggestPixelSize derives a pixel size in the target system that preserves
// the sample density of a query: bbox and resolution are given in the source
// system, and the suggestion keeps the number of pixels along the diagonal
// constant under projection.
func (p *Projection) SuggestPixelSize(bbox geo.BoundingBox2D, resolution geo.SpatialResolution) (geo.SpatialResolution, error) {
	projected, err := p.ProjectBoundingBox(bbox)
	if err != nil {
		return geo.SpatialResolution{}, err
	}
	diagPixels := math.Hypot(bbox.Width()/resolution.X, bbox.Height()/resolution.Y)
	if !(diagPixels > 0) {
		return geo.SpatialResolution{}, fmt.Errorf("cannot suggest a pixel size for an empty query %s", bbox)
	}
	diag := math.Hypot(projected.Width(), projected.Height())
	size := diag / diagPixels
	return geo.NewSpatialResolution(size, size)
}

func densifyEdges(bbox geo.BoundingBox2D) []geo.Coordinate2D {
	ll, ur := bbox.LowerLeft(), bbox.UpperRight()
	coords := make([]geo.Coordinate2D, 0, 4*(pointsPerEdge+1))
	for i := 0; i <= pointsPerEdge; i++ {
		f := float64(i) / float64(pointsPerEdge)
		x := ll.X + f*(ur.X-ll.X)
		y := ll.Y + f*(ur.Y-ll.Y)
		coords = append(coords,
			geo.NewCoordinate2D(x, ll.Y),
			geo.NewCoordinate2D(x, ur.Y),
			geo.NewCoordinate2D(ll.X, y),
			geo.NewCoordinate2D(ur.X, y),
		)
	}
	return coords
}

func lonLatToMercator(c geo.Coordinate2D) (geo.Coordinate2D, error) {
	if c.X < -180 || c.X > 180 || c.Y < -mercatorMaxLat || c.Y > mercatorMaxLat {
		return geo.Coordinate2D{}, fmt.Errorf(
			"coordinate %v outside the web Mercator area of use (lon within ±180, lat within ±%g)",
			c, mercatorMaxLat)
	}
	lat := c.Y * math.Pi / 180
	return geo.Coordinate2D{
		X: earthRadius * c.X * math.Pi / 180,
		Y: earthRadius * math.Log(math.Tan(math.Pi/4+lat/2)),
	}, nil
}

func mercatorToLonLat(c geo.Coordinate2D) (geo.Coordinate2D, error) {
	if area, ok := geo.SpatialReferenceEpsg3857.AreaOfUse(); ok && !area.Contains(c) {
		return geo.Coordinate2D{}, fmt.Errorf("coordinate %v outside the web Mercator extent", c)
	}
	return geo.Coordinate2D{
		X: c.X / earthRadius * 180 / math.Pi,
		Y: (2*math.Atan(math.Exp(c.Y/earthRadius)) - math.Pi/2) * 180 / math.Pi,
	}, nil
}
