package features

import (
	"fmt"
	"sort"

	"github.com/go-spatial/geom"

	"github.com/2younis/geoengine/pkg/geo"
)

// VectorDataType is the geometry kind of a feature collection. A collection
// holds exactly one kind; Data collections carry no geometries at all.
type VectorDataType string

const (
	VectorDataTypeData            VectorDataType = "Data"
	VectorDataTypeMultiPoint      VectorDataType = "MultiPoint"
	VectorDataTypeMultiLineString VectorDataType = "MultiLineString"
	VectorDataTypeMultiPolygon    VectorDataType = "MultiPolygon"
)

// IsValid reports whether t is a supported vector data type.
func (t VectorDataType) IsValid() bool {
	switch t {
	case VectorDataTypeData, VectorDataTypeMultiPoint, VectorDataTypeMultiLineString, VectorDataTypeMultiPolygon:
		return true
	}
	return false
}

// ParseVectorDataType parses the string form, e.g. "MultiPoint".
func ParseVectorDataType(s string) (VectorDataType, error) {
	t := VectorDataType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown vector data type %q", s)
	}
	return t, nil
}

// NormalizeGeometry coerces a decoded geometry to the collection's data
// type, lifting single geometries into their multi form. It fails when the
// geometry kind cannot represent the data type.
func NormalizeGeometry(t VectorDataType, g geom.Geometry) (geom.Geometry, error) {
	switch t {
	case VectorDataTypeMultiPoint:
		switch x := g.(type) {
		case geom.Point:
			return geom.MultiPoint{[2]float64(x)}, nil
		case geom.MultiPoint:
			return x, nil
		}
	case VectorDataTypeMultiLineString:
		switch x := g.(type) {
		case geom.LineString:
			return geom.MultiLineString{[][2]float64(x)}, nil
		case geom.MultiLineString:
			return x, nil
		}
	case VectorDataTypeMultiPolygon:
		switch x := g.(type) {
		case geom.Polygon:
			return geom.MultiPolygon{[][][2]float64(x)}, nil
		case geom.MultiPolygon:
			return x, nil
		}
	}
	return nil, fmt.Errorf("geometry %T does not fit a %s collection", g, t)
}

// GeometryCoordinates flattens a normalized geometry into its coordinates.
func GeometryCoordinates(g geom.Geometry) []geo.Coordinate2D {
	var out []geo.Coordinate2D
	add := func(p [2]float64) { out = append(out, geo.NewCoordinate2D(p[0], p[1])) }
	switch x := g.(type) {
	case geom.MultiPoint:
		for _, p := range x {
			add(p)
		}
	case geom.MultiLineString:
		for _, line := range x {
			for _, p := range line {
				add(p)
			}
		}
	case geom.MultiPolygon:
		for _, poly := range x {
			for _, ring := range poly {
				for _, p := range ring {
					add(p)
				}
			}
		}
	}
	return out
}

// Collection is an immutable set of features: geometries, validity time
// intervals and attribute columns, all of equal length, in one spatial
// reference system. Build one with a CollectionBuilder.
type Collection struct {
	dataType   VectorDataType
	srs        geo.SpatialReference
	geometries []geom.Geometry
	times      []geo.TimeInterval
	columns    map[string]*Column
}

// Len returns the number of features.
func (c *Collection) Len() int { return len(c.times) }

// IsEmpty reports whether the collection has no features.
func (c *Collection) IsEmpty() bool { return c.Len() == 0 }

// DataType returns the geometry kind.
func (c *Collection) DataType() VectorDataType { return c.dataType }

// SRS returns the spatial reference system of all geometries.
func (c *Collection) SRS() geo.SpatialReference { return c.srs }

// GeometryAt returns the geometry of feature i; nil for Data collections.
func (c *Collection) GeometryAt(i int) geom.Geometry {
	if c.dataType == VectorDataTypeData {
		return nil
	}
	return c.geometries[i]
}

// TimeAt returns the validity interval of feature i.
func (c *Collection) TimeAt(i int) geo.TimeInterval { return c.times[i] }

// Column returns the named column, or nil if it does not exist.
func (c *Collection) Column(name string) *Column { return c.columns[name] }

// ColumnNames returns the column names in sorted order.
func (c *Collection) ColumnNames() []string {
	names := make([]string, 0, len(c.columns))
	for name := range c.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ColumnTypes returns the schema as a name to type mapping.
func (c *Collection) ColumnTypes() map[string]ColumnType {
	out := make(map[string]ColumnType, len(c.columns))
	for name, col := range c.columns {
		out[name] = col.Type()
	}
	return out
}

// ByteSize estimates the in-memory size of the collection, the unit of the
// chunk byte budget.
func (c *Collection) ByteSize() int {
	size := len(c.times) * 16
	for _, g := range c.geometries {
		size += 16 * len(GeometryCoordinates(g))
	}
	for _, col := range c.columns {
		size += col.byteSize()
	}
	return size
}

// Filter returns a collection keeping the features where mask is true. The
// mask must have one entry per feature.
func (c *Collection) Filter(mask []bool) (*Collection, error) {
	if len(mask) != c.Len() {
		return nil, fmt.Errorf("filter mask length %d does not match %d features", len(mask), c.Len())
	}
	out := &Collection{
		dataType: c.dataType,
		srs:      c.srs,
		columns:  make(map[string]*Column, len(c.columns)),
	}
	for i, keep := range mask {
		if !keep {
			continue
		}
		if c.dataType != VectorDataTypeData {
			out.geometries = append(out.geometries, c.geometries[i])
		}
		out.times = append(out.times, c.times[i])
	}
	for name, col := range c.columns {
		out.columns[name] = col.filtered(mask)
	}
	return out, nil
}

// Append returns a collection holding the features of c followed by those
// of other. Data type, reference system and schema must match.
func (c *Collection) Append(other *Collection) (*Collection, error) {
	if c.dataType != other.dataType {
		return nil, fmt.Errorf("cannot append %s collection to %s collection", other.dataType, c.dataType)
	}
	if c.srs != other.srs {
		return nil, fmt.Errorf("cannot append collections with different spatial references %s and %s", other.srs, c.srs)
	}
	if len(c.columns) != len(other.columns) {
		return nil, fmt.Errorf("cannot append collections with different schemas")
	}
	out := &Collection{
		dataType:   c.dataType,
		srs:        c.srs,
		geometries: append(append([]geom.Geometry(nil), c.geometries...), other.geometries...),
		times:      append(append([]geo.TimeInterval(nil), c.times...), other.times...),
		columns:    make(map[string]*Column, len(c.columns)),
	}
	for name, col := range c.columns {
		otherCol := other.columns[name]
		if otherCol == nil {
			return nil, fmt.Errorf("cannot append collection without column %q", name)
		}
		merged := col.filtered(allTrue(col.Len()))
		if err := merged.appendFrom(otherCol); err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		out.columns[name] = merged
	}
	return out, nil
}

func allTrue(n int) []bool {
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	return mask
}
