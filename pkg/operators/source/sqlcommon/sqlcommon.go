// Package sqlcommon holds what the SQL-backed vector sources share: mapping
// database schemas onto collection schemas, decoding well-known binary
// geometries and streaming query rows as collection chunks.
package sqlcommon

import (
	"fmt"
	"strings"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkb"

	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
)

// AttributeColumn pairs a database column with its collection column type.
type AttributeColumn struct {
	Name string
	Type features.ColumnType
}

// GeometryDecoder turns the raw geometry column value of one row into a
// geometry. Sources whose geometry column is not plain well-known binary
// supply their own decoder. Returning a nil geometry without error marks a
// feature without usable geometry; the row is skipped.
type GeometryDecoder func(raw []byte) (geom.Geometry, error)

// RowSchema describes how the rows of a feature query map onto collections:
// the geometry kind, the reference system and the attribute columns in
// select order. When HasTime is set, each row carries a nullable start and
// end instant (epoch milliseconds) between the geometry and the attributes.
type RowSchema struct {
	DataType features.VectorDataType
	SRS      geo.SpatialReference
	Columns  []AttributeColumn
	HasTime  bool
	Geometry GeometryDecoder
}

// ColumnTypes returns the attribute schema as a name to type mapping.
func (s RowSchema) ColumnTypes() map[string]features.ColumnType {
	out := make(map[string]features.ColumnType, len(s.Columns))
	for _, col := range s.Columns {
		out[col.Name] = col.Type
	}
	return out
}

// VectorDataTypeForGeometry maps a database geometry type name onto the
// collection data type, lifting single types into their multi form. Mixed
// and exotic types are not supported.
func VectorDataTypeForGeometry(name string) (features.VectorDataType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "POINT", "MULTIPOINT":
		return features.VectorDataTypeMultiPoint, nil
	case "LINESTRING", "MULTILINESTRING":
		return features.VectorDataTypeMultiLineString, nil
	case "POLYGON", "MULTIPOLYGON":
		return features.VectorDataTypeMultiPolygon, nil
	}
	return "", fmt.Errorf("geometry type %q is not supported", name)
}

// ColumnTypeForSQLType maps a declared SQL column type onto a collection
// column type. Types without a representation, blobs among them, report
// ok false and are left out of the schema.
func ColumnTypeForSQLType(declared string) (features.ColumnType, bool) {
	t := strings.ToUpper(strings.TrimSpace(declared))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT", "BOOLEAN":
		return features.ColumnTypeInt, true
	case "REAL", "FLOAT", "DOUBLE", "DOUBLE PRECISION", "NUMERIC":
		return features.ColumnTypeFloat, true
	case "TEXT", "VARCHAR", "CHAR", "CHARACTER", "CLOB", "DATE", "DATETIME":
		return features.ColumnTypeText, true
	}
	return "", false
}

// DecodeGeometry decodes well-known binary into the collection's geometry
// kind.
func DecodeGeometry(raw []byte, dataType features.VectorDataType) (geom.Geometry, error) {
	g, err := wkb.DecodeBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding well-known binary: %w", err)
	}
	return features.NormalizeGeometry(dataType, g)
}

// GeometryInBBox reports whether any coordinate of the normalized geometry
// falls inside the bounding box.
func GeometryInBBox(g geom.Geometry, bbox geo.BoundingBox2D) bool {
	for _, c := range features.GeometryCoordinates(g) {
		if bbox.Contains(c) {
			return true
		}
	}
	return false
}
