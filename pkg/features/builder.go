package features

import (
	"fmt"

	"github.com/go-spatial/geom"

	"github.com/2younis/geoengine/pkg/geo"
)

// CollectionBuilder assembles a Collection feature by feature, enforcing the
// equal-length invariant: every appended feature fills one slot in every
// column. Declare the schema first, then append features, then Build.
type CollectionBuilder struct {
	dataType VectorDataType
	srs      geo.SpatialReference

	geometries []geom.Geometry
	times      []geo.TimeInterval
	columns    map[string]*Column
	order      []string
	err        error
}

// NewCollectionBuilder starts a builder for the given geometry kind and
// spatial reference system.
func NewCollectionBuilder(dataType VectorDataType, srs geo.SpatialReference) *CollectionBuilder {
	b := &CollectionBuilder{
		dataType: dataType,
		srs:      srs,
		columns:  make(map[string]*Column),
	}
	if !dataType.IsValid() {
		b.err = fmt.Errorf("unknown vector data type %q", dataType)
	}
	return b
}

// AddColumn declares an attribute column. All columns must be declared
// before the first feature is appended.
func (b *CollectionBuilder) AddColumn(name string, t ColumnType) *CollectionBuilder {
	if b.err != nil {
		return b
	}
	if name == "" {
		b.err = fmt.Errorf("column name must not be empty")
		return b
	}
	if len(b.times) > 0 {
		b.err = fmt.Errorf("cannot add column %q after features were appended", name)
		return b
	}
	if _, exists := b.columns[name]; exists {
		b.err = fmt.Errorf("duplicate column %q", name)
		return b
	}
	col, err := NewColumn(t)
	if err != nil {
		b.err = err
		return b
	}
	b.columns[name] = col
	b.order = append(b.order, name)
	return b
}

// AppendFeature adds one feature. The geometry is normalized to the
// collection's data type (nil only for Data collections); values holds one
// entry per declared column, missing entries become null.
func (b *CollectionBuilder) AppendFeature(geometry geom.Geometry, time geo.TimeInterval, values map[string]any) *CollectionBuilder {
	if b.err != nil {
		return b
	}
	if b.dataType == VectorDataTypeData {
		if geometry != nil {
			b.err = fmt.Errorf("data collections cannot hold geometries")
			return b
		}
	} else {
		if geometry == nil {
			b.err = fmt.Errorf("%s collections require a geometry per feature", b.dataType)
			return b
		}
		normalized, err := NormalizeGeometry(b.dataType, geometry)
		if err != nil {
			b.err = err
			return b
		}
		b.geometries = append(b.geometries, normalized)
	}
	b.times = append(b.times, time)

	for name, v := range values {
		if _, declared := b.columns[name]; !declared {
			b.err = fmt.Errorf("value for undeclared column %q", name)
			return b
		}
		_ = v
	}
	for _, name := range b.order {
		if err := b.columns[name].appendValue(values[name]); err != nil {
			b.err = fmt.Errorf("column %q: %w", name, err)
			return b
		}
	}
	return b
}

// Build finalizes the collection, returning the first error encountered
// while building. The builder must not be reused afterwards.
func (b *CollectionBuilder) Build() (*Collection, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &Collection{
		dataType:   b.dataType,
		srs:        b.srs,
		geometries: b.geometries,
		times:      b.times,
		columns:    b.columns,
	}, nil
}

// NewEmptyCollection returns a collection with no features and the given
// schema, the result of a query that matched nothing.
func NewEmptyCollection(dataType VectorDataType, srs geo.SpatialReference, schema map[string]ColumnType) (*Collection, error) {
	b := NewCollectionBuilder(dataType, srs)
	for name, t := range schema {
		b.AddColumn(name, t)
	}
	return b.Build()
}
