// Package features models vector data: feature collections that pair
// geometries with per-feature time intervals and typed, columnar attribute
// data. All columns of a collection have exactly one value slot per
// feature; a collection is valid by construction or it does not exist.
package features

import (
	"fmt"
)

// ColumnType is the attribute type of a feature column.
type ColumnType string

const (
	ColumnTypeInt   ColumnType = "int"
	ColumnTypeFloat ColumnType = "float"
	ColumnTypeText  ColumnType = "text"
)

// IsValid reports whether t is a supported column type.
func (t ColumnType) IsValid() bool {
	switch t {
	case ColumnTypeInt, ColumnTypeFloat, ColumnTypeText:
		return true
	}
	return false
}

// Column is a typed attribute column with per-value nullability. Exactly one
// of the value slices is populated, depending on the type.
type Column struct {
	columnType ColumnType
	ints       []int64
	floats     []float64
	texts      []string
	valid      []bool
}

// NewColumn returns an empty column of the given type.
func NewColumn(t ColumnType) (*Column, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("unknown column type %q", t)
	}
	return &Column{columnType: t}, nil
}

// Type returns the column's attribute type.
func (c *Column) Type() ColumnType { return c.columnType }

// Len returns the number of values, one per feature.
func (c *Column) Len() int { return len(c.valid) }

// IsValid reports whether the value at i is present (not null).
func (c *Column) IsValid(i int) bool { return c.valid[i] }

// IntAt returns the integer value at i; ok is false for nulls. Calling it on
// a non-int column panics, the schema is checked at build time.
func (c *Column) IntAt(i int) (int64, bool) {
	c.mustBe(ColumnTypeInt)
	return c.ints[i], c.valid[i]
}

// FloatAt returns the float value at i; ok is false for nulls.
func (c *Column) FloatAt(i int) (float64, bool) {
	c.mustBe(ColumnTypeFloat)
	return c.floats[i], c.valid[i]
}

// TextAt returns the text value at i; ok is false for nulls.
func (c *Column) TextAt(i int) (string, bool) {
	c.mustBe(ColumnTypeText)
	return c.texts[i], c.valid[i]
}

// ValueAt returns the value at i as int64, float64 or string, or nil for
// nulls.
func (c *Column) ValueAt(i int) any {
	if !c.valid[i] {
		return nil
	}
	switch c.columnType {
	case ColumnTypeInt:
		return c.ints[i]
	case ColumnTypeFloat:
		return c.floats[i]
	case ColumnTypeText:
		return c.texts[i]
	}
	return nil
}

func (c *Column) mustBe(t ColumnType) {
	if c.columnType != t {
		panic(fmt.Sprintf("features: column is %s, accessed as %s", c.columnType, t))
	}
}

// appendValue adds one value slot. A nil value is null; otherwise the value
// must match the column type (ints accept int64/int, floats accept float64
// and integer values).
func (c *Column) appendValue(v any) error {
	if v == nil {
		c.appendNull()
		return nil
	}
	switch c.columnType {
	case ColumnTypeInt:
		switch x := v.(type) {
		case int64:
			c.ints = append(c.ints, x)
		case int:
			c.ints = append(c.ints, int64(x))
		default:
			return fmt.Errorf("value %v (%T) does not fit an int column", v, v)
		}
	case ColumnTypeFloat:
		switch x := v.(type) {
		case float64:
			c.floats = append(c.floats, x)
		case int64:
			c.floats = append(c.floats, float64(x))
		case int:
			c.floats = append(c.floats, float64(x))
		default:
			return fmt.Errorf("value %v (%T) does not fit a float column", v, v)
		}
	case ColumnTypeText:
		x, ok := v.(string)
		if !ok {
			return fmt.Errorf("value %v (%T) does not fit a text column", v, v)
		}
		c.texts = append(c.texts, x)
	}
	c.valid = append(c.valid, true)
	return nil
}

func (c *Column) appendNull() {
	switch c.columnType {
	case ColumnTypeInt:
		c.ints = append(c.ints, 0)
	case ColumnTypeFloat:
		c.floats = append(c.floats, 0)
	case ColumnTypeText:
		c.texts = append(c.texts, "")
	}
	c.valid = append(c.valid, false)
}

// filtered returns a copy of the column keeping rows where mask is true.
func (c *Column) filtered(mask []bool) *Column {
	out := &Column{columnType: c.columnType}
	for i, keep := range mask {
		if !keep {
			continue
		}
		out.valid = append(out.valid, c.valid[i])
		switch c.columnType {
		case ColumnTypeInt:
			out.ints = append(out.ints, c.ints[i])
		case ColumnTypeFloat:
			out.floats = append(out.floats, c.floats[i])
		case ColumnTypeText:
			out.texts = append(out.texts, c.texts[i])
		}
	}
	return out
}

// appendFrom appends all values of other, which must have the same type.
func (c *Column) appendFrom(other *Column) error {
	if c.columnType != other.columnType {
		return fmt.Errorf("cannot append %s column to %s column", other.columnType, c.columnType)
	}
	c.ints = append(c.ints, other.ints...)
	c.floats = append(c.floats, other.floats...)
	c.texts = append(c.texts, other.texts...)
	c.valid = append(c.valid, other.valid...)
	return nil
}

// byteSize estimates the in-memory size of the column's values.
func (c *Column) byteSize() int {
	size := len(c.valid) // validity flags
	size += len(c.ints) * 8
	size += len(c.floats) * 8
	for _, s := range c.texts {
		size += len(s) + 16
	}
	return size
}
