package raster

// Pixel constrains the sample types a grid can hold.
type Pixel interface {
	~uint8 | ~uint16 | ~int16 | ~int32 | ~float32 | ~float64
}

// DataTypeOf returns the DataType corresponding to the pixel type P.
func DataTypeOf[P Pixel]() DataType {
	var zero P
	switch any(zero).(type) {
	case uint8:
		return U8
	case uint16:
		return U16
	case int16:
		return I16
	case int32:
		return I32
	case float32:
		return F32
	case float64:
		return F64
	}
	// Named types with a Pixel-compatible underlying type land here; the
	// engine only instantiates grids with the predeclared types.
	panic("raster: unsupported pixel type")
}
