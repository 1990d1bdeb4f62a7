package geo

import (
	"encoding/json"
	"fmt"
)

// QueryRectangle is the complete request window of a query: the spatial
// bounds, the time interval and the target pixel resolution. It is an
// immutable value; operators derive new rectangles instead of mutating.
type QueryRectangle struct {
	bbox       BoundingBox2D
	time       TimeInterval
	resolution SpatialResolution
}

type queryRectangleJSON struct {
	SpatialBounds     BoundingBox2D     `json:"spatialBounds"`
	TimeInterval      TimeInterval      `json:"timeInterval"`
	SpatialResolution SpatialResolution `json:"spatialResolution"`
}

// NewQueryRectangle combines validated components into a query rectangle.
func NewQueryRectangle(bbox BoundingBox2D, time TimeInterval, resolution SpatialResolution) QueryRectangle {
	return QueryRectangle{bbox: bbox, time: time, resolution: resolution}
}

// BBox returns the spatial bounds.
func (q QueryRectangle) BBox() BoundingBox2D { return q.bbox }

// Time returns the temporal bounds.
func (q QueryRectangle) Time() TimeInterval { return q.time }

// Resolution returns the target pixel resolution.
func (q QueryRectangle) Resolution() SpatialResolution { return q.resolution }

// WithBBox returns a copy of q with the spatial bounds replaced.
func (q QueryRectangle) WithBBox(bbox BoundingBox2D) QueryRectangle {
	q.bbox = bbox
	return q
}

// WithTime returns a copy of q with the time interval replaced.
func (q QueryRectangle) WithTime(time TimeInterval) QueryRectangle {
	q.time = time
	return q
}

// WithResolution returns a copy of q with the resolution replaced.
func (q QueryRectangle) WithResolution(resolution SpatialResolution) QueryRectangle {
	q.resolution = resolution
	return q
}

func (q QueryRectangle) String() string {
	return fmt.Sprintf("bbox=%s time=%s resolution=%s", q.bbox, q.time, q.resolution)
}

// MarshalJSON encodes the rectangle with its three components.
func (q QueryRectangle) MarshalJSON() ([]byte, error) {
	return json.Marshal(queryRectangleJSON{
		SpatialBounds:     q.bbox,
		TimeInterval:      q.time,
		SpatialResolution: q.resolution,
	})
}

// UnmarshalJSON decodes a rectangle; each component validates itself.
func (q *QueryRectangle) UnmarshalJSON(data []byte) error {
	var raw queryRectangleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*q = NewQueryRectangle(raw.SpatialBounds, raw.TimeInterval, raw.SpatialResolution)
	return nil
}
