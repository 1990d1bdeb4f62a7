package features

import (
	"encoding/json"

	"github.com/go-spatial/geom/encoding/geojson"

	"github.com/2younis/geoengine/pkg/geo"
)

// geoJSONFeature is one entry of the serialized FeatureCollection. The
// validity interval travels in the non-standard "when" member; properties
// hold the attribute columns with nulls preserved.
type geoJSONFeature struct {
	Type       string            `json:"type"`
	Geometry   *geojson.Geometry `json:"geometry"`
	When       geo.TimeInterval  `json:"when"`
	Properties map[string]any    `json:"properties"`
}

type geoJSONCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

// MarshalGeoJSON serializes the collection as a GeoJSON FeatureCollection.
// Coordinates stay in the collection's reference system; callers wanting
// CRS:84 output reproject first.
func (c *Collection) MarshalGeoJSON() ([]byte, error) {
	doc := geoJSONCollection{
		Type:     "FeatureCollection",
		Features: make([]geoJSONFeature, c.Len()),
	}
	names := c.ColumnNames()
	for i := 0; i < c.Len(); i++ {
		props := make(map[string]any, len(names))
		for _, name := range names {
			props[name] = c.Column(name).ValueAt(i)
		}
		f := geoJSONFeature{
			Type:       "Feature",
			When:       c.TimeAt(i),
			Properties: props,
		}
		if g := c.GeometryAt(i); g != nil {
			f.Geometry = &geojson.Geometry{Geometry: g}
		}
		doc.Features[i] = f
	}
	return json.Marshal(doc)
}
