package geometry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
)

// FireProperty is the integer attribute carried by every perimeter feature.
const FireProperty = "fire"

// WritePolygons stores polygons as a GeoJSON FeatureCollection, one feature per polygon.
func WritePolygons(path string, polys []*geom.Polygon) error {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(polys))}
	for i, p := range polys {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         fmt.Sprintf("%d", i+1),
			Geometry:   p,
			Properties: map[string]interface{}{FireProperty: 1},
		})
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode vector file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write vector file: %w", err)
	}
	return nil
}

// ReadPolygons loads every polygon from a GeoJSON vector file. Multi-polygon
// features are flattened; other geometry types are ignored.
func ReadPolygons(path string) ([]*geom.Polygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vector file: %w", err)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decode vector file %s: %w", path, err)
	}

	var polys []*geom.Polygon
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case *geom.Polygon:
			polys = append(polys, g.SetSRID(domain.SRID))
		case *geom.MultiPolygon:
			for i := 0; i < g.NumPolygons(); i++ {
				polys = append(polys, g.Polygon(i).SetSRID(domain.SRID))
			}
		}
	}
	return polys, nil
}

// MultiPolygon merges polygons into one multi-polygon in SRID 4326.
func MultiPolygon(polys []*geom.Polygon) (*geom.MultiPolygon, error) {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(domain.SRID)
	for _, p := range polys {
		if err := mp.Push(p); err != nil {
			return nil, fmt.Errorf("merge polygons: %w", err)
		}
	}
	return mp, nil
}
