package geometry

import (
	"math"

	"github.com/twpayne/go-geom"
)

// SquareMetersPerHectare converts between the two area units the service reports.
const SquareMetersPerHectare = 10000.0

// Projection maps WGS84 longitude/latitude to planar meters.
type Projection interface {
	Forward(lon, lat float64) (x, y float64)
	EPSG() int
}

// ProjectionSelector picks the planar projection used to measure a set of polygons.
type ProjectionSelector interface {
	Select(bounds *geom.Bounds) Projection
}

// FixedZone always measures in one UTM zone.
type FixedZone struct {
	Zone  int
	North bool
}

// DefaultZone is UTM zone 10 north (EPSG:32610), which covers coastal and southern British Columbia.
var DefaultZone = FixedZone{Zone: 10, North: true}

// Select returns the configured zone regardless of bounds.
func (f FixedZone) Select(*geom.Bounds) Projection {
	return UTM{Zone: f.Zone, North: f.North}
}

// NearestZone measures in the UTM zone that contains the centre of the bounds.
type NearestZone struct{}

// Select returns the zone containing the centre of bounds.
func (NearestZone) Select(b *geom.Bounds) Projection {
	if b == nil || b.IsEmpty() {
		return UTM{Zone: DefaultZone.Zone, North: DefaultZone.North}
	}
	return ZoneFor((b.Min(0)+b.Max(0))/2, (b.Min(1)+b.Max(1))/2)
}

// Area is a planar area measurement.
type Area struct {
	SquareMeters float64
	Hectares     float64
	EPSG         int
}

// AreaCalculator sums planar polygon areas after reprojection.
type AreaCalculator struct {
	Selector ProjectionSelector
}

// NewAreaCalculator returns a calculator using selector, or DefaultZone when nil.
func NewAreaCalculator(selector ProjectionSelector) *AreaCalculator {
	if selector == nil {
		selector = DefaultZone
	}
	return &AreaCalculator{Selector: selector}
}

// FileArea measures every polygon stored in a vector file.
func (c *AreaCalculator) FileArea(path string) (Area, error) {
	polys, err := ReadPolygons(path)
	if err != nil {
		return Area{}, err
	}
	return c.Area(polys), nil
}

// Area reprojects polygons into the selected projection and sums their areas. Holes are subtracted.
func (c *AreaCalculator) Area(polys []*geom.Polygon) Area {
	bounds := geom.NewBounds(geom.XY)
	for _, p := range polys {
		bounds.Extend(p)
	}
	proj := c.Selector.Select(bounds)

	var total float64
	for _, p := range polys {
		total += projectedArea(p, proj)
	}
	return Area{
		SquareMeters: total,
		Hectares:     total / SquareMetersPerHectare,
		EPSG:         proj.EPSG(),
	}
}

// projectedArea returns the planar area of p in proj: the outer ring minus its holes.
func projectedArea(p *geom.Polygon, proj Projection) float64 {
	var area float64
	for i, ring := range p.Coords() {
		projected := make([]geom.Coord, len(ring))
		for j, c := range ring {
			x, y := proj.Forward(c.X(), c.Y())
			projected[j] = geom.Coord{x, y}
		}
		a := math.Abs(signedArea2(projected)) / 2
		if i == 0 {
			area += a
		} else {
			area -= a
		}
	}
	return area
}
