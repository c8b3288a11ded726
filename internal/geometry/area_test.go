package geometry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/geodesic"
	"github.com/twpayne/go-geom"
)

// squareKm returns a polygon of roughly 1 km² whose south-west corner is (lon, lat).
func squareKm(t *testing.T, lon, lat float64) *geom.Polygon {
	t.Helper()
	step := func(fromLat, fromLon, azimuth float64) (float64, float64) {
		var lat2, lon2, azi2 float64
		geodesic.WGS84.Direct(fromLat, fromLon, azimuth, 1000, &lat2, &lon2, &azi2)
		return lat2, lon2
	}
	nwLat, nwLon := step(lat, lon, 0)
	seLat, seLon := step(lat, lon, 90)
	neLat, neLon := step(nwLat, nwLon, 90)

	p, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{
		{lon, lat}, {seLon, seLat}, {neLon, neLat}, {nwLon, nwLat}, {lon, lat},
	}})
	require.NoError(t, err)
	return p
}

func TestUTM_CentralMeridian(t *testing.T) {
	u := UTM{Zone: 10, North: true}
	assert.InDelta(t, -123.0, u.CentralMeridian(), 1e-12)
	assert.Equal(t, 32610, u.EPSG())
	assert.Equal(t, "UTM 10N", u.String())

	x, y := u.Forward(-123, 0)
	assert.InDelta(t, 500000, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	// At 49N on the central meridian the northing is k0 times the meridian arc (5,429,627.6 m).
	_, y = u.Forward(-123, 49)
	assert.InDelta(t, 0.9996*5429627.6, y, 1)
}

func TestUTM_SouthernHemisphere(t *testing.T) {
	u := UTM{Zone: 19, North: false}
	assert.Equal(t, 32719, u.EPSG())

	_, y := u.Forward(-69, 0)
	assert.InDelta(t, 10000000, y, 1e-6)
}

func TestZoneFor(t *testing.T) {
	assert.Equal(t, UTM{Zone: 10, North: true}, ZoneFor(-121.6, 51.5))
	assert.Equal(t, UTM{Zone: 14, North: true}, ZoneFor(-100, 40))
	assert.Equal(t, UTM{Zone: 1, North: false}, ZoneFor(-180, -10))
	assert.Equal(t, UTM{Zone: 60, North: false}, ZoneFor(180, -10))
}

func TestAreaCalculator_SquareOnFixedZoneMeridian(t *testing.T) {
	calc := NewAreaCalculator(nil)

	area := calc.Area([]*geom.Polygon{squareKm(t, -123, 50)})
	assert.InEpsilon(t, 1_000_000, area.SquareMeters, 0.005)
	assert.InEpsilon(t, 100, area.Hectares, 0.005)
	assert.Equal(t, 32610, area.EPSG)
}

func TestAreaCalculator_FixedZoneDistortsFarFromMeridian(t *testing.T) {
	calc := NewAreaCalculator(DefaultZone)

	area := calc.Area([]*geom.Polygon{squareKm(t, -100, 50)})
	ratio := area.SquareMeters / 1_000_000
	assert.Greater(t, ratio, 1.02, "distortion is measurable")
	assert.Less(t, ratio, 1.2, "distortion is bounded")
}

func TestAreaCalculator_NearestZoneFollowsGeometry(t *testing.T) {
	calc := NewAreaCalculator(NearestZone{})

	area := calc.Area([]*geom.Polygon{squareKm(t, -100, 50)})
	assert.InEpsilon(t, 1_000_000, area.SquareMeters, 0.005)
	assert.Equal(t, 32614, area.EPSG)
}

func TestAreaCalculator_SubtractsHolesAndSumsPolygons(t *testing.T) {
	polys, err := Polygonize(maskFrom(t,
		"###.#",
		"#.#..",
		"###..",
	))
	require.NoError(t, err)
	require.Len(t, polys, 2)

	calc := NewAreaCalculator(nil)
	total := calc.Area(polys)
	ring := calc.Area(polys[:1])
	pixel := calc.Area(polys[1:])

	assert.InEpsilon(t, ring.SquareMeters+pixel.SquareMeters, total.SquareMeters, 1e-9)
	// The ring is eight pixels: nine minus the hole. Pixel areas vary slightly with latitude.
	assert.InEpsilon(t, 8, ring.SquareMeters/pixel.SquareMeters, 0.02)
}

func TestAreaCalculator_FileArea(t *testing.T) {
	path := filepath.Join(t.TempDir(), "square.geojson")
	require.NoError(t, WritePolygons(path, []*geom.Polygon{squareKm(t, -123, 50)}))

	area, err := NewAreaCalculator(nil).FileArea(path)
	require.NoError(t, err)
	assert.InEpsilon(t, 100, area.Hectares, 0.005)
}

func TestAreaCalculator_Empty(t *testing.T) {
	area := NewAreaCalculator(NearestZone{}).Area(nil)
	assert.Zero(t, area.SquareMeters)
	assert.Equal(t, 32610, area.EPSG)
}
