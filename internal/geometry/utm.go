package geometry

import (
	"fmt"
	"math"
)

// WGS84 ellipsoid and UTM constants.
const (
	wgs84A          = 6378137.0
	wgs84F          = 1 / 298.257223563
	utmScale        = 0.9996
	utmFalseEasting = 500000.0
	utmFalseNorth   = 10000000.0
)

// UTM is a Universal Transverse Mercator zone on the WGS84 ellipsoid.
type UTM struct {
	Zone  int
	North bool
}

// EPSG returns the zone's EPSG code, e.g. 32610 for zone 10 north.
func (u UTM) EPSG() int {
	if u.North {
		return 32600 + u.Zone
	}
	return 32700 + u.Zone
}

// String returns a short label such as "UTM 10N".
func (u UTM) String() string {
	h := "S"
	if u.North {
		h = "N"
	}
	return fmt.Sprintf("UTM %d%s", u.Zone, h)
}

// CentralMeridian returns the zone's central meridian in degrees.
func (u UTM) CentralMeridian() float64 {
	return float64(u.Zone-1)*6 - 180 + 3
}

// Forward projects a WGS84 longitude/latitude in degrees to easting/northing in meters.
// It uses the series expansion from Snyder, Map Projections: A Working Manual (1987), p. 61.
func (u UTM) Forward(lon, lat float64) (x, y float64) {
	e2 := wgs84F * (2 - wgs84F)
	e4 := e2 * e2
	e6 := e4 * e2
	ep2 := e2 / (1 - e2)

	phi := lat * math.Pi / 180
	dLambda := (lon - u.CentralMeridian()) * math.Pi / 180

	sinPhi, cosPhi := math.Sin(phi), math.Cos(phi)
	tanPhi := math.Tan(phi)

	n := wgs84A / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := ep2 * cosPhi * cosPhi
	a := dLambda * cosPhi

	m := wgs84A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))

	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	x = utmScale*n*(a+(1-t+c)*a3/6+(5-18*t+t*t+72*c-58*ep2)*a5/120) + utmFalseEasting
	y = utmScale * (m + n*tanPhi*(a2/2+(5-t+9*c+4*c*c)*a4/24+(61-58*t+t*t+600*c-330*ep2)*a6/720))
	if !u.North {
		y += utmFalseNorth
	}
	return x, y
}

// ZoneFor returns the UTM zone containing a longitude/latitude.
func ZoneFor(lon, lat float64) UTM {
	zone := int(math.Floor((lon+180)/6)) + 1
	if zone < 1 {
		zone = 1
	}
	if zone > 60 {
		zone = 60
	}
	return UTM{Zone: zone, North: lat >= 0}
}
