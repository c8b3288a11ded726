package domain

import (
	"math"

	"github.com/tidwall/geodesic"
)

// DefaultBBoxMultiplier scales a fire's reported size into the search area side length.
const DefaultBBoxMultiplier = 3.0

// BoundingBox is an axis-aligned geographic rectangle in degrees.
type BoundingBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// IsDegenerate reports whether the box has zero width or height.
func (b BoundingBox) IsDegenerate() bool {
	return b.East <= b.West || b.North <= b.South
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Point {
	return Point{Lon: (b.West + b.East) / 2, Lat: (b.South + b.North) / 2}
}

// Contains reports whether p lies inside or on the edge of the box.
func (b BoundingBox) Contains(p Point) bool {
	return p.Lon >= b.West && p.Lon <= b.East && p.Lat >= b.South && p.Lat <= b.North
}

// EstimateBoundingBox derives the search area around a fire from its reported size.
//
// The side length in meters is sizeHectares * multiplier * 100. Half of it is
// projected from p due north, east, south and west along the WGS84 ellipsoid.
// A non-positive size collapses the box onto p; callers must check IsDegenerate.
func EstimateBoundingBox(p Point, sizeHectares, multiplier float64) BoundingBox {
	if sizeHectares <= 0 || multiplier <= 0 {
		return BoundingBox{West: p.Lon, South: p.Lat, East: p.Lon, North: p.Lat}
	}

	half := sizeHectares * multiplier * 100 / 2
	north, _ := direct(p, 0, half)
	_, east := direct(p, 90, half)
	south, _ := direct(p, 180, half)
	_, west := direct(p, 270, half)

	return BoundingBox{West: west, South: south, East: east, North: north}
}

// direct solves the forward geodesic problem and returns the destination latitude and longitude.
func direct(p Point, azimuth, meters float64) (lat, lon float64) {
	var azi2 float64
	geodesic.WGS84.Direct(p.Lat, p.Lon, azimuth, meters, &lat, &lon, &azi2)
	return lat, lon
}

// distance solves the inverse geodesic problem and returns the distance in meters.
func distance(lat1, lon1, lat2, lon2 float64) float64 {
	var s12, azi1, azi2 float64
	geodesic.WGS84.Inverse(lat1, lon1, lat2, lon2, &s12, &azi1, &azi2)
	return math.Abs(s12)
}
