package domain

import "math"

// DefaultGroundSampleMeters is the target ground distance covered by one raster pixel.
const DefaultGroundSampleMeters = 20.0

// PixelDimensions returns the raster size needed to cover b at metersPerPixel.
// Width is measured along the centre latitude and height along the centre longitude.
// Both dimensions are at least one pixel.
func PixelDimensions(b BoundingBox, metersPerPixel float64) (width, height int) {
	if metersPerPixel <= 0 {
		metersPerPixel = DefaultGroundSampleMeters
	}
	c := b.Center()
	w := distance(c.Lat, b.West, c.Lat, b.East)
	h := distance(b.South, c.Lon, b.North, c.Lon)
	return pixels(w, metersPerPixel), pixels(h, metersPerPixel)
}

func pixels(meters, metersPerPixel float64) int {
	n := int(math.Ceil(meters / metersPerPixel))
	if n < 1 {
		return 1
	}
	return n
}
