package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var origin = Point{Lon: -121.6, Lat: 51.5}

func TestEstimateBoundingBox_Shape(t *testing.T) {
	b := EstimateBoundingBox(origin, 150, DefaultBBoxMultiplier)

	assert.Less(t, b.South, b.North)
	assert.Less(t, b.West, b.East)
	assert.False(t, b.IsDegenerate())
	assert.True(t, b.Contains(origin))

	c := b.Center()
	assert.InDelta(t, origin.Lat, c.Lat, 1e-3)
	assert.InDelta(t, origin.Lon, c.Lon, 1e-9)
}

func TestEstimateBoundingBox_SideLength(t *testing.T) {
	b := EstimateBoundingBox(origin, 150, 3)

	// 150 ha * 3 * 100 = 45 km per side.
	height := distance(b.South, origin.Lon, b.North, origin.Lon)
	assert.InDelta(t, 45000, height, 1)

	width := distance(origin.Lat, b.West, origin.Lat, b.East)
	assert.InEpsilon(t, 45000, width, 0.01)
}

func TestEstimateBoundingBox_ScalesWithSize(t *testing.T) {
	small := EstimateBoundingBox(origin, 100, 3)
	large := EstimateBoundingBox(origin, 400, 3)

	assert.Greater(t, large.North-large.South, small.North-small.South)
	assert.InEpsilon(t, 4.0, (large.North-large.South)/(small.North-small.South), 0.01)
}

func TestEstimateBoundingBox_ZeroSizeCollapses(t *testing.T) {
	b := EstimateBoundingBox(origin, 0, 3)

	assert.Equal(t, BoundingBox{West: origin.Lon, South: origin.Lat, East: origin.Lon, North: origin.Lat}, b)
	assert.True(t, b.IsDegenerate())
}

func TestPixelDimensions(t *testing.T) {
	b := EstimateBoundingBox(origin, 150, 3)

	w, h := PixelDimensions(b, 20)
	assert.InDelta(t, 2250, w, 25)
	assert.InDelta(t, 2250, h, 2)

	w, h = PixelDimensions(b, 0)
	assert.InDelta(t, 2250, w, 25, "non-positive sample distance falls back to the default")
	assert.InDelta(t, 2250, h, 2)
}

func TestPixelDimensions_DegenerateBoxIsOnePixel(t *testing.T) {
	w, h := PixelDimensions(EstimateBoundingBox(origin, 0, 3), 20)
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
}
