package imagery

import "math"

// BytesPerPixel is the payload estimate per pixel and band used to size requests.
const BytesPerPixel = 4

// DefaultMaxResponseBytes is the largest response the imagery service returns (32 MiB).
const DefaultMaxResponseBytes = 32 << 20

// FitToBudget scales width and height down, preserving aspect ratio, until
// width*height*bands*BytesPerPixel fits in maxBytes. Dimensions never drop below one.
func FitToBudget(width, height, bands int, maxBytes int64) (int, int) {
	if bands < 1 {
		bands = 1
	}
	maxPixels := float64(maxBytes) / float64(BytesPerPixel*bands)
	pixels := float64(width) * float64(height)
	if pixels <= maxPixels {
		return width, height
	}

	scale := math.Sqrt(maxPixels / pixels)
	w := int(math.Floor(float64(width) * scale))
	h := int(math.Floor(float64(height) * scale))
	return max(w, 1), max(h, 1)
}
