// Package raster reads classification rasters into boolean fire masks.
//
// The imagery service delivers classifications as raw NPY arrays of float or
// integer samples. Masks are stored on disk as 8-bit single-band TIFFs, and
// georeferencing travels in an ESRI world file written next to the image,
// because the TIFF decoder ignores GeoTIFF tags.
package raster

import (
	"fmt"
	"image"
	"io"
	"os"

	"golang.org/x/image/tiff"
)

// FireValue is the pixel value that marks fire in a classification raster.
const FireValue = 1

// Mask is a row-major boolean grid of fire pixels with its georeferencing.
type Mask struct {
	Width     int
	Height    int
	Pixels    []bool
	Transform GeoTransform
}

// NewMask allocates an empty mask.
func NewMask(width, height int, g GeoTransform) *Mask {
	return &Mask{Width: width, Height: height, Pixels: make([]bool, width*height), Transform: g}
}

// At reports whether (col, row) is fire. Out-of-range coordinates are not fire.
func (m *Mask) At(col, row int) bool {
	if col < 0 || row < 0 || col >= m.Width || row >= m.Height {
		return false
	}
	return m.Pixels[row*m.Width+col]
}

// Set marks (col, row).
func (m *Mask) Set(col, row int, fire bool) {
	m.Pixels[row*m.Width+col] = fire
}

// Count returns the number of fire pixels.
func (m *Mask) Count() int {
	n := 0
	for _, p := range m.Pixels {
		if p {
			n++
		}
	}
	return n
}

// ReadMask decodes the raster at path and its world file.
func ReadMask(path string) (*Mask, error) {
	g, err := ReadWorldFile(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}
	defer f.Close()

	return DecodeMask(f, g)
}

// DecodeMask reads an integer single-band TIFF, as written by Encode, row by row.
// A pixel is fire when its raw value equals FireValue.
func DecodeMask(r io.Reader, g GeoTransform) (*Mask, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode raster: %w", err)
	}

	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy(), g)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if sample(img, x, y) == FireValue {
				m.Set(x-b.Min.X, y-b.Min.Y, true)
			}
		}
	}
	return m, nil
}

func sample(img image.Image, x, y int) uint32 {
	switch im := img.(type) {
	case *image.Gray:
		return uint32(im.GrayAt(x, y).Y)
	case *image.Gray16:
		return uint32(im.Gray16At(x, y).Y)
	case *image.Paletted:
		return uint32(im.ColorIndexAt(x, y))
	default:
		r, _, _, _ := img.At(x, y).RGBA()
		return r >> 8
	}
}

// Encode writes m as an 8-bit single-band TIFF with FireValue for fire pixels.
func (m *Mask) Encode(w io.Writer) error {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, p := range m.Pixels {
		if p {
			img.Pix[i] = FireValue
		}
	}
	if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("encode raster: %w", err)
	}
	return nil
}

// WriteFile writes m as a TIFF plus world file.
func (m *Mask) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create raster: %w", err)
	}
	if err := m.Encode(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close raster: %w", err)
	}
	return WriteWorldFile(path, m.Transform)
}
