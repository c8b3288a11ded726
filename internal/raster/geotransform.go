package raster

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
)

// GeoTransform maps pixel corner coordinates to map coordinates, in GDAL order:
// origin x, pixel width, row rotation, origin y, column rotation, pixel height.
type GeoTransform [6]float64

// GeoTransformFor returns the north-up transform that stretches a width x height grid over b.
func GeoTransformFor(b domain.BoundingBox, width, height int) GeoTransform {
	return GeoTransform{
		b.West, (b.East - b.West) / float64(width), 0,
		b.North, 0, -(b.North - b.South) / float64(height),
	}
}

// Apply maps a pixel corner (col, row) to map coordinates.
func (g GeoTransform) Apply(col, row float64) (x, y float64) {
	return g[0] + col*g[1] + row*g[2], g[3] + col*g[4] + row*g[5]
}

// WorldFilePath returns the ESRI world file path for a raster: ".tif" becomes ".tfw".
func WorldFilePath(rasterPath string) string {
	ext := filepath.Ext(rasterPath)
	base := strings.TrimSuffix(rasterPath, ext)
	ext = strings.TrimPrefix(ext, ".")
	if len(ext) < 2 {
		return base + ".wld"
	}
	return base + "." + ext[:1] + ext[len(ext)-1:] + "w"
}

// WriteWorldFile stores g next to the raster. World files reference pixel centres.
func WriteWorldFile(rasterPath string, g GeoTransform) error {
	cx, cy := g.Apply(0.5, 0.5)
	lines := []float64{g[1], g[4], g[2], g[5], cx, cy}

	var sb strings.Builder
	for _, v := range lines {
		sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(WorldFilePath(rasterPath), []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write world file: %w", err)
	}
	return nil
}

// ReadWorldFile loads the transform stored next to the raster.
func ReadWorldFile(rasterPath string) (GeoTransform, error) {
	path := WorldFilePath(rasterPath)
	f, err := os.Open(path)
	if err != nil {
		return GeoTransform{}, fmt.Errorf("open world file: %w", err)
	}
	defer f.Close()

	var vals []float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return GeoTransform{}, fmt.Errorf("parse world file %s: %w", path, err)
		}
		vals = append(vals, v)
	}
	if err := sc.Err(); err != nil {
		return GeoTransform{}, fmt.Errorf("read world file: %w", err)
	}
	if len(vals) != 6 {
		return GeoTransform{}, fmt.Errorf("world file %s: want 6 values, got %d", path, len(vals))
	}

	a, d, b, e, c, f2 := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
	return GeoTransform{
		c - a/2 - b/2, a, b,
		f2 - d/2 - e/2, d, e,
	}, nil
}
