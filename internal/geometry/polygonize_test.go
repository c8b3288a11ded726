package geometry

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
	"github.com/couchcryptid/fire-perimeter-service/internal/raster"
)

var testBox = domain.BoundingBox{West: -122, South: 51, East: -121, North: 52}

// maskFrom builds a mask from rows of '#' (fire) and '.' (background).
func maskFrom(t *testing.T, rows ...string) *raster.Mask {
	t.Helper()
	h, w := len(rows), len(rows[0])
	m := raster.NewMask(w, h, raster.GeoTransformFor(testBox, w, h))
	for r, row := range rows {
		require.Len(t, row, w)
		for c, ch := range row {
			if ch == '#' {
				m.Set(c, r, true)
			}
		}
	}
	return m
}

func TestPolygonize_Empty(t *testing.T) {
	polys, err := Polygonize(maskFrom(t, "....", "...."))
	require.NoError(t, err)
	assert.Empty(t, polys)
}

func TestPolygonize_SinglePixel(t *testing.T) {
	polys, err := Polygonize(maskFrom(t, "#...", "...."))
	require.NoError(t, err)
	require.Len(t, polys, 1)

	p := polys[0]
	assert.Equal(t, domain.SRID, p.SRID())
	require.Equal(t, 1, p.NumLinearRings())

	want := []geom.Coord{{-122, 51.5}, {-121.75, 51.5}, {-121.75, 52}, {-122, 52}, {-122, 51.5}}
	if diff := cmp.Diff(want, p.LinearRing(0).Coords()); diff != "" {
		t.Errorf("ring mismatch (-want +got):\n%s", diff)
	}
	assert.Greater(t, signedArea2(p.LinearRing(0).Coords()), 0.0, "outer ring is counter-clockwise")
}

func TestPolygonize_DropsCollinearVertices(t *testing.T) {
	polys, err := Polygonize(maskFrom(t, "###.", "###."))
	require.NoError(t, err)
	require.Len(t, polys, 1)

	// Four corners plus the closing vertex.
	assert.Len(t, polys[0].LinearRing(0).Coords(), 5)
}

func TestPolygonize_Hole(t *testing.T) {
	polys, err := Polygonize(maskFrom(t,
		"###",
		"#.#",
		"###",
	))
	require.NoError(t, err)
	require.Len(t, polys, 1)

	p := polys[0]
	require.Equal(t, 2, p.NumLinearRings())
	assert.Greater(t, signedArea2(p.LinearRing(0).Coords()), 0.0, "outer ring is counter-clockwise")
	assert.Less(t, signedArea2(p.LinearRing(1).Coords()), 0.0, "hole is clockwise")
}

func TestPolygonize_SeparateRegions(t *testing.T) {
	polys, err := Polygonize(maskFrom(t,
		"##..",
		"....",
		"..##",
	))
	require.NoError(t, err)
	assert.Len(t, polys, 2)
}

func TestPolygonize_DiagonalPixelsAreConnected(t *testing.T) {
	tests := []struct {
		name string
		rows []string
	}{
		{"falling", []string{"#.", ".#"}},
		{"rising", []string{".#", "#."}},
		{"staircase", []string{"#..", ".#.", "..#"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			polys, err := Polygonize(maskFrom(t, tt.rows...))
			require.NoError(t, err)
			require.Len(t, polys, 1)
			assert.Equal(t, 1, polys[0].NumLinearRings())
		})
	}
}

func TestPolygonize_IslandInsideHole(t *testing.T) {
	polys, err := Polygonize(maskFrom(t,
		"#####",
		"#...#",
		"#.#.#",
		"#...#",
		"#####",
	))
	require.NoError(t, err)
	require.Len(t, polys, 2)
	assert.Equal(t, 2, polys[0].NumLinearRings())
	assert.Equal(t, 1, polys[1].NumLinearRings())
}

func TestPolygonizeFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	rasterPath := filepath.Join(dir, "K71086_fire.tif")
	vectorPath := filepath.Join(dir, "K71086_fire.geojson")

	m := maskFrom(t,
		"##...",
		"##...",
		"...#.",
	)
	require.NoError(t, m.WriteFile(rasterPath))

	n, err := PolygonizeFile(rasterPath, vectorPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	want, err := Polygonize(m)
	require.NoError(t, err)
	got, err := ReadPolygons(vectorPath)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		if diff := cmp.Diff(want[i].Coords(), got[i].Coords()); diff != "" {
			t.Errorf("polygon %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestPolygonizeFile_NoFireWritesEmptyCollection(t *testing.T) {
	dir := t.TempDir()
	rasterPath := filepath.Join(dir, "empty.tif")
	vectorPath := filepath.Join(dir, "empty.geojson")
	require.NoError(t, maskFrom(t, "...", "...").WriteFile(rasterPath))

	n, err := PolygonizeFile(rasterPath, vectorPath)
	require.NoError(t, err)
	assert.Zero(t, n)

	polys, err := ReadPolygons(vectorPath)
	require.NoError(t, err)
	assert.Empty(t, polys)
}

func TestPolygonizeFile_MissingWorldFile(t *testing.T) {
	_, err := PolygonizeFile(filepath.Join(t.TempDir(), "missing.tif"), filepath.Join(t.TempDir(), "out.geojson"))
	assert.Error(t, err)
}

func TestMultiPolygon(t *testing.T) {
	polys, err := Polygonize(maskFrom(t, "#.#", "..."))
	require.NoError(t, err)

	mp, err := MultiPolygon(polys)
	require.NoError(t, err)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, domain.SRID, mp.SRID())
}
