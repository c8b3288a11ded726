// Package geometry turns fire masks into polygons and measures them.
package geometry

import (
	"fmt"

	"github.com/twpayne/go-geom"

	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
	"github.com/couchcryptid/fire-perimeter-service/internal/raster"
)

// PolygonizeFile reads the classification raster at rasterPath and writes one
// GeoJSON feature per connected fire region to vectorPath. It returns the
// number of polygons written. A raster without fire pixels yields an empty
// feature collection.
func PolygonizeFile(rasterPath, vectorPath string) (int, error) {
	m, err := raster.ReadMask(rasterPath)
	if err != nil {
		return 0, err
	}
	polys, err := Polygonize(m)
	if err != nil {
		return 0, err
	}
	if err := WritePolygons(vectorPath, polys); err != nil {
		return 0, err
	}
	return len(polys), nil
}

// Polygonize converts each 8-connected region of fire pixels into a polygon
// whose rings follow pixel edges. Outer rings are counter-clockwise and holes
// clockwise in map coordinates. Vertices on straight runs are dropped; no
// other simplification or area filtering is applied.
func Polygonize(m *raster.Mask) ([]*geom.Polygon, error) {
	labels, n := label(m)
	if n == 0 {
		return []*geom.Polygon{}, nil
	}

	edges := make([][]edge, n)
	for row := 0; row < m.Height; row++ {
		for col := 0; col < m.Width; col++ {
			id := labels[row*m.Width+col]
			if id == 0 {
				continue
			}
			edges[id-1] = appendPixelEdges(edges[id-1], m, col, row)
		}
	}

	polys := make([]*geom.Polygon, 0, n)
	for i, es := range edges {
		rings := traceRings(es)
		p, err := buildPolygon(rings, m.Transform)
		if err != nil {
			return nil, fmt.Errorf("region %d: %w", i+1, err)
		}
		polys = append(polys, p)
	}
	return polys, nil
}

// label assigns 1-based region ids to fire pixels using 8-connectivity.
func label(m *raster.Mask) ([]int32, int) {
	labels := make([]int32, m.Width*m.Height)
	var next int32
	stack := make([]int, 0, 64)

	for start := range m.Pixels {
		if !m.Pixels[start] || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		stack = append(stack[:0], start)

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			col, row := idx%m.Width, idx/m.Width

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					c, r := col+dx, row+dy
					if !m.At(c, r) {
						continue
					}
					j := r*m.Width + c
					if labels[j] == 0 {
						labels[j] = next
						stack = append(stack, j)
					}
				}
			}
		}
	}
	return labels, int(next)
}

// vertex is a pixel corner in grid coordinates; y grows downwards.
type vertex struct{ x, y int }

// edge is a directed pixel side with the region on its right-hand side.
type edge struct {
	from, to vertex
}

func (e edge) dir() vertex { return vertex{e.to.x - e.from.x, e.to.y - e.from.y} }

func appendPixelEdges(es []edge, m *raster.Mask, c, r int) []edge {
	if !m.At(c, r-1) {
		es = append(es, edge{vertex{c, r}, vertex{c + 1, r}})
	}
	if !m.At(c+1, r) {
		es = append(es, edge{vertex{c + 1, r}, vertex{c + 1, r + 1}})
	}
	if !m.At(c, r+1) {
		es = append(es, edge{vertex{c + 1, r + 1}, vertex{c, r + 1}})
	}
	if !m.At(c-1, r) {
		es = append(es, edge{vertex{c, r + 1}, vertex{c, r}})
	}
	return es
}

// traceRings chains boundary edges into closed rings. Where two boundaries
// meet at a corner the walk turns left first, which keeps diagonally touching
// pixels in one ring.
func traceRings(es []edge) [][]vertex {
	out := make(map[vertex][]int, len(es))
	for i, e := range es {
		out[e.from] = append(out[e.from], i)
	}
	used := make([]bool, len(es))

	var rings [][]vertex
	for first := range es {
		if used[first] {
			continue
		}
		ring := []vertex{es[first].from}
		used[first] = true
		cur := first

		for {
			at := es[cur].to
			next := pickNext(es, out[at], used, first, es[cur].dir())
			if next < 0 || next == first {
				break
			}
			ring = append(ring, at)
			used[next] = true
			cur = next
		}
		rings = append(rings, dropCollinear(ring))
	}
	return rings
}

// pickNext chooses among the edges leaving a vertex, preferring a left turn,
// then straight ahead, then a right turn. The ring's first edge stays a
// candidate so the walk can close.
func pickNext(es []edge, candidates []int, used []bool, first int, d vertex) int {
	left := vertex{d.y, -d.x}
	right := vertex{-d.y, d.x}
	best, bestRank := -1, 3
	for _, i := range candidates {
		if used[i] && i != first {
			continue
		}
		var rank int
		switch es[i].dir() {
		case left:
			rank = 0
		case d:
			rank = 1
		case right:
			rank = 2
		default:
			continue
		}
		if rank < bestRank {
			best, bestRank = i, rank
		}
	}
	return best
}

// dropCollinear removes vertices in the middle of straight runs of an open ring.
func dropCollinear(ring []vertex) []vertex {
	n := len(ring)
	if n < 4 {
		return ring
	}
	out := make([]vertex, 0, n)
	for i := range ring {
		prev, cur, next := ring[(i+n-1)%n], ring[i], ring[(i+1)%n]
		ax, ay := cur.x-prev.x, cur.y-prev.y
		bx, by := next.x-cur.x, next.y-cur.y
		if ax*by-ay*bx == 0 && ax*bx+ay*by > 0 {
			continue
		}
		out = append(out, cur)
	}
	return out
}

// signedArea2 returns twice the shoelace area of an open ring.
func signedArea2(ring []geom.Coord) float64 {
	var sum float64
	n := len(ring)
	for i := range ring {
		a, b := ring[i], ring[(i+1)%n]
		sum += a[0]*b[1] - b[0]*a[1]
	}
	return sum
}

func buildPolygon(rings [][]vertex, g raster.GeoTransform) (*geom.Polygon, error) {
	var outer []geom.Coord
	var holes [][]geom.Coord
	for _, r := range rings {
		// Grid rings wind positive (y down) around fire and negative around holes.
		gridArea := 0
		for i := range r {
			a, b := r[i], r[(i+1)%len(r)]
			gridArea += a.x*b.y - b.x*a.y
		}

		coords := make([]geom.Coord, len(r))
		for i, v := range r {
			x, y := g.Apply(float64(v.x), float64(v.y))
			coords[i] = geom.Coord{x, y}
		}

		if gridArea > 0 {
			if outer != nil {
				return nil, fmt.Errorf("multiple outer rings")
			}
			outer = orient(coords, true)
		} else {
			holes = append(holes, orient(coords, false))
		}
	}
	if outer == nil {
		return nil, fmt.Errorf("no outer ring")
	}

	all := make([][]geom.Coord, 0, 1+len(holes))
	all = append(all, closeRing(outer))
	for _, h := range holes {
		all = append(all, closeRing(h))
	}
	p, err := geom.NewPolygon(geom.XY).SetCoords(all)
	if err != nil {
		return nil, fmt.Errorf("build polygon: %w", err)
	}
	return p.SetSRID(domain.SRID), nil
}

// orient reverses ring when needed so it winds counter-clockwise (ccw) or clockwise.
func orient(ring []geom.Coord, ccw bool) []geom.Coord {
	if (signedArea2(ring) > 0) != ccw {
		for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
			ring[i], ring[j] = ring[j], ring[i]
		}
	}
	return ring
}

func closeRing(ring []geom.Coord) []geom.Coord {
	out := make([]geom.Coord, len(ring)+1)
	copy(out, ring)
	out[len(ring)] = ring[0]
	return out
}
