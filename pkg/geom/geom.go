// Package geom is the geometry kernel of the compliance engine. It wraps GEOS
// polygon set operations behind a Kernel that projects all input to a metric
// UTM CRS first, so areas and distances are always in meters, never degrees.
//
// A Kernel is NOT safe for concurrent use: it owns one GEOS context, and
// callers running parallel evaluations must create one kernel per worker.
package geom

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/twpayne/go-geos"

	"github.com/kass/geo-compliance/pkg/models"
)

// quadsegs controls the arc approximation of buffer corners.
const quadsegs = 8

// InvalidGeometryError reports an input polygon that is null, empty, or
// unrepairable after make-valid. It is reported per plot, never fatal to a
// batch.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return "invalid geometry: " + e.Reason
}

// Kernel performs polygon set operations in a projected metric CRS.
type Kernel struct {
	ctx  *geos.Context
	proj Projection
}

// NewKernel creates a kernel with its own GEOS context, thread-confined to
// the calling goroutine.
func NewKernel(proj Projection) *Kernel {
	return &Kernel{
		ctx:  geos.NewContext(),
		proj: proj,
	}
}

// Projection returns the metric CRS this kernel projects into.
func (k *Kernel) Projection() Projection {
	return k.proj
}

// Polygon projects a WGS84 polygon into the kernel's CRS and builds a valid
// GEOS geometry, repairing self-intersections via make-valid. An empty or
// unrepairable input returns an InvalidGeometryError.
func (k *Kernel) Polygon(p models.Polygon) (*geos.Geom, error) {
	if p.IsEmpty() {
		return nil, &InvalidGeometryError{Reason: "polygon has no exterior ring"}
	}

	rings := make([][][]float64, 0, 1+len(p.Holes))
	ext, err := k.projectRing(p.Exterior)
	if err != nil {
		return nil, err
	}
	rings = append(rings, ext)
	for _, h := range p.Holes {
		ring, err := k.projectRing(h)
		if err != nil {
			return nil, err
		}
		rings = append(rings, ring)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type":        "Polygon",
		"coordinates": rings,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode polygon: %w", err)
	}

	geom, err := k.newGeomFromGeoJSON(string(payload))
	if err != nil {
		return nil, &InvalidGeometryError{Reason: err.Error()}
	}

	return k.repair(geom)
}

// repair runs make-valid on invalid input and rejects anything that is still
// empty or non-polygonal afterwards.
func (k *Kernel) repair(g *geos.Geom) (repaired *geos.Geom, err error) {
	defer recoverGeos(&err)

	if !g.IsValid() {
		reason := g.IsValidReason()
		fixed := g.MakeValidWithParams(geos.MakeValidLinework, geos.MakeValidDiscardCollapsed)
		g.Destroy()
		if fixed == nil {
			return nil, &InvalidGeometryError{Reason: reason}
		}
		g = fixed
	}
	if g.IsEmpty() {
		g.Destroy()
		return nil, &InvalidGeometryError{Reason: "empty after repair"}
	}
	// 3 = Polygon, 6 = MultiPolygon
	if id := int(g.TypeID()); id != 3 && id != 6 {
		g.Destroy()
		return nil, &InvalidGeometryError{Reason: fmt.Sprintf("non-polygonal after repair (type %d)", id)}
	}
	return g, nil
}

// Area returns the area in square meters; empty or nil geometry is 0.
func (k *Kernel) Area(g *geos.Geom) float64 {
	if g == nil || g.IsEmpty() {
		return 0
	}
	return g.Area()
}

// Intersection returns a ∩ b, which may be empty.
func (k *Kernel) Intersection(a, b *geos.Geom) (g *geos.Geom, err error) {
	defer recoverGeos(&err)
	return a.Intersection(b), nil
}

// Union returns a ∪ b.
func (k *Kernel) Union(a, b *geos.Geom) (g *geos.Geom, err error) {
	defer recoverGeos(&err)
	return a.Union(b), nil
}

// Difference returns the parts of a not in b, which may be empty or split
// into several disjoint pieces.
func (k *Kernel) Difference(a, b *geos.Geom) (g *geos.Geom, err error) {
	defer recoverGeos(&err)
	return a.Difference(b), nil
}

// Buffer dilates the geometry outward by distM meters (negative shrinks).
func (k *Kernel) Buffer(g *geos.Geom, distM float64) (buffered *geos.Geom, err error) {
	defer recoverGeos(&err)
	return g.Buffer(distM, quadsegs), nil
}

// Contains reports whether outer fully contains inner.
func (k *Kernel) Contains(outer, inner *geos.Geom) (ok bool, err error) {
	defer recoverGeos(&err)
	return outer.Contains(inner), nil
}

// HausdorffDistance measures the largest boundary shift between two
// geometries, in meters.
func (k *Kernel) HausdorffDistance(a, b *geos.Geom) (d float64, err error) {
	defer recoverGeos(&err)
	return a.HausdorffDistance(b), nil
}

// Geometry converts a GEOS result back to a tagged WGS84 geometry for
// reporting consumers. Multi-part results stay multi-part rather than being
// coerced into a single shape. Empty input yields nil.
func (k *Kernel) Geometry(g *geos.Geom) (*models.Geometry, error) {
	polys, err := k.polygonsOf(g)
	if err != nil {
		return nil, err
	}
	if len(polys) == 0 {
		return nil, nil
	}

	out := &models.Geometry{Kind: models.KindPolygon, Polygons: make([]models.Polygon, 0, len(polys))}
	if len(polys) > 1 {
		out.Kind = models.KindMultiPolygon
	}
	for _, rings := range polys {
		if len(rings) == 0 {
			continue
		}
		p := models.Polygon{Exterior: k.unprojectRing(rings[0])}
		for _, hole := range rings[1:] {
			p.Holes = append(p.Holes, k.unprojectRing(hole))
		}
		out.Polygons = append(out.Polygons, p)
	}
	return out, nil
}

// MaxEncroachmentDepth returns the greatest perpendicular distance from any
// encroachment vertex to the nearest edge of the original boundary, in
// meters. Zero if the encroachment is empty.
func (k *Kernel) MaxEncroachmentDepth(encroachment *geos.Geom, boundary models.Polygon) (float64, error) {
	if encroachment == nil || encroachment.IsEmpty() {
		return 0, nil
	}

	edges, err := k.projectRing(boundary.Exterior)
	if err != nil {
		return 0, err
	}
	if len(edges) < 2 {
		return 0, &InvalidGeometryError{Reason: "boundary ring too short for depth computation"}
	}

	polys, err := k.polygonsOf(encroachment)
	if err != nil {
		return 0, err
	}

	maxDepth := 0.0
	for _, rings := range polys {
		for _, ring := range rings {
			for _, v := range ring {
				d := minDistanceToRing(v[0], v[1], edges)
				if d > maxDepth {
					maxDepth = d
				}
			}
		}
	}
	return maxDepth, nil
}

// projectRing projects a WGS84 ring into the kernel's CRS, closing it if the
// input is open.
func (k *Kernel) projectRing(ring models.Ring) ([][]float64, error) {
	if len(ring) < 3 {
		return nil, &InvalidGeometryError{Reason: "ring has fewer than 3 vertices"}
	}
	closed := ring
	if ring[0] != ring[len(ring)-1] {
		closed = append(append(models.Ring{}, ring...), ring[0])
	}
	out := make([][]float64, 0, len(closed))
	for _, loc := range closed {
		x, y, err := k.proj.Forward(loc)
		if err != nil {
			return nil, err
		}
		out = append(out, []float64{x, y})
	}
	return out, nil
}

// unprojectRing converts projected coordinates back to WGS84.
func (k *Kernel) unprojectRing(coords [][]float64) models.Ring {
	ring := make(models.Ring, 0, len(coords))
	for _, c := range coords {
		ring = append(ring, k.proj.Inverse(c[0], c[1]))
	}
	return ring
}

// polygonsOf extracts the polygonal parts of a GEOS geometry as raw ring
// coordinate lists, via a GeoJSON round-trip. Non-polygonal parts of mixed
// collections are dropped.
func (k *Kernel) polygonsOf(g *geos.Geom) (polys [][][][]float64, err error) {
	if g == nil || g.IsEmpty() {
		return nil, nil
	}
	defer recoverGeos(&err)

	raw := g.ToGeoJSON(-1)
	var decoded geoJSONGeometry
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode geometry: %w", err)
	}
	return decoded.polygons()
}

func recoverGeos(err *error) {
	if r := recover(); r != nil {
		*err = &InvalidGeometryError{Reason: fmt.Sprintf("geometry operation failed: %v", r)}
	}
}

// newGeomFromGeoJSON parses GeoJSON in this kernel's context, converting the
// library panic into an error.
func (k *Kernel) newGeomFromGeoJSON(s string) (g *geos.Geom, err error) {
	defer recoverGeos(&err)
	return k.ctx.NewGeomFromGeoJSON(s)
}

// geoJSONGeometry is the subset of GeoJSON needed to read results back out of
// GEOS.
type geoJSONGeometry struct {
	Type        string            `json:"type"`
	Coordinates json.RawMessage   `json:"coordinates"`
	Geometries  []geoJSONGeometry `json:"geometries"`
}

func (g *geoJSONGeometry) polygons() ([][][][]float64, error) {
	switch g.Type {
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("failed to decode polygon rings: %w", err)
		}
		return [][][][]float64{rings}, nil
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &polys); err != nil {
			return nil, fmt.Errorf("failed to decode multipolygon: %w", err)
		}
		return polys, nil
	case "GeometryCollection":
		var polys [][][][]float64
		for i := range g.Geometries {
			part, err := g.Geometries[i].polygons()
			if err != nil {
				return nil, err
			}
			polys = append(polys, part...)
		}
		return polys, nil
	default:
		// Lines and points carry no area; ignore them.
		return nil, nil
	}
}

// minDistanceToRing returns the minimum distance from point (px, py) to any
// edge of the given ring, in the ring's coordinate units.
func minDistanceToRing(px, py float64, ring [][]float64) float64 {
	min := math.Inf(1)
	for i := 0; i+1 < len(ring); i++ {
		d := pointSegmentDistance(px, py, ring[i][0], ring[i][1], ring[i+1][0], ring[i+1][1])
		if d < min {
			min = d
		}
	}
	return min
}

// pointSegmentDistance is the distance from point p to segment a-b.
func pointSegmentDistance(px, py, ax, ay, bx, by float64) float64 {
	dx := bx - ax
	dy := by - ay
	lenSq := dx*dx + dy*dy
	t := 0.0
	if lenSq > 0 {
		t = ((px-ax)*dx + (py-ay)*dy) / lenSq
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}
	cx := ax + t*dx
	cy := ay + t*dy
	return math.Hypot(px-cx, py-cy)
}
