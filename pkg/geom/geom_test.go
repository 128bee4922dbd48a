package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/geo-compliance/pkg/models"
)

// testProjection is zone 43N, covering the Jaipur industrial estates the
// fixtures are placed in.
func testProjection(t *testing.T) Projection {
	t.Helper()
	proj, err := NewProjection(43, false)
	require.NoError(t, err)
	return proj
}

// metricRect builds a WGS84 rectangle whose projected image is an exact
// rectangle centered on (cx, cy) meters, so area assertions do not depend on
// degree-to-meter conversions.
func metricRect(t *testing.T, proj Projection, cx, cy, halfW, halfH float64) models.Polygon {
	t.Helper()
	return models.Polygon{Exterior: models.Ring{
		proj.Inverse(cx-halfW, cy-halfH),
		proj.Inverse(cx+halfW, cy-halfH),
		proj.Inverse(cx+halfW, cy+halfH),
		proj.Inverse(cx-halfW, cy+halfH),
	}}
}

// testOrigin is a point inside zone 43N in projected coordinates, roughly
// Jaipur.
const (
	originX = 580000.0
	originY = 2976000.0
)

func TestKernelPolygonArea(t *testing.T) {
	proj := testProjection(t)
	k := NewKernel(proj)

	// 100m x 100m plot
	poly := metricRect(t, proj, originX, originY, 50, 50)
	g, err := k.Polygon(poly)
	require.NoError(t, err)
	defer g.Destroy()

	assert.InDelta(t, 10000.0, k.Area(g), 1.0)
}

func TestKernelPolygonWithHole(t *testing.T) {
	proj := testProjection(t)
	k := NewKernel(proj)

	poly := metricRect(t, proj, originX, originY, 50, 50)
	hole := metricRect(t, proj, originX, originY, 10, 10)
	poly.Holes = []models.Ring{hole.Exterior}

	g, err := k.Polygon(poly)
	require.NoError(t, err)
	defer g.Destroy()

	assert.InDelta(t, 10000.0-400.0, k.Area(g), 1.0)
}

func TestKernelPolygonEmpty(t *testing.T) {
	k := NewKernel(testProjection(t))

	_, err := k.Polygon(models.Polygon{})
	require.Error(t, err)
	var ierr *InvalidGeometryError
	assert.ErrorAs(t, err, &ierr)

	_, err = k.Polygon(models.Polygon{Exterior: models.Ring{
		{Lat: 26.9, Lon: 75.8},
		{Lat: 26.91, Lon: 75.8},
	}})
	assert.ErrorAs(t, err, &ierr)
}

func TestKernelRepairsBowtie(t *testing.T) {
	proj := testProjection(t)
	k := NewKernel(proj)

	// Self-intersecting "bowtie" ring: make-valid splits it into two valid
	// triangles instead of rejecting the plot.
	bowtie := models.Polygon{Exterior: models.Ring{
		proj.Inverse(originX-50, originY-50),
		proj.Inverse(originX+50, originY+50),
		proj.Inverse(originX+50, originY-50),
		proj.Inverse(originX-50, originY+50),
	}}

	g, err := k.Polygon(bowtie)
	require.NoError(t, err)
	defer g.Destroy()

	assert.Greater(t, k.Area(g), 0.0)
}

func TestKernelSetOperations(t *testing.T) {
	proj := testProjection(t)
	k := NewKernel(proj)

	// Two 100x100 squares overlapping by a 60x100 band.
	a, err := k.Polygon(metricRect(t, proj, originX, originY, 50, 50))
	require.NoError(t, err)
	defer a.Destroy()
	b, err := k.Polygon(metricRect(t, proj, originX+40, originY, 50, 50))
	require.NoError(t, err)
	defer b.Destroy()

	inter, err := k.Intersection(a, b)
	require.NoError(t, err)
	defer inter.Destroy()
	assert.InDelta(t, 6000.0, k.Area(inter), 2.0)

	union, err := k.Union(a, b)
	require.NoError(t, err)
	defer union.Destroy()
	assert.InDelta(t, 14000.0, k.Area(union), 2.0)

	diff, err := k.Difference(b, a)
	require.NoError(t, err)
	defer diff.Destroy()
	assert.InDelta(t, 4000.0, k.Area(diff), 2.0)
}

func TestKernelBuffer(t *testing.T) {
	proj := testProjection(t)
	k := NewKernel(proj)

	g, err := k.Polygon(metricRect(t, proj, originX, originY, 50, 50))
	require.NoError(t, err)
	defer g.Destroy()

	buffered, err := k.Buffer(g, 5)
	require.NoError(t, err)
	defer buffered.Destroy()

	// 110x110 core plus rounded corners, minus the corner cut: between the
	// square's area and the fully squared-off dilation.
	area := k.Area(buffered)
	assert.Greater(t, area, 12000.0)
	assert.Less(t, area, 12100.0)

	shrunk, err := k.Buffer(g, -5)
	require.NoError(t, err)
	defer shrunk.Destroy()
	assert.InDelta(t, 8100.0, k.Area(shrunk), 2.0)
}

func TestKernelContains(t *testing.T) {
	proj := testProjection(t)
	k := NewKernel(proj)

	outer, err := k.Polygon(metricRect(t, proj, originX, originY, 50, 50))
	require.NoError(t, err)
	defer outer.Destroy()
	inner, err := k.Polygon(metricRect(t, proj, originX, originY, 30, 30))
	require.NoError(t, err)
	defer inner.Destroy()

	ok, err := k.Contains(outer, inner)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = k.Contains(inner, outer)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKernelHausdorffDistance(t *testing.T) {
	proj := testProjection(t)
	k := NewKernel(proj)

	a, err := k.Polygon(metricRect(t, proj, originX, originY, 50, 50))
	require.NoError(t, err)
	defer a.Destroy()
	b, err := k.Polygon(metricRect(t, proj, originX+20, originY, 50, 50))
	require.NoError(t, err)
	defer b.Destroy()

	d, err := k.HausdorffDistance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, d, 0.5)
}

func TestKernelGeometryMultiPart(t *testing.T) {
	proj := testProjection(t)
	k := NewKernel(proj)

	// Subtracting a full-height strip splits the square into two pieces.
	square, err := k.Polygon(metricRect(t, proj, originX, originY, 50, 50))
	require.NoError(t, err)
	defer square.Destroy()
	strip, err := k.Polygon(metricRect(t, proj, originX, originY, 10, 60))
	require.NoError(t, err)
	defer strip.Destroy()

	diff, err := k.Difference(square, strip)
	require.NoError(t, err)
	defer diff.Destroy()

	out, err := k.Geometry(diff)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, models.KindMultiPolygon, out.Kind)
	assert.Len(t, out.Polygons, 2)
}

func TestKernelGeometryEmpty(t *testing.T) {
	proj := testProjection(t)
	k := NewKernel(proj)

	a, err := k.Polygon(metricRect(t, proj, originX, originY, 50, 50))
	require.NoError(t, err)
	defer a.Destroy()

	diff, err := k.Difference(a, a)
	require.NoError(t, err)
	defer diff.Destroy()

	out, err := k.Geometry(diff)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestMaxEncroachmentDepth(t *testing.T) {
	proj := testProjection(t)
	k := NewKernel(proj)

	boundary := metricRect(t, proj, originX, originY, 50, 50)
	bGeom, err := k.Polygon(boundary)
	require.NoError(t, err)
	defer bGeom.Destroy()

	// Footprint shifted 20m east: the overhang strip reaches 20m past the
	// eastern boundary edge.
	fGeom, err := k.Polygon(metricRect(t, proj, originX+20, originY, 50, 50))
	require.NoError(t, err)
	defer fGeom.Destroy()

	overhang, err := k.Difference(fGeom, bGeom)
	require.NoError(t, err)
	defer overhang.Destroy()

	depth, err := k.MaxEncroachmentDepth(overhang, boundary)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, depth, 0.5)
}

func TestMaxEncroachmentDepthEmpty(t *testing.T) {
	proj := testProjection(t)
	k := NewKernel(proj)

	boundary := metricRect(t, proj, originX, originY, 50, 50)
	depth, err := k.MaxEncroachmentDepth(nil, boundary)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestPointSegmentDistance(t *testing.T) {
	testCases := []struct {
		name     string
		px, py   float64
		expected float64
	}{
		{"perpendicular above", 5, 3, 3},
		{"past the end", 13, 4, 5},
		{"on the segment", 5, 0, 0},
		{"before the start", -3, 4, 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := pointSegmentDistance(tc.px, tc.py, 0, 0, 10, 0)
			assert.InDelta(t, tc.expected, d, 1e-9)
		})
	}
}
