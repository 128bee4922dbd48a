package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/geo-compliance/pkg/geom"
	"github.com/kass/geo-compliance/pkg/models"
)

const (
	originX = 580000.0
	originY = 2976000.0
)

func testKernel(t *testing.T) (*geom.Kernel, geom.Projection) {
	t.Helper()
	proj, err := geom.NewProjection(43, false)
	require.NoError(t, err)
	return geom.NewKernel(proj), proj
}

// metricRect builds a WGS84 rectangle that projects to an exact rectangle in
// meters, centered on (cx, cy).
func metricRect(t *testing.T, proj geom.Projection, cx, cy, halfW, halfH float64) models.Polygon {
	t.Helper()
	return models.Polygon{Exterior: models.Ring{
		proj.Inverse(cx-halfW, cy-halfH),
		proj.Inverse(cx+halfW, cy-halfH),
		proj.Inverse(cx+halfW, cy+halfH),
		proj.Inverse(cx-halfW, cy+halfH),
	}}
}

func testBoundary(t *testing.T, proj geom.Projection) models.AllotmentBoundary {
	t.Helper()
	return models.AllotmentBoundary{
		PlotID:    "plot-1",
		Polygon:   metricRect(t, proj, originX, originY, 50, 50),
		Source:    models.SourceSurvey,
		AccuracyM: 0.1,
		Version:   1,
		Active:    true,
	}
}

func footprint(poly models.Polygon) *models.DetectedFootprint {
	return &models.DetectedFootprint{
		PlotID:     "plot-1",
		Polygon:    poly,
		Confidence: 0.92,
		ClassLabel: "industrial",
	}
}

func TestEvaluatePerfectCompliance(t *testing.T) {
	kernel, proj := testKernel(t)
	calc := NewCalculator(kernel)
	boundary := testBoundary(t, proj)

	// Footprint identical to the boundary.
	result := calc.Evaluate(boundary, footprint(boundary.Polygon), 5.0)

	assert.Equal(t, models.VerdictPerfectCompliance, result.Verdict)
	assert.InDelta(t, 1.0, result.IoU, 0.001)
	assert.InDelta(t, 0.0, result.DeviationPct, 0.1)
	assert.Nil(t, result.Encroachment)
	assert.Zero(t, result.EncroachmentAreaSqm)
	assert.Equal(t, models.ViolationNone, result.ViolationType)
	assert.InDelta(t, 10000.0, result.AllottedAreaSqm, 1.0)
}

func TestEvaluateWithinTolerance(t *testing.T) {
	kernel, proj := testKernel(t)
	calc := NewCalculator(kernel)
	boundary := testBoundary(t, proj)

	// 2m overshoot on a 5m tolerance source.
	shifted := footprint(metricRect(t, proj, originX+2, originY, 50, 50))
	result := calc.Evaluate(boundary, shifted, 5.0)

	assert.Equal(t, models.VerdictWithinTolerance, result.Verdict)
	assert.Nil(t, result.Encroachment)
	assert.Zero(t, result.EncroachmentAreaSqm)
}

func TestEvaluateViolation(t *testing.T) {
	kernel, proj := testKernel(t)
	calc := NewCalculator(kernel)
	boundary := testBoundary(t, proj)

	// 20m shift past a 5m-buffered boundary leaves a 15m x 100m overhang.
	shifted := footprint(metricRect(t, proj, originX+20, originY, 50, 50))
	result := calc.Evaluate(boundary, shifted, 5.0)

	assert.Equal(t, models.VerdictViolation, result.Verdict)
	require.NotNil(t, result.Encroachment)
	assert.InDelta(t, 1500.0, result.EncroachmentAreaSqm, 30.0)
	assert.InDelta(t, 20.0, result.MaxDepthM, 0.5)
	assert.InDelta(t, 6000.0/14000.0, result.IoU, 0.01)
	assert.Equal(t, models.ViolationEncroachment, result.ViolationType)
}

func TestEvaluateVacant(t *testing.T) {
	kernel, proj := testKernel(t)
	calc := NewCalculator(kernel)
	boundary := testBoundary(t, proj)

	for _, fp := range []*models.DetectedFootprint{nil, {PlotID: "plot-1"}} {
		result := calc.Evaluate(boundary, fp, 5.0)

		assert.Equal(t, models.VerdictVacant, result.Verdict)
		assert.Zero(t, result.IoU)
		assert.InDelta(t, -100.0, result.DeviationPct, 1e-9)
		assert.Equal(t, models.ViolationVacancy, result.ViolationType)
		assert.Nil(t, result.Encroachment)
		assert.InDelta(t, 10000.0, result.AllottedAreaSqm, 1.0)
	}
}

func TestEvaluateNoiseFloor(t *testing.T) {
	kernel, proj := testKernel(t)
	calc := NewCalculator(kernel)
	boundary := testBoundary(t, proj)

	// 5.4m shift: the overhang past the 5m buffer is ~0.4m x 100m = 40 m2,
	// below the 50 m2 noise floor.
	shifted := footprint(metricRect(t, proj, originX+5.4, originY, 50, 50))
	result := calc.Evaluate(boundary, shifted, 5.0)

	assert.Equal(t, models.VerdictWithinTolerance, result.Verdict)
	assert.Nil(t, result.Encroachment)

	// A lower floor turns the same overhang into a violation.
	strict := NewCalculator(kernel, WithMinEncroachment(10.0))
	result = strict.Evaluate(boundary, shifted, 5.0)
	assert.Equal(t, models.VerdictViolation, result.Verdict)
	assert.NotNil(t, result.Encroachment)
}

func TestEvaluateToleranceMonotonicity(t *testing.T) {
	kernel, proj := testKernel(t)
	calc := NewCalculator(kernel)
	boundary := testBoundary(t, proj)
	shifted := footprint(metricRect(t, proj, originX+20, originY, 50, 50))

	rank := func(v models.Verdict) int {
		switch v {
		case models.VerdictPerfectCompliance:
			return 0
		case models.VerdictWithinTolerance:
			return 1
		default:
			return 2
		}
	}

	// Widening the tolerance must never worsen the verdict.
	prev := -1
	for _, tol := range []float64{25.0, 15.0, 5.0, 0.5} {
		result := calc.Evaluate(boundary, shifted, tol)
		assert.GreaterOrEqual(t, rank(result.Verdict), prev, "tolerance %.1f", tol)
		prev = rank(result.Verdict)
	}

	wide := calc.Evaluate(boundary, shifted, 25.0)
	assert.Equal(t, models.VerdictWithinTolerance, wide.Verdict)
	narrow := calc.Evaluate(boundary, shifted, 0.5)
	assert.Equal(t, models.VerdictViolation, narrow.Verdict)
	assert.Greater(t, narrow.EncroachmentAreaSqm, 0.0)
}

func TestEvaluateIoUSymmetric(t *testing.T) {
	kernel, proj := testKernel(t)
	calc := NewCalculator(kernel)

	a := testBoundary(t, proj)
	bPoly := metricRect(t, proj, originX+30, originY+10, 40, 60)
	b := models.AllotmentBoundary{PlotID: "plot-2", Polygon: bPoly, Version: 1, Active: true}

	r1 := calc.Evaluate(a, footprint(bPoly), 5.0)
	r2 := calc.Evaluate(b, footprint(a.Polygon), 5.0)

	assert.InDelta(t, r1.IoU, r2.IoU, 1e-6)
	assert.GreaterOrEqual(t, r1.IoU, 0.0)
	assert.LessOrEqual(t, r1.IoU, 1.0)
}

func TestEvaluateInvalidGeometry(t *testing.T) {
	kernel, proj := testKernel(t)
	calc := NewCalculator(kernel)

	bad := models.AllotmentBoundary{
		PlotID: "plot-bad",
		Polygon: models.Polygon{Exterior: models.Ring{
			{Lat: 26.9, Lon: 75.8},
			{Lat: 26.91, Lon: 75.8},
		}},
	}
	result := calc.Evaluate(bad, footprint(metricRect(t, proj, originX, originY, 50, 50)), 5.0)

	assert.Equal(t, models.VerdictInvalidGeometry, result.Verdict)
	assert.NotEmpty(t, result.Reason)
	assert.False(t, result.Evaluable())
	assert.Equal(t, "plot-bad", result.PlotID)
}

func TestEvaluateRepairsSelfIntersection(t *testing.T) {
	kernel, proj := testKernel(t)
	calc := NewCalculator(kernel)
	boundary := testBoundary(t, proj)

	// Bowtie footprint: repaired by make-valid, not rejected.
	bowtie := models.Polygon{Exterior: models.Ring{
		proj.Inverse(originX-30, originY-30),
		proj.Inverse(originX+30, originY+30),
		proj.Inverse(originX+30, originY-30),
		proj.Inverse(originX-30, originY+30),
	}}
	result := calc.Evaluate(boundary, footprint(bowtie), 5.0)

	assert.NotEqual(t, models.VerdictInvalidGeometry, result.Verdict)
	assert.True(t, result.Evaluable())
}

func TestClassifyViolationTypes(t *testing.T) {
	kernel, proj := testKernel(t)
	calc := NewCalculator(kernel)
	boundary := testBoundary(t, proj)

	// Oversized footprint spilling past the boundary: deviation above 10%.
	big := footprint(metricRect(t, proj, originX, originY, 60, 60))
	result := calc.Evaluate(boundary, big, 5.0)
	assert.Equal(t, models.VerdictViolation, result.Verdict)
	assert.Equal(t, models.ViolationBoundaryExceed, result.ViolationType)

	// Small footprint well inside: partial utilization.
	small := footprint(metricRect(t, proj, originX, originY, 20, 20))
	result = calc.Evaluate(boundary, small, 5.0)
	assert.Equal(t, models.VerdictPerfectCompliance, result.Verdict)
	assert.Equal(t, models.ViolationPartialUtilization, result.ViolationType)

	// Unexpected land-use class inside the boundary.
	farm := footprint(metricRect(t, proj, originX, originY, 45, 45))
	farm.ClassLabel = "agriculture"
	result = calc.Evaluate(boundary, farm, 5.0)
	assert.Equal(t, models.ViolationLandUseChange, result.ViolationType)
}

func TestEvaluateCarriesInputs(t *testing.T) {
	kernel, proj := testKernel(t)
	calc := NewCalculator(kernel)
	boundary := testBoundary(t, proj)

	fp := footprint(metricRect(t, proj, originX, originY, 45, 45))
	result := calc.Evaluate(boundary, fp, 5.0)

	assert.Equal(t, 5.0, result.ToleranceM)
	assert.Equal(t, fp.Confidence, result.Confidence)
	assert.InDelta(t, 8100.0, result.DetectedAreaSqm, 2.0)
	assert.InDelta(t, 8100.0, result.IntersectionAreaSqm, 2.0)
	assert.Greater(t, result.HausdorffM, 0.0)
}
