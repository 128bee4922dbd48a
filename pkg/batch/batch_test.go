package batch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/geo-compliance/pkg/geom"
	"github.com/kass/geo-compliance/pkg/models"
	"github.com/kass/geo-compliance/pkg/risk"
)

const (
	originX = 580000.0
	originY = 2976000.0
)

type fakeSource struct {
	plots []Plot
	err   error
}

func (f *fakeSource) RegionPlots(ctx context.Context, regionID string) ([]Plot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.plots, nil
}

func testProjection(t *testing.T) geom.Projection {
	t.Helper()
	proj, err := geom.NewProjection(43, false)
	require.NoError(t, err)
	return proj
}

func metricRect(proj geom.Projection, cx, cy, halfW, halfH float64) models.Polygon {
	return models.Polygon{Exterior: models.Ring{
		proj.Inverse(cx-halfW, cy-halfH),
		proj.Inverse(cx+halfW, cy-halfH),
		proj.Inverse(cx+halfW, cy+halfH),
		proj.Inverse(cx-halfW, cy+halfH),
	}}
}

func boundaryAt(proj geom.Projection, id string, cx, cy float64) models.AllotmentBoundary {
	return models.AllotmentBoundary{
		PlotID:  id,
		Polygon: metricRect(proj, cx, cy, 50, 50),
		Source:  models.SourceSurvey,
		Version: 1,
		Active:  true,
	}
}

func footprintAt(proj geom.Projection, id string, cx, cy, half float64) *models.DetectedFootprint {
	return &models.DetectedFootprint{
		PlotID:     id,
		Polygon:    metricRect(proj, cx, cy, half, half),
		Confidence: 0.9,
		ClassLabel: "industrial",
	}
}

// testPlots builds one plot per interesting outcome: compliant, violating,
// vacant, and one with a broken boundary ring.
func testPlots(proj geom.Projection) []Plot {
	return []Plot{
		{
			Boundary:  boundaryAt(proj, "compliant", originX, originY),
			Footprint: footprintAt(proj, "compliant", originX, originY, 45),
		},
		{
			Boundary:  boundaryAt(proj, "violating", originX+500, originY),
			Footprint: footprintAt(proj, "violating", originX+530, originY, 50),
			Context:   models.RiskContext{TrendSlopePerMonth: 0.1, ObservedMonths: 10},
		},
		{
			Boundary: boundaryAt(proj, "vacant", originX+1000, originY),
			Context:  models.RiskContext{MonthsVacant: 12},
		},
		{
			Boundary: models.AllotmentBoundary{
				PlotID:  "broken",
				Polygon: models.Polygon{Exterior: models.Ring{{Lat: 26.9, Lon: 75.8}}},
			},
			Footprint: footprintAt(proj, "broken", originX, originY, 45),
		},
	}
}

func TestNewEvaluatorValidation(t *testing.T) {
	proj := testProjection(t)
	src := &fakeSource{}

	_, err := NewEvaluator(nil, Config{Projection: proj, ObservationSource: "sentinel2"})
	assert.Error(t, err)

	_, err = NewEvaluator(src, Config{Projection: proj, ObservationSource: "modis"})
	assert.Error(t, err, "unknown observation source must fail eagerly")

	_, err = NewEvaluator(src, Config{
		Projection:        proj,
		ObservationSource: "sentinel2",
		Weights:           risk.Weights{Area: 0.9},
	})
	assert.Error(t, err, "bad weights must fail eagerly")

	ev, err := NewEvaluator(src, Config{
		Projection:        proj,
		ObservationSource: "landsat8",
		Weights:           risk.DefaultWeights(),
	})
	require.NoError(t, err)
	assert.Equal(t, 15.0, ev.ToleranceM())
}

func TestEvaluateRegion(t *testing.T) {
	proj := testProjection(t)
	src := &fakeSource{plots: testPlots(proj)}

	ev, err := NewEvaluator(src, Config{
		Projection:        proj,
		ObservationSource: "sentinel2",
		Weights:           risk.DefaultWeights(),
		Workers:           2,
	})
	require.NoError(t, err)

	results, errc := ev.EvaluateRegion(context.Background(), "region-1")
	byPlot := make(map[string]models.ComplianceResult)
	for r := range results {
		byPlot[r.PlotID] = r
	}
	require.NoError(t, <-errc)
	require.Len(t, byPlot, 4)

	assert.Equal(t, models.VerdictPerfectCompliance, byPlot["compliant"].Verdict)

	violating := byPlot["violating"]
	assert.Equal(t, models.VerdictViolation, violating.Verdict)
	assert.NotNil(t, violating.Encroachment)
	assert.Greater(t, violating.RiskScore, 0.0)
	// Deep overhang plus a growth trend pushes past the HIGH threshold.
	assert.GreaterOrEqual(t, models.SeverityRank(violating.Severity), models.SeverityRank(models.SeverityHigh))

	vacant := byPlot["vacant"]
	assert.Equal(t, models.VerdictVacant, vacant.Verdict)
	assert.InDelta(t, -100.0, vacant.DeviationPct, 1e-9)

	// One corrupt record never aborts the batch.
	broken := byPlot["broken"]
	assert.Equal(t, models.VerdictInvalidGeometry, broken.Verdict)
	assert.NotEmpty(t, broken.Reason)
}

func TestEvaluateRegionSourceError(t *testing.T) {
	proj := testProjection(t)
	src := &fakeSource{err: fmt.Errorf("connection refused")}

	ev, err := NewEvaluator(src, Config{
		Projection:        proj,
		ObservationSource: "sentinel2",
		Weights:           risk.DefaultWeights(),
	})
	require.NoError(t, err)

	results, errc := ev.EvaluateRegion(context.Background(), "region-1")
	assert.Empty(t, Collect(results))

	err = <-errc
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region-1")
}

func TestEvaluateRegionRestartable(t *testing.T) {
	proj := testProjection(t)
	src := &fakeSource{plots: testPlots(proj)}

	ev, err := NewEvaluator(src, Config{
		Projection:        proj,
		ObservationSource: "sentinel2",
		Weights:           risk.DefaultWeights(),
		Workers:           2,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		results, errc := ev.EvaluateRegion(context.Background(), "region-1")
		collected := Collect(results)
		require.NoError(t, <-errc)
		assert.Len(t, collected, 4, "run %d", i)
	}
}

func TestEvaluateRegionCancellation(t *testing.T) {
	proj := testProjection(t)

	var plots []Plot
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("plot_%d", i)
		plots = append(plots, Plot{
			Boundary:  boundaryAt(proj, id, originX+float64(i)*200, originY),
			Footprint: footprintAt(proj, id, originX+float64(i)*200, originY, 45),
		})
	}
	src := &fakeSource{plots: plots}

	ev, err := NewEvaluator(src, Config{
		Projection:        proj,
		ObservationSource: "sentinel2",
		Weights:           risk.DefaultWeights(),
		Workers:           2,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	results, errc := ev.EvaluateRegion(ctx, "region-1")

	// Take one result, then cancel: the stream must close without draining
	// the whole region.
	<-results
	cancel()

	count := 1
	for range results {
		count++
	}
	<-errc
	assert.Less(t, count, len(plots))
}

func TestSummarize(t *testing.T) {
	proj := testProjection(t)
	src := &fakeSource{plots: testPlots(proj)}

	ev, err := NewEvaluator(src, Config{
		Projection:        proj,
		ObservationSource: "sentinel2",
		Weights:           risk.DefaultWeights(),
		Workers:           2,
	})
	require.NoError(t, err)

	results, errc := ev.EvaluateRegion(context.Background(), "region-1")
	collected := Collect(results)
	require.NoError(t, <-errc)

	summary := Summarize("region-1", collected)

	assert.Equal(t, "region-1", summary.RegionID)
	assert.Equal(t, 4, summary.TotalPlots)
	assert.Equal(t, 3, summary.Evaluated)
	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, 1, summary.VerdictCounts[models.VerdictViolation])
	assert.Equal(t, 1, summary.VerdictCounts[models.VerdictVacant])
	assert.Equal(t, 1, summary.VerdictCounts[models.VerdictInvalidGeometry])
	assert.Greater(t, summary.TotalEncroachmentSqm, 0.0)
	assert.GreaterOrEqual(t, summary.AvgIoU, 0.0)
	assert.LessOrEqual(t, summary.AvgIoU, 1.0)
	assert.LessOrEqual(t, summary.ComplianceScore, 100.0)
	assert.NotEqual(t, models.CategoryCompliant, summary.Category)
}

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize("empty", nil)

	assert.Equal(t, 0, summary.TotalPlots)
	assert.Zero(t, summary.AvgRiskScore)
	assert.Equal(t, 100.0, summary.ComplianceScore)
	assert.Equal(t, models.CategoryCompliant, summary.Category)
}
