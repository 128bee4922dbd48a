package main

import (
	"fmt"
	"log"

	"github.com/kass/geo-compliance/pkg/compliance"
	"github.com/kass/geo-compliance/pkg/geom"
	"github.com/kass/geo-compliance/pkg/models"
	"github.com/kass/geo-compliance/pkg/risk"
	"github.com/kass/geo-compliance/pkg/rtree"
)

func main() {
	// Industrial plots near Jaipur fall in UTM zone 43N.
	proj, err := geom.NewProjection(43, false)
	if err != nil {
		log.Fatal(err)
	}

	kernel := geom.NewKernel(proj)
	calc := compliance.NewCalculator(kernel)
	scorer, err := risk.NewScorer(risk.DefaultWeights())
	if err != nil {
		log.Fatal(err)
	}

	tolerance, err := compliance.DefaultTolerances().Lookup("sentinel2")
	if err != nil {
		log.Fatal(err)
	}

	// A ~100m x 100m allotted plot.
	boundary := models.AllotmentBoundary{
		PlotID:    "RIICO-A17",
		Source:    models.SourceSurvey,
		AccuracyM: 0.1,
		Version:   1,
		Active:    true,
		Polygon:   rect(26.9000, 75.8000, 0.00045, 0.00045),
	}

	// Example 1: a shed sitting well inside the plot.
	fmt.Println("=== Compliant footprint ===")
	inside := &models.DetectedFootprint{
		PlotID:     boundary.PlotID,
		Polygon:    rect(26.9000, 75.8000, 0.00040, 0.00040),
		Confidence: 0.94,
		ClassLabel: "industrial",
	}
	result := calc.Evaluate(boundary, inside, tolerance)
	scorer.Apply(&result, models.RiskContext{})
	printResult(result)

	// Example 2: the same shed shifted east past the boundary.
	fmt.Println("\n=== Encroaching footprint ===")
	shifted := &models.DetectedFootprint{
		PlotID:     boundary.PlotID,
		Polygon:    rect(26.9000, 75.8004, 0.00045, 0.00045),
		Confidence: 0.88,
		ClassLabel: "industrial",
	}
	result = calc.Evaluate(boundary, shifted, tolerance)
	scorer.Apply(&result, models.RiskContext{TrendSlopePerMonth: 12, ObservedMonths: 9})
	printResult(result)

	// Example 3: match an orphan footprint to its plot via the boundary index.
	fmt.Println("\n=== Boundary index match ===")
	index := rtree.NewPlotIndex()
	index.IndexBoundaries([]*models.AllotmentBoundary{&boundary})

	matched, overlap, err := index.Match(kernel, shifted.Polygon)
	if err != nil {
		log.Fatal(err)
	}
	if matched != nil {
		fmt.Printf("Footprint matched plot %s (overlap %.1f m2)\n", matched.PlotID, overlap)
	}

	// Persist and reload the index.
	if err := index.SaveToFile("plots.gob"); err != nil {
		log.Fatal(err)
	}
	restored := rtree.NewPlotIndex()
	if err := restored.LoadFromFile("plots.gob"); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Reloaded index with %d boundaries\n", restored.Size())
}

func printResult(r models.ComplianceResult) {
	fmt.Printf("Verdict: %s\n", r.Verdict)
	fmt.Printf("IoU: %.3f, deviation: %+.1f%%\n", r.IoU, r.DeviationPct)
	if r.Verdict == models.VerdictViolation {
		fmt.Printf("Encroachment: %.1f m2, max depth %.1f m (%s)\n",
			r.EncroachmentAreaSqm, r.MaxDepthM, r.ViolationType)
	}
	fmt.Printf("Risk: %.3f (%s)\n", r.RiskScore, r.Severity)
}

func rect(centerLat, centerLon, halfLatDeg, halfLonDeg float64) models.Polygon {
	return models.Polygon{Exterior: models.Ring{
		{Lat: centerLat - halfLatDeg, Lon: centerLon - halfLonDeg},
		{Lat: centerLat - halfLatDeg, Lon: centerLon + halfLonDeg},
		{Lat: centerLat + halfLatDeg, Lon: centerLon + halfLonDeg},
		{Lat: centerLat + halfLatDeg, Lon: centerLon - halfLonDeg},
	}}
}
