package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kass/geo-compliance/pkg/batch"
	"github.com/kass/geo-compliance/pkg/compliance"
	"github.com/kass/geo-compliance/pkg/geom"
	"github.com/kass/geo-compliance/pkg/models"
	"github.com/kass/geo-compliance/pkg/postgis"
	"github.com/kass/geo-compliance/pkg/risk"
	"github.com/kass/geo-compliance/pkg/rtree"
	"github.com/kass/geo-compliance/pkg/violations"
)

var (
	indexFile string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "geo-compliance",
	Short: "Boundary compliance and encroachment detection engine",
	Long:  `Evaluates detected structure footprints against allotted plot boundaries: tolerance-buffered verdicts, encroachment extraction, risk scoring and region-level rollups.`,
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Generate plots and build the boundary index",
	Long:  `Generate synthetic plot boundaries and footprints, build the R-Tree boundary index and optionally persist everything to PostGIS.`,
	Run:   runLoad,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate every plot in a region",
	Long:  `Run the batch compliance evaluation for a region and stream per-plot verdicts. Violations are registered and high-severity alerts printed.`,
	Run:   runEvaluate,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the region compliance rollup",
	Long:  `Run the batch compliance evaluation for a region and print the aggregate summary only.`,
	Run:   runSummary,
}

var (
	numPlots   int
	numWorkers int
	regionID   string
	obsSource  string
	utmZone    int
	useDB      bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&indexFile, "file", "f", "plot_index.gob", "Boundary index file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVarP(&regionID, "region", "r", "region-1", "Region identifier")
	rootCmd.PersistentFlags().StringVarP(&obsSource, "source", "s", "sentinel2", "Observation source (sentinel2, landsat8, drone, survey_gps)")
	rootCmd.PersistentFlags().IntVarP(&utmZone, "zone", "z", 43, "UTM zone for metric projection")
	rootCmd.PersistentFlags().BoolVar(&useDB, "db", false, "Read/write plots from PostGIS (settings from .env)")

	loadCmd.Flags().IntVarP(&numPlots, "plots", "p", 10000, "Number of plots to generate")
	loadCmd.Flags().IntVarP(&numWorkers, "workers", "w", runtime.NumCPU(), "Number of worker goroutines")

	evaluateCmd.Flags().IntVarP(&numPlots, "plots", "p", 10000, "Number of plots when generating synthetically")
	evaluateCmd.Flags().IntVarP(&numWorkers, "workers", "w", runtime.NumCPU(), "Number of worker goroutines")

	summaryCmd.Flags().IntVarP(&numPlots, "plots", "p", 10000, "Number of plots when generating synthetically")
	summaryCmd.Flags().IntVarP(&numWorkers, "workers", "w", runtime.NumCPU(), "Number of worker goroutines")

	rootCmd.AddCommand(loadCmd, evaluateCmd, summaryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runLoad(cmd *cobra.Command, args []string) {
	fmt.Printf("Generating %d plots in %s using %d workers...\n", numPlots, regionID, numWorkers)

	plots := generatePlots(numPlots, numWorkers)

	index := rtree.NewPlotIndex()
	boundaries := make([]*models.AllotmentBoundary, len(plots))
	for i := range plots {
		boundaries[i] = &plots[i].Boundary
	}

	start := time.Now()
	batchSize := len(boundaries) / numWorkers
	if batchSize < 1 {
		batchSize = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		startIdx := i * batchSize
		endIdx := startIdx + batchSize
		if i == numWorkers-1 {
			endIdx = len(boundaries)
		}

		go func(chunk []*models.AllotmentBoundary) {
			defer wg.Done()
			index.IndexBoundaries(chunk)
		}(boundaries[startIdx:endIdx])
	}

	wg.Wait()
	loadTime := time.Since(start)

	fmt.Printf("Indexed %d boundaries in %v\n", index.Size(), loadTime)
	fmt.Printf("Boundaries per second: %.0f\n", float64(len(boundaries))/loadTime.Seconds())

	if err := index.SaveToFile(indexFile); err != nil {
		log.Fatalf("Failed to save index: %v", err)
	}
	fmt.Printf("Index saved to %s\n", indexFile)

	if useDB {
		store := openStore()
		defer store.Close()

		if err := store.InitSchema(); err != nil {
			log.Fatalf("Failed to init schema: %v", err)
		}

		start = time.Now()
		var footprints []*models.DetectedFootprint
		for i := range plots {
			p := &plots[i]
			if err := store.UpsertPlot(p.Boundary.PlotID, regionID, p.Boundary.PlotID); err != nil {
				log.Fatalf("Failed to upsert plot: %v", err)
			}
			if err := store.InsertBoundaryVersion(&p.Boundary); err != nil {
				log.Fatalf("Failed to insert boundary: %v", err)
			}
			if p.Footprint != nil {
				footprints = append(footprints, p.Footprint)
			}
		}
		if err := store.BulkInsertFootprints(footprints); err != nil {
			log.Fatalf("Failed to insert footprints: %v", err)
		}
		if err := store.CreateSpatialIndexes(); err != nil {
			log.Fatalf("Failed to create spatial indexes: %v", err)
		}
		fmt.Printf("Persisted %d plots to PostGIS in %v\n", len(plots), time.Since(start))
	}
}

func runEvaluate(cmd *cobra.Command, args []string) {
	evaluator := buildEvaluator()

	fmt.Printf("Evaluating region %s (source=%s, workers=%d)...\n", regionID, obsSource, numWorkers)

	start := time.Now()
	results, errc := evaluator.EvaluateRegion(context.Background(), regionID)

	registry := violations.NewRegistry()
	var evaluated, flagged int
	for res := range results {
		evaluated++
		switch res.Verdict {
		case models.VerdictViolation, models.VerdictVacant:
			flagged++
			if _, err := registry.Register(res); err != nil {
				log.Printf("Failed to register violation for %s: %v", res.PlotID, err)
			}
			if verbose || models.SeverityRank(res.Severity) >= models.SeverityRank(models.SeverityHigh) {
				fmt.Printf("  %-12s %-20s sev=%-8s risk=%.3f area=%.1f m2 depth=%.1f m\n",
					res.PlotID, res.ViolationType, res.Severity, res.RiskScore,
					res.EncroachmentAreaSqm, res.MaxDepthM)
			}
		case models.VerdictInvalidGeometry:
			log.Printf("Plot %s not evaluable: %s", res.PlotID, res.Reason)
		default:
			if verbose {
				fmt.Printf("  %-12s %-20s iou=%.3f\n", res.PlotID, res.Verdict, res.IoU)
			}
		}
	}
	if err := <-errc; err != nil {
		log.Fatalf("Evaluation failed: %v", err)
	}
	elapsed := time.Since(start)

	fmt.Printf("\nEvaluated %d plots in %v (%.0f plots/sec)\n",
		evaluated, elapsed, float64(evaluated)/elapsed.Seconds())
	fmt.Printf("Flagged %d plots, %d violation records registered\n", flagged, registry.Count())

	alerts := registry.DrainAlerts()
	if len(alerts) > 0 {
		fmt.Printf("\nAlerts (%d):\n", len(alerts))
		for _, a := range alerts {
			fmt.Printf("  [%s] plot %s violation %s\n", a.Severity, a.PlotID, a.ViolationID)
		}
	}
}

func runSummary(cmd *cobra.Command, args []string) {
	evaluator := buildEvaluator()

	fmt.Printf("Summarizing region %s (source=%s, workers=%d)...\n", regionID, obsSource, numWorkers)

	start := time.Now()
	results, errc := evaluator.EvaluateRegion(context.Background(), regionID)
	collected := batch.Collect(results)
	if err := <-errc; err != nil {
		log.Fatalf("Evaluation failed: %v", err)
	}
	summary := batch.Summarize(regionID, collected)
	elapsed := time.Since(start)

	fmt.Printf("\nRegion Summary (%v):\n", elapsed)
	fmt.Printf("Total plots: %d (evaluated %d, invalid %d)\n", summary.TotalPlots, summary.Evaluated, summary.Invalid)
	for _, v := range []models.Verdict{
		models.VerdictPerfectCompliance, models.VerdictWithinTolerance,
		models.VerdictViolation, models.VerdictVacant, models.VerdictInvalidGeometry,
	} {
		if n := summary.VerdictCounts[v]; n > 0 {
			fmt.Printf("  %-20s %d\n", v, n)
		}
	}
	fmt.Printf("Total encroachment: %.1f m2\n", summary.TotalEncroachmentSqm)
	fmt.Printf("Average IoU: %.3f\n", summary.AvgIoU)
	fmt.Printf("Average risk: %.3f\n", summary.AvgRiskScore)
	fmt.Printf("Compliance score: %.1f (%s)\n", summary.ComplianceScore, summary.Category)
}

func buildEvaluator() *batch.Evaluator {
	proj, err := geom.NewProjection(utmZone, false)
	if err != nil {
		log.Fatalf("Invalid UTM zone: %v", err)
	}

	var source batch.Source
	if useDB {
		store := openStore()
		source = store
	} else {
		source = &syntheticSource{plots: generatePlots(numPlots, runtime.NumCPU())}
	}

	evaluator, err := batch.NewEvaluator(source, batch.Config{
		Projection:        proj,
		ObservationSource: obsSource,
		Tolerances:        compliance.DefaultTolerances(),
		Weights:           risk.DefaultWeights(),
		Workers:           numWorkers,
	})
	if err != nil {
		log.Fatalf("Failed to build evaluator: %v", err)
	}
	return evaluator
}

func openStore() *postgis.PlotStore {
	if err := godotenv.Load(); err != nil && verbose {
		log.Printf("No .env file found, using environment: %v", err)
	}
	port, _ := strconv.Atoi(envOr("POSTGRES_PORT", "5432"))
	store, err := postgis.NewPlotStore(
		envOr("POSTGRES_HOST", "localhost"),
		envOr("POSTGRES_USER", "postgres"),
		envOr("POSTGRES_PASSWORD", "postgres"),
		envOr("POSTGRES_DB", "compliance"),
		port,
	)
	if err != nil {
		log.Fatalf("Failed to connect to PostGIS: %v", err)
	}
	return store
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// syntheticSource serves generated plots for one region to the evaluator.
type syntheticSource struct {
	plots []batch.Plot
}

func (s *syntheticSource) RegionPlots(ctx context.Context, regionID string) ([]batch.Plot, error) {
	return s.plots, nil
}

// generatePlots builds plots spread over an industrial estate near the UTM
// zone 43 center: ~70% compliant footprints, ~15% encroaching past the
// boundary, ~10% vacant, ~5% small sheds well inside the plot.
func generatePlots(n, workers int) []batch.Plot {
	plots := make([]batch.Plot, n)

	batchSize := n / workers
	if batchSize < 1 {
		batchSize = 1
		workers = n
	}
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		startIdx := w * batchSize
		endIdx := startIdx + batchSize
		if w == workers-1 {
			endIdx = n
		}

		go func(start, end int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(start)))

			for i := start; i < end; i++ {
				// Plot centers on a grid around 26.9N 75.8E, edge ~100m.
				lat := 26.9 + float64(i/200)*0.002
				lon := 75.8 + float64(i%200)*0.002
				sizeDeg := 0.0009

				boundary := rectangle(lat, lon, sizeDeg, sizeDeg)

				plot := batch.Plot{
					Boundary: models.AllotmentBoundary{
						PlotID:    fmt.Sprintf("plot_%d", i),
						Polygon:   boundary,
						Source:    models.SourceSurvey,
						AccuracyM: 0.1,
						Version:   1,
						Active:    true,
					},
				}

				roll := r.Float64()
				switch {
				case roll < 0.10:
					// Vacant: no footprint, track how long.
					plot.Context.MonthsVacant = float64(r.Intn(48))
				case roll < 0.25:
					// Encroaching: shifted past one edge.
					shift := (0.2 + r.Float64()*0.4) * sizeDeg
					plot.Footprint = footprintFor(&plot.Boundary, rectangle(lat, lon+shift, sizeDeg, sizeDeg), r)
					plot.Context.TrendSlopePerMonth = r.Float64() * 20
					plot.Context.ObservedMonths = 6 + r.Float64()*18
				case roll < 0.30:
					// Small shed well inside.
					plot.Footprint = footprintFor(&plot.Boundary, rectangle(lat, lon, sizeDeg*0.3, sizeDeg*0.3), r)
				default:
					// Compliant: slightly smaller than the boundary.
					inset := 0.9 + r.Float64()*0.08
					plot.Footprint = footprintFor(&plot.Boundary, rectangle(lat, lon, sizeDeg*inset, sizeDeg*inset), r)
				}

				plots[i] = plot
			}
		}(startIdx, endIdx)
	}

	wg.Wait()
	return plots
}

func rectangle(centerLat, centerLon, halfLatDeg, halfLonDeg float64) models.Polygon {
	return models.Polygon{Exterior: models.Ring{
		{Lat: centerLat - halfLatDeg, Lon: centerLon - halfLonDeg},
		{Lat: centerLat - halfLatDeg, Lon: centerLon + halfLonDeg},
		{Lat: centerLat + halfLatDeg, Lon: centerLon + halfLonDeg},
		{Lat: centerLat + halfLatDeg, Lon: centerLon - halfLonDeg},
		{Lat: centerLat - halfLatDeg, Lon: centerLon - halfLonDeg},
	}}
}

func footprintFor(b *models.AllotmentBoundary, poly models.Polygon, r *rand.Rand) *models.DetectedFootprint {
	return &models.DetectedFootprint{
		PlotID:     b.PlotID,
		Polygon:    poly,
		Confidence: 0.7 + r.Float64()*0.3,
		ClassLabel: "industrial",
		ObservedAt: time.Now().AddDate(0, -r.Intn(3), 0),
	}
}
