// Package batch orchestrates per-plot compliance evaluation over a region.
// Plots are evaluated independently across a worker pool, with one geometry
// kernel per worker, and results are streamed so large regions never need to
// be buffered in memory.
package batch

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/kass/geo-compliance/pkg/compliance"
	"github.com/kass/geo-compliance/pkg/geom"
	"github.com/kass/geo-compliance/pkg/models"
	"github.com/kass/geo-compliance/pkg/risk"
)

// Plot bundles everything needed to evaluate one plot: its active boundary,
// the most recent footprint observation (nil when the classifier saw
// nothing), and optional temporal context for the risk scorer.
type Plot struct {
	Boundary  models.AllotmentBoundary
	Footprint *models.DetectedFootprint
	Context   models.RiskContext
}

// Source supplies the plots of a region from the collaborator data store.
// This is the evaluator's only I/O dependency.
type Source interface {
	RegionPlots(ctx context.Context, regionID string) ([]Plot, error)
}

// Config configures an Evaluator.
type Config struct {
	Projection geom.Projection
	// ObservationSource selects the tolerance buffer from Tolerances.
	ObservationSource string
	Tolerances        compliance.ToleranceTable
	Weights           risk.Weights
	// Workers defaults to GOMAXPROCS-equivalent CPU count when zero.
	Workers int
	// CalcOptions are passed through to each per-worker calculator.
	CalcOptions []compliance.Option
}

// Evaluator runs region-wide compliance evaluation.
type Evaluator struct {
	source     Source
	proj       geom.Projection
	scorer     *risk.Scorer
	toleranceM float64
	workers    int
	calcOpts   []compliance.Option
}

// NewEvaluator validates the configuration eagerly and returns an evaluator.
// Bad weights or an unknown observation source fail loudly here, before any
// evaluation begins.
func NewEvaluator(source Source, cfg Config) (*Evaluator, error) {
	if source == nil {
		return nil, fmt.Errorf("batch: source is required")
	}
	tolerances := cfg.Tolerances
	if tolerances == nil {
		tolerances = compliance.DefaultTolerances()
	}
	if err := tolerances.Validate(); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	toleranceM, err := tolerances.Lookup(cfg.ObservationSource)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	scorer, err := risk.NewScorer(cfg.Weights)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Evaluator{
		source:     source,
		proj:       cfg.Projection,
		scorer:     scorer,
		toleranceM: toleranceM,
		workers:    workers,
		calcOpts:   cfg.CalcOptions,
	}, nil
}

// ToleranceM returns the resolved buffer distance in meters.
func (e *Evaluator) ToleranceM() float64 {
	return e.toleranceM
}

// EvaluateRegion streams one result per plot of the region. The stream is
// lazy and restartable by calling EvaluateRegion again; cancelling the
// context stops the submission of further plots, it never preempts an
// in-flight evaluation. The error channel receives at most one error (a
// source read failure) and is closed with the result channel.
func (e *Evaluator) EvaluateRegion(ctx context.Context, regionID string) (<-chan models.ComplianceResult, <-chan error) {
	results := make(chan models.ComplianceResult, e.workers)
	errc := make(chan error, 1)

	go func() {
		defer close(results)
		defer close(errc)

		plots, err := e.source.RegionPlots(ctx, regionID)
		if err != nil {
			errc <- fmt.Errorf("failed to read region %s: %w", regionID, err)
			return
		}

		jobs := make(chan Plot)
		var wg sync.WaitGroup
		for w := 0; w < e.workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// One kernel per worker: GEOS contexts are thread-confined.
				calc := compliance.NewCalculator(geom.NewKernel(e.proj), e.calcOpts...)
				for plot := range jobs {
					result := calc.Evaluate(plot.Boundary, plot.Footprint, e.toleranceM)
					e.scorer.Apply(&result, plot.Context)
					select {
					case results <- result:
					case <-ctx.Done():
						return
					}
				}
			}()
		}

	submit:
		for _, plot := range plots {
			select {
			case jobs <- plot:
			case <-ctx.Done():
				break submit
			}
		}
		close(jobs)
		wg.Wait()
	}()

	return results, errc
}

// Collect drains a result stream into a slice.
func Collect(results <-chan models.ComplianceResult) []models.ComplianceResult {
	var all []models.ComplianceResult
	for r := range results {
		all = append(all, r)
	}
	return all
}

// Summarize folds a region's results into the counts and rollup scores the
// reporting collaborators consume.
func Summarize(regionID string, results []models.ComplianceResult) models.BatchSummary {
	summary := models.BatchSummary{
		RegionID:       regionID,
		TotalPlots:     len(results),
		VerdictCounts:  make(map[models.Verdict]int),
		SeverityCounts: make(map[models.Severity]int),
		Category:       models.CategoryCompliant,
	}

	var iouSum, riskSum float64
	worstViolation := -1
	for i := range results {
		r := &results[i]
		summary.VerdictCounts[r.Verdict]++
		if !r.Evaluable() {
			summary.Invalid++
			continue
		}
		summary.Evaluated++
		summary.SeverityCounts[r.Severity]++
		summary.TotalEncroachmentSqm += r.EncroachmentAreaSqm
		iouSum += r.IoU
		riskSum += r.RiskScore
		if r.Verdict == models.VerdictViolation {
			if rank := models.SeverityRank(r.Severity); rank > worstViolation {
				worstViolation = rank
			}
		}
	}

	if summary.Evaluated > 0 {
		summary.AvgIoU = iouSum / float64(summary.Evaluated)
		summary.AvgRiskScore = riskSum / float64(summary.Evaluated)
	}
	summary.ComplianceScore = 100 - summary.AvgRiskScore*100
	if summary.ComplianceScore < 0 {
		summary.ComplianceScore = 0
	}

	switch {
	case worstViolation >= models.SeverityRank(models.SeverityCritical):
		summary.Category = models.CategoryCritical
	case worstViolation >= models.SeverityRank(models.SeverityHigh):
		summary.Category = models.CategoryNonCompliant
	case summary.VerdictCounts[models.VerdictViolation] > 0 || summary.Invalid > 0:
		summary.Category = models.CategoryMinorIssues
	}
	return summary
}
