// Package risk computes the composite risk score and severity classification
// for compliance results.
package risk

import (
	"fmt"
	"math"

	"github.com/kass/geo-compliance/pkg/models"
)

// Normalization constants for the factor scores.
const (
	// deviationFullScale is the |deviation %| that saturates the area factor.
	deviationFullScale = 50.0
	// depthFullScaleM is the encroachment depth in meters that saturates the
	// boundary factor.
	depthFullScaleM = 20.0
	// vacancyFullScaleMonths is how long a plot must sit vacant to saturate
	// the vacancy factor.
	vacancyFullScaleMonths = 36.0
)

// weightTolerance absorbs float rounding when checking the weight sum.
const weightTolerance = 1e-9

// ConfigurationError reports invalid engine configuration. It is a
// programming defect and is raised eagerly at construction, before any
// evaluation begins.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Weights are the factor weights of the composite risk formula. They are
// tunable but must sum to 1.0.
type Weights struct {
	Area     float64
	IoU      float64
	Boundary float64
	Temporal float64
	Vacancy  float64
}

// DefaultWeights returns the standard factor weighting.
func DefaultWeights() Weights {
	return Weights{
		Area:     0.25,
		IoU:      0.25,
		Boundary: 0.20,
		Temporal: 0.15,
		Vacancy:  0.15,
	}
}

// Validate rejects negative weights and weight sums other than 1.0.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"area": w.Area, "iou": w.IoU, "boundary": w.Boundary,
		"temporal": w.Temporal, "vacancy": w.Vacancy,
	} {
		if v < 0 {
			return &ConfigurationError{Reason: fmt.Sprintf("%s weight is negative: %f", name, v)}
		}
	}
	sum := w.Area + w.IoU + w.Boundary + w.Temporal + w.Vacancy
	if math.Abs(sum-1.0) > weightTolerance {
		return &ConfigurationError{Reason: fmt.Sprintf("weights sum to %f, must sum to 1.0", sum)}
	}
	return nil
}

// Scorer computes risk scores. It is stateless after construction and safe
// for concurrent use.
type Scorer struct {
	weights Weights
}

// NewScorer validates the weights and returns a scorer. Invalid weights fail
// loudly here, before any evaluation.
func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Score computes the composite risk in [0,1] and its severity for a result.
// Context fields are optional; unavailable signals contribute zero.
func (s *Scorer) Score(result *models.ComplianceResult, ctx models.RiskContext) (float64, models.Severity) {
	sVacancy := clamp01(ctx.MonthsVacant / vacancyFullScaleMonths)

	// A confirmed-vacant plot carries only vacancy risk: its IoU of zero and
	// deviation of -100 describe emptiness, not an encroachment hazard.
	if result.Verdict == models.VerdictVacant {
		score := s.weights.Vacancy * sVacancy
		return score, ClassifySeverity(score)
	}

	sArea := clamp01(math.Abs(result.DeviationPct) / deviationFullScale)
	sIoU := clamp01(1.0 - result.IoU)
	sBoundary := clamp01(result.MaxDepthM / depthFullScaleM)
	sTemporal := clamp01(ctx.TrendSlopePerMonth * ctx.ObservedMonths)

	score := s.weights.Area*sArea +
		s.weights.IoU*sIoU +
		s.weights.Boundary*sBoundary +
		s.weights.Temporal*sTemporal +
		s.weights.Vacancy*sVacancy

	score = clamp01(score)
	return score, ClassifySeverity(score)
}

// Apply scores a result in place, filling RiskScore and Severity.
func (s *Scorer) Apply(result *models.ComplianceResult, ctx models.RiskContext) {
	if !result.Evaluable() {
		return
	}
	result.RiskScore, result.Severity = s.Score(result, ctx)
}

// ClassifySeverity maps a risk score to its severity band. Bands are
// half-open on the low end and closed at 1.0.
func ClassifySeverity(score float64) models.Severity {
	switch {
	case score < 0.2:
		return models.SeverityLow
	case score < 0.4:
		return models.SeverityModerate
	case score < 0.6:
		return models.SeverityHigh
	case score < 0.8:
		return models.SeverityCritical
	default:
		return models.SeveritySevere
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
