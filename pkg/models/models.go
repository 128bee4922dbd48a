// Package models defines the domain types shared by the compliance engine:
// plot boundaries, detected footprints, verdicts, severities and results.
package models

import "time"

// Location represents a geographic location with latitude and longitude (WGS84)
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Ring is a closed sequence of locations. The last vertex should equal the
// first; constructors that receive an open ring close it themselves.
type Ring []Location

// Polygon is a simple polygon: one exterior ring, zero or more holes.
type Polygon struct {
	Exterior Ring   `json:"exterior"`
	Holes    []Ring `json:"holes,omitempty"`
}

// IsEmpty reports whether the polygon has no usable exterior ring.
func (p Polygon) IsEmpty() bool {
	return len(p.Exterior) < 3
}

// GeometryKind tags a Geometry as a single polygon or a collection.
type GeometryKind string

const (
	KindPolygon      GeometryKind = "Polygon"
	KindMultiPolygon GeometryKind = "MultiPolygon"
)

// Geometry is a tagged polygon-or-collection result. Set operations like
// difference can split a polygon into disjoint pieces; consumers that render
// geometry need to know which shape they received, while area sums work the
// same either way.
type Geometry struct {
	Kind     GeometryKind `json:"kind"`
	Polygons []Polygon    `json:"polygons"`
}

// IsEmpty reports whether the geometry has no parts.
func (g *Geometry) IsEmpty() bool {
	return g == nil || len(g.Polygons) == 0
}

// BoundingBox represents a rectangular area defined by two corners
type BoundingBox struct {
	BottomLeft Location
	TopRight   Location
}

// BoundarySource identifies how an allotment boundary was captured.
type BoundarySource string

const (
	SourceSurvey    BoundarySource = "survey"
	SourceDigitized BoundarySource = "digitized"
	SourceManual    BoundarySource = "manual"
)

// AllotmentBoundary is the officially allotted boundary of a plot. Boundaries
// are immutable once verified; a re-survey creates a new version and marks the
// old one inactive.
type AllotmentBoundary struct {
	PlotID    string         `json:"plot_id"`
	Polygon   Polygon        `json:"polygon"`
	Source    BoundarySource `json:"source"`
	AccuracyM float64        `json:"accuracy_m"`
	Version   int            `json:"version"`
	Active    bool           `json:"active"`
}

// DetectedFootprint is a structure footprint produced by an external
// classifier for one observation instant.
type DetectedFootprint struct {
	PlotID     string    `json:"plot_id"`
	Polygon    Polygon   `json:"polygon"`
	Confidence float64   `json:"confidence"`
	ClassLabel string    `json:"class_label"`
	ObservedAt time.Time `json:"observed_at"`
}

// Verdict is the tolerance-buffered compliance classification for one plot.
type Verdict string

const (
	VerdictPerfectCompliance Verdict = "PERFECT_COMPLIANCE"
	VerdictWithinTolerance   Verdict = "WITHIN_TOLERANCE"
	VerdictViolation         Verdict = "VIOLATION"
	VerdictVacant            Verdict = "VACANT"
	VerdictInvalidGeometry   Verdict = "INVALID_GEOMETRY"
)

// Severity is the five-level ordinal classification derived from risk score.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityModerate Severity = "MODERATE"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
	SeveritySevere   Severity = "SEVERE"
)

// SeverityRank orders severities for escalation comparisons.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityModerate:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	case SeveritySevere:
		return 4
	}
	return 0
}

// ViolationType classifies what kind of land-use violation a result implies.
type ViolationType string

const (
	ViolationNone               ViolationType = "NONE"
	ViolationEncroachment       ViolationType = "ENCROACHMENT"
	ViolationBoundaryExceed     ViolationType = "BOUNDARY_EXCEED"
	ViolationVacancy            ViolationType = "VACANCY"
	ViolationLandUseChange      ViolationType = "LAND_USE_CHANGE"
	ViolationPartialUtilization ViolationType = "PARTIAL_UTILIZATION"
	ViolationUnauthorizedConstr ViolationType = "UNAUTHORIZED_CONSTRUCTION"
)

// RiskContext carries the optional per-plot temporal signals used by the risk
// scorer. Zero values mean "unavailable" and contribute nothing to the score.
type RiskContext struct {
	TrendSlopePerMonth float64 `json:"trend_slope_per_month"`
	ObservedMonths     float64 `json:"observed_months"`
	MonthsVacant       float64 `json:"months_vacant"`
}

// ComplianceResult is the derived verdict for one (boundary, footprint) pair.
// It is a pure function of its inputs plus the tolerance parameter.
//
// Invariant: Encroachment is non-nil if and only if Verdict is VIOLATION.
type ComplianceResult struct {
	PlotID string  `json:"plot_id"`
	IoU    float64 `json:"iou"`
	// DeviationPct is signed: positive means the footprint exceeds the
	// allotted area, -100 means fully vacant.
	DeviationPct        float64       `json:"deviation_pct"`
	Verdict             Verdict       `json:"verdict"`
	Encroachment        *Geometry     `json:"encroachment_polygon,omitempty"`
	EncroachmentAreaSqm float64       `json:"encroachment_area_sqm"`
	MaxDepthM           float64       `json:"max_encroachment_depth_m"`
	HausdorffM          float64       `json:"hausdorff_distance_m"`
	AllottedAreaSqm     float64       `json:"allotted_area_sqm"`
	DetectedAreaSqm     float64       `json:"detected_area_sqm"`
	IntersectionAreaSqm float64       `json:"intersection_area_sqm"`
	ToleranceM          float64       `json:"tolerance_applied_m"`
	Confidence          float64       `json:"confidence"`
	ViolationType       ViolationType `json:"violation_type"`
	RiskScore           float64       `json:"risk_score"`
	Severity            Severity      `json:"severity"`
	// Reason is set for INVALID_GEOMETRY results so the reporting collaborator
	// receives an explicit "not evaluable" marker instead of zeroed scores.
	Reason string `json:"reason,omitempty"`
}

// Evaluable reports whether the result carries meaningful metrics.
func (r *ComplianceResult) Evaluable() bool {
	return r.Verdict != VerdictInvalidGeometry
}

// ComplianceCategory is the region-level rollup category.
type ComplianceCategory string

const (
	CategoryCompliant    ComplianceCategory = "COMPLIANT"
	CategoryMinorIssues  ComplianceCategory = "MINOR_ISSUES"
	CategoryNonCompliant ComplianceCategory = "NON_COMPLIANT"
	CategoryCritical     ComplianceCategory = "CRITICAL"
)

// BatchSummary aggregates a region's results for reporting collaborators.
type BatchSummary struct {
	RegionID             string             `json:"region_id"`
	TotalPlots           int                `json:"total_plots"`
	Evaluated            int                `json:"evaluated"`
	Invalid              int                `json:"invalid"`
	VerdictCounts        map[Verdict]int    `json:"verdict_counts"`
	SeverityCounts       map[Severity]int   `json:"severity_counts"`
	TotalEncroachmentSqm float64            `json:"total_encroachment_sqm"`
	AvgIoU               float64            `json:"avg_iou"`
	AvgRiskScore         float64            `json:"avg_risk_score"`
	ComplianceScore      float64            `json:"compliance_score"`
	Category             ComplianceCategory `json:"compliance_category"`
}
