// Package compliance implements the compliance calculator: it compares an
// allotted plot boundary against a detected structure footprint and produces
// a quantified verdict with IoU, area deviation and encroachment geometry.
package compliance

import (
	"fmt"

	"github.com/twpayne/go-geos"

	"github.com/kass/geo-compliance/pkg/geom"
	"github.com/kass/geo-compliance/pkg/models"
)

// DefaultMinEncroachmentSqm is the noise floor: encroachment areas below it
// are treated as sensor/geometry noise, never a violation.
const DefaultMinEncroachmentSqm = 50.0

// defaultAllotmentClass is the land-use class assumed for allotted plots when
// checking the footprint classifier's label against it.
const defaultAllotmentClass = "industrial"

// Calculator evaluates (boundary, footprint) pairs. It holds one geometry
// kernel and therefore must not be shared across goroutines; create one per
// worker.
type Calculator struct {
	kernel            *geom.Kernel
	bands             BandTable
	minEncroachmentM2 float64
	allotmentClass    string
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithBands overrides the IoU interpretation bands.
func WithBands(b BandTable) Option {
	return func(c *Calculator) { c.bands = b }
}

// WithMinEncroachment overrides the noise floor in square meters.
func WithMinEncroachment(sqm float64) Option {
	return func(c *Calculator) { c.minEncroachmentM2 = sqm }
}

// WithAllotmentClass overrides the expected land-use class label.
func WithAllotmentClass(class string) Option {
	return func(c *Calculator) { c.allotmentClass = class }
}

// NewCalculator creates a calculator bound to the given kernel.
func NewCalculator(kernel *geom.Kernel, opts ...Option) *Calculator {
	c := &Calculator{
		kernel:            kernel,
		bands:             DefaultBands(),
		minEncroachmentM2: DefaultMinEncroachmentSqm,
		allotmentClass:    defaultAllotmentClass,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate computes the compliance result for one plot. Geometry failures are
// converted into an INVALID_GEOMETRY result rather than returned as errors,
// so one corrupt record never aborts a batch. The returned result does not
// yet carry a risk score; see the risk package.
func (c *Calculator) Evaluate(boundary models.AllotmentBoundary, footprint *models.DetectedFootprint, toleranceM float64) models.ComplianceResult {
	result := models.ComplianceResult{
		PlotID:     boundary.PlotID,
		ToleranceM: toleranceM,
	}

	// Vacant plot: classifier found no structure at all.
	if footprint == nil || footprint.Polygon.IsEmpty() {
		result.Verdict = models.VerdictVacant
		result.IoU = 0
		result.DeviationPct = -100
		result.ViolationType = models.ViolationVacancy
		if area, err := c.areaOf(boundary.Polygon); err == nil {
			result.AllottedAreaSqm = area
		}
		return result
	}
	result.Confidence = footprint.Confidence

	bGeom, err := c.kernel.Polygon(boundary.Polygon)
	if err != nil {
		return invalidResult(result, fmt.Sprintf("boundary: %v", err))
	}
	defer bGeom.Destroy()

	fGeom, err := c.kernel.Polygon(footprint.Polygon)
	if err != nil {
		return invalidResult(result, fmt.Sprintf("footprint: %v", err))
	}
	defer fGeom.Destroy()

	boundaryArea := c.kernel.Area(bGeom)
	if boundaryArea <= 0 {
		// A zero-area boundary after reprojection is a configuration defect;
		// surface it explicitly instead of dividing by it.
		return invalidResult(result, "boundary area is zero after reprojection")
	}
	result.AllottedAreaSqm = boundaryArea
	result.DetectedAreaSqm = c.kernel.Area(fGeom)

	inter, err := c.kernel.Intersection(bGeom, fGeom)
	if err != nil {
		return invalidResult(result, err.Error())
	}
	defer inter.Destroy()
	result.IntersectionAreaSqm = c.kernel.Area(inter)

	union, err := c.kernel.Union(bGeom, fGeom)
	if err != nil {
		return invalidResult(result, err.Error())
	}
	defer union.Destroy()

	if unionArea := c.kernel.Area(union); unionArea > 0 {
		result.IoU = result.IntersectionAreaSqm / unionArea
	}
	result.DeviationPct = (result.DetectedAreaSqm - boundaryArea) / boundaryArea * 100

	if hausdorff, err := c.kernel.HausdorffDistance(bGeom, fGeom); err == nil {
		result.HausdorffM = hausdorff
	}

	if err := c.decideVerdict(&result, boundary, bGeom, fGeom, toleranceM); err != nil {
		return invalidResult(result, err.Error())
	}

	result.ViolationType = c.classify(&result, footprint.ClassLabel)
	return result
}

// decideVerdict applies the tolerance-buffered decision table, in priority
// order: strict containment, buffered containment, violation.
func (c *Calculator) decideVerdict(result *models.ComplianceResult, boundary models.AllotmentBoundary, bGeom, fGeom *geos.Geom, toleranceM float64) error {
	contained, err := c.kernel.Contains(bGeom, fGeom)
	if err != nil {
		return err
	}
	if contained {
		result.Verdict = models.VerdictPerfectCompliance
		return nil
	}

	buffered, err := c.kernel.Buffer(bGeom, toleranceM)
	if err != nil {
		return err
	}
	defer buffered.Destroy()

	withinBuffer, err := c.kernel.Contains(buffered, fGeom)
	if err != nil {
		return err
	}
	if withinBuffer {
		result.Verdict = models.VerdictWithinTolerance
		return nil
	}

	diff, err := c.kernel.Difference(fGeom, buffered)
	if err != nil {
		return err
	}
	defer diff.Destroy()

	encroachmentArea := c.kernel.Area(diff)
	if encroachmentArea <= 0 {
		// Strict containment failed numerically but the buffer absorbed the
		// apparent excess; treat floating-point boundary jitter as tolerated.
		result.Verdict = models.VerdictWithinTolerance
		return nil
	}
	if encroachmentArea < c.minEncroachmentM2 {
		result.Verdict = models.VerdictWithinTolerance
		return nil
	}

	encroachment, err := c.kernel.Geometry(diff)
	if err != nil {
		return err
	}
	depth, err := c.kernel.MaxEncroachmentDepth(diff, boundary.Polygon)
	if err != nil {
		return err
	}

	result.Verdict = models.VerdictViolation
	result.Encroachment = encroachment
	result.EncroachmentAreaSqm = encroachmentArea
	result.MaxDepthM = depth
	return nil
}

// classify determines the violation type from the spatial metrics and the
// classifier's label.
func (c *Calculator) classify(result *models.ComplianceResult, detectedClass string) models.ViolationType {
	if result.Encroachment != nil {
		if result.DeviationPct > 10 {
			return models.ViolationBoundaryExceed
		}
		return models.ViolationEncroachment
	}
	if detectedClass == "VACANT" {
		return models.ViolationVacancy
	}
	if detectedClass != "" && detectedClass != "BUILT_UP" && detectedClass != c.allotmentClass {
		return models.ViolationLandUseChange
	}
	if result.DeviationPct < -30 {
		return models.ViolationPartialUtilization
	}
	return models.ViolationNone
}

// Bands returns the calculator's IoU interpretation table.
func (c *Calculator) Bands() BandTable {
	return c.bands
}

func (c *Calculator) areaOf(p models.Polygon) (float64, error) {
	g, err := c.kernel.Polygon(p)
	if err != nil {
		return 0, err
	}
	defer g.Destroy()
	return c.kernel.Area(g), nil
}

func invalidResult(base models.ComplianceResult, reason string) models.ComplianceResult {
	return models.ComplianceResult{
		PlotID:     base.PlotID,
		ToleranceM: base.ToleranceM,
		Verdict:    models.VerdictInvalidGeometry,
		Reason:     reason,
	}
}
