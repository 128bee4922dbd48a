package compliance

import (
	"fmt"
	"sort"
)

// Band labels an IoU range for reporting. Bands are informational: the
// tolerance verdict never depends on them.
type Band struct {
	// MinIoU is the inclusive lower cut-point of the band.
	MinIoU float64
	Label  string
}

// BandTable is an ordered set of IoU interpretation bands. The source
// documents disagree on exact cut-points, so the table is configuration
// rather than hard-coded thresholds.
type BandTable []Band

// DefaultBands returns the stricter interpretation table.
func DefaultBands() BandTable {
	return BandTable{
		{MinIoU: 0.90, Label: "excellent"},
		{MinIoU: 0.75, Label: "minor deviation"},
		{MinIoU: 0.50, Label: "significant deviation"},
		{MinIoU: 0.25, Label: "major deviation"},
		{MinIoU: 0.00, Label: "critical/no overlap"},
	}
}

// Validate checks the table covers [0,1] and is strictly descending.
func (b BandTable) Validate() error {
	if len(b) == 0 {
		return fmt.Errorf("band table is empty")
	}
	if !sort.SliceIsSorted(b, func(i, j int) bool { return b[i].MinIoU > b[j].MinIoU }) {
		return fmt.Errorf("band table cut-points must be strictly descending")
	}
	if b[len(b)-1].MinIoU != 0 {
		return fmt.Errorf("band table must end at IoU 0")
	}
	return nil
}

// Classify returns the label for an IoU value.
func (b BandTable) Classify(iou float64) string {
	for _, band := range b {
		if iou >= band.MinIoU {
			return band.Label
		}
	}
	return b[len(b)-1].Label
}
