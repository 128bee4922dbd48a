package compliance

import "fmt"

// ToleranceTable maps an observation source name to the buffer distance in
// meters that absorbs its measurement and georeferencing error. It is
// supplied by the caller per evaluation, not stored as engine state.
type ToleranceTable map[string]float64

// DefaultTolerances returns the per-source buffer distances for the supported
// observation feeds, keyed by source name.
func DefaultTolerances() ToleranceTable {
	return ToleranceTable{
		"sentinel2":  5.0,  // 10 m resolution imagery
		"landsat8":   15.0, // 30 m resolution imagery
		"drone":      0.5,  // sub-meter imagery
		"survey_gps": 0.1,  // ground survey
	}
}

// Lookup returns the tolerance for a source, or an error for an unknown one.
// Unknown sources are never silently defaulted.
func (t ToleranceTable) Lookup(source string) (float64, error) {
	tol, ok := t[source]
	if !ok {
		return 0, fmt.Errorf("no tolerance configured for observation source %q", source)
	}
	return tol, nil
}

// Validate rejects negative buffer distances.
func (t ToleranceTable) Validate() error {
	for source, tol := range t {
		if tol < 0 {
			return fmt.Errorf("tolerance for %q is negative: %f", source, tol)
		}
	}
	return nil
}
