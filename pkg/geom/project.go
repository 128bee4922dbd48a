package geom

import (
	"fmt"
	"math"

	"github.com/kass/geo-compliance/pkg/models"
)

// WGS84 ellipsoid constants and the UTM scale factor.
const (
	semiMajorAxis = 6378137.0
	flattening    = 1.0 / 298.257223563
	scaleFactor   = 0.9996
	falseEasting  = 500000.0
	falseNorthing = 10000000.0 // southern hemisphere only

	// UTM is defined between 80°S and 84°N; beyond that the projection
	// distorts too much to produce meaningful metric areas.
	minLatitude = -80.0
	maxLatitude = 84.0
)

// Projection identifies the local metric CRS used for all area and distance
// computation. For a region spanning a known UTM zone this is a fixed
// constant, e.g. zone 44 north for EPSG:32644.
type Projection struct {
	Zone     int
	Southern bool
}

// ProjectionError reports coordinates that cannot be projected into the
// target zone. Callers treat it like invalid geometry: per-plot, never fatal.
type ProjectionError struct {
	Loc    models.Location
	Zone   int
	Reason string
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("cannot project (%.6f, %.6f) to UTM zone %d: %s",
		e.Loc.Lat, e.Loc.Lon, e.Zone, e.Reason)
}

// NewProjection validates the zone number and returns the projection.
func NewProjection(zone int, southern bool) (Projection, error) {
	if zone < 1 || zone > 60 {
		return Projection{}, fmt.Errorf("invalid UTM zone %d: must be 1-60", zone)
	}
	return Projection{Zone: zone, Southern: southern}, nil
}

// centralMeridian returns the zone's central meridian in degrees.
func (p Projection) centralMeridian() float64 {
	return float64(p.Zone-1)*6.0 - 180.0 + 3.0
}

// Forward projects a WGS84 location to UTM easting/northing in meters.
func (p Projection) Forward(loc models.Location) (x, y float64, err error) {
	if loc.Lat < minLatitude || loc.Lat > maxLatitude {
		return 0, 0, &ProjectionError{Loc: loc, Zone: p.Zone, Reason: "latitude outside UTM range"}
	}
	lon0 := p.centralMeridian()
	dLon := loc.Lon - lon0
	for dLon > 180 {
		dLon -= 360
	}
	for dLon < -180 {
		dLon += 360
	}
	// Allow modest overhang into the neighbouring zone; survey data near a
	// zone edge routinely crosses it.
	if math.Abs(dLon) > 9.0 {
		return 0, 0, &ProjectionError{Loc: loc, Zone: p.Zone, Reason: "longitude outside zone range"}
	}

	e2 := flattening * (2 - flattening)
	ep2 := e2 / (1 - e2)

	phi := loc.Lat * math.Pi / 180.0
	lam := dLon * math.Pi / 180.0

	sinPhi := math.Sin(phi)
	cosPhi := math.Cos(phi)
	tanPhi := math.Tan(phi)

	n := semiMajorAxis / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := ep2 * cosPhi * cosPhi
	a := lam * cosPhi

	m := meridianArc(phi, e2)

	x = scaleFactor*n*(a+(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120) + falseEasting

	y = scaleFactor * (m + n*tanPhi*(a*a/2+
		(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))
	if p.Southern {
		y += falseNorthing
	}
	return x, y, nil
}

// Inverse converts UTM easting/northing back to a WGS84 location.
func (p Projection) Inverse(x, y float64) models.Location {
	e2 := flattening * (2 - flattening)
	ep2 := e2 / (1 - e2)
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

	northing := y
	if p.Southern {
		northing -= falseNorthing
	}
	m := northing / scaleFactor
	mu := m / (semiMajorAxis * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))

	phi1 := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sinPhi1 := math.Sin(phi1)
	cosPhi1 := math.Cos(phi1)
	tanPhi1 := math.Tan(phi1)

	c1 := ep2 * cosPhi1 * cosPhi1
	t1 := tanPhi1 * tanPhi1
	n1 := semiMajorAxis / math.Sqrt(1-e2*sinPhi1*sinPhi1)
	r1 := semiMajorAxis * (1 - e2) / math.Pow(1-e2*sinPhi1*sinPhi1, 1.5)
	d := (x - falseEasting) / (n1 * scaleFactor)

	phi := phi1 - (n1*tanPhi1/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)

	lam := (d - (1+2*t1+c1)*math.Pow(d, 3)/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120) / cosPhi1

	return models.Location{
		Lat: phi * 180.0 / math.Pi,
		Lon: p.centralMeridian() + lam*180.0/math.Pi,
	}
}

// meridianArc returns the distance along the meridian from the equator.
func meridianArc(phi, e2 float64) float64 {
	e4 := e2 * e2
	e6 := e4 * e2
	return semiMajorAxis * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}
