// Package postgis is the service-side adapter between the collaborator's
// PostGIS store and the compliance engine: it persists plots, boundary
// versions and footprint snapshots, and feeds regions to the batch evaluator.
package postgis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kass/geo-compliance/pkg/batch"
	"github.com/kass/geo-compliance/pkg/models"
)

type PlotStore struct {
	db *sql.DB
}

// NewPlotStore creates a new PostGIS connection
func NewPlotStore(host, user, password, dbname string, port int) (*PlotStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings for better performance
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PlotStore{db: db}, nil
}

// InitSchema creates the necessary tables and indexes
func (p *PlotStore) InitSchema() error {
	queries := []string{
		// Enable PostGIS extension
		`CREATE EXTENSION IF NOT EXISTS postgis;`,

		`CREATE TABLE IF NOT EXISTS plots (
			id TEXT PRIMARY KEY,
			region_id TEXT NOT NULL,
			name TEXT,
			trend_slope_per_month DOUBLE PRECISION DEFAULT 0,
			observed_months DOUBLE PRECISION DEFAULT 0,
			months_vacant DOUBLE PRECISION DEFAULT 0
		);`,

		// Boundaries are immutable: a re-survey inserts a new version and
		// deactivates the old row, it never updates geometry in place.
		`CREATE TABLE IF NOT EXISTS allotment_boundaries (
			plot_id TEXT NOT NULL REFERENCES plots(id),
			version INT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			source TEXT NOT NULL,
			accuracy_m DOUBLE PRECISION NOT NULL,
			boundary GEOMETRY(POLYGON, 4326) NOT NULL,
			PRIMARY KEY (plot_id, version)
		);`,

		`CREATE TABLE IF NOT EXISTS detected_footprints (
			id BIGSERIAL PRIMARY KEY,
			plot_id TEXT NOT NULL REFERENCES plots(id),
			observed_at TIMESTAMPTZ NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			class_label TEXT NOT NULL,
			footprint GEOMETRY(POLYGON, 4326) NOT NULL
		);`,
	}

	for _, query := range queries {
		if _, err := p.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}

	return nil
}

// CreateSpatialIndexes creates GIST indexes on the geometry columns
func (p *PlotStore) CreateSpatialIndexes() error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_boundaries_geom ON allotment_boundaries USING GIST(boundary);`,
		`CREATE INDEX IF NOT EXISTS idx_footprints_geom ON detected_footprints USING GIST(footprint);`,
		`ANALYZE allotment_boundaries;`,
		`ANALYZE detected_footprints;`,
	}

	start := time.Now()
	for _, query := range queries {
		if _, err := p.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create spatial indexes: %w", err)
		}
	}

	elapsed := time.Since(start)
	fmt.Printf("Created spatial indexes in %v\n", elapsed)

	return nil
}

// UpsertPlot registers a plot in a region.
func (p *PlotStore) UpsertPlot(plotID, regionID, name string) error {
	_, err := p.db.Exec(`
		INSERT INTO plots (id, region_id, name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET region_id = $2, name = $3
	`, plotID, regionID, name)
	if err != nil {
		return fmt.Errorf("failed to upsert plot %s: %w", plotID, err)
	}
	return nil
}

// InsertBoundaryVersion stores a new boundary version for a plot and marks
// all previous versions inactive, inside one transaction.
func (p *PlotStore) InsertBoundaryVersion(b *models.AllotmentBoundary) error {
	payload, err := geoJSONPolygon(b.Polygon)
	if err != nil {
		return fmt.Errorf("failed to encode boundary for plot %s: %w", b.PlotID, err)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(`UPDATE allotment_boundaries SET active = FALSE WHERE plot_id = $1`, b.PlotID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to deactivate boundaries for plot %s: %w", b.PlotID, err)
	}

	_, err = tx.Exec(`
		INSERT INTO allotment_boundaries (plot_id, version, active, source, accuracy_m, boundary)
		VALUES ($1,
			COALESCE((SELECT MAX(version) FROM allotment_boundaries WHERE plot_id = $1), 0) + 1,
			TRUE, $2, $3, ST_SetSRID(ST_GeomFromGeoJSON($4), 4326))
	`, b.PlotID, string(b.Source), b.AccuracyM, payload)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to insert boundary for plot %s: %w", b.PlotID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit boundary for plot %s: %w", b.PlotID, err)
	}
	return nil
}

// BulkInsertFootprints inserts footprint snapshots in batches for better performance
func (p *PlotStore) BulkInsertFootprints(footprints []*models.DetectedFootprint) error {
	const batchSize = 10000

	stmt, err := p.db.Prepare(`
		INSERT INTO detected_footprints (plot_id, observed_at, confidence, class_label, footprint)
		VALUES ($1, $2, $3, $4, ST_SetSRID(ST_GeomFromGeoJSON($5), 4326))
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txStmt := tx.Stmt(stmt)

	for i := 0; i < len(footprints); i++ {
		fp := footprints[i]
		payload, err := geoJSONPolygon(fp.Polygon)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to encode footprint for plot %s: %w", fp.PlotID, err)
		}
		if _, err := txStmt.Exec(fp.PlotID, fp.ObservedAt, fp.Confidence, fp.ClassLabel, payload); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert footprint for plot %s: %w", fp.PlotID, err)
		}

		// Commit batch
		if (i+1)%batchSize == 0 {
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit batch: %w", err)
			}

			tx, err = p.db.Begin()
			if err != nil {
				return fmt.Errorf("failed to begin new transaction: %w", err)
			}
			txStmt = tx.Stmt(stmt)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit final batch: %w", err)
	}

	return nil
}

// RegionPlots implements batch.Source: it returns every plot in the region
// that has an active boundary, joined with its most recent footprint
// observation (nil footprint means the classifier saw nothing) and the
// temporal context maintained by the history collaborator.
func (p *PlotStore) RegionPlots(ctx context.Context, regionID string) ([]batch.Plot, error) {
	query := `
		SELECT
			pl.id,
			ab.source, ab.accuracy_m, ab.version, ST_AsGeoJSON(ab.boundary),
			fp.observed_at, fp.confidence, fp.class_label, ST_AsGeoJSON(fp.footprint),
			pl.trend_slope_per_month, pl.observed_months, pl.months_vacant
		FROM plots pl
		JOIN allotment_boundaries ab ON ab.plot_id = pl.id AND ab.active
		LEFT JOIN LATERAL (
			SELECT observed_at, confidence, class_label, footprint
			FROM detected_footprints
			WHERE plot_id = pl.id
			ORDER BY observed_at DESC
			LIMIT 1
		) fp ON TRUE
		WHERE pl.region_id = $1
	`

	rows, err := p.db.QueryContext(ctx, query, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query region %s: %w", regionID, err)
	}
	defer rows.Close()

	var plots []batch.Plot
	for rows.Next() {
		var (
			plot         batch.Plot
			source       string
			boundaryJSON string
			observedAt   sql.NullTime
			confidence   sql.NullFloat64
			classLabel   sql.NullString
			footJSON     sql.NullString
		)

		if err := rows.Scan(
			&plot.Boundary.PlotID,
			&source, &plot.Boundary.AccuracyM, &plot.Boundary.Version, &boundaryJSON,
			&observedAt, &confidence, &classLabel, &footJSON,
			&plot.Context.TrendSlopePerMonth, &plot.Context.ObservedMonths, &plot.Context.MonthsVacant,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		plot.Boundary.Source = models.BoundarySource(source)
		plot.Boundary.Active = true
		plot.Boundary.Polygon, err = polygonFromGeoJSON(boundaryJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode boundary for plot %s: %w", plot.Boundary.PlotID, err)
		}

		if footJSON.Valid {
			poly, err := polygonFromGeoJSON(footJSON.String)
			if err != nil {
				return nil, fmt.Errorf("failed to decode footprint for plot %s: %w", plot.Boundary.PlotID, err)
			}
			plot.Footprint = &models.DetectedFootprint{
				PlotID:     plot.Boundary.PlotID,
				Polygon:    poly,
				Confidence: confidence.Float64,
				ClassLabel: classLabel.String,
				ObservedAt: observedAt.Time,
			}
		}

		plots = append(plots, plot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return plots, nil
}

// Count returns the number of plots in the database
func (p *PlotStore) Count() (int64, error) {
	var count int64
	err := p.db.QueryRow("SELECT COUNT(*) FROM plots").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count plots: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (p *PlotStore) Close() error {
	return p.db.Close()
}

// geoJSONPolygon encodes a polygon as a GeoJSON geometry string with
// [lon, lat] coordinate order.
func geoJSONPolygon(poly models.Polygon) (string, error) {
	if poly.IsEmpty() {
		return "", fmt.Errorf("polygon has no exterior ring")
	}
	rings := make([][][]float64, 0, 1+len(poly.Holes))
	rings = append(rings, ringCoords(poly.Exterior))
	for _, h := range poly.Holes {
		rings = append(rings, ringCoords(h))
	}
	payload, err := json.Marshal(map[string]interface{}{
		"type":        "Polygon",
		"coordinates": rings,
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func ringCoords(ring models.Ring) [][]float64 {
	closed := ring
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		closed = append(append(models.Ring{}, ring...), ring[0])
	}
	coords := make([][]float64, 0, len(closed))
	for _, loc := range closed {
		coords = append(coords, []float64{loc.Lon, loc.Lat})
	}
	return coords
}

func polygonFromGeoJSON(s string) (models.Polygon, error) {
	var decoded struct {
		Type        string        `json:"type"`
		Coordinates [][][]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return models.Polygon{}, err
	}
	if decoded.Type != "Polygon" || len(decoded.Coordinates) == 0 {
		return models.Polygon{}, fmt.Errorf("expected GeoJSON Polygon, got %q", decoded.Type)
	}

	poly := models.Polygon{Exterior: locRing(decoded.Coordinates[0])}
	for _, ring := range decoded.Coordinates[1:] {
		poly.Holes = append(poly.Holes, locRing(ring))
	}
	return poly, nil
}

func locRing(coords [][]float64) models.Ring {
	ring := make(models.Ring, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		ring = append(ring, models.Location{Lon: c[0], Lat: c[1]})
	}
	return ring
}
