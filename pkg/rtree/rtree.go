// Package rtree provides an R-Tree index of plot boundary extents, used to
// match anonymous detected footprints to the plot they most overlap.
package rtree

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/dhconnelly/rtreego"

	"github.com/kass/geo-compliance/pkg/geom"
	"github.com/kass/geo-compliance/pkg/models"
)

const (
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
	// degenerate extents (a rectangular plot aligned with a parallel) still
	// need a non-zero rect for the tree.
	minExtent = 1e-9
)

// spatialBoundary wraps an AllotmentBoundary for R-Tree indexing
type spatialBoundary struct {
	boundary *models.AllotmentBoundary
	rect     *rtreego.Rect
}

func (sb *spatialBoundary) Bounds() *rtreego.Rect {
	return sb.rect
}

// PlotIndex is a thread-safe R-Tree over plot boundary extents in WGS84.
type PlotIndex struct {
	tree      *rtreego.Rtree
	mu        sync.RWMutex
	itemCount atomic.Int64
}

// NewPlotIndex creates an empty plot index
func NewPlotIndex() *PlotIndex {
	return &PlotIndex{
		tree: rtreego.NewTree(dimensions, minChildren, maxChildren),
	}
}

// IndexBoundaries indexes a batch of boundaries using parallel processing.
// Boundaries with no usable exterior ring are skipped.
func (p *PlotIndex) IndexBoundaries(boundaries []*models.AllotmentBoundary) {
	if len(boundaries) == 0 {
		return
	}

	numCPU := runtime.NumCPU()
	spatialItems := make([]rtreego.Spatial, len(boundaries))
	var wg sync.WaitGroup

	batchSize := len(boundaries) / numCPU
	if batchSize < 1 {
		batchSize = 1
		numCPU = len(boundaries)
	}

	// Compute extents in parallel
	for i := 0; i < numCPU && i*batchSize < len(boundaries); i++ {
		wg.Add(1)
		start := i * batchSize
		end := start + batchSize
		if end > len(boundaries) {
			end = len(boundaries)
		}

		go func(start, end int) {
			defer wg.Done()
			for j := start; j < end; j++ {
				boundary := boundaries[j]
				if boundary == nil || boundary.Polygon.IsEmpty() {
					continue
				}
				rect, err := extentRect(boundary.Polygon.Exterior)
				if err != nil {
					continue
				}
				spatialItems[j] = &spatialBoundary{boundary, rect}
			}
		}(start, end)
	}

	wg.Wait()

	// Insert items into the tree (this part must be synchronized)
	p.mu.Lock()
	defer p.mu.Unlock()

	count := int64(0)
	for _, item := range spatialItems {
		if item != nil {
			p.tree.Insert(item)
			count++
		}
	}
	p.itemCount.Add(count)
}

// Candidates returns the boundaries whose extent intersects the footprint's
// extent. Extent overlap is a coarse filter; callers confirm with real
// geometry.
func (p *PlotIndex) Candidates(footprint models.Polygon) ([]*models.AllotmentBoundary, error) {
	if footprint.IsEmpty() {
		return nil, fmt.Errorf("footprint has no exterior ring")
	}
	rect, err := extentRect(footprint.Exterior)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	results := p.tree.SearchIntersect(rect)
	boundaries := make([]*models.AllotmentBoundary, 0, len(results))
	for _, result := range results {
		item, ok := result.(*spatialBoundary)
		if !ok || item.boundary == nil {
			continue
		}
		boundaries = append(boundaries, item.boundary)
	}
	return boundaries, nil
}

// Match returns the indexed boundary whose polygon shares the largest
// intersection area with the footprint, or nil when no candidate overlaps.
// The caller supplies the geometry kernel so that each worker matches with
// its own thread-confined GEOS context.
func (p *PlotIndex) Match(kernel *geom.Kernel, footprint models.Polygon) (*models.AllotmentBoundary, float64, error) {
	candidates, err := p.Candidates(footprint)
	if err != nil {
		return nil, 0, err
	}
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	fGeom, err := kernel.Polygon(footprint)
	if err != nil {
		return nil, 0, err
	}
	defer fGeom.Destroy()

	var best *models.AllotmentBoundary
	bestOverlap := 0.0
	for _, candidate := range candidates {
		bGeom, err := kernel.Polygon(candidate.Polygon)
		if err != nil {
			continue
		}
		inter, err := kernel.Intersection(bGeom, fGeom)
		if err != nil {
			bGeom.Destroy()
			continue
		}
		overlap := kernel.Area(inter)
		inter.Destroy()
		bGeom.Destroy()

		if overlap > bestOverlap {
			bestOverlap = overlap
			best = candidate
		}
	}
	return best, bestOverlap, nil
}

// Size returns the number of indexed boundaries
func (p *PlotIndex) Size() int64 {
	return p.itemCount.Load()
}

// Clear removes all boundaries from the index
func (p *PlotIndex) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tree = rtreego.NewTree(dimensions, minChildren, maxChildren)
	p.itemCount.Store(0)
}

// all returns every indexed boundary.
func (p *PlotIndex) all() []*models.AllotmentBoundary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	largeBounds, _ := rtreego.NewRect(rtreego.Point{-90, -180}, []float64{180, 360})
	results := p.tree.SearchIntersect(largeBounds)

	boundaries := make([]*models.AllotmentBoundary, 0, len(results))
	for _, result := range results {
		if item, ok := result.(*spatialBoundary); ok {
			boundaries = append(boundaries, item.boundary)
		}
	}
	return boundaries
}

// extentRect computes the lat/lon extent rect of a ring.
func extentRect(ring models.Ring) (*rtreego.Rect, error) {
	if len(ring) == 0 {
		return nil, fmt.Errorf("empty ring")
	}
	minLat, maxLat := ring[0].Lat, ring[0].Lat
	minLon, maxLon := ring[0].Lon, ring[0].Lon
	for _, loc := range ring[1:] {
		if loc.Lat < minLat {
			minLat = loc.Lat
		}
		if loc.Lat > maxLat {
			maxLat = loc.Lat
		}
		if loc.Lon < minLon {
			minLon = loc.Lon
		}
		if loc.Lon > maxLon {
			maxLon = loc.Lon
		}
	}
	dLat := maxLat - minLat
	if dLat < minExtent {
		dLat = minExtent
	}
	dLon := maxLon - minLon
	if dLon < minExtent {
		dLon = minExtent
	}
	return rtreego.NewRect(rtreego.Point{minLat, minLon}, []float64{dLat, dLon})
}
