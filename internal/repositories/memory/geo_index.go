package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"bloodsos/internal/models"
	"bloodsos/internal/repositories/interfaces"
	"bloodsos/internal/utils"
)

const (
	cellSizeDeg = 0.1
	latCells    = int(180 / cellSizeDeg)
	lngCells    = int(360 / cellSizeDeg)
)

type cellKey struct {
	lat int
	lng int
}

// geoIndex buckets donors into fixed 0.1 degree cells. A query visits the
// cells covering its bounding box and then applies the exact filter.
type geoIndex struct {
	mu     sync.RWMutex
	donors map[string]models.DonorLocation
	cells  map[cellKey]map[string]struct{}
	now    func() time.Time
}

// NewGeoIndex returns an in-process GeoIndex. A nil clock means time.Now.
func NewGeoIndex(clock func() time.Time) interfaces.GeoIndex {
	if clock == nil {
		clock = time.Now
	}
	return &geoIndex{
		donors: make(map[string]models.DonorLocation),
		cells:  make(map[cellKey]map[string]struct{}),
		now:    clock,
	}
}

func latIndex(lat float64) int {
	i := int(math.Floor((lat + 90) / cellSizeDeg))
	if i < 0 {
		return 0
	}
	if i >= latCells {
		return latCells - 1
	}
	return i
}

func lngIndex(lng float64) int {
	i := int(math.Floor((lng + 180) / cellSizeDeg))
	return ((i % lngCells) + lngCells) % lngCells
}

func keyFor(p models.GeoPoint) cellKey {
	return cellKey{lat: latIndex(p.Lat), lng: lngIndex(p.Lng)}
}

func (g *geoIndex) UpsertDonor(ctx context.Context, location *models.DonorLocation) error {
	if err := location.Coords.Validate(); err != nil {
		return err
	}

	record := location.Clone()
	record.LastSeen = g.now()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.put(record)
	return nil
}

func (g *geoIndex) UpsertLocation(ctx context.Context, donorID string, coords models.GeoPoint, eligibleUntil time.Time) error {
	if err := coords.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.donors[donorID]
	if !ok {
		record = models.DonorLocation{DonorID: donorID}
	}
	record.Coords = coords
	record.EligibleUntil = eligibleUntil
	record.LastSeen = g.now()
	g.put(record)
	return nil
}

// put must be called with mu held.
func (g *geoIndex) put(record models.DonorLocation) {
	if old, ok := g.donors[record.DonorID]; ok {
		g.unlinkCell(keyFor(old.Coords), record.DonorID)
	}
	g.donors[record.DonorID] = record

	key := keyFor(record.Coords)
	cell, ok := g.cells[key]
	if !ok {
		cell = make(map[string]struct{})
		g.cells[key] = cell
	}
	cell[record.DonorID] = struct{}{}
}

func (g *geoIndex) unlinkCell(key cellKey, donorID string) {
	cell, ok := g.cells[key]
	if !ok {
		return
	}
	delete(cell, donorID)
	if len(cell) == 0 {
		delete(g.cells, key)
	}
}

func (g *geoIndex) QueryNearby(ctx context.Context, query models.NearbyQuery) ([]models.Candidate, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var pool []models.DonorLocation
	if lats, lngs, ok := g.cellRange(query.Origin, query.RadiusKM); ok {
		for _, li := range lats {
			for _, gi := range lngs {
				for id := range g.cells[cellKey{lat: li, lng: gi}] {
					pool = append(pool, g.donors[id])
				}
			}
		}
	} else {
		pool = make([]models.DonorLocation, 0, len(g.donors))
		for _, d := range g.donors {
			pool = append(pool, d)
		}
	}

	return models.RankCandidates(query, pool), nil
}

// cellRange lists the cell rows and columns covering the query's bounding box,
// padded by one cell. ok is false when the box is wide enough that a full scan
// is simpler, which happens near the poles and for very large radii.
func (g *geoIndex) cellRange(origin models.GeoPoint, radiusKM float64) (lats, lngs []int, ok bool) {
	latSpan := utils.DegreesLatForKM(radiusKM)
	minLat := math.Max(origin.Lat-latSpan, -90)
	maxLat := math.Min(origin.Lat+latSpan, 90)

	widest := math.Max(math.Abs(minLat), math.Abs(maxLat))
	lngSpan := utils.DegreesLngForKM(radiusKM, widest)
	if math.IsInf(lngSpan, 1) || lngSpan >= 90 {
		return nil, nil, false
	}

	for i := latIndex(minLat) - 1; i <= latIndex(maxLat)+1; i++ {
		if i >= 0 && i < latCells {
			lats = append(lats, i)
		}
	}

	first := int(math.Floor((origin.Lng-lngSpan+180)/cellSizeDeg)) - 1
	last := int(math.Floor((origin.Lng+lngSpan+180)/cellSizeDeg)) + 1
	for i := first; i <= last; i++ {
		lngs = append(lngs, ((i%lngCells)+lngCells)%lngCells)
	}
	return lats, lngs, true
}

func (g *geoIndex) GetDonor(ctx context.Context, donorID string) (*models.DonorLocation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	record, ok := g.donors[donorID]
	if !ok {
		return nil, utils.ErrDonorNotFound
	}
	record = record.Clone()
	return &record, nil
}

func (g *geoIndex) RemoveExpired(ctx context.Context, before time.Time) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var removed int64
	for id, d := range g.donors {
		if d.EligibleUntil.After(before) {
			continue
		}
		g.unlinkCell(keyFor(d.Coords), id)
		delete(g.donors, id)
		removed++
	}
	return removed, nil
}
