package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

// Index answers proximity queries for the dispatch engine. Results carry no
// ordering guarantee; callers treat them as a set. An empty result is common
// and is not an error.
type Index interface {
	// FindCandidates returns every online driver within radiusMeters of
	// origin whose vehicle tier is a member of tiers.
	FindCandidates(ctx context.Context, origin models.Point, radiusMeters float64, tiers []models.Tier) ([]models.Driver, error)
	Upsert(ctx context.Context, d models.Driver) error
	Remove(ctx context.Context, driverID string) error
}

// MemIndex is an in-memory Index. Fine for tests and single-node runs; the
// redis-backed index is the production path.
type MemIndex struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewMemIndex() *MemIndex {
	return &MemIndex{drivers: make(map[string]models.Driver)}
}

func (g *MemIndex) Upsert(ctx context.Context, d models.Driver) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
	return nil
}

func (g *MemIndex) Remove(ctx context.Context, driverID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, driverID)
	return nil
}

func (g *MemIndex) FindCandidates(ctx context.Context, origin models.Point, radiusMeters float64, tiers []models.Tier) ([]models.Driver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []models.Driver
	for _, d := range g.drivers {
		if !d.Online || d.Location == nil {
			continue
		}
		if !tierIn(d.Vehicle.Tier, tiers) {
			continue
		}
		if Haversine(origin.Lat, origin.Lon, d.Location.Lat, d.Location.Lon) <= radiusMeters {
			out = append(out, d)
		}
	}
	return out, nil
}

func tierIn(t models.Tier, tiers []models.Tier) bool {
	for _, x := range tiers {
		if x == t {
			return true
		}
	}
	return false
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
