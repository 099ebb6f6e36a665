package pricing

import (
	"math"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
)

// Trip cost is derived from the geodesic distance between the endpoints and
// nothing else. Externally supplied costs are never honored: storage recomputes
// through Cost whenever an order with both endpoints set is persisted.
const (
	// PerKmRate is the base fare per kilometer in the pricing currency.
	PerKmRate = 75
	// CurrencyUnits converts the base fare to minor currency units.
	CurrencyUnits = 84
)

// Cost returns the trip cost in minor currency units.
func Cost(departure, arrival models.Point) int64 {
	km := geo.Haversine(departure.Lat, departure.Lon, arrival.Lat, arrival.Lon) / 1000.0
	return int64(math.Round(km * PerKmRate * CurrencyUnits))
}
