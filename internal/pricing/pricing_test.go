package pricing

import (
	"testing"

	"github.com/example/taxi-dispatch/internal/models"
)

func TestCostZeroDistance(t *testing.T) {
	p := models.Point{Lat: 55.75, Lon: 37.61}
	if got := Cost(p, p); got != 0 {
		t.Fatalf("zero distance must cost 0, got %d", got)
	}
}

func TestCostDeterministic(t *testing.T) {
	a := models.Point{Lat: 55.75, Lon: 37.61}
	b := models.Point{Lat: 55.80, Lon: 37.70}
	first := Cost(a, b)
	for i := 0; i < 10; i++ {
		if got := Cost(a, b); got != first {
			t.Fatalf("cost not deterministic: %d vs %d", got, first)
		}
	}
}

func TestCostMonotoneInDistance(t *testing.T) {
	origin := models.Point{}
	prev := int64(-1)
	for _, lat := range []float64{0.01, 0.05, 0.1, 0.5, 1, 2} {
		got := Cost(origin, models.Point{Lat: lat})
		if got <= prev {
			t.Fatalf("cost must grow with distance: %d after %d at lat=%f", got, prev, lat)
		}
		prev = got
	}
}
