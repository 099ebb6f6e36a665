package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

// virtual clock so the search loop never really sleeps
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func testParams() Params {
	return Params{
		MinRadius:       5000,
		MaxRadius:       12000,
		RadiusStep:      1000,
		PerAttemptDelay: time.Second,
		OverallTimeout:  10 * time.Second,
	}
}

func newTestEngine(g geo.Index, store storage.Store) (*Engine, *testClock) {
	clk := newTestClock()
	e := &Engine{Geo: g, Store: store, Params: testParams(), Now: clk.Now, Sleep: clk.Sleep}
	return e, clk
}

// pointAtMeters returns a point roughly m meters due north of the origin.
func pointAtMeters(m float64) models.Point {
	return models.Point{Lat: m / 111194.9, Lon: 0}
}

func addDriver(t *testing.T, g geo.Index, store storage.Store, id string, tier models.Tier, distMeters float64) models.Driver {
	t.Helper()
	loc := pointAtMeters(distMeters)
	d := models.Driver{
		ID:       id,
		Username: id,
		Vehicle:  models.Vehicle{ID: id + "-car", Tier: tier},
		Location: &loc,
		Online:   true,
	}
	if err := store.CreateDriver(context.Background(), &d); err != nil {
		t.Fatalf("create driver: %v", err)
	}
	if err := g.Upsert(context.Background(), d); err != nil {
		t.Fatalf("upsert driver: %v", err)
	}
	return d
}

func activeOrder(t *testing.T, store storage.Store, id string, tier models.Tier) *models.Order {
	t.Helper()
	o := &models.Order{
		ID:        id,
		Customer:  "c1",
		Departure: models.Point{},
		Arrival:   pointAtMeters(20000),
		Tier:      tier,
		Status:    models.StatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func TestDispatchEmptyPoolDeletesOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	g := geo.NewMemIndex()
	e, clk := newTestEngine(g, store)
	start := clk.Now()

	o := activeOrder(t, store, "o1", models.TierEconomy)
	_, err := e.Dispatch(context.Background(), o)
	if err != ErrNoDrivers {
		t.Fatalf("expected ErrNoDrivers, got %v", err)
	}
	if _, err := store.GetOrder(context.Background(), "o1"); err != storage.ErrNotFound {
		t.Fatalf("expected order deleted, got err=%v", err)
	}
	elapsed := clk.Now().Sub(start)
	if elapsed > testParams().OverallTimeout+testParams().PerAttemptDelay {
		t.Fatalf("search overran the budget: %s", elapsed)
	}
}

// Radius is the outer loop: a driver in a later radius round at the requested
// tier beats a closer driver in a higher tier that only enters the ladder in
// the same later round. This is not nearest-neighbor search.
func TestDispatchRadiusFirstOrdering(t *testing.T) {
	store := storage.NewMemoryStore()
	g := geo.NewMemIndex()
	e, _ := newTestEngine(g, store)

	addDriver(t, g, store, "biz", models.TierBusiness, 5500)
	addDriver(t, g, store, "eco", models.TierEconomy, 6000)

	o := activeOrder(t, store, "o1", models.TierEconomy)
	cands, err := e.Dispatch(context.Background(), o)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(cands) != 1 || cands[0].DriverID != "eco" {
		t.Fatalf("expected only the economy driver at 6000m, got %+v", cands)
	}
}

// Within one radius round, the requested tier is tried before pricier ones.
func TestDispatchTierPreferenceWithinRound(t *testing.T) {
	store := storage.NewMemoryStore()
	g := geo.NewMemIndex()
	e, _ := newTestEngine(g, store)

	addDriver(t, g, store, "biz", models.TierBusiness, 3000)
	addDriver(t, g, store, "eco", models.TierEconomy, 4000)

	o := activeOrder(t, store, "o1", models.TierEconomy)
	cands, err := e.Dispatch(context.Background(), o)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(cands) != 1 || cands[0].DriverID != "eco" {
		t.Fatalf("expected the economy driver despite a closer business one, got %+v", cands)
	}
}

// A comfort request must never fall back to economy vehicles.
func TestDispatchNeverEscalatesDown(t *testing.T) {
	store := storage.NewMemoryStore()
	g := geo.NewMemIndex()
	e, _ := newTestEngine(g, store)

	addDriver(t, g, store, "eco", models.TierEconomy, 1000)

	o := activeOrder(t, store, "o1", models.TierComfort)
	if _, err := e.Dispatch(context.Background(), o); err != ErrNoDrivers {
		t.Fatalf("expected ErrNoDrivers, got %v", err)
	}
}

func TestDispatchSkipsBusyDriver(t *testing.T) {
	store := storage.NewMemoryStore()
	g := geo.NewMemIndex()
	e, _ := newTestEngine(g, store)

	addDriver(t, g, store, "d1", models.TierEconomy, 1000)

	// d1 already holds an accepted order
	prev := activeOrder(t, store, "prev", models.TierEconomy)
	if ok, err := store.AssignOrder(context.Background(), prev.ID, "d1"); err != nil || !ok {
		t.Fatalf("assign: ok=%v err=%v", ok, err)
	}

	o := activeOrder(t, store, "o1", models.TierEconomy)
	if _, err := e.Dispatch(context.Background(), o); err != ErrNoDrivers {
		t.Fatalf("expected ErrNoDrivers for busy pool, got %v", err)
	}
	if _, err := store.GetOrder(context.Background(), "o1"); err != storage.ErrNotFound {
		t.Fatalf("expected timed-out order deleted, got err=%v", err)
	}
}

// Two concurrent dispatch attempts race for a single driver: exactly one may
// hold a candidacy, the other must time out and lose its order record.
func TestDispatchConcurrentSingleDriver(t *testing.T) {
	store := storage.NewMemoryStore()
	g := geo.NewMemIndex()
	addDriver(t, g, store, "d1", models.TierEconomy, 1000)

	o1 := activeOrder(t, store, "o1", models.TierEconomy)
	o2 := activeOrder(t, store, "o2", models.TierEconomy)

	e1, _ := newTestEngine(g, store)
	e2, _ := newTestEngine(g, store)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := e1.Dispatch(context.Background(), o1)
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := e2.Dispatch(context.Background(), o2)
		results <- err
	}()
	wg.Wait()
	close(results)

	var successes, timeouts int
	for err := range results {
		switch err {
		case nil:
			successes++
		case ErrNoDrivers:
			timeouts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || timeouts != 1 {
		t.Fatalf("expected exactly one winner, got successes=%d timeouts=%d", successes, timeouts)
	}

	total := 0
	for _, id := range []string{"o1", "o2"} {
		cands, err := store.CandidaciesByOrder(context.Background(), id)
		if err != nil {
			t.Fatalf("candidacies: %v", err)
		}
		total += len(cands)
	}
	if total != 1 {
		t.Fatalf("expected exactly one candidacy for the single driver, got %d", total)
	}
}

func TestDispatchCancellationCompensates(t *testing.T) {
	store := storage.NewMemoryStore()
	g := geo.NewMemIndex()
	e, _ := newTestEngine(g, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := activeOrder(t, store, "o1", models.TierEconomy)
	if _, err := e.Dispatch(ctx, o); err != ErrNoDrivers {
		t.Fatalf("expected ErrNoDrivers after cancellation, got %v", err)
	}
	if _, err := store.GetOrder(context.Background(), "o1"); err != storage.ErrNotFound {
		t.Fatalf("expected order deleted after cancellation, got err=%v", err)
	}
}
