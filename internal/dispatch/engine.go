package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/storage"
)

// ErrNoDrivers is returned when the search budget elapses without a single
// candidacy. The order record is gone by the time callers see this.
var ErrNoDrivers = errors.New("no drivers available")

// Offerer pushes a created candidacy to the driver, best-effort.
type Offerer interface {
	Offer(driverID string, offer models.OrderOffer) error
}

// Params bound the search loop. Radii are in meters.
type Params struct {
	MinRadius       float64
	MaxRadius       float64
	RadiusStep      float64
	PerAttemptDelay time.Duration
	OverallTimeout  time.Duration
}

func DefaultParams() Params {
	return Params{
		MinRadius:       5000,
		MaxRadius:       12000,
		RadiusStep:      1000,
		PerAttemptDelay: time.Second,
		OverallTimeout:  10 * time.Second,
	}
}

// Engine runs one dispatch attempt per order: expanding radius (outer loop),
// escalating tier (inner loop), bounded total wait. A nearer driver in a
// higher tier wins over a farther driver in the requested tier.
type Engine struct {
	Geo    geo.Index
	Store  storage.Store
	Offers Offerer // optional
	Params Params
	Logger *slog.Logger

	// overridden in tests so the loop never really sleeps
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(g geo.Index, s storage.Store, offers Offerer, p Params, logger *slog.Logger) *Engine {
	return &Engine{Geo: g, Store: s, Offers: offers, Params: p, Logger: logger}
}

// Dispatch searches for drivers for an active order and reserves them via
// candidacies. On success at least one candidacy exists and the order is
// still active, awaiting a driver accept. On timeout the order is deleted
// and ErrNoDrivers is returned.
func (e *Engine) Dispatch(ctx context.Context, order *models.Order) ([]models.Candidacy, error) {
	now := e.Now
	if now == nil {
		now = time.Now
	}
	sleep := e.Sleep
	if sleep == nil {
		sleep = realSleep
	}

	observability.DispatchAttempts.Inc()
	start := now()
	deadline := start.Add(e.Params.OverallTimeout)
	tiers := models.Escalate(order.Tier)

	for {
		if !now().Before(deadline) {
			return nil, e.abandon(ctx, order, start, now)
		}
		for r := e.Params.MinRadius; r <= e.Params.MaxRadius; r += e.Params.RadiusStep {
			if !now().Before(deadline) {
				return nil, e.abandon(ctx, order, start, now)
			}
			for _, tier := range tiers {
				observability.SearchRounds.Inc()
				found, err := e.Geo.FindCandidates(ctx, order.Departure, r, []models.Tier{tier})
				if err != nil {
					return nil, err
				}
				if len(found) == 0 {
					continue
				}
				created := e.reserve(ctx, order, found)
				if len(created) > 0 {
					observability.DispatchLatency.Observe(now().Sub(start).Seconds())
					e.log().Info("candidates found",
						"order_id", order.ID, "radius_m", r, "tier", tier.String(),
						"candidacies", len(created))
					return created, nil
				}
				// every driver in the batch lost the reservation race;
				// keep widening rather than failing
			}
			if err := sleep(ctx, e.Params.PerAttemptDelay); err != nil {
				return nil, e.abandon(ctx, order, start, now)
			}
		}
	}
}

// reserve creates a candidacy for every driver that is still free. Losing a
// race for an individual driver is expected and skipped silently.
func (e *Engine) reserve(ctx context.Context, order *models.Order, drivers []models.Driver) []models.Candidacy {
	var created []models.Candidacy
	for _, d := range drivers {
		c := models.Candidacy{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			DriverID:  d.ID,
			VehicleID: d.Vehicle.ID,
			CreatedAt: time.Now(),
		}
		ok, err := e.Store.CreateCandidacy(ctx, &c)
		if err != nil {
			e.log().Error("create candidacy", "order_id", order.ID, "driver_id", d.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		observability.CandidaciesCreated.Inc()
		created = append(created, c)
		if e.Offers != nil {
			_ = e.Offers.Offer(d.ID, models.OrderOffer{
				OrderID:   order.ID,
				Departure: order.Departure,
				Arrival:   order.Arrival,
				Tier:      order.Tier,
				Cost:      order.Cost,
			})
		}
	}
	return created
}

// abandon is the compensating action for a search that found nobody: the
// order must not survive as an orphan. Runs once per attempt.
func (e *Engine) abandon(ctx context.Context, order *models.Order, start time.Time, now func() time.Time) error {
	observability.DispatchTimeouts.Inc()
	// the delete must happen even when ctx is already canceled
	if err := e.Store.DeleteOrder(context.WithoutCancel(ctx), order.ID); err != nil {
		e.log().Error("delete timed-out order", "order_id", order.ID, "error", err)
	}
	e.log().Info("dispatch timed out",
		"order_id", order.ID, "elapsed_ms", now().Sub(start).Milliseconds())
	return ErrNoDrivers
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func realSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
