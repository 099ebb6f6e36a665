// Package lifecycle owns the order state machine: placement and dispatch,
// driver accept/decline, end of trip, rating, and customer cancellation.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/storage"
)

var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrInvalidTier        = errors.New("invalid tier")
	ErrInvalidRating      = errors.New("rating must be between 0 and 5")
	ErrInvalidTransition  = errors.New("invalid state transition")
	// ErrConflict means another actor won a race for the same order or driver.
	ErrConflict = errors.New("order state conflict")
)

// Payments is the external billing collaborator. Optional; when nil no
// holds are placed.
type Payments interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

type Service struct {
	Store    storage.Store
	Engine   *dispatch.Engine
	Geo      geo.Index // optional; used to relocate the driver at end of trip
	Payments Payments  // optional
	Currency string
	Logger   *slog.Logger

	mu    sync.Mutex
	holds map[string]string // orderID -> payment intent
}

func NewService(store storage.Store, engine *dispatch.Engine, logger *slog.Logger) *Service {
	return &Service{
		Store:    store,
		Engine:   engine,
		Currency: "rub",
		Logger:   logger,
		holds:    make(map[string]string),
	}
}

type PlaceRequest struct {
	CustomerID string
	Departure  string // "lat,lon"
	Arrival    string // "lat,lon"
	Tier       string
}

// Place validates the request, prices and persists the order, then runs one
// dispatch attempt. It blocks for up to the engine's overall timeout; on
// timeout the order is already deleted and dispatch.ErrNoDrivers surfaces.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (*models.Order, []models.Candidacy, error) {
	dep, err := models.ParsePoint(req.Departure)
	if err != nil {
		return nil, nil, ErrInvalidCoordinates
	}
	arr, err := models.ParsePoint(req.Arrival)
	if err != nil {
		return nil, nil, ErrInvalidCoordinates
	}
	tier, err := models.ParseTier(req.Tier)
	if err != nil {
		return nil, nil, ErrInvalidTier
	}

	now := time.Now()
	order := &models.Order{
		ID:        uuid.NewString(),
		Customer:  req.CustomerID,
		Departure: dep,
		Arrival:   arr,
		Tier:      tier,
		Status:    models.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.CreateOrder(ctx, order); err != nil {
		return nil, nil, err
	}

	cands, err := s.Engine.Dispatch(ctx, order)
	if err != nil {
		return nil, nil, err
	}
	return order, cands, nil
}

// Accept is the driver's commitment: the order moves to executed, the driver
// is reserved, and every competing candidacy for the order disappears in the
// same atomic step.
func (s *Service) Accept(ctx context.Context, orderID, driverID string) error {
	ok, err := s.Store.AssignOrder(ctx, orderID, driverID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	observability.OrdersAccepted.Inc()
	s.holdFare(ctx, orderID)
	return nil
}

// Decline removes only the declining driver's candidacy; the order stays
// active for everyone else.
func (s *Service) Decline(ctx context.Context, orderID, driverID string) error {
	return s.Store.DeleteCandidacy(ctx, orderID, driverID)
}

// EndTrip moves an executed order to evaluation and relocates the driver to
// the arrival point.
func (s *Service) EndTrip(ctx context.Context, orderID string) error {
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	ok, err := s.Store.TransitionOrder(ctx, orderID, models.StatusExecuted, models.StatusEvaluation)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	if err := s.Store.UpdateDriverLocation(ctx, o.Driver, o.Arrival); err != nil {
		s.log().Error("relocate driver", "driver_id", o.Driver, "error", err)
	}
	if s.Geo != nil {
		if d, err := s.Store.GetDriver(ctx, o.Driver); err == nil {
			_ = s.Geo.Upsert(ctx, *d)
		}
	}
	return nil
}

// Rate completes an order under evaluation. Out-of-range ratings and orders
// in any other status are rejected without a state change.
func (s *Service) Rate(ctx context.Context, orderID string, rating float64) error {
	if rating < 0 || rating > 5 {
		return ErrInvalidRating
	}
	ok, err := s.Store.SetRating(ctx, orderID, rating)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	observability.OrdersCompleted.Inc()
	s.captureFare(ctx, orderID)
	return nil
}

// Cancel removes an order that is still active, candidacies included.
// Canceling an order a driver has already accepted is rejected.
func (s *Service) Cancel(ctx context.Context, orderID string) error {
	ok, err := s.Store.DeleteOrderIfActive(ctx, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	s.releaseFare(ctx, orderID)
	return nil
}

func (s *Service) holdFare(ctx context.Context, orderID string) {
	if s.Payments == nil {
		return
	}
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return
	}
	id, err := s.Payments.Hold(ctx, o.Cost, s.Currency, o.Customer)
	if err != nil {
		s.log().Error("fare hold", "order_id", orderID, "error", err)
		return
	}
	s.mu.Lock()
	s.holds[orderID] = id
	s.mu.Unlock()
}

func (s *Service) captureFare(ctx context.Context, orderID string) {
	if id, ok := s.takeHold(orderID); ok {
		if err := s.Payments.Capture(ctx, id); err != nil {
			s.log().Error("fare capture", "order_id", orderID, "error", err)
		}
	}
}

func (s *Service) releaseFare(ctx context.Context, orderID string) {
	if id, ok := s.takeHold(orderID); ok {
		if err := s.Payments.Cancel(ctx, id); err != nil {
			s.log().Error("fare release", "order_id", orderID, "error", err)
		}
	}
}

func (s *Service) takeHold(orderID string) (string, bool) {
	if s.Payments == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.holds[orderID]
	if ok {
		delete(s.holds, orderID)
	}
	return id, ok
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
