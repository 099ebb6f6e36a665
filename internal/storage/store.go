package storage

import (
	"context"
	"errors"

	"github.com/example/taxi-dispatch/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Store defines persistence for customers, drivers, orders and candidacies.
//
// The reservation primitives (CreateCandidacy, AssignOrder) are atomic
// check-and-set operations: the "driver is free" predicate is evaluated and
// committed in one step, never as a separate read followed by a write. Two
// concurrent dispatch attempts can therefore never both claim one driver.
type Store interface {
	CreateCustomer(ctx context.Context, c *models.Customer) error
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)

	// CreateDriver persists the driver and its vehicle all-or-nothing.
	CreateDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	UpdateDriverLocation(ctx context.Context, driverID string, loc models.Point) error

	// CreateOrder persists an order. The cost field is recomputed from the
	// departure/arrival distance; any value supplied by the caller is
	// overwritten.
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	OrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error)
	OrdersByDriver(ctx context.Context, driverID string) ([]models.Order, error)

	// DeleteOrder removes the order and every candidacy hanging off it.
	DeleteOrder(ctx context.Context, id string) error
	// DeleteOrderIfActive removes the order only while it is still active.
	// Returns false when the order has already left the active state.
	DeleteOrderIfActive(ctx context.Context, id string) (bool, error)

	// TransitionOrder moves the order from one status to another, guarded by
	// the current status. Returns false when the guard fails.
	TransitionOrder(ctx context.Context, id string, from, to models.Status) (bool, error)
	// SetRating stores the rating and completes the order, guarded on the
	// evaluation status.
	SetRating(ctx context.Context, id string, rating float64) (bool, error)

	// AssignOrder atomically claims the driver for the order: the order must
	// still be active and the driver must hold no active assignment. All
	// candidacies for the order are swept in the same step. Returns false
	// when either guard fails.
	AssignOrder(ctx context.Context, orderID, driverID string) (bool, error)

	// CreateCandidacy offers the order to the driver. The insert is refused
	// (false, nil) when the driver already holds an active assignment or an
	// open candidacy for another order.
	CreateCandidacy(ctx context.Context, c *models.Candidacy) (bool, error)
	DeleteCandidacy(ctx context.Context, orderID, driverID string) error
	DeleteCandidaciesByOrder(ctx context.Context, orderID string) error
	CandidaciesByOrder(ctx context.Context, orderID string) ([]models.Candidacy, error)
	CandidacyForDriver(ctx context.Context, driverID string) (*models.Candidacy, error)
}
