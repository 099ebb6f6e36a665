package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/pricing"
)

// MemoryStore keeps everything behind a single mutex, which makes the
// reservation primitives trivially atomic. Used in tests and single-node runs.
type MemoryStore struct {
	mu          sync.Mutex
	customers   map[string]models.Customer
	drivers     map[string]models.Driver
	orders      map[string]models.Order
	candidacies map[string]models.Candidacy // keyed by orderID+"/"+driverID
	usernames   map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers:   make(map[string]models.Customer),
		drivers:     make(map[string]models.Driver),
		orders:      make(map[string]models.Order),
		candidacies: make(map[string]models.Candidacy),
		usernames:   make(map[string]struct{}),
	}
}

func candKey(orderID, driverID string) string { return orderID + "/" + driverID }

func (m *MemoryStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usernames[c.Username]; ok {
		return ErrAlreadyExists
	}
	m.usernames[c.Username] = struct{}{}
	m.customers[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usernames[d.Username]; ok {
		return ErrAlreadyExists
	}
	m.usernames[d.Username] = struct{}{}
	m.drivers[d.ID] = *d
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *MemoryStore) UpdateDriverLocation(ctx context.Context, driverID string, loc models.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	d.Location = &loc
	d.Updated = time.Now()
	m.drivers[driverID] = d
	return nil
}

func (m *MemoryStore) CreateOrder(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.Cost = pricing.Cost(o.Departure, o.Arrival)
	m.orders[o.ID] = *o
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *MemoryStore) OrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.Customer == customerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemoryStore) OrdersByDriver(ctx context.Context, driverID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.Driver == driverID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteOrder(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, id)
	m.sweepCandidacies(id)
	return nil
}

func (m *MemoryStore) DeleteOrderIfActive(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.StatusActive {
		return false, nil
	}
	delete(m.orders, id)
	m.sweepCandidacies(id)
	return true, nil
}

func (m *MemoryStore) TransitionOrder(ctx context.Context, id string, from, to models.Status) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	m.orders[id] = o
	return true, nil
}

func (m *MemoryStore) SetRating(ctx context.Context, id string, rating float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.StatusEvaluation {
		return false, nil
	}
	o.Rating = &rating
	o.Status = models.StatusCompleted
	o.UpdatedAt = time.Now()
	m.orders[id] = o
	return true, nil
}

func (m *MemoryStore) AssignOrder(ctx context.Context, orderID, driverID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != models.StatusActive {
		return false, nil
	}
	if m.driverBusyLocked(driverID) {
		return false, nil
	}
	o.Driver = driverID
	o.Status = models.StatusExecuted
	o.UpdatedAt = time.Now()
	m.orders[orderID] = o
	m.sweepCandidacies(orderID)
	return true, nil
}

func (m *MemoryStore) CreateCandidacy(ctx context.Context, c *models.Candidacy) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.driverBusyLocked(c.DriverID) {
		return false, nil
	}
	for _, existing := range m.candidacies {
		if existing.DriverID == c.DriverID {
			return false, nil
		}
	}
	m.candidacies[candKey(c.OrderID, c.DriverID)] = *c
	return true, nil
}

func (m *MemoryStore) DeleteCandidacy(ctx context.Context, orderID, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.candidacies, candKey(orderID, driverID))
	return nil
}

func (m *MemoryStore) DeleteCandidaciesByOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepCandidacies(orderID)
	return nil
}

func (m *MemoryStore) CandidaciesByOrder(ctx context.Context, orderID string) ([]models.Candidacy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Candidacy
	for _, c := range m.candidacies {
		if c.OrderID == orderID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) CandidacyForDriver(ctx context.Context, driverID string) (*models.Candidacy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.candidacies {
		if c.DriverID == driverID {
			out := c
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// callers hold m.mu
func (m *MemoryStore) driverBusyLocked(driverID string) bool {
	for _, o := range m.orders {
		if o.Driver == driverID && o.Status.ActiveAssignment() {
			return true
		}
	}
	return false
}

// callers hold m.mu
func (m *MemoryStore) sweepCandidacies(orderID string) {
	for k, c := range m.candidacies {
		if c.OrderID == orderID {
			delete(m.candidacies, k)
		}
	}
}
