package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/pricing"
)

const uniqueViolation = "23505"

// PostgresStore implements Store on top of Postgres. Atomicity of the
// reservation primitives comes from guarded single-statement updates plus a
// unique index on candidacies(driver_id); no read-then-write anywhere.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func (p *PostgresStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO customers(id, username, phone) VALUES($1,$2,$3)`,
		c.ID, c.Username, c.Phone)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresStore) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var c models.Customer
	err := p.db.QueryRowContext(ctx,
		`SELECT id, username, phone FROM customers WHERE id=$1`, id).
		Scan(&c.ID, &c.Username, &c.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *PostgresStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	v := d.Vehicle
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vehicles(id, manufacturer, mark, plate, capacity, tier, created)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		v.ID, v.Manufacturer, v.Mark, v.Plate, v.Capacity, int(v.Tier), v.Created); err != nil {
		return err
	}

	var lat, lon sql.NullFloat64
	if d.Location != nil {
		lat = sql.NullFloat64{Float64: d.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: d.Location.Lon, Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO drivers(id, username, phone, vehicle_id, lat, lon, online, updated)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.Username, d.Phone, v.ID, lat, lon, d.Online, time.Now()); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	var d models.Driver
	var lat, lon sql.NullFloat64
	var tier int
	err := p.db.QueryRowContext(ctx,
		`SELECT d.id, d.username, d.phone, d.lat, d.lon, d.online, d.updated,
		        v.id, v.manufacturer, v.mark, v.plate, v.capacity, v.tier, v.created
		 FROM drivers d JOIN vehicles v ON v.id = d.vehicle_id
		 WHERE d.id=$1`, id).
		Scan(&d.ID, &d.Username, &d.Phone, &lat, &lon, &d.Online, &d.Updated,
			&d.Vehicle.ID, &d.Vehicle.Manufacturer, &d.Vehicle.Mark, &d.Vehicle.Plate,
			&d.Vehicle.Capacity, &tier, &d.Vehicle.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Vehicle.Tier = models.Tier(tier)
	if lat.Valid && lon.Valid {
		d.Location = &models.Point{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &d, nil
}

func (p *PostgresStore) UpdateDriverLocation(ctx context.Context, driverID string, loc models.Point) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET lat=$1, lon=$2, updated=$3 WHERE id=$4`,
		loc.Lat, loc.Lon, time.Now(), driverID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) error {
	o.Cost = pricing.Cost(o.Departure, o.Arrival)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO orders(id, customer_id, driver_id, dep_lat, dep_lon, arr_lat, arr_lon,
		                    tier, cost, rating, status, created_at, updated_at)
		 VALUES($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, o.Customer, o.Driver, o.Departure.Lat, o.Departure.Lon,
		o.Arrival.Lat, o.Arrival.Lon, int(o.Tier), o.Cost, o.Rating,
		string(o.Status), o.CreatedAt, o.UpdatedAt)
	return err
}

func (p *PostgresStore) scanOrders(rows *sql.Rows) ([]models.Order, error) {
	defer rows.Close()
	var out []models.Order
	for rows.Next() {
		var o models.Order
		var driver sql.NullString
		var rating sql.NullFloat64
		var tier int
		if err := rows.Scan(&o.ID, &o.Customer, &driver,
			&o.Departure.Lat, &o.Departure.Lon, &o.Arrival.Lat, &o.Arrival.Lon,
			&tier, &o.Cost, &rating, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Tier = models.Tier(tier)
		if driver.Valid {
			o.Driver = driver.String
		}
		if rating.Valid {
			o.Rating = &rating.Float64
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const orderCols = `id, customer_id, driver_id, dep_lat, dep_lon, arr_lat, arr_lon,
	tier, cost, rating, status, created_at, updated_at`

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	orders, err := p.scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrNotFound
	}
	return &orders[0], nil
}

func (p *PostgresStore) OrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE customer_id=$1 ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, err
	}
	return p.scanOrders(rows)
}

func (p *PostgresStore) OrdersByDriver(ctx context.Context, driverID string) ([]models.Order, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE driver_id=$1 ORDER BY created_at DESC`, driverID)
	if err != nil {
		return nil, err
	}
	return p.scanOrders(rows)
}

func (p *PostgresStore) DeleteOrder(ctx context.Context, id string) error {
	// candidacies go with it via ON DELETE CASCADE
	_, err := p.db.ExecContext(ctx, `DELETE FROM orders WHERE id=$1`, id)
	return err
}

func (p *PostgresStore) DeleteOrderIfActive(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM orders WHERE id=$1 AND status='active'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresStore) TransitionOrder(ctx context.Context, id string, from, to models.Status) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, nil
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`,
		string(to), time.Now(), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresStore) SetRating(ctx context.Context, id string, rating float64) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE orders SET rating=$1, status='completed', updated_at=$2
		 WHERE id=$3 AND status='evaluation'`,
		rating, time.Now(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresStore) AssignOrder(ctx context.Context, orderID, driverID string) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// The NOT EXISTS check alone is write-skew under READ COMMITTED: two
	// concurrent assigns of the same driver update different order rows and
	// neither statement snapshot sees the other's write. The partial unique
	// index orders_driver_active makes the loser fail with a unique
	// violation, which is a lost race, not a fault.
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET driver_id=$1, status='executed', updated_at=$2
		 WHERE id=$3 AND status='active'
		   AND NOT EXISTS (
		     SELECT 1 FROM orders
		     WHERE driver_id=$1 AND status IN ('executed','evaluation')
		   )`,
		driverID, time.Now(), orderID)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM candidacies WHERE order_id=$1`, orderID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (p *PostgresStore) CreateCandidacy(ctx context.Context, c *models.Candidacy) (bool, error) {
	// The guarded insert plus the unique index on driver_id closes the
	// check-then-act race between concurrent dispatch attempts.
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO candidacies(id, order_id, driver_id, vehicle_id, created_at)
		 SELECT $1, $2, $3, $4, $5
		 WHERE NOT EXISTS (
		     SELECT 1 FROM orders
		     WHERE driver_id=$3 AND status IN ('executed','evaluation')
		 )`,
		c.ID, c.OrderID, c.DriverID, c.VehicleID, c.CreatedAt)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresStore) DeleteCandidacy(ctx context.Context, orderID, driverID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM candidacies WHERE order_id=$1 AND driver_id=$2`, orderID, driverID)
	return err
}

func (p *PostgresStore) DeleteCandidaciesByOrder(ctx context.Context, orderID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM candidacies WHERE order_id=$1`, orderID)
	return err
}

func (p *PostgresStore) CandidaciesByOrder(ctx context.Context, orderID string) ([]models.Candidacy, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, order_id, driver_id, vehicle_id, created_at
		 FROM candidacies WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Candidacy
	for rows.Next() {
		var c models.Candidacy
		if err := rows.Scan(&c.ID, &c.OrderID, &c.DriverID, &c.VehicleID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CandidacyForDriver(ctx context.Context, driverID string) (*models.Candidacy, error) {
	var c models.Candidacy
	err := p.db.QueryRowContext(ctx,
		`SELECT id, order_id, driver_id, vehicle_id, created_at
		 FROM candidacies WHERE driver_id=$1`, driverID).
		Scan(&c.ID, &c.OrderID, &c.DriverID, &c.VehicleID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
