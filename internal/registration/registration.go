// Package registration creates customer and driver accounts. Driver
// registration persists the account and its vehicle all-or-nothing.
package registration

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

const phoneLen = 12

var (
	ErrPasswordMismatch = errors.New("passwords are different")
	ErrBadPhone         = errors.New("phone must be + followed by 11 digits")
	ErrBadVehicleDate   = errors.New("vehicle creation date is impossible")
	ErrBadLocation      = errors.New("invalid location")
)

// firstVehicleDate is the earliest acceptable vehicle creation date.
var firstVehicleDate = time.Date(1885, 1, 29, 0, 0, 0, 0, time.UTC)

type Service struct {
	Store storage.Store
	Geo   geo.Index // optional; newly registered drivers are indexed at once
}

type CustomerRequest struct {
	Username  string
	Phone     string
	Password  string
	Password2 string
}

type DriverRequest struct {
	Username  string
	Phone     string
	Password  string
	Password2 string

	Manufacturer string
	Mark         string
	Plate        string
	Capacity     int
	Tier         string
	Created      time.Time
	Location     string // "lat,lon"
}

func validPhone(phone string) bool {
	if len(phone) != phoneLen || !strings.HasPrefix(phone, "+") {
		return false
	}
	for _, r := range phone[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s *Service) RegisterCustomer(ctx context.Context, req CustomerRequest) (*models.Customer, error) {
	if req.Password != req.Password2 {
		return nil, ErrPasswordMismatch
	}
	if !validPhone(req.Phone) {
		return nil, ErrBadPhone
	}
	c := &models.Customer{
		ID:       uuid.NewString(),
		Username: req.Username,
		Phone:    req.Phone,
	}
	if err := s.Store.CreateCustomer(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) RegisterDriver(ctx context.Context, req DriverRequest) (*models.Driver, error) {
	if req.Password != req.Password2 {
		return nil, ErrPasswordMismatch
	}
	if !validPhone(req.Phone) {
		return nil, ErrBadPhone
	}
	if req.Created.Before(firstVehicleDate) || req.Created.After(time.Now()) {
		return nil, ErrBadVehicleDate
	}
	tier, err := models.ParseTier(req.Tier)
	if err != nil {
		return nil, err
	}
	loc, err := models.ParsePoint(req.Location)
	if err != nil {
		return nil, ErrBadLocation
	}

	d := &models.Driver{
		ID:       uuid.NewString(),
		Username: req.Username,
		Phone:    req.Phone,
		Vehicle: models.Vehicle{
			ID:           uuid.NewString(),
			Manufacturer: req.Manufacturer,
			Mark:         req.Mark,
			Plate:        req.Plate,
			Capacity:     req.Capacity,
			Tier:         tier,
			Created:      req.Created,
		},
		Location: &loc,
		Online:   true,
		Updated:  time.Now(),
	}
	if err := s.Store.CreateDriver(ctx, d); err != nil {
		return nil, err
	}
	if s.Geo != nil {
		_ = s.Geo.Upsert(ctx, *d)
	}
	return d, nil
}
