package registration

import (
	"context"
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

func validDriverRequest() DriverRequest {
	return DriverRequest{
		Username:     "misha",
		Phone:        "+70001112233",
		Password:     "hunter2",
		Password2:    "hunter2",
		Manufacturer: "Lada",
		Mark:         "Vesta",
		Plate:        "A123BC",
		Capacity:     4,
		Tier:         "comfort",
		Created:      time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC),
		Location:     "55.75,37.61",
	}
}

func TestRegisterCustomerValidation(t *testing.T) {
	svc := &Service{Store: storage.NewMemoryStore()}
	ctx := context.Background()

	_, err := svc.RegisterCustomer(ctx, CustomerRequest{Username: "a", Phone: "+70001112233", Password: "x", Password2: "y"})
	if err != ErrPasswordMismatch {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	_, err = svc.RegisterCustomer(ctx, CustomerRequest{Username: "a", Phone: "12345", Password: "x", Password2: "x"})
	if err != ErrBadPhone {
		t.Fatalf("expected ErrBadPhone, got %v", err)
	}
	// right length, wrong alphabet
	_, err = svc.RegisterCustomer(ctx, CustomerRequest{Username: "a", Phone: "+7000111223x", Password: "x", Password2: "x"})
	if err != ErrBadPhone {
		t.Fatalf("expected ErrBadPhone for non-digit phone, got %v", err)
	}
}

func TestRegisterCustomerDuplicate(t *testing.T) {
	svc := &Service{Store: storage.NewMemoryStore()}
	ctx := context.Background()
	req := CustomerRequest{Username: "katya", Phone: "+70001112233", Password: "x", Password2: "x"}
	if _, err := svc.RegisterCustomer(ctx, req); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := svc.RegisterCustomer(ctx, req); err != storage.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestRegisterDriverIndexesLocation(t *testing.T) {
	g := geo.NewMemIndex()
	svc := &Service{Store: storage.NewMemoryStore(), Geo: g}
	ctx := context.Background()

	d, err := svc.RegisterDriver(ctx, validDriverRequest())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if d.Vehicle.Tier != models.TierComfort {
		t.Fatalf("expected comfort vehicle, got %s", d.Vehicle.Tier)
	}
	found, _ := g.FindCandidates(ctx, models.Point{Lat: 55.75, Lon: 37.61}, 1000, []models.Tier{models.TierComfort})
	if len(found) != 1 || found[0].ID != d.ID {
		t.Fatalf("freshly registered driver must be searchable, got %+v", found)
	}
}

func TestRegisterDriverVehicleDate(t *testing.T) {
	svc := &Service{Store: storage.NewMemoryStore()}
	ctx := context.Background()

	req := validDriverRequest()
	req.Created = time.Date(1800, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := svc.RegisterDriver(ctx, req); err != ErrBadVehicleDate {
		t.Fatalf("expected ErrBadVehicleDate for 1800, got %v", err)
	}

	req.Created = time.Now().Add(24 * time.Hour)
	if _, err := svc.RegisterDriver(ctx, req); err != ErrBadVehicleDate {
		t.Fatalf("expected ErrBadVehicleDate for the future, got %v", err)
	}
}

func TestRegisterDriverBadLocation(t *testing.T) {
	svc := &Service{Store: storage.NewMemoryStore()}
	req := validDriverRequest()
	req.Location = "nowhere"
	if _, err := svc.RegisterDriver(context.Background(), req); err != ErrBadLocation {
		t.Fatalf("expected ErrBadLocation, got %v", err)
	}
}
