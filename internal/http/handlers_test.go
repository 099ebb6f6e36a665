package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/lifecycle"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/registration"
	"github.com/example/taxi-dispatch/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore, *geo.MemIndex) {
	t.Helper()
	store := storage.NewMemoryStore()
	g := geo.NewMemIndex()

	engine := &dispatch.Engine{
		Geo:    g,
		Store:  store,
		Params: dispatch.DefaultParams(),
		Sleep:  func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
	base := time.Now()
	var mu sync.Mutex
	var calls int
	engine.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lc := lifecycle.NewService(store, engine, logger)
	lc.Geo = g
	reg := &registration.Service{Store: store, Geo: g}
	return NewServer(store, lc, reg, g, nil, dispatch.NewWSRegistry(), logger), store, g
}

func addDriver(t *testing.T, store *storage.MemoryStore, g *geo.MemIndex, id string, tier models.Tier) {
	t.Helper()
	loc := models.Point{Lat: 0.01}
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
		t.Fatalf("upsert: %v", err)
	}
}

func post(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestPlaceOrderValidationErrors(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := post(t, s, "/api/v1/orders", `{"customer_id":"c1","departure":"garbage","arrival":"0,0","tier":"economy"}`)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "invalid coordinates") {
		t.Fatalf("expected 400 invalid coordinates, got %d %q", w.Code, w.Body.String())
	}

	w = post(t, s, "/api/v1/orders", `{"customer_id":"c1","departure":"0,0","arrival":"0.1,0","tier":"luxury"}`)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "invalid tier") {
		t.Fatalf("expected 400 invalid tier, got %d %q", w.Code, w.Body.String())
	}
}

func TestPlaceOrderNoDrivers(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := post(t, s, "/api/v1/orders", `{"customer_id":"c1","departure":"0,0","arrival":"0.1,0","tier":"economy"}`)
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "no drivers available") {
		t.Fatalf("expected 503 no drivers available, got %d %q", w.Code, w.Body.String())
	}
}

func TestPlaceOrderAndDriverFlow(t *testing.T) {
	s, store, g := newTestServer(t)
	addDriver(t, store, g, "d1", models.TierEconomy)

	w := post(t, s, "/api/v1/orders", `{"customer_id":"c1","departure":"0,0","arrival":"0.2,0","tier":"economy"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %q", w.Code, w.Body.String())
	}
	var resp struct {
		Order       models.Order `json:"order"`
		Candidacies int          `json:"candidacies"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Candidacies != 1 || resp.Order.Status != models.StatusActive {
		t.Fatalf("unexpected response: %+v", resp)
	}

	w = post(t, s, "/api/v1/orders/"+resp.Order.ID+"/driver", `{"driver_id":"d1","action":"accept"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("accept: expected 204, got %d %q", w.Code, w.Body.String())
	}
	w = post(t, s, "/api/v1/orders/"+resp.Order.ID+"/driver", `{"driver_id":"d1","action":"end_of_trip"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("end_of_trip: expected 204, got %d %q", w.Code, w.Body.String())
	}

	w = post(t, s, "/api/v1/orders/"+resp.Order.ID+"/customer", `{"rating":6}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("rating 6: expected 400, got %d", w.Code)
	}
	w = post(t, s, "/api/v1/orders/"+resp.Order.ID+"/customer", `{"rating":3}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("rating 3: expected 204, got %d %q", w.Code, w.Body.String())
	}

	o, err := store.GetOrder(context.Background(), resp.Order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != models.StatusCompleted || o.Rating == nil || *o.Rating != 3 {
		t.Fatalf("unexpected final order: %+v", o)
	}
}

func TestCancelExecutedOrderRejected(t *testing.T) {
	s, store, g := newTestServer(t)
	addDriver(t, store, g, "d1", models.TierEconomy)

	w := post(t, s, "/api/v1/orders", `{"customer_id":"c1","departure":"0,0","arrival":"0.2,0","tier":"economy"}`)
	var resp struct {
		Order models.Order `json:"order"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	post(t, s, "/api/v1/orders/"+resp.Order.ID+"/driver", `{"driver_id":"d1","action":"accept"}`)

	w = post(t, s, "/api/v1/orders/"+resp.Order.ID+"/customer", `{"action":"cancel"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for canceling an executed order, got %d", w.Code)
	}
}

func TestRegisterCustomerDuplicate(t *testing.T) {
	s, _, _ := newTestServer(t)
	body := `{"username":"katya","phone":"+70001112233","password1":"x","password2":"x"}`
	if w := post(t, s, "/api/v1/register/customer", body); w.Code != http.StatusCreated {
		t.Fatalf("first registration: %d %q", w.Code, w.Body.String())
	}
	w := post(t, s, "/api/v1/register/customer", body)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "already exists") {
		t.Fatalf("expected 409 already exists, got %d %q", w.Code, w.Body.String())
	}
}

func TestDriverLocationUpdate(t *testing.T) {
	s, _, g := newTestServer(t)
	before := testutil.ToFloat64(observability.LocationUpdates)
	w := post(t, s, "/internal/driver/locations", `{"driver_id":"d9","loc":{"lat":0.01,"lon":0},"tier":"business"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d %q", w.Code, w.Body.String())
	}
	found, _ := g.FindCandidates(context.Background(), models.Point{}, 5000, []models.Tier{models.TierBusiness})
	if len(found) != 1 || found[0].ID != "d9" {
		t.Fatalf("expected the driver to be indexed, got %+v", found)
	}
	if got := testutil.ToFloat64(observability.LocationUpdates) - before; got != 1 {
		t.Fatalf("expected one counted location update, got %v", got)
	}
}

func TestWSSessionRemovedOnDisconnect(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/d1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := s.WSReg.Offer("d1", models.OrderOffer{OrderID: "o1"}); err != nil {
		t.Fatalf("offer to a connected driver: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := s.WSReg.Offer("d1", models.OrderOffer{OrderID: "o1"}); errors.Is(err, dispatch.ErrNoSession) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("session must be removed once the peer disconnects")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
