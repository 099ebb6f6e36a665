package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/lifecycle"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/registration"
	"github.com/example/taxi-dispatch/internal/storage"
)

type Server struct {
	Store     storage.Store
	Lifecycle *lifecycle.Service
	Register  *registration.Service
	Geo       geo.Index
	Kafka     *ingest.KafkaProducer // optional
	WSReg     *dispatch.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(store storage.Store, lc *lifecycle.Service, reg *registration.Service,
	g geo.Index, kafka *ingest.KafkaProducer, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{
		Store:     store,
		Lifecycle: lc,
		Register:  reg,
		Geo:       g,
		Kafka:     kafka,
		WSReg:     wsreg,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/orders", s.handlePlaceOrder).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/driver", s.handleDriverResponse).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/customer", s.handleCustomerResponse).Methods("POST")
	s.mux.HandleFunc("/api/v1/register/customer", s.handleRegisterCustomer).Methods("POST")
	s.mux.HandleFunc("/api/v1/register/driver", s.handleRegisterDriver).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/{id}/order", s.handleDriverOrder).Methods("GET")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type placeOrderRequest struct {
	CustomerID string `json:"customer_id"`
	Departure  string `json:"departure"` // "lat,lon"
	Arrival    string `json:"arrival"`   // "lat,lon"
	Tier       string `json:"tier"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	order, cands, err := s.Lifecycle.Place(r.Context(), lifecycle.PlaceRequest{
		CustomerID: req.CustomerID,
		Departure:  req.Departure,
		Arrival:    req.Arrival,
		Tier:       req.Tier,
	})
	switch {
	case errors.Is(err, lifecycle.ErrInvalidCoordinates):
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	case errors.Is(err, lifecycle.ErrInvalidTier):
		http.Error(w, "invalid tier", http.StatusBadRequest)
		return
	case errors.Is(err, dispatch.ErrNoDrivers):
		http.Error(w, "no drivers available", http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order":       order,
		"candidacies": len(cands),
	})
}

type driverResponse struct {
	DriverID string `json:"driver_id"`
	Action   string `json:"action"` // accept | decline | end_of_trip
}

func (s *Server) handleDriverResponse(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	var req driverResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var err error
	switch req.Action {
	case "accept":
		err = s.Lifecycle.Accept(r.Context(), orderID, req.DriverID)
	case "decline":
		err = s.Lifecycle.Decline(r.Context(), orderID, req.DriverID)
	case "end_of_trip":
		err = s.Lifecycle.EndTrip(r.Context(), orderID)
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeLifecycleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type customerResponse struct {
	Action string   `json:"action,omitempty"` // cancel
	Rating *float64 `json:"rating,omitempty"`
}

func (s *Server) handleCustomerResponse(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	var req customerResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch {
	case req.Action == "cancel":
		if err := s.Lifecycle.Cancel(r.Context(), orderID); err != nil {
			s.writeLifecycleError(w, err)
			return
		}
	case req.Rating != nil:
		if err := s.Lifecycle.Rate(r.Context(), orderID, *req.Rating); err != nil {
			s.writeLifecycleError(w, err)
			return
		}
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrInvalidRating):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, lifecycle.ErrConflict), errors.Is(err, lifecycle.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type registerCustomerRequest struct {
	Username  string `json:"username"`
	Phone     string `json:"phone"`
	Password  string `json:"password1"`
	Password2 string `json:"password2"`
}

func (s *Server) handleRegisterCustomer(w http.ResponseWriter, r *http.Request) {
	var req registerCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := s.Register.RegisterCustomer(r.Context(), registration.CustomerRequest{
		Username:  req.Username,
		Phone:     req.Phone,
		Password:  req.Password,
		Password2: req.Password2,
	})
	if err != nil {
		s.writeRegistrationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type registerDriverRequest struct {
	registerCustomerRequest
	Manufacturer string    `json:"manufacturer"`
	Mark         string    `json:"mark"`
	Plate        string    `json:"plate"`
	Capacity     int       `json:"capacity"`
	Tier         string    `json:"tier"`
	Created      time.Time `json:"created"`
	Location     string    `json:"location"` // "lat,lon"
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req registerDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, err := s.Register.RegisterDriver(r.Context(), registration.DriverRequest{
		Username:     req.Username,
		Phone:        req.Phone,
		Password:     req.Password,
		Password2:    req.Password2,
		Manufacturer: req.Manufacturer,
		Mark:         req.Mark,
		Plate:        req.Plate,
		Capacity:     req.Capacity,
		Tier:         req.Tier,
		Created:      req.Created,
		Location:     req.Location,
	})
	if err != nil {
		s.writeRegistrationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) writeRegistrationError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrAlreadyExists) {
		http.Error(w, "already exists", http.StatusConflict)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// handleDriverOrder returns the driver's open candidacy, or their accepted
// order when one is in flight.
func (s *Server) handleDriverOrder(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["id"]
	if c, err := s.Store.CandidacyForDriver(r.Context(), driverID); err == nil {
		o, err := s.Store.GetOrder(r.Context(), c.OrderID)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"candidacy": c, "order": o})
			return
		}
	}
	orders, err := s.Store.OrdersByDriver(r.Context(), driverID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for _, o := range orders {
		if o.Status.ActiveAssignment() {
			writeJSON(w, http.StatusOK, map[string]any{"order": o})
			return
		}
	}
	http.Error(w, "no current order", http.StatusNotFound)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.DriverLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	loc.Online = true
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(loc); err != nil {
			s.logger.Error("publish location", "driver_id", loc.DriverID, "error", err)
		}
	}
	_ = s.Geo.Upsert(r.Context(), models.Driver{
		ID:       loc.DriverID,
		Location: &loc.Loc,
		Online:   loc.Online,
		Vehicle:  models.Vehicle{Tier: loc.Tier},
	})
	if err := s.Store.UpdateDriverLocation(r.Context(), loc.DriverID, loc.Loc); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("store location", "driver_id", loc.DriverID, "error", err)
	}
	observability.LocationUpdates.Inc()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
	// drain incoming frames until the peer goes away so the session does not
	// outlive the connection
	go func() {
		defer func() {
			s.WSReg.Remove(id)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { return uuid.NewString() }
