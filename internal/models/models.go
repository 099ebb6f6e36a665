package models

import "time"

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Vehicle is owned by exactly one driver. The tier is fixed at registration.
type Vehicle struct {
	ID           string    `json:"id"`
	Manufacturer string    `json:"manufacturer"`
	Mark         string    `json:"mark"`
	Plate        string    `json:"plate"`
	Capacity     int       `json:"capacity"`
	Tier         Tier      `json:"tier"`
	Created      time.Time `json:"created"`
}

type Driver struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Phone    string  `json:"phone"`
	Vehicle  Vehicle `json:"vehicle"`
	// Location is nil until the first fix arrives.
	Location *Point    `json:"location,omitempty"`
	Online   bool      `json:"online"`
	Updated  time.Time `json:"updated"`
}

type Customer struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Phone    string `json:"phone"`
}

type Order struct {
	ID        string    `json:"id"`
	Customer  string    `json:"customer_id"`
	Driver    string    `json:"driver_id,omitempty"`
	Departure Point     `json:"departure"`
	Arrival   Point     `json:"arrival"`
	Tier      Tier      `json:"tier"`
	Cost      int64     `json:"cost"` // minor currency units, always server-computed
	Rating    *float64  `json:"rating,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Candidacy is an ephemeral offer of an order to one driver's vehicle.
// Several may exist for one order until a driver accepts; a driver holds
// at most one open candidacy at a time.
type Candidacy struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	DriverID  string    `json:"driver_id"`
	VehicleID string    `json:"vehicle_id"`
	CreatedAt time.Time `json:"created_at"`
}

// DriverLocation is the kafka payload for location updates.
type DriverLocation struct {
	DriverID string `json:"driver_id"`
	Loc      Point  `json:"loc"`
	Tier     Tier   `json:"tier"`
	Online   bool   `json:"online"`
}

// OrderOffer is pushed to a driver over the websocket channel when a
// candidacy is created for them.
type OrderOffer struct {
	OrderID   string `json:"order_id"`
	Departure Point  `json:"departure"`
	Arrival   Point  `json:"arrival"`
	Tier      Tier   `json:"tier"`
	Cost      int64  `json:"cost"`
}
