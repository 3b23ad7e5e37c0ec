package domain

import (
	"time"

	"github.com/google/uuid"
)

type SeatState string

const (
	SeatAvailable SeatState = "AVAILABLE"
	SeatHeld      SeatState = "HELD"
	SeatBooked    SeatState = "BOOKED"
)

type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Departure is one scheduled bus trip as supplied by the catalog.
type Departure struct {
	ID            uuid.UUID `json:"id"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	DepartureTime time.Time `json:"departure_time"`
	ArrivalTime   time.Time `json:"arrival_time"`
	Capacity      int       `json:"capacity"`
	PriceCents    int64     `json:"price_cents"`
}

type Seat struct {
	Label string    `json:"label"`
	State SeatState `json:"state"`
}

type Hold struct {
	ID          uuid.UUID `json:"id"`
	DepartureID uuid.UUID `json:"departure_id"`
	Seats       []string  `json:"seats"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type PassengerDetails struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Reservation struct {
	ID            uuid.UUID         `json:"id"`
	HoldID        uuid.UUID         `json:"hold_id"`
	DepartureID   uuid.UUID         `json:"departure_id"`
	UserID        string            `json:"user_id"`
	Seats         []string          `json:"seats"`
	Passenger     PassengerDetails  `json:"passenger"`
	AmountCents   int64             `json:"amount_cents"`
	Status        ReservationStatus `json:"status"`
	Origin        string            `json:"origin"`
	Destination   string            `json:"destination"`
	DepartureTime time.Time         `json:"departure_time"`
	ConfirmedAt   time.Time         `json:"confirmed_at"`
	CancelledAt   *time.Time        `json:"cancelled_at,omitempty"`
}
