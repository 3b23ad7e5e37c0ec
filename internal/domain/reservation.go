package domain

import (
	"net/mail"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

func NewHold(departureID uuid.UUID, seats []string, ownerID string, now time.Time, ttl time.Duration) Hold {
	return Hold{
		ID:          uuid.New(),
		DepartureID: departureID,
		Seats:       seats,
		OwnerID:     ownerID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// Expired reports whether the hold deadline has been reached at now.
func (h Hold) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

func (p PassengerDetails) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.Wrap(ErrValidation, "passenger name is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return errors.Wrap(ErrValidation, "passenger email is required")
	}
	addr, err := mail.ParseAddress(p.Email)
	if err != nil || addr.Address != strings.TrimSpace(p.Email) {
		return errors.Wrapf(ErrValidation, "invalid passenger email %q", p.Email)
	}
	return nil
}

func NewReservation(hold Hold, dep Departure, passenger PassengerDetails, now time.Time) Reservation {
	seats := make([]string, len(hold.Seats))
	copy(seats, hold.Seats)
	return Reservation{
		ID:            uuid.New(),
		HoldID:        hold.ID,
		DepartureID:   hold.DepartureID,
		UserID:        hold.OwnerID,
		Seats:         seats,
		Passenger:     passenger,
		AmountCents:   dep.PriceCents * int64(len(seats)),
		Status:        ReservationConfirmed,
		Origin:        dep.Origin,
		Destination:   dep.Destination,
		DepartureTime: dep.DepartureTime,
		ConfirmedAt:   now,
	}
}
