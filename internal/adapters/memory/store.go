package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
)

// Store keeps reservations in process memory. It backs local runs without a
// database and the ledger tests.
type Store struct {
	mu           sync.RWMutex
	reservations map[uuid.UUID]domain.Reservation
	// FailInserts makes InsertReservation fail, to exercise rollback paths.
	FailInserts error
}

func NewStore() *Store {
	return &Store{reservations: make(map[uuid.UUID]domain.Reservation)}
}

func (s *Store) InsertReservation(ctx context.Context, r domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailInserts != nil {
		return s.FailInserts
	}
	if _, exists := s.reservations[r.ID]; exists {
		return errors.Newf("reservation %s already exists", r.ID)
	}
	for _, existing := range s.reservations {
		if existing.DepartureID != r.DepartureID || existing.Status != domain.ReservationConfirmed {
			continue
		}
		if overlaps(existing.Seats, r.Seats) {
			return errors.Wrapf(domain.ErrSeatUnavailable, "seats already booked on departure %s", r.DepartureID)
		}
	}
	s.reservations[r.ID] = clone(r)
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, errors.Wrapf(domain.ErrNotFound, "reservation %s", id)
	}
	return clone(r), nil
}

func (s *Store) GetReservationByHold(ctx context.Context, holdID uuid.UUID) (domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.reservations {
		if r.HoldID == holdID {
			return clone(r), nil
		}
	}
	return domain.Reservation{}, errors.Wrapf(domain.ErrNotFound, "reservation for hold %s", holdID)
}

func (s *Store) ListReservationsByUser(ctx context.Context, userID string) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Reservation
	for _, r := range s.reservations {
		if r.UserID == userID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DepartureTime.Equal(out[j].DepartureTime) {
			return out[i].ConfirmedAt.After(out[j].ConfirmedAt)
		}
		return out[i].DepartureTime.After(out[j].DepartureTime)
	})
	return out, nil
}

func (s *Store) CancelReservation(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "reservation %s", id)
	}
	if r.Status != domain.ReservationConfirmed {
		return errors.Wrapf(domain.ErrAlreadyCancelled, "reservation %s", id)
	}
	r.Status = domain.ReservationCancelled
	r.CancelledAt = &at
	s.reservations[id] = r
	return nil
}

func (s *Store) BookedSeats(ctx context.Context, departureID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var seats []string
	for _, r := range s.reservations {
		if r.DepartureID == departureID && r.Status == domain.ReservationConfirmed {
			seats = append(seats, r.Seats...)
		}
	}
	sort.Strings(seats)
	return seats, nil
}

func overlaps(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}

func clone(r domain.Reservation) domain.Reservation {
	seats := make([]string, len(r.Seats))
	copy(seats, r.Seats)
	r.Seats = seats
	if r.CancelledAt != nil {
		at := *r.CancelledAt
		r.CancelledAt = &at
	}
	return r
}
