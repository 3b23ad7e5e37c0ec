package ledger

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
)

// Store is the durable side of the ledger. InsertReservation and
// CancelReservation must each be atomic.
type Store interface {
	InsertReservation(ctx context.Context, r domain.Reservation) error
	GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error)
	GetReservationByHold(ctx context.Context, holdID uuid.UUID) (domain.Reservation, error)
	// ListReservationsByUser returns the user's reservations, latest departure first.
	ListReservationsByUser(ctx context.Context, userID string) ([]domain.Reservation, error)
	// CancelReservation flips a CONFIRMED reservation to CANCELLED and fails
	// with domain.ErrAlreadyCancelled if it is not CONFIRMED any more.
	CancelReservation(ctx context.Context, id uuid.UUID, at time.Time) error
	BookedSeats(ctx context.Context, departureID uuid.UUID) ([]string, error)
}

type Holds interface {
	Claim(ctx context.Context, holdID uuid.UUID, ownerID string) (domain.Hold, error)
	Settle(ctx context.Context, holdID uuid.UUID) error
	Revert(ctx context.Context, holdID uuid.UUID) error
}

type SeatMap interface {
	Ensure(ctx context.Context, departureID uuid.UUID) error
	TryMark(ctx context.Context, departureID uuid.UUID, labels []string, from, to domain.SeatState) error
}

type Catalog interface {
	GetDeparture(ctx context.Context, id uuid.UUID) (domain.Departure, error)
}

type Ledger struct {
	store   Store
	holds   Holds
	seats   SeatMap
	catalog Catalog
	logger  observability.Logger
	now     func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func New(store Store, holds Holds, seats SeatMap, catalog Catalog, logger observability.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		holds:   holds,
		seats:   seats,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Commit turns a live hold into a reservation. Malformed passenger details
// are rejected before the hold is touched. Once the hold is claimed either the
// reservation is stored and its seats booked, or nothing is stored and the
// seats are given back.
func (l *Ledger) Commit(ctx context.Context, holdID uuid.UUID, ownerID string, passenger domain.PassengerDetails) (domain.Reservation, error) {
	if err := passenger.Validate(); err != nil {
		return domain.Reservation{}, err
	}

	hold, err := l.holds.Claim(ctx, holdID, ownerID)
	if err != nil {
		return domain.Reservation{}, err
	}
	log := l.logger.WithField("hold_id", hold.ID).WithField("departure_id", hold.DepartureID)

	dep, err := l.catalog.GetDeparture(ctx, hold.DepartureID)
	if err != nil {
		l.revert(ctx, log, hold.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Reservation{}, err
		}
		return domain.Reservation{}, domain.StorageFailure(errors.Wrap(err, "get departure"))
	}

	res := domain.NewReservation(hold, dep, passenger, l.now())
	if err := l.store.InsertReservation(ctx, res); err != nil {
		if errors.Is(err, domain.ErrSeatUnavailable) {
			l.revert(ctx, log, hold.ID)
			return domain.Reservation{}, errors.Wrap(err, "insert reservation")
		}
		stored, found := l.resolveInsert(ctx, log, hold.ID, err)
		if !found {
			l.revert(ctx, log, hold.ID)
			return domain.Reservation{}, domain.StorageFailure(errors.Wrap(err, "insert reservation"))
		}
		res = stored
	}

	if err := l.holds.Settle(ctx, hold.ID); err != nil {
		// the reservation is stored; seat state is rebuilt from the store on restart
		log.WithError(err).Error("failed to book seats of committed hold")
		return res, nil
	}

	observability.ReservationsConfirmed.Inc()
	log.WithField("reservation_id", res.ID).Info("reservation committed")
	return res, nil
}

// resolveInsert decides whether a failed insert was stored anyway, as with a
// connection lost after COMMIT. Reservations are unique per hold.
func (l *Ledger) resolveInsert(ctx context.Context, log observability.Logger, holdID uuid.UUID, insertErr error) (domain.Reservation, bool) {
	stored, err := l.store.GetReservationByHold(context.WithoutCancel(ctx), holdID)
	switch {
	case err == nil:
		log.WithError(insertErr).WithField("reservation_id", stored.ID).Warn("insert reported failure but reservation is stored")
		return stored, true
	case errors.Is(err, domain.ErrNotFound):
		return domain.Reservation{}, false
	default:
		log.WithError(err).Error("failed to resolve reservation insert")
		return domain.Reservation{}, false
	}
}

func (l *Ledger) ListForUser(ctx context.Context, userID string) ([]domain.Reservation, error) {
	list, err := l.store.ListReservationsByUser(ctx, userID)
	if err != nil {
		return nil, domain.StorageFailure(errors.Wrap(err, "list reservations"))
	}
	return list, nil
}

func (l *Ledger) Get(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
	r, err := l.store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Reservation{}, err
		}
		return domain.Reservation{}, domain.StorageFailure(errors.Wrap(err, "get reservation"))
	}
	return r, nil
}

// Cancel lets the owner cancel a reservation, returning its seats.
func (l *Ledger) Cancel(ctx context.Context, reservationID uuid.UUID, requesterID string) error {
	r, err := l.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.UserID != requesterID {
		return errors.Wrapf(domain.ErrNotOwner, "reservation %s", reservationID)
	}
	if r.Status == domain.ReservationCancelled {
		return errors.Wrapf(domain.ErrAlreadyCancelled, "reservation %s", reservationID)
	}

	// load the seat table first so it still sees these seats as booked
	if err := l.seats.Ensure(ctx, r.DepartureID); err != nil {
		return err
	}
	if err := l.store.CancelReservation(ctx, reservationID, l.now()); err != nil {
		if errors.Is(err, domain.ErrAlreadyCancelled) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return domain.StorageFailure(errors.Wrap(err, "cancel reservation"))
	}

	log := l.logger.WithField("reservation_id", reservationID).WithField("departure_id", r.DepartureID)
	if err := l.seats.TryMark(ctx, r.DepartureID, r.Seats, domain.SeatBooked, domain.SeatAvailable); err != nil {
		log.WithError(err).Error("failed to free seats of cancelled reservation")
	}
	observability.ReservationsCancelled.Inc()
	log.Info("reservation cancelled")
	return nil
}

func (l *Ledger) revert(ctx context.Context, log observability.Logger, holdID uuid.UUID) {
	if err := l.holds.Revert(ctx, holdID); err != nil {
		log.WithError(err).Error("failed to revert claimed hold")
	}
}
