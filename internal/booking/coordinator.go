package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Holds interface {
	Create(ctx context.Context, departureID uuid.UUID, labels []string, ownerID string, ttl time.Duration) (domain.Hold, error)
	Release(ctx context.Context, holdID uuid.UUID) (bool, error)
	Extend(ctx context.Context, holdID uuid.UUID, ttl time.Duration) (domain.Hold, error)
	Get(holdID uuid.UUID) (domain.Hold, bool)
}

type Ledger interface {
	Commit(ctx context.Context, holdID uuid.UUID, ownerID string, passenger domain.PassengerDetails) (domain.Reservation, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Reservation, error)
	Cancel(ctx context.Context, reservationID uuid.UUID, requesterID string) error
}

type SeatMap interface {
	Snapshot(ctx context.Context, departureID uuid.UUID) ([]domain.Seat, error)
}

type Catalog interface {
	GetDeparture(ctx context.Context, id uuid.UUID) (domain.Departure, error)
}

// Auditor records checkout transitions. Failures are logged and never fail
// the operation.
type Auditor interface {
	LogHold(ctx context.Context, action string, hold domain.Hold) error
	LogReservation(ctx context.Context, action string, res domain.Reservation) error
	LogCancellation(ctx context.Context, reservationID uuid.UUID, userID string) error
}

type CheckoutRequest struct {
	DepartureID    uuid.UUID
	Seats          []string
	PassengerCount int
	UserID         string
}

type Coordinator struct {
	holds         Holds
	ledger        Ledger
	seats         SeatMap
	catalog       Catalog
	auditor       Auditor
	logger        observability.Logger
	holdTTL       time.Duration
	maxPassengers int
	tracer        trace.Tracer
}

type Option func(*Coordinator)

func WithAuditor(a Auditor) Option {
	return func(c *Coordinator) {
		c.auditor = a
	}
}

func NewCoordinator(holds Holds, ledger Ledger, seats SeatMap, catalog Catalog, logger observability.Logger, holdTTL time.Duration, maxPassengers int, opts ...Option) *Coordinator {
	c := &Coordinator{
		holds:         holds,
		ledger:        ledger,
		seats:         seats,
		catalog:       catalog,
		logger:        logger,
		holdTTL:       holdTTL,
		maxPassengers: maxPassengers,
		tracer:        otel.Tracer("booking"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) SeatMap(ctx context.Context, departureID uuid.UUID) ([]domain.Seat, error) {
	ctx, span := c.tracer.Start(ctx, "booking.SeatMap", trace.WithAttributes(attribute.String("departure_id", departureID.String())))
	defer span.End()

	seats, err := c.seats.Snapshot(ctx, departureID)
	return seats, record(span, err)
}

// StartCheckout places a hold on the selected seats once the passenger count
// and seat selection agree.
func (c *Coordinator) StartCheckout(ctx context.Context, req CheckoutRequest) (domain.Hold, error) {
	ctx, span := c.tracer.Start(ctx, "booking.StartCheckout", trace.WithAttributes(
		attribute.String("departure_id", req.DepartureID.String()),
		attribute.Int("passenger_count", req.PassengerCount),
	))
	defer span.End()

	if len(req.Seats) != req.PassengerCount {
		err := errors.Wrapf(domain.ErrSeatCountMismatch, "%d seats selected for %d passengers", len(req.Seats), req.PassengerCount)
		return domain.Hold{}, record(span, err)
	}
	if req.PassengerCount < 1 || req.PassengerCount > c.maxPassengers {
		err := errors.Wrapf(domain.ErrInvalidSeatSet, "passenger count %d outside 1..%d", req.PassengerCount, c.maxPassengers)
		return domain.Hold{}, record(span, err)
	}
	if _, err := c.catalog.GetDeparture(ctx, req.DepartureID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			err = domain.StorageFailure(errors.Wrap(err, "get departure"))
		}
		return domain.Hold{}, record(span, err)
	}

	h, err := c.holds.Create(ctx, req.DepartureID, req.Seats, req.UserID, c.holdTTL)
	if err != nil {
		return domain.Hold{}, record(span, err)
	}
	span.SetAttributes(attribute.String("hold_id", h.ID.String()))

	c.logger.WithField("hold_id", h.ID).WithField("departure_id", h.DepartureID).Info("seats held")
	c.auditHold(ctx, "hold.created", h)
	return h, nil
}

// Confirm commits the hold in a single attempt. When the ledger rejects the
// commit for anything but bad passenger details or a foreign hold, the hold
// is released before the error is returned.
func (c *Coordinator) Confirm(ctx context.Context, holdID uuid.UUID, userID string, passenger domain.PassengerDetails) (domain.Reservation, error) {
	ctx, span := c.tracer.Start(ctx, "booking.Confirm", trace.WithAttributes(attribute.String("hold_id", holdID.String())))
	defer span.End()

	res, err := c.ledger.Commit(ctx, holdID, userID, passenger)
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrNotOwner) {
			if _, relErr := c.holds.Release(ctx, holdID); relErr != nil {
				c.logger.WithField("hold_id", holdID).WithError(relErr).Error("failed to release hold after rejected commit")
			}
		}
		return domain.Reservation{}, record(span, err)
	}
	span.SetAttributes(attribute.String("reservation_id", res.ID.String()))

	if c.auditor != nil {
		if err := c.auditor.LogReservation(ctx, "reservation.confirmed", res); err != nil {
			c.logger.WithField("reservation_id", res.ID).WithError(err).Warn("audit failed")
		}
	}
	return res, nil
}

func (c *Coordinator) Abandon(ctx context.Context, holdID uuid.UUID, userID string) error {
	ctx, span := c.tracer.Start(ctx, "booking.Abandon", trace.WithAttributes(attribute.String("hold_id", holdID.String())))
	defer span.End()

	h, ok := c.holds.Get(holdID)
	if !ok {
		return record(span, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID))
	}
	if h.OwnerID != userID {
		return record(span, errors.Wrapf(domain.ErrNotOwner, "hold %s", holdID))
	}
	released, err := c.holds.Release(ctx, holdID)
	if err != nil {
		return record(span, err)
	}
	if !released {
		// claimed by a confirm or reclaimed since the lookup
		return record(span, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID))
	}

	c.logger.WithField("hold_id", holdID).WithField("departure_id", h.DepartureID).Info("hold abandoned")
	c.auditHold(ctx, "hold.released", h)
	return nil
}

// Extend pushes the hold deadline out by the configured TTL from now.
func (c *Coordinator) Extend(ctx context.Context, holdID uuid.UUID, userID string) (domain.Hold, error) {
	ctx, span := c.tracer.Start(ctx, "booking.Extend", trace.WithAttributes(attribute.String("hold_id", holdID.String())))
	defer span.End()

	h, ok := c.holds.Get(holdID)
	if !ok {
		return domain.Hold{}, record(span, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID))
	}
	if h.OwnerID != userID {
		return domain.Hold{}, record(span, errors.Wrapf(domain.ErrNotOwner, "hold %s", holdID))
	}
	h, err := c.holds.Extend(ctx, holdID, c.holdTTL)
	if err != nil {
		return domain.Hold{}, record(span, err)
	}
	c.auditHold(ctx, "hold.extended", h)
	return h, nil
}

func (c *Coordinator) Reservations(ctx context.Context, userID string) ([]domain.Reservation, error) {
	ctx, span := c.tracer.Start(ctx, "booking.Reservations")
	defer span.End()

	list, err := c.ledger.ListForUser(ctx, userID)
	return list, record(span, err)
}

func (c *Coordinator) Cancel(ctx context.Context, reservationID uuid.UUID, userID string) error {
	ctx, span := c.tracer.Start(ctx, "booking.Cancel", trace.WithAttributes(attribute.String("reservation_id", reservationID.String())))
	defer span.End()

	if err := c.ledger.Cancel(ctx, reservationID, userID); err != nil {
		return record(span, err)
	}
	if c.auditor != nil {
		if err := c.auditor.LogCancellation(ctx, reservationID, userID); err != nil {
			c.logger.WithField("reservation_id", reservationID).WithError(err).Warn("audit failed")
		}
	}
	return nil
}

func (c *Coordinator) auditHold(ctx context.Context, action string, h domain.Hold) {
	if c.auditor == nil {
		return
	}
	if err := c.auditor.LogHold(ctx, action, h); err != nil {
		c.logger.WithField("hold_id", h.ID).WithError(err).Warn("audit failed")
	}
}

func record(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
