package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"

	maxTxAttempts = 3
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a serializable transaction, retrying it when CockroachDB
// aborts with a serialization failure.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = r.runTx(ctx, fn)
		if !errors.Is(err, domain.ErrSerializationFailure) {
			return err
		}
	}
	return err
}

func (r *Repository) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return errors.Mark(err, domain.ErrSerializationFailure)
		case UniqueViolationCode:
			return errors.Mark(err, domain.ErrSeatUnavailable)
		}
	}
	return err
}

// InsertReservation stores the reservation, its seats and a
// reservation.confirmed outbox record in one transaction.
func (r *Repository) InsertReservation(ctx context.Context, res domain.Reservation) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "encode reservation event")
	}

	return r.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO reservations (id, hold_id, departure_id, user_id, passenger_name, passenger_email, passenger_phone,
				amount_cents, status, origin, destination, departure_time, confirmed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, res.ID, res.HoldID, res.DepartureID, res.UserID, res.Passenger.Name, res.Passenger.Email, res.Passenger.Phone,
			res.AmountCents, string(res.Status), res.Origin, res.Destination, res.DepartureTime, res.ConfirmedAt)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, seat := range res.Seats {
			batch.Queue(`
				INSERT INTO reservation_seats (reservation_id, departure_id, seat_label, position)
				VALUES ($1, $2, $3, $4)
			`, res.ID, res.DepartureID, seat, i)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		return r.InsertOutbox(ctx, tx, OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "reservation",
			AggregateID:   res.ID,
			EventType:     "reservation.confirmed",
			Payload:       payload,
			DedupeKey:     "reservation.confirmed:" + res.ID.String(),
		})
	})
}

func (r *Repository) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	var (
		res   domain.Reservation
		seats []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		row := r.pool.QueryRow(gctx, selectReservation+` WHERE id = $1`, id)
		var err error
		res, err = scanReservation(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(domain.ErrNotFound, "reservation %s", id)
		}
		return err
	})
	g.Go(func() error {
		var err error
		seats, err = r.seatsOf(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Reservation{}, err
	}

	res.Seats = seats
	return res, nil
}

// GetReservationByHold finds the reservation a hold was committed into.
func (r *Repository) GetReservationByHold(ctx context.Context, holdID uuid.UUID) (domain.Reservation, error) {
	res, err := scanReservation(r.pool.QueryRow(ctx, selectReservation+` WHERE hold_id = $1`, holdID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, errors.Wrapf(domain.ErrNotFound, "reservation for hold %s", holdID)
	}
	if err != nil {
		return domain.Reservation{}, err
	}

	res.Seats, err = r.seatsOf(ctx, res.ID)
	if err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

func (r *Repository) ListReservationsByUser(ctx context.Context, userID string) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, selectReservation+` WHERE user_id = $1 ORDER BY departure_time DESC, confirmed_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		list []domain.Reservation
		ids  []uuid.UUID
	)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, res)
		ids = append(ids, res.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return list, nil
	}

	seatRows, err := r.pool.Query(ctx, `
		SELECT reservation_id, seat_label FROM reservation_seats
		WHERE reservation_id = ANY($1) ORDER BY reservation_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer seatRows.Close()

	seats := make(map[uuid.UUID][]string, len(list))
	for seatRows.Next() {
		var (
			id    uuid.UUID
			label string
		)
		if err := seatRows.Scan(&id, &label); err != nil {
			return nil, err
		}
		seats[id] = append(seats[id], label)
	}
	if err := seatRows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Seats = seats[list[i].ID]
	}
	return list, nil
}

// CancelReservation moves a CONFIRMED reservation to CANCELLED, frees its
// seat rows and queues a reservation.cancelled event.
func (r *Repository) CancelReservation(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE reservations SET status = 'CANCELLED', cancelled_at = $2
			WHERE id = $1 AND status = 'CONFIRMED'
		`, id, at)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			var status string
			err := tx.QueryRow(ctx, `SELECT status FROM reservations WHERE id = $1`, id).Scan(&status)
			if errors.Is(err, pgx.ErrNoRows) {
				return errors.Wrapf(domain.ErrNotFound, "reservation %s", id)
			}
			if err != nil {
				return err
			}
			return errors.Wrapf(domain.ErrAlreadyCancelled, "reservation %s", id)
		}

		if _, err := tx.Exec(ctx, `UPDATE reservation_seats SET active = false WHERE reservation_id = $1`, id); err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]interface{}{"reservation_id": id, "cancelled_at": at.Format(time.RFC3339)})
		if err != nil {
			return err
		}
		return r.InsertOutbox(ctx, tx, OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "reservation",
			AggregateID:   id,
			EventType:     "reservation.cancelled",
			Payload:       payload,
			DedupeKey:     "reservation.cancelled:" + id.String(),
		})
	})
}

func (r *Repository) BookedSeats(ctx context.Context, departureID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seat_label FROM reservation_seats
		WHERE departure_id = $1 AND active ORDER BY seat_label
	`, departureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		seats = append(seats, label)
	}
	return seats, rows.Err()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) seatsOf(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seat_label FROM reservation_seats WHERE reservation_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		seats = append(seats, label)
	}
	return seats, rows.Err()
}

const selectReservation = `
	SELECT id, hold_id, departure_id, user_id, passenger_name, passenger_email, passenger_phone,
		amount_cents, status, origin, destination, departure_time, confirmed_at, cancelled_at
	FROM reservations`

func scanReservation(row pgx.Row) (domain.Reservation, error) {
	var (
		res    domain.Reservation
		status string
	)
	err := row.Scan(&res.ID, &res.HoldID, &res.DepartureID, &res.UserID, &res.Passenger.Name, &res.Passenger.Email,
		&res.Passenger.Phone, &res.AmountCents, &status, &res.Origin, &res.Destination, &res.DepartureTime,
		&res.ConfirmedAt, &res.CancelledAt)
	if err != nil {
		return domain.Reservation{}, err
	}
	res.Status = domain.ReservationStatus(status)
	return res, nil
}
