package crdb_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/bus-seat-reservations/internal/adapters/crdb"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startCockroach(t *testing.T) *crdb.Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping cockroach container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "26257")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgresql://root@%s:%s/defaultdb?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := crdb.NewRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

func newReservation(depID uuid.UUID, userID string, departs time.Time, seats ...string) domain.Reservation {
	hold := domain.Hold{ID: uuid.New(), DepartureID: depID, Seats: seats, OwnerID: userID}
	dep := domain.Departure{ID: depID, Origin: "Lisbon", Destination: "Porto", DepartureTime: departs, PriceCents: 2000}
	passenger := domain.PassengerDetails{Name: "Ana Silva", Email: "ana@example.com", Phone: "+351000000"}
	return domain.NewReservation(hold, dep, passenger, time.Now().UTC().Truncate(time.Microsecond))
}

func TestRepository_Reservations(t *testing.T) {
	repo := startCockroach(t)
	ctx := context.Background()

	depID := uuid.New()
	departs := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

	first := newReservation(depID, "u1", departs, "2B", "2A")
	require.NoError(t, repo.InsertReservation(ctx, first))

	clash := newReservation(depID, "u2", departs, "2C", "2A")
	err := repo.InsertReservation(ctx, clash)
	assert.True(t, errors.Is(err, domain.ErrSeatUnavailable), "got %v", err)

	got, err := repo.GetReservation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2B", "2A"}, got.Seats)
	assert.Equal(t, int64(4000), got.AmountCents)
	assert.Equal(t, domain.ReservationConfirmed, got.Status)
	assert.Equal(t, first.Passenger, got.Passenger)

	booked, err := repo.BookedSeats(ctx, depID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2A", "2B"}, booked)

	later := newReservation(uuid.New(), "u1", departs.Add(48*time.Hour), "1A")
	require.NoError(t, repo.InsertReservation(ctx, later))

	list, err := repo.ListReservationsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, later.ID, list[0].ID)
	assert.Equal(t, []string{"1A"}, list[0].Seats)
	assert.Equal(t, first.ID, list[1].ID)

	_, err = repo.GetReservation(ctx, uuid.New())
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	byHold, err := repo.GetReservationByHold(ctx, first.HoldID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byHold.ID)
	assert.Equal(t, []string{"2B", "2A"}, byHold.Seats)

	_, err = repo.GetReservationByHold(ctx, uuid.New())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRepository_CancelReservation(t *testing.T) {
	repo := startCockroach(t)
	ctx := context.Background()

	depID := uuid.New()
	res := newReservation(depID, "u1", time.Date(2026, 7, 2, 8, 0, 0, 0, time.UTC), "3A", "3B")
	require.NoError(t, repo.InsertReservation(ctx, res))

	at := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.CancelReservation(ctx, res.ID, at))

	err := repo.CancelReservation(ctx, res.ID, at)
	assert.True(t, errors.Is(err, domain.ErrAlreadyCancelled))
	err = repo.CancelReservation(ctx, uuid.New(), at)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	got, err := repo.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	assert.True(t, at.Equal(*got.CancelledAt))

	booked, err := repo.BookedSeats(ctx, depID)
	require.NoError(t, err)
	assert.Empty(t, booked)

	rebook := newReservation(depID, "u2", res.DepartureTime, "3A")
	assert.NoError(t, repo.InsertReservation(ctx, rebook))

	records, err := repo.GetUnpublishedOutbox(ctx, 10)
	require.NoError(t, err)
	var types []string
	for _, rec := range records {
		types = append(types, rec.EventType)
	}
	assert.Equal(t, []string{"reservation.confirmed", "reservation.cancelled", "reservation.confirmed"}, types)

	require.NoError(t, repo.MarkPublished(ctx, records[0].ID, time.Now()))
	records, err = repo.GetUnpublishedOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRepository_ConcurrentInsertsOnSameSeat(t *testing.T) {
	repo := startCockroach(t)
	ctx := context.Background()
	depID := uuid.New()
	departs := time.Date(2026, 7, 3, 8, 0, 0, 0, time.UTC)

	const workers = 6
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.InsertReservation(ctx, newReservation(depID, fmt.Sprintf("u%d", i), departs, "5C"))
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	booked, err := repo.BookedSeats(ctx, depID)
	require.NoError(t, err)
	assert.Equal(t, []string{"5C"}, booked)
}
