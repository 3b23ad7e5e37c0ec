package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bus-seat-reservations/internal/adapters/memory"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/robertarktes/bus-seat-reservations/internal/hold"
	"github.com/robertarktes/bus-seat-reservations/internal/ledger"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
	"github.com/robertarktes/bus-seat-reservations/internal/seatmap"
	"github.com/robertarktes/bus-seat-reservations/internal/sweeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAuditor struct {
	mock.Mock
}

func (m *mockAuditor) LogHold(ctx context.Context, action string, h domain.Hold) error {
	return m.Called(ctx, action, h).Error(0)
}

func (m *mockAuditor) LogReservation(ctx context.Context, action string, r domain.Reservation) error {
	return m.Called(ctx, action, r).Error(0)
}

func (m *mockAuditor) LogCancellation(ctx context.Context, reservationID uuid.UUID, userID string) error {
	return m.Called(ctx, reservationID, userID).Error(0)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	coord   *Coordinator
	holds   *hold.Manager
	ledger  *ledger.Ledger
	seats   *seatmap.Registry
	catalog *memory.Catalog
	store   *memory.Store
	clock   *testClock
	dep     domain.Departure
}

var ana = domain.PassengerDetails{Name: "Ana Silva", Email: "ana@example.com"}

// newHarness builds departure D: four seats 1A..1D at 20.00 per seat.
func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clk := &testClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	dep := domain.Departure{
		ID:            uuid.New(),
		Origin:        "Coimbra",
		Destination:   "Faro",
		DepartureTime: clk.now.Add(48 * time.Hour),
		ArrivalTime:   clk.now.Add(53 * time.Hour),
		Capacity:      4,
		PriceCents:    2000,
	}
	store := memory.NewStore()
	catalog := memory.NewCatalog(dep)
	seats := seatmap.NewRegistry(catalog, store, 4)
	holds := hold.NewManager(seats, 10*time.Minute, 10, hold.WithClock(clk.Now))
	l := ledger.New(store, holds, seats, catalog, observability.NewNopLogger(), ledger.WithClock(clk.Now))
	coord := NewCoordinator(holds, l, seats, catalog, observability.NewNopLogger(), 10*time.Minute, 10, opts...)
	return &harness{coord: coord, holds: holds, ledger: l, seats: seats, catalog: catalog, store: store, clock: clk, dep: dep}
}

func (h *harness) states(t *testing.T) map[string]domain.SeatState {
	t.Helper()
	seats, err := h.coord.SeatMap(context.Background(), h.dep.ID)
	require.NoError(t, err)
	out := make(map[string]domain.SeatState)
	for _, s := range seats {
		out[s.Label] = s.State
	}
	return out
}

func (h *harness) checkout(userID string, seats ...string) (domain.Hold, error) {
	return h.coord.StartCheckout(context.Background(), CheckoutRequest{
		DepartureID:    h.dep.ID,
		Seats:          seats,
		PassengerCount: len(seats),
		UserID:         userID,
	})
}

func TestCoordinator_ExampleWalkthrough(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h1, err := h.checkout("U1", "1A", "1B")
	require.NoError(t, err)

	_, err = h.checkout("U2", "1B", "1C")
	assert.True(t, errors.Is(err, domain.ErrSeatUnavailable))

	res, err := h.coord.Confirm(ctx, h1.ID, "U1", ana)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), res.AmountCents)

	states := h.states(t)
	assert.Equal(t, domain.SeatBooked, states["1A"])
	assert.Equal(t, domain.SeatBooked, states["1B"])
	assert.Equal(t, domain.SeatAvailable, states["1C"])

	_, err = h.checkout("U2", "1C", "1D")
	assert.NoError(t, err)

	list, err := h.coord.Reservations(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.ID, list[0].ID)
}

func TestCoordinator_ExpiredHoldIsSweptAndReheld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	held, err := h.checkout("U1", "1A")
	require.NoError(t, err)

	later := h.clock.Now().Add(11 * time.Minute)
	h.clock.Set(later)
	n, err := sweeper.New(h.holds, observability.NewNopLogger(), time.Minute).SweepOnce(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.SeatAvailable, h.states(t)["1A"])

	_, err = h.coord.Confirm(ctx, held.ID, "U1", ana)
	assert.True(t, errors.Is(err, domain.ErrHoldNotFound))

	_, err = h.checkout("U2", "1A")
	assert.NoError(t, err)
}

func TestCoordinator_ConfirmExpiredHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	held, err := h.checkout("U1", "1B", "1C")
	require.NoError(t, err)
	h.clock.Set(held.ExpiresAt)

	_, err = h.coord.Confirm(ctx, held.ID, "U1", ana)
	assert.True(t, errors.Is(err, domain.ErrHoldExpired))
	states := h.states(t)
	assert.Equal(t, domain.SeatAvailable, states["1B"])
	assert.Equal(t, domain.SeatAvailable, states["1C"])
}

func TestCoordinator_StartCheckoutRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.StartCheckout(ctx, CheckoutRequest{DepartureID: h.dep.ID, Seats: []string{"1A"}, PassengerCount: 2, UserID: "U1"})
	assert.True(t, errors.Is(err, domain.ErrSeatCountMismatch))

	_, err = h.coord.StartCheckout(ctx, CheckoutRequest{DepartureID: h.dep.ID, PassengerCount: 0, UserID: "U1"})
	assert.True(t, errors.Is(err, domain.ErrInvalidSeatSet))

	_, err = h.coord.StartCheckout(ctx, CheckoutRequest{DepartureID: h.dep.ID, Seats: []string{"1A", "1B"}, PassengerCount: 0, UserID: "U1"})
	assert.True(t, errors.Is(err, domain.ErrSeatCountMismatch))

	_, err = h.coord.StartCheckout(ctx, CheckoutRequest{DepartureID: h.dep.ID, Seats: make([]string, 11), PassengerCount: 11, UserID: "U1"})
	assert.True(t, errors.Is(err, domain.ErrInvalidSeatSet))

	_, err = h.coord.StartCheckout(ctx, CheckoutRequest{DepartureID: uuid.New(), Seats: []string{"1A"}, PassengerCount: 1, UserID: "U1"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = h.checkout("U1", "9Z")
	assert.True(t, errors.Is(err, domain.ErrInvalidSeatSet))

	for label, state := range h.states(t) {
		assert.Equal(t, domain.SeatAvailable, state, label)
	}
}

func TestCoordinator_ConfirmKeepsHoldOnValidationError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	held, err := h.checkout("U1", "1A")
	require.NoError(t, err)

	_, err = h.coord.Confirm(ctx, held.ID, "U1", domain.PassengerDetails{Name: "", Email: "ana@example.com"})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = h.coord.Confirm(ctx, held.ID, "U2", ana)
	assert.True(t, errors.Is(err, domain.ErrNotOwner))

	assert.Equal(t, domain.SeatHeld, h.states(t)["1A"])
	res, err := h.coord.Confirm(ctx, held.ID, "U1", ana)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), res.AmountCents)
}

func TestCoordinator_ConfirmStorageFailureReleasesHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.FailInserts = errors.New("disk full")

	held, err := h.checkout("U1", "1A", "1B")
	require.NoError(t, err)

	_, err = h.coord.Confirm(ctx, held.ID, "U1", ana)
	assert.True(t, errors.Is(err, domain.ErrStorageFailure))

	_, live := h.holds.Get(held.ID)
	assert.False(t, live)
	states := h.states(t)
	assert.Equal(t, domain.SeatAvailable, states["1A"])
	assert.Equal(t, domain.SeatAvailable, states["1B"])

	list, err := h.coord.Reservations(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCoordinator_AbandonAndExtend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	held, err := h.checkout("U1", "1D")
	require.NoError(t, err)

	err = h.coord.Abandon(ctx, held.ID, "U2")
	assert.True(t, errors.Is(err, domain.ErrNotOwner))

	h.clock.Set(h.clock.Now().Add(5 * time.Minute))
	extended, err := h.coord.Extend(ctx, held.ID, "U1")
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(10*time.Minute), extended.ExpiresAt)

	require.NoError(t, h.coord.Abandon(ctx, held.ID, "U1"))
	assert.Equal(t, domain.SeatAvailable, h.states(t)["1D"])

	err = h.coord.Abandon(ctx, held.ID, "U1")
	assert.True(t, errors.Is(err, domain.ErrHoldNotFound))
	_, err = h.coord.Extend(ctx, held.ID, "U1")
	assert.True(t, errors.Is(err, domain.ErrHoldNotFound))
}

// claimingHolds lets a confirm claim the hold right after it is looked up.
type claimingHolds struct {
	*hold.Manager
}

func (c claimingHolds) Get(holdID uuid.UUID) (domain.Hold, bool) {
	h, ok := c.Manager.Get(holdID)
	if ok {
		_, _ = c.Manager.Claim(context.Background(), holdID, h.OwnerID)
	}
	return h, ok
}

func TestCoordinator_AbandonLosingToConfirm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	auditor := new(mockAuditor)
	auditor.On("LogHold", mock.Anything, "hold.created", mock.Anything).Return(nil)
	coord := NewCoordinator(claimingHolds{h.holds}, h.ledger, h.seats, h.catalog, observability.NewNopLogger(), 10*time.Minute, 10, WithAuditor(auditor))

	held, err := coord.StartCheckout(ctx, CheckoutRequest{DepartureID: h.dep.ID, Seats: []string{"1A"}, PassengerCount: 1, UserID: "U1"})
	require.NoError(t, err)

	err = coord.Abandon(ctx, held.ID, "U1")
	assert.True(t, errors.Is(err, domain.ErrHoldNotFound))

	auditor.AssertNotCalled(t, "LogHold", mock.Anything, "hold.released", mock.Anything)
	assert.Equal(t, domain.SeatHeld, h.states(t)["1A"])
}

func TestCoordinator_CancelReturnsSeats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	held, err := h.checkout("U1", "1A", "1B")
	require.NoError(t, err)
	res, err := h.coord.Confirm(ctx, held.ID, "U1", ana)
	require.NoError(t, err)

	assert.True(t, errors.Is(h.coord.Cancel(ctx, res.ID, "U2"), domain.ErrNotOwner))
	require.NoError(t, h.coord.Cancel(ctx, res.ID, "U1"))
	assert.True(t, errors.Is(h.coord.Cancel(ctx, res.ID, "U1"), domain.ErrAlreadyCancelled))

	_, err = h.checkout("U2", "1A", "1B")
	assert.NoError(t, err)
}

func TestCoordinator_AuditIsBestEffort(t *testing.T) {
	auditor := new(mockAuditor)
	auditor.On("LogHold", mock.Anything, "hold.created", mock.Anything).Return(errors.New("mongo down"))
	auditor.On("LogReservation", mock.Anything, "reservation.confirmed", mock.Anything).Return(nil)
	auditor.On("LogCancellation", mock.Anything, mock.Anything, "U1").Return(nil)

	h := newHarness(t, WithAuditor(auditor))
	ctx := context.Background()

	held, err := h.checkout("U1", "1C")
	require.NoError(t, err)
	res, err := h.coord.Confirm(ctx, held.ID, "U1", ana)
	require.NoError(t, err)
	require.NoError(t, h.coord.Cancel(ctx, res.ID, "U1"))

	auditor.AssertExpectations(t)
	auditor.AssertCalled(t, "LogCancellation", mock.Anything, res.ID, "U1")
}

func TestCoordinator_ConcurrentCheckoutsOnSameSeats(t *testing.T) {
	h := newHarness(t)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			held, err := h.checkout(uuid.NewString(), "1B", "1C")
			if err != nil {
				assert.True(t, errors.Is(err, domain.ErrSeatUnavailable))
				return
			}
			_, err = h.coord.Confirm(context.Background(), held.ID, held.OwnerID, ana)
			assert.NoError(t, err)
			mu.Lock()
			success++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	booked, err := h.store.BookedSeats(context.Background(), h.dep.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"1B", "1C"}, booked)
}
