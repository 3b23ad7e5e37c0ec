package hold

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
)

type SeatMap interface {
	TryMark(ctx context.Context, departureID uuid.UUID, labels []string, from, to domain.SeatState) error
}

// state is the ownership token of a hold. Commit, release and sweep all move
// it out of stateHeld under the entry lock, so only the first of them wins.
type state int

const (
	stateHeld state = iota
	stateCommitting
	stateReleased
)

type entry struct {
	mu    sync.Mutex
	hold  domain.Hold
	state state
}

// Manager keeps the live holds of this process. Lock order is entry.mu, then
// Manager.mu, then the seat map's per-departure lock.
type Manager struct {
	seats      SeatMap
	defaultTTL time.Duration
	maxSeats   int
	now        func() time.Time

	mu    sync.RWMutex
	holds map[uuid.UUID]*entry
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(seats SeatMap, defaultTTL time.Duration, maxSeats int, opts ...Option) *Manager {
	m := &Manager{
		seats:      seats,
		defaultTTL: defaultTTL,
		maxSeats:   maxSeats,
		now:        time.Now,
		holds:      make(map[uuid.UUID]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Create(ctx context.Context, departureID uuid.UUID, labels []string, ownerID string, ttl time.Duration) (domain.Hold, error) {
	if err := m.validate(labels); err != nil {
		return domain.Hold{}, err
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	seats := make([]string, len(labels))
	copy(seats, labels)
	if err := m.seats.TryMark(ctx, departureID, seats, domain.SeatAvailable, domain.SeatHeld); err != nil {
		if errors.Is(err, domain.ErrSeatUnavailable) {
			observability.HoldConflicts.Inc()
		}
		return domain.Hold{}, err
	}

	h := domain.NewHold(departureID, seats, ownerID, m.now(), ttl)
	m.mu.Lock()
	m.holds[h.ID] = &entry{hold: h}
	m.mu.Unlock()

	observability.HoldsCreated.Inc()
	return copyHold(h), nil
}

// Release returns the held seats and drops the hold, reporting whether this
// call did so. Releasing a hold that is gone, committed or being committed is
// a no-op.
func (m *Manager) Release(ctx context.Context, holdID uuid.UUID) (bool, error) {
	e := m.lookup(holdID)
	if e == nil {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateHeld {
		return false, nil
	}
	if err := m.releaseLocked(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) Extend(ctx context.Context, holdID uuid.UUID, ttl time.Duration) (domain.Hold, error) {
	e := m.lookup(holdID)
	if e == nil {
		return domain.Hold{}, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateHeld {
		return domain.Hold{}, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID)
	}
	now := m.now()
	if e.hold.Expired(now) {
		return domain.Hold{}, errors.Wrapf(domain.ErrHoldExpired, "hold %s expired at %s", holdID, e.hold.ExpiresAt.Format(time.RFC3339))
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	e.hold.ExpiresAt = now.Add(ttl)
	return copyHold(e.hold), nil
}

// Claim takes the hold for a commit. The deadline is checked here, at commit
// time; an expired hold is released on the spot.
func (m *Manager) Claim(ctx context.Context, holdID uuid.UUID, ownerID string) (domain.Hold, error) {
	e := m.lookup(holdID)
	if e == nil {
		return domain.Hold{}, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateHeld {
		return domain.Hold{}, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID)
	}
	if e.hold.OwnerID != ownerID {
		return domain.Hold{}, errors.Wrapf(domain.ErrNotOwner, "hold %s", holdID)
	}
	if e.hold.Expired(m.now()) {
		if err := m.releaseLocked(ctx, e); err != nil {
			return domain.Hold{}, err
		}
		return domain.Hold{}, errors.Wrapf(domain.ErrHoldExpired, "hold %s expired at %s", holdID, e.hold.ExpiresAt.Format(time.RFC3339))
	}
	e.state = stateCommitting
	return copyHold(e.hold), nil
}

// Settle books the seats of a claimed hold and drops it.
func (m *Manager) Settle(ctx context.Context, holdID uuid.UUID) error {
	return m.finish(ctx, holdID, domain.SeatBooked)
}

// Revert gives the seats of a claimed hold back and drops it.
func (m *Manager) Revert(ctx context.Context, holdID uuid.UUID) error {
	return m.finish(ctx, holdID, domain.SeatAvailable)
}

// Expire releases the hold if it is still held and past its deadline at now.
// It reports whether this call released it.
func (m *Manager) Expire(ctx context.Context, holdID uuid.UUID, now time.Time) (bool, error) {
	e := m.lookup(holdID)
	if e == nil {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateHeld || !e.hold.Expired(now) {
		return false, nil
	}
	if err := m.releaseLocked(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}

// Expired lists the held holds whose deadline has passed at now.
func (m *Manager) Expired(now time.Time) []domain.Hold {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.holds))
	for _, e := range m.holds {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []domain.Hold
	for _, e := range entries {
		e.mu.Lock()
		if e.state == stateHeld && e.hold.Expired(now) {
			out = append(out, copyHold(e.hold))
		}
		e.mu.Unlock()
	}
	return out
}

// Get returns a hold that is still held.
func (m *Manager) Get(holdID uuid.UUID) (domain.Hold, bool) {
	e := m.lookup(holdID)
	if e == nil {
		return domain.Hold{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateHeld {
		return domain.Hold{}, false
	}
	return copyHold(e.hold), true
}

func (m *Manager) finish(ctx context.Context, holdID uuid.UUID, to domain.SeatState) error {
	e := m.lookup(holdID)
	if e == nil {
		return errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateCommitting {
		return errors.Wrapf(domain.ErrHoldNotFound, "hold %s is not being committed", holdID)
	}
	e.state = stateReleased
	m.forget(holdID)
	if err := m.seats.TryMark(ctx, e.hold.DepartureID, e.hold.Seats, domain.SeatHeld, to); err != nil {
		return errors.Wrapf(err, "finish hold %s", holdID)
	}
	return nil
}

func (m *Manager) releaseLocked(ctx context.Context, e *entry) error {
	e.state = stateReleased
	m.forget(e.hold.ID)
	if err := m.seats.TryMark(ctx, e.hold.DepartureID, e.hold.Seats, domain.SeatHeld, domain.SeatAvailable); err != nil {
		return errors.Wrapf(err, "release hold %s", e.hold.ID)
	}
	return nil
}

func (m *Manager) validate(labels []string) error {
	if len(labels) == 0 {
		return errors.Wrap(domain.ErrInvalidSeatSet, "no seats requested")
	}
	if len(labels) > m.maxSeats {
		return errors.Wrapf(domain.ErrInvalidSeatSet, "%d seats requested, at most %d allowed", len(labels), m.maxSeats)
	}
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if l == "" {
			return errors.Wrap(domain.ErrInvalidSeatSet, "empty seat label")
		}
		if _, dup := seen[l]; dup {
			return errors.Wrapf(domain.ErrInvalidSeatSet, "duplicate seat %q", l)
		}
		seen[l] = struct{}{}
	}
	return nil
}

func (m *Manager) lookup(holdID uuid.UUID) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.holds[holdID]
}

func (m *Manager) forget(holdID uuid.UUID) {
	m.mu.Lock()
	delete(m.holds, holdID)
	m.mu.Unlock()
}

func copyHold(h domain.Hold) domain.Hold {
	seats := make([]string, len(h.Seats))
	copy(seats, h.Seats)
	h.Seats = seats
	return h
}
