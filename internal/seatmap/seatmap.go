package seatmap

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"golang.org/x/sync/singleflight"
)

const loadTimeout = 10 * time.Second

type Catalog interface {
	GetDeparture(ctx context.Context, id uuid.UUID) (domain.Departure, error)
}

// BookedSeatsLoader returns the seats already booked by non-cancelled
// reservations, used to seed a departure the first time it is touched.
type BookedSeatsLoader interface {
	BookedSeats(ctx context.Context, departureID uuid.UUID) ([]string, error)
}

// departureSeats is the seat table of one departure. Every read and write
// goes through mu, which is never held across I/O.
type departureSeats struct {
	mu     sync.Mutex
	labels []string
	index  map[string]int
	states []domain.SeatState
}

func newDepartureSeats(labels []string) *departureSeats {
	d := &departureSeats{
		labels: labels,
		index:  make(map[string]int, len(labels)),
		states: make([]domain.SeatState, len(labels)),
	}
	for i, l := range labels {
		d.index[l] = i
		d.states[i] = domain.SeatAvailable
	}
	return d
}

// Registry owns the seat tables of all departures, created on demand.
type Registry struct {
	catalog     Catalog
	loader      BookedSeatsLoader
	seatsPerRow int

	mu    sync.RWMutex
	seats map[uuid.UUID]*departureSeats
	group singleflight.Group
}

func NewRegistry(catalog Catalog, loader BookedSeatsLoader, seatsPerRow int) *Registry {
	return &Registry{
		catalog:     catalog,
		loader:      loader,
		seatsPerRow: seatsPerRow,
		seats:       make(map[uuid.UUID]*departureSeats),
	}
}

// Ensure initializes the seat table of a departure if it is not loaded yet.
func (r *Registry) Ensure(ctx context.Context, departureID uuid.UUID) error {
	_, err := r.get(ctx, departureID)
	return err
}

func (r *Registry) Snapshot(ctx context.Context, departureID uuid.UUID) ([]domain.Seat, error) {
	d, err := r.get(ctx, departureID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Seat, len(d.labels))
	for i, l := range d.labels {
		out[i] = domain.Seat{Label: l, State: d.states[i]}
	}
	return out, nil
}

// TryMark moves every label from one state to another, or none of them.
func (r *Registry) TryMark(ctx context.Context, departureID uuid.UUID, labels []string, from, to domain.SeatState) error {
	d, err := r.get(ctx, departureID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	positions := make([]int, len(labels))
	for i, l := range labels {
		pos, ok := d.index[l]
		if !ok {
			return errors.Wrapf(domain.ErrInvalidSeatSet, "unknown seat %q", l)
		}
		if d.states[pos] != from {
			return errors.Wrapf(domain.ErrSeatUnavailable, "seat %s is %s", l, d.states[pos])
		}
		positions[i] = pos
	}
	for _, pos := range positions {
		d.states[pos] = to
	}
	return nil
}

func (r *Registry) get(ctx context.Context, departureID uuid.UUID) (*departureSeats, error) {
	r.mu.RLock()
	d, ok := r.seats[departureID]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	// The shared load outlives any single caller; each caller still gives up
	// on its own context.
	ch := r.group.DoChan(departureID.String(), func() (interface{}, error) {
		r.mu.RLock()
		existing, ok := r.seats[departureID]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		loaded, err := r.load(loadCtx, departureID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.seats[departureID]; ok {
			return existing, nil
		}
		r.seats[departureID] = loaded
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*departureSeats), nil
	}
}

func (r *Registry) load(ctx context.Context, departureID uuid.UUID) (*departureSeats, error) {
	dep, err := r.catalog.GetDeparture(ctx, departureID)
	if err != nil {
		return nil, err
	}
	labels := Labels(dep.Capacity, r.seatsPerRow)
	if len(labels) == 0 {
		return nil, errors.Wrapf(domain.ErrNotFound, "departure %s has no seats (capacity %d)", departureID, dep.Capacity)
	}
	d := newDepartureSeats(labels)

	if r.loader == nil {
		return d, nil
	}
	booked, err := r.loader.BookedSeats(ctx, departureID)
	if err != nil {
		return nil, domain.StorageFailure(errors.Wrap(err, "load booked seats"))
	}
	for _, l := range booked {
		if pos, ok := d.index[l]; ok {
			d.states[pos] = domain.SeatBooked
		}
	}
	return d, nil
}
