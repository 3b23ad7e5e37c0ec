package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
)

type Catalog struct {
	mu         sync.RWMutex
	departures map[uuid.UUID]domain.Departure
}

func NewCatalog(departures ...domain.Departure) *Catalog {
	c := &Catalog{departures: make(map[uuid.UUID]domain.Departure)}
	for _, d := range departures {
		c.departures[d.ID] = d
	}
	return c
}

func (c *Catalog) CreateDeparture(ctx context.Context, dep domain.Departure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.departures[dep.ID] = dep
	return nil
}

func (c *Catalog) GetDeparture(ctx context.Context, id uuid.UUID) (domain.Departure, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dep, ok := c.departures[id]
	if !ok {
		return domain.Departure{}, errors.Wrapf(domain.ErrNotFound, "departure %s", id)
	}
	return dep, nil
}

// SearchDepartures matches origin and destination as case-insensitive
// substrings; empty filters match everything.
func (c *Catalog) SearchDepartures(ctx context.Context, origin, destination string) ([]domain.Departure, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	origin, destination = strings.ToLower(origin), strings.ToLower(destination)
	var out []domain.Departure
	for _, d := range c.departures {
		if strings.Contains(strings.ToLower(d.Origin), origin) && strings.Contains(strings.ToLower(d.Destination), destination) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureTime.Before(out[j].DepartureTime) })
	return out, nil
}
