package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

type Catalog interface {
	GetDeparture(ctx context.Context, id uuid.UUID) (domain.Departure, error)
	SearchDepartures(ctx context.Context, origin, destination string) ([]domain.Departure, error)
}

// CatalogCache is a read-through cache for departures. Departure documents
// do not change once published, so entries are only aged out by TTL.
type CatalogCache struct {
	next   Catalog
	cache  *Cache
	ttl    time.Duration
	logger observability.Logger
}

func NewCatalogCache(next Catalog, cache *Cache, ttl time.Duration, logger observability.Logger) *CatalogCache {
	return &CatalogCache{next: next, cache: cache, ttl: ttl, logger: logger}
}

func departureKey(id uuid.UUID) string {
	return "departure:" + id.String()
}

func (c *CatalogCache) GetDeparture(ctx context.Context, id uuid.UUID) (domain.Departure, error) {
	key := departureKey(id)
	val, err := c.cache.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var dep domain.Departure
		if err := json.Unmarshal(val, &dep); err == nil {
			return dep, nil
		}
		c.logger.WithField("departure_id", id).Warn("dropping undecodable cached departure")
	case !errors.Is(err, redis.Nil):
		c.logger.WithField("departure_id", id).WithError(err).Warn("departure cache unavailable")
	}

	dep, err := c.next.GetDeparture(ctx, id)
	if err != nil {
		return domain.Departure{}, err
	}
	if data, err := json.Marshal(dep); err == nil {
		if err := c.cache.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.WithField("departure_id", id).WithError(err).Warn("failed to cache departure")
		}
	}
	return dep, nil
}

func (c *CatalogCache) SearchDepartures(ctx context.Context, origin, destination string) ([]domain.Departure, error) {
	return c.next.SearchDepartures(ctx, origin, destination)
}
