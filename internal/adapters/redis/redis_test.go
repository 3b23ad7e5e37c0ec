package redis_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	redisadapter "github.com/robertarktes/bus-seat-reservations/internal/adapters/redis"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type countingCatalog struct {
	dep   domain.Departure
	calls atomic.Int32
}

func (c *countingCatalog) GetDeparture(ctx context.Context, id uuid.UUID) (domain.Departure, error) {
	c.calls.Add(1)
	if id != c.dep.ID {
		return domain.Departure{}, errors.Wrapf(domain.ErrNotFound, "departure %s", id)
	}
	return c.dep, nil
}

func (c *countingCatalog) SearchDepartures(ctx context.Context, origin, destination string) ([]domain.Departure, error) {
	return []domain.Departure{c.dep}, nil
}

func TestCatalogCache_ReadThrough(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	dep := domain.Departure{
		ID: uuid.New(), Origin: "Lisbon", Destination: "Porto",
		DepartureTime: time.Date(2026, 9, 1, 7, 30, 0, 0, time.UTC), Capacity: 40, PriceCents: 2500,
	}
	next := &countingCatalog{dep: dep}
	cache := redisadapter.NewCatalogCache(next, redisadapter.NewCache(client), time.Minute, observability.NewNopLogger())

	for i := 0; i < 3; i++ {
		got, err := cache.GetDeparture(ctx, dep.ID)
		require.NoError(t, err)
		assert.Equal(t, dep, got)
	}
	assert.Equal(t, int32(1), next.calls.Load())

	_, err := cache.GetDeparture(ctx, uuid.New())
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	ttl, err := client.TTL(ctx, "departure:"+dep.ID.String()).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}

func TestIdempotency_StoreAndLock(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	store := redisadapter.NewIdempotency(client)

	resp, err := store.Get(ctx, "u1:missing-key-0000000")
	require.NoError(t, err)
	assert.Nil(t, resp)

	want := redisadapter.IdempResponse{Status: 201, Result: []byte(`{"hold_id":"x"}`)}
	require.NoError(t, store.Set(ctx, "u1:key-1234567890abcdef", want, time.Minute))
	resp, err = store.Get(ctx, "u1:key-1234567890abcdef")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, want.Status, resp.Status)
	assert.Equal(t, want.Result, resp.Result)

	ok, err := store.Lock(ctx, "u1:key-1234567890abcdef", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Lock(ctx, "u1:key-1234567890abcdef", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, store.Unlock(ctx, "u1:key-1234567890abcdef"))
	ok, err = store.Lock(ctx, "u1:key-1234567890abcdef", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
