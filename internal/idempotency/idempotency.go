package idempotency

import (
	"context"
	"net/http"
	"time"

	redisadapter "github.com/robertarktes/bus-seat-reservations/internal/adapters/redis"
)

// MinKeyLength is the shortest Idempotency-Key accepted.
const MinKeyLength = 16

type Store interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Idempotency remembers the response of a POST per user and key so a retried
// request is answered without running it twice.
type Idempotency struct {
	store   Store
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl, lockTTL: 30 * time.Second}
}

type Response struct {
	Status int
	Header http.Header
	Result []byte
}

func scoped(userID, key string) string {
	return userID + ":" + key
}

func (i *Idempotency) Get(ctx context.Context, userID, key string) (*Response, error) {
	stored, err := i.store.Get(ctx, scoped(userID, key))
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, Header: stored.Header, Result: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, userID, key string, resp Response) error {
	return i.store.Set(ctx, scoped(userID, key), redisadapter.IdempResponse{
		Status: resp.Status,
		Header: resp.Header,
		Result: resp.Result,
	}, i.ttl)
}

// Begin claims the key for one in-flight request. The returned release must
// be called once the response is stored.
func (i *Idempotency) Begin(ctx context.Context, userID, key string) (release func(), ok bool, err error) {
	k := scoped(userID, key)
	ok, err = i.store.Lock(ctx, k, i.lockTTL)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		_ = i.store.Unlock(context.WithoutCancel(ctx), k)
	}, true, nil
}
