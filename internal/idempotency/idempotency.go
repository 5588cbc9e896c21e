// Package idempotency stores the response of a POST under its Idempotency-Key so
// that a retried request is answered without running the operation again.
package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/ticket-commerce/internal/adapters/redis"
)

// claimTTL bounds how long a crashed request can block retries of the same key.
const claimTTL = 30 * time.Second

type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	rec, err := i.redis.Get(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return &Response{Status: rec.Status, ContentType: rec.ContentType, Result: rec.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
	}, i.ttl)
}

// Begin claims key for the current request. A false result means the same key
// is being processed elsewhere.
func (i *Idempotency) Begin(ctx context.Context, key string) (bool, error) {
	return i.redis.Claim(ctx, key, claimTTL)
}

func (i *Idempotency) End(ctx context.Context, key string) error {
	return i.redis.Unclaim(ctx, key)
}
