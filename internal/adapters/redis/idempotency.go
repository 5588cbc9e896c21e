package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

type IdempResponse struct {
	Status      int
	ContentType string
	Result      []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*IdempResponse, error) {
	val, err := i.client.Get(ctx, "idemp:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get idempotency record")
	}
	var resp IdempResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, errors.Wrap(err, "decode idempotency record")
	}
	return &resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp IdempResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return i.client.Set(ctx, "idemp:"+key, data, ttl).Err()
}

// Claim marks key as in flight. It returns false when another request holds it.
func (i *Idempotency) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	res := i.client.SetNX(ctx, "idemp:claim:"+key, 1, ttl)
	return res.Val(), res.Err()
}

func (i *Idempotency) Unclaim(ctx context.Context, key string) error {
	return i.client.Del(ctx, "idemp:claim:"+key).Err()
}
