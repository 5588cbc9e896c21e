package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	redisadapter "github.com/robertarktes/ticket-commerce/internal/adapters/redis"
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

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisContainer.Terminate(ctx) })

	addr, err := redisContainer.Endpoint(ctx, "")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisAdapters(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	t.Run("lock", func(t *testing.T) {
		cache := redisadapter.NewCache(client)
		require.NoError(t, cache.Ping(ctx))

		ok, err := cache.AcquireLock(ctx, "expiry", "worker-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = cache.AcquireLock(ctx, "expiry", "worker-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, cache.ReleaseLock(ctx, "expiry", "worker-b"))
		ok, err = cache.AcquireLock(ctx, "expiry", "worker-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, cache.ReleaseLock(ctx, "expiry", "worker-a"))
		ok, err = cache.AcquireLock(ctx, "expiry", "worker-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("idempotency records", func(t *testing.T) {
		idemp := redisadapter.NewIdempotency(client)

		rec, err := idemp.Get(ctx, "missing-key-000001")
		require.NoError(t, err)
		assert.Nil(t, rec)

		want := redisadapter.IdempResponse{Status: 201, ContentType: "application/json", Result: []byte(`{"id":"1"}`)}
		require.NoError(t, idemp.Set(ctx, "order-key-0000001", want, time.Minute))

		rec, err = idemp.Get(ctx, "order-key-0000001")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, want, *rec)

		claimed, err := idemp.Claim(ctx, "order-key-0000002", time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)
		claimed, err = idemp.Claim(ctx, "order-key-0000002", time.Minute)
		require.NoError(t, err)
		assert.False(t, claimed)

		require.NoError(t, idemp.Unclaim(ctx, "order-key-0000002"))
		claimed, err = idemp.Claim(ctx, "order-key-0000002", time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)
	})
}
