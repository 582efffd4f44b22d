package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBroker(t *testing.T) (*Redis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, RedisConfig{Stream: "test.events", Consumer: "node-1", Block: 50 * time.Millisecond}), client
}

func TestRedis_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	b, client := newTestRedisBroker(t)

	require.NoError(t, b.Declare(ctx, "chat.ws-bridge", "chat.message.room.*"))
	require.NoError(t, b.Publish(ctx, "chat.message.room.r1", []byte(`{"n":1}`)))
	require.NoError(t, b.Publish(ctx, "chat.other.r1", []byte(`skip`)))
	require.NoError(t, b.Publish(ctx, "chat.message.room.r2", []byte(`{"n":2}`)))

	var mu sync.Mutex
	var got []Delivery
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = b.Subscribe(subCtx, "chat.ws-bridge", "chat.message.room.*", func(_ context.Context, d Delivery) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, d)
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, `{"n":1}`, string(got[0].Body))
	assert.Equal(t, "chat.message.room.r2", got[1].RoutingKey)
	mu.Unlock()

	// Everything, including the non-matching entry, is acknowledged.
	require.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, "test.events", "chat.ws-bridge").Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedis_ReplaysPendingOnStart(t *testing.T) {
	ctx := context.Background()
	b, client := newTestRedisBroker(t)

	require.NoError(t, b.Declare(ctx, "chat.ws-bridge", "chat.message.room.*"))
	require.NoError(t, b.Publish(ctx, "chat.message.room.r1", []byte(`crashed`)))

	// A previous run read the entry and died before acknowledging it.
	_, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    "chat.ws-bridge",
		Consumer: "node-1",
		Streams:  []string{"test.events", ">"},
		Count:    10,
	}).Result()
	require.NoError(t, err)

	delivered := make(chan Delivery, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = b.Subscribe(subCtx, "chat.ws-bridge", "chat.message.room.*", func(_ context.Context, d Delivery) {
			delivered <- d
		})
	}()

	select {
	case d := <-delivered:
		assert.Equal(t, "crashed", string(d.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("pending entry was not replayed")
	}
}

func TestRedis_DeclareIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestRedisBroker(t)

	require.NoError(t, b.Declare(ctx, "q", "#"))
	require.NoError(t, b.Declare(ctx, "q", "#"))
	assert.NoError(t, b.Ping(ctx))
}
