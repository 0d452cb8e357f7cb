package redisdedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/eventrelay/eventbus"
	"github.com/overtonx/eventrelay/event"
)

type authorUpdated struct {
	event.BaseIntegrationEvent
}

func (authorUpdated) EventType() string { return "AuthorUpdated" }

func newStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, opts...), mr
}

func TestStore_MarkAndCheck(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t, WithPrefix("test"), WithTTL(time.Minute))
	id := uuid.New()

	done, err := store.IsProcessed(ctx, id, "search-index")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, store.MarkProcessed(ctx, id, "search-index"))
	require.NoError(t, store.MarkProcessed(ctx, id, "search-index"))

	done, err = store.IsProcessed(ctx, id, "search-index")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = store.IsProcessed(ctx, id, "mailer")
	require.NoError(t, err)
	assert.False(t, done, "markers are per subscriber")

	key := "test:search-index:" + id.String()
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(2 * time.Minute)
	done, err = store.IsProcessed(ctx, id, "search-index")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestStore_BacksIdempotentHandler(t *testing.T) {
	store, _ := newStore(t)
	bus := eventbus.New()

	calls := 0
	require.NoError(t, bus.Subscribe("AuthorUpdated", eventbus.Idempotent(
		eventbus.NewHandler("search-index", func(context.Context, event.Event) error {
			calls++
			return nil
		}),
		store,
	)))

	ev := authorUpdated{BaseIntegrationEvent: event.NewBaseIntegrationEvent()}
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), ev))
	assert.Equal(t, 1, calls)
}

func TestStore_RedisUnavailable(t *testing.T) {
	store, mr := newStore(t)
	mr.Close()

	_, err := store.IsProcessed(context.Background(), uuid.New(), "mailer")
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
