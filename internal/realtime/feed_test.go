package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishRequiresTable(t *testing.T) {
	feed := NewFeed(testClient(t), nil)
	err := feed.Publish(context.Background(), ChangeEvent{Type: EventCreated})
	require.Error(t, err)
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	feed := NewFeed(testClient(t), nil)
	ctx := context.Background()

	sub, err := feed.Subscribe(ctx, "stocks")
	require.NoError(t, err)
	defer sub.Close()

	event, err := NewChange(EventCreated, "stocks", map[string]any{"id": 1, "name": "Flour"}, nil)
	require.NoError(t, err)
	require.NoError(t, feed.Publish(ctx, event))

	select {
	case got := <-sub.Events():
		require.Equal(t, EventCreated, got.Type)
		require.Equal(t, "stocks", got.Table)
		require.JSONEq(t, `{"id":1,"name":"Flour"}`, string(got.Payload()))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscriptionsAreTableScoped(t *testing.T) {
	feed := NewFeed(testClient(t), nil)
	ctx := context.Background()

	sub, err := feed.Subscribe(ctx, "categories")
	require.NoError(t, err)
	defer sub.Close()

	stockEvent, err := NewChange(EventCreated, "stocks", map[string]any{"id": 1}, nil)
	require.NoError(t, err)
	require.NoError(t, feed.Publish(ctx, stockEvent))

	categoryEvent, err := NewChange(EventCreated, "categories", map[string]any{"id": 9}, nil)
	require.NoError(t, err)
	require.NoError(t, feed.Publish(ctx, categoryEvent))

	select {
	case got := <-sub.Events():
		require.Equal(t, "categories", got.Table)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	feed := NewFeed(testClient(t), nil)

	sub, err := feed.Subscribe(context.Background(), "stocks")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestOnPublishHookFires(t *testing.T) {
	feed := NewFeed(testClient(t), nil)
	var tables []string
	feed.OnPublish(func(table string) { tables = append(tables, table) })

	event, err := NewChange(EventUpdated, "stocks", map[string]any{"id": 1}, nil)
	require.NoError(t, err)
	require.NoError(t, feed.Publish(context.Background(), event))
	require.Equal(t, []string{"stocks"}, tables)
}
