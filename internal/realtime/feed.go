package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const feedChannelPrefix = "feed:"

// Subscription delivers change events for a single table until closed.
type Subscription interface {
	// Events returns the stream of change events. The channel is closed
	// after Close or when the underlying transport shuts down.
	Events() <-chan ChangeEvent
	// Close releases the subscription. Safe to call multiple times.
	Close() error
}

// Feed is the change-feed client. Each table maps to one Redis Pub/Sub
// channel; subscribers receive events in publish order.
type Feed struct {
	client    *redis.Client
	logger    *slog.Logger
	onPublish func(table string)
}

// NewFeed constructs a Feed.
func NewFeed(client *redis.Client, logger *slog.Logger) *Feed {
	return &Feed{client: client, logger: logger}
}

// OnPublish installs a hook invoked after every successful publish, used
// for metrics. Must be set before the feed is shared.
func (f *Feed) OnPublish(fn func(table string)) {
	f.onPublish = fn
}

// Publish sends a change event to all subscribers of the event's table.
func (f *Feed) Publish(ctx context.Context, event ChangeEvent) error {
	if event.Table == "" {
		return fmt.Errorf("realtime: publish: empty table")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("realtime: publish %s: %w", event.Table, err)
	}
	if err := f.client.Publish(ctx, feedChannelPrefix+event.Table, data).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", event.Table, err)
	}
	if f.onPublish != nil {
		f.onPublish(event.Table)
	}
	return nil
}

// Subscribe opens a change subscription scoped to one table. It waits for
// the server to acknowledge the subscription before returning, so events
// published afterwards are guaranteed to be delivered.
func (f *Feed) Subscribe(ctx context.Context, table string) (Subscription, error) {
	pubsub := f.client.Subscribe(ctx, feedChannelPrefix+table)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("realtime: subscribe %s: %w", table, err)
	}

	sub := &feedSubscription{
		pubsub: pubsub,
		events: make(chan ChangeEvent, 64),
		done:   make(chan struct{}),
	}
	go sub.consume(table, f.logger)
	return sub, nil
}

type feedSubscription struct {
	pubsub *redis.PubSub
	events chan ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (s *feedSubscription) Events() <-chan ChangeEvent {
	return s.events
}

func (s *feedSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *feedSubscription) consume(table string, logger *slog.Logger) {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var event ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			if logger != nil {
				logger.Warn("drop malformed change event", slog.String("table", table), slog.Any("error", err))
			}
			continue
		}
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}
