package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPresenceTTL is how long a tracked record survives without a
// heartbeat before other members consider the peer gone.
const DefaultPresenceTTL = 30 * time.Second

// PresenceSnapshot is the full aggregate state of a presence topic, one
// record per presence key. Sync notifications always carry a complete
// snapshot, never a diff, so out-of-order delivery is self-correcting.
type PresenceSnapshot map[string]json.RawMessage

// PresenceChannel tracks ephemeral per-member records on a shared topic.
// Members publish a record with Track; every join, leave or re-announce
// produces a sync notification and each member rebuilds the snapshot from
// the topic's current state.
//
// Liveness is a channel-level concern: each member's record is paired with
// a TTL key refreshed by a heartbeat. A peer that vanishes without calling
// Unsubscribe is pruned once its TTL lapses. Record payloads carry no
// liveness meaning of their own.
type PresenceChannel struct {
	client *redis.Client
	logger *slog.Logger
	topic  string
	key    string
	ttl    time.Duration

	// joinMu serializes Subscribe and Unsubscribe; without it two
	// concurrent Subscribe calls could each open a pubsub and leak one.
	joinMu sync.Mutex

	mu       sync.Mutex
	syncFns  []func(PresenceSnapshot)
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	tracked  []byte
	joined   bool
	lastSeen map[string]struct{}
	wg       sync.WaitGroup
}

// NewPresenceChannel constructs a channel for topic keyed by the caller's
// presence key. A non-positive ttl selects DefaultPresenceTTL.
func NewPresenceChannel(client *redis.Client, logger *slog.Logger, topic, key string, ttl time.Duration) *PresenceChannel {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &PresenceChannel{
		client: client,
		logger: logger,
		topic:  topic,
		key:    key,
		ttl:    ttl,
	}
}

// OnSync registers a callback invoked with the full snapshot on every sync
// notification. Register callbacks before Subscribe.
func (c *PresenceChannel) OnSync(fn func(PresenceSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncFns = append(c.syncFns, fn)
}

// Subscribe joins the topic. It waits for the transport to acknowledge the
// subscription, then delivers an initial snapshot. Calling Subscribe on an
// already-joined channel is a no-op.
func (c *PresenceChannel) Subscribe(ctx context.Context) error {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	pubsub := c.client.Subscribe(ctx, c.syncChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("realtime: presence subscribe %s: %w", c.topic, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.pubsub = pubsub
	c.cancel = cancel
	c.joined = true
	c.mu.Unlock()

	c.wg.Add(2)
	go c.consume(runCtx, pubsub)
	go c.heartbeat(runCtx)

	if snap, err := c.snapshot(ctx); err == nil {
		c.dispatch(snap)
	} else if c.logger != nil {
		c.logger.Warn("presence initial snapshot", slog.String("topic", c.topic), slog.Any("error", err))
	}
	return nil
}

// Track publishes the caller's presence record. The record becomes visible
// to all members on their next sync. Requires a prior Subscribe.
func (c *PresenceChannel) Track(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: presence track %s: %w", c.topic, err)
	}

	c.mu.Lock()
	joined := c.joined
	if joined {
		c.tracked = data
	}
	c.mu.Unlock()
	if !joined {
		return fmt.Errorf("realtime: presence track %s: not subscribed", c.topic)
	}

	return c.announce(ctx, data)
}

// Unsubscribe removes the caller's record, notifies the remaining members
// and releases the subscription. Safe to call multiple times.
func (c *PresenceChannel) Unsubscribe(ctx context.Context) error {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return nil
	}
	pubsub := c.pubsub
	cancel := c.cancel
	tracked := c.tracked
	c.pubsub = nil
	c.cancel = nil
	c.tracked = nil
	c.joined = false
	c.lastSeen = nil
	c.mu.Unlock()

	cancel()

	var firstErr error
	if tracked != nil {
		if err := c.client.HDel(ctx, c.hashKey(), c.key).Err(); err != nil {
			firstErr = err
		}
		if err := c.client.Del(ctx, c.aliveKey(c.key)).Err(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.client.Publish(ctx, c.syncChannel(), "leave").Err(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := pubsub.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	c.wg.Wait()

	if firstErr != nil {
		return fmt.Errorf("realtime: presence unsubscribe %s: %w", c.topic, firstErr)
	}
	return nil
}

func (c *PresenceChannel) announce(ctx context.Context, record []byte) error {
	if err := c.client.HSet(ctx, c.hashKey(), c.key, record).Err(); err != nil {
		return fmt.Errorf("realtime: presence track %s: %w", c.topic, err)
	}
	if err := c.client.Set(ctx, c.aliveKey(c.key), "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("realtime: presence track %s: %w", c.topic, err)
	}
	if err := c.client.Publish(ctx, c.syncChannel(), "track").Err(); err != nil {
		return fmt.Errorf("realtime: presence track %s: %w", c.topic, err)
	}
	return nil
}

func (c *PresenceChannel) consume(ctx context.Context, pubsub *redis.PubSub) {
	defer c.wg.Done()
	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
			snap, err := c.snapshot(ctx)
			if err != nil {
				if c.logger != nil {
					c.logger.Warn("presence snapshot", slog.String("topic", c.topic), slog.Any("error", err))
				}
				continue
			}
			c.dispatch(snap)
		}
	}
}

// heartbeat refreshes the member's TTL key and re-announces the tracked
// record. Re-announcing restores presence state after a dropped-and-restored
// transport, which does not retain previously published records. The tick
// also prunes expired peers and propagates the resulting membership change.
func (c *PresenceChannel) heartbeat(ctx context.Context) {
	defer c.wg.Done()
	interval := c.ttl / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			tracked := c.tracked
			c.mu.Unlock()

			if tracked != nil {
				if err := c.announce(ctx, tracked); err != nil && c.logger != nil {
					c.logger.Warn("presence heartbeat", slog.String("topic", c.topic), slog.Any("error", err))
				}
				continue // announce already published a sync
			}

			snap, err := c.snapshot(ctx)
			if err != nil {
				continue
			}
			if c.membershipChanged(snap) {
				c.dispatch(snap)
				_ = c.client.Publish(ctx, c.syncChannel(), "prune").Err()
			}
		}
	}
}

// snapshot reads the topic's full aggregate state, pruning members whose
// liveness key has expired.
func (c *PresenceChannel) snapshot(ctx context.Context) (PresenceSnapshot, error) {
	entries, err := c.client.HGetAll(ctx, c.hashKey()).Result()
	if err != nil {
		return nil, err
	}
	snap := make(PresenceSnapshot, len(entries))
	for member, raw := range entries {
		alive, err := c.client.Exists(ctx, c.aliveKey(member)).Result()
		if err != nil {
			// Transient read failure: keep the member rather than flap.
			snap[member] = json.RawMessage(raw)
			continue
		}
		if alive == 0 {
			_ = c.client.HDel(ctx, c.hashKey(), member).Err()
			continue
		}
		snap[member] = json.RawMessage(raw)
	}
	return snap, nil
}

func (c *PresenceChannel) membershipChanged(snap PresenceSnapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSeen == nil || len(c.lastSeen) != len(snap) {
		return true
	}
	for member := range snap {
		if _, ok := c.lastSeen[member]; !ok {
			return true
		}
	}
	return false
}

func (c *PresenceChannel) dispatch(snap PresenceSnapshot) {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return
	}
	fns := make([]func(PresenceSnapshot), len(c.syncFns))
	copy(fns, c.syncFns)
	seen := make(map[string]struct{}, len(snap))
	for member := range snap {
		seen[member] = struct{}{}
	}
	c.lastSeen = seen
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (c *PresenceChannel) hashKey() string {
	return "presence:" + c.topic
}

func (c *PresenceChannel) aliveKey(member string) string {
	return "presence:" + c.topic + ":alive:" + member
}

func (c *PresenceChannel) syncChannel() string {
	return "presence:" + c.topic + ":sync"
}
