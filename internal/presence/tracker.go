// Package presence computes which users are currently online from a shared
// presence topic and exposes the result as a synchronous lookup. Presence is
// best-effort signal for the dashboard, never a source of truth for
// authorization.
package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/larder-hq/larder/internal/realtime"
)

// Topic is the shared presence topic all dashboard sessions join.
const Topic = "online-users"

// Identity names the session joining the topic.
type Identity struct {
	UserID string
	Email  string
}

// Record is the payload a member publishes on join. IsLoggedIn marks the
// record as well-formed; liveness comes from channel-level expiry, so no
// member ever publishes false.
type Record struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email,omitempty"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

// State is the tracker's lifecycle position.
type State int

const (
	// StateDisconnected means the tracker is not joined to the topic.
	StateDisconnected State = iota
	// StateJoining means the subscription is being established.
	StateJoining
	// StateSynced means at least one snapshot has been applied.
	StateSynced
)

// Channel is the presence channel surface the tracker consumes; satisfied
// by *realtime.PresenceChannel.
type Channel interface {
	OnSync(fn func(realtime.PresenceSnapshot))
	Subscribe(ctx context.Context) error
	Track(ctx context.Context, payload any) error
	Unsubscribe(ctx context.Context) error
}

// ChannelFactory opens a presence channel for a topic keyed by the member.
type ChannelFactory func(topic, key string) Channel

// Tracker maintains the user_id -> online mapping for one session.
type Tracker struct {
	channels ChannelFactory
	logger   *slog.Logger
	onChange func()

	mu     sync.RWMutex
	online map[string]bool
	state  State
	ch     Channel
	gen    uint64
}

// NewTracker constructs a disconnected tracker. onChange, when non-nil, is
// invoked after every applied snapshot.
func NewTracker(channels ChannelFactory, logger *slog.Logger, onChange func()) *Tracker {
	return &Tracker{
		channels: channels,
		logger:   logger,
		onChange: onChange,
		online:   map[string]bool{},
	}
}

// Join announces the identity as online and starts receiving snapshots.
// Joining without a resolvable user id is a no-op (not yet ready, not an
// error). A prior membership is left first, so Join is safe to repeat.
func (t *Tracker) Join(ctx context.Context, identity Identity) error {
	if identity.UserID == "" {
		return nil
	}

	t.Leave(ctx)

	ch := t.channels(Topic, identity.UserID)

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.state = StateJoining
	t.mu.Unlock()

	ch.OnSync(func(snap realtime.PresenceSnapshot) {
		t.applySnapshot(gen, snap)
	})

	if err := ch.Subscribe(ctx); err != nil {
		t.mu.Lock()
		if t.gen == gen {
			t.state = StateDisconnected
		}
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		_ = ch.Unsubscribe(ctx)
		return nil
	}
	t.ch = ch
	t.mu.Unlock()

	record := Record{UserID: identity.UserID, Email: identity.Email, IsLoggedIn: true}
	if err := ch.Track(ctx, record); err != nil && t.logger != nil {
		// Best-effort: a failed announce only delays visibility until
		// the channel's next re-announce.
		t.logger.Warn("presence track failed", slog.String("user_id", identity.UserID), slog.Any("error", err))
	}
	return nil
}

// Leave unsubscribes from the topic and clears the online map. Must be
// called on logout or when the owning scope ends; skipping it leaks the
// subscription and leaves the user visibly online. Safe to call repeatedly.
func (t *Tracker) Leave(ctx context.Context) {
	t.mu.Lock()
	t.gen++
	ch := t.ch
	t.ch = nil
	t.state = StateDisconnected
	t.online = map[string]bool{}
	t.mu.Unlock()

	if ch != nil {
		if err := ch.Unsubscribe(ctx); err != nil && t.logger != nil {
			t.logger.Warn("presence leave failed", slog.Any("error", err))
		}
	}
	if ch != nil {
		t.notify()
	}
}

// Online reports whether the given user is currently online.
func (t *Tracker) Online(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID]
}

// OnlineUsers returns a copy of the online map.
func (t *Tracker) OnlineUsers() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	users := make(map[string]bool, len(t.online))
	for id, ok := range t.online {
		users[id] = ok
	}
	return users
}

// State returns the tracker's lifecycle state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// applySnapshot rebuilds the entire online map from a full snapshot; the
// upstream channel never exposes diffs, so last-one-wins replacement keeps
// the map consistent even under out-of-order delivery. Records lacking a
// user id or the is_logged_in flag are excluded as malformed.
func (t *Tracker) applySnapshot(gen uint64, snap realtime.PresenceSnapshot) {
	online := make(map[string]bool, len(snap))
	for _, raw := range snap {
		var record Record
		if err := json.Unmarshal(raw, &record); err != nil {
			if t.logger != nil {
				t.logger.Warn("presence drop malformed record", slog.Any("error", err))
			}
			continue
		}
		if record.UserID == "" || !record.IsLoggedIn {
			continue
		}
		online[record.UserID] = true
	}

	t.mu.Lock()
	if t.gen != gen {
		// Late snapshot for a membership that already left.
		t.mu.Unlock()
		return
	}
	t.online = online
	t.state = StateSynced
	t.mu.Unlock()

	t.notify()
}

func (t *Tracker) notify() {
	if t.onChange != nil {
		t.onChange()
	}
}
