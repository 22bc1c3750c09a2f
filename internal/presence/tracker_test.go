package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/larder-hq/larder/internal/realtime"
)

type fakeChannel struct {
	mu           sync.Mutex
	syncFn       func(realtime.PresenceSnapshot)
	tracked      []any
	subscribed   bool
	unsubscribed bool
	subscribeErr error
	trackErr     error
}

func (c *fakeChannel) OnSync(fn func(realtime.PresenceSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncFn = fn
}

func (c *fakeChannel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.subscribed = true
	return nil
}

func (c *fakeChannel) Track(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trackErr != nil {
		return c.trackErr
	}
	c.tracked = append(c.tracked, payload)
	return nil
}

func (c *fakeChannel) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = true
	return nil
}

func (c *fakeChannel) push(t *testing.T, records ...Record) {
	t.Helper()
	c.mu.Lock()
	fn := c.syncFn
	c.mu.Unlock()
	require.NotNil(t, fn)

	snap := realtime.PresenceSnapshot{}
	for _, record := range records {
		data, err := json.Marshal(record)
		require.NoError(t, err)
		snap[record.UserID] = data
	}
	fn(snap)
}

func newFakeFactory(ch *fakeChannel) ChannelFactory {
	return func(topic, key string) Channel { return ch }
}

func TestJoinWithoutUserIDIsNoOp(t *testing.T) {
	ch := &fakeChannel{}
	tracker := NewTracker(newFakeFactory(ch), nil, nil)

	require.NoError(t, tracker.Join(context.Background(), Identity{}))
	require.Equal(t, StateDisconnected, tracker.State())
	require.False(t, ch.subscribed)
}

func TestJoinAnnouncesAndSyncs(t *testing.T) {
	ch := &fakeChannel{}
	tracker := NewTracker(newFakeFactory(ch), nil, nil)

	require.NoError(t, tracker.Join(context.Background(), Identity{UserID: "u1", Email: "u1@larder.local"}))
	require.Equal(t, StateJoining, tracker.State())
	require.Len(t, ch.tracked, 1)
	record, ok := ch.tracked[0].(Record)
	require.True(t, ok)
	require.True(t, record.IsLoggedIn)

	ch.push(t, Record{UserID: "u1", IsLoggedIn: true}, Record{UserID: "u2", IsLoggedIn: true})
	require.Equal(t, StateSynced, tracker.State())
	require.True(t, tracker.Online("u1"))
	require.True(t, tracker.Online("u2"))
	require.False(t, tracker.Online("u3"))
}

func TestSnapshotExcludesMalformedRecords(t *testing.T) {
	ch := &fakeChannel{}
	tracker := NewTracker(newFakeFactory(ch), nil, nil)
	require.NoError(t, tracker.Join(context.Background(), Identity{UserID: "u1"}))

	// Records missing a user id or the logged-in flag never count as online.
	ch.push(t,
		Record{UserID: "u1", IsLoggedIn: true},
		Record{UserID: "", IsLoggedIn: true},
		Record{UserID: "u2", IsLoggedIn: false},
	)
	users := tracker.OnlineUsers()
	require.Equal(t, map[string]bool{"u1": true}, users)
}

func TestSnapshotReplacesWholeMap(t *testing.T) {
	ch := &fakeChannel{}
	tracker := NewTracker(newFakeFactory(ch), nil, nil)
	require.NoError(t, tracker.Join(context.Background(), Identity{UserID: "u1"}))

	ch.push(t, Record{UserID: "u1", IsLoggedIn: true}, Record{UserID: "u2", IsLoggedIn: true})
	ch.push(t, Record{UserID: "u1", IsLoggedIn: true})
	require.False(t, tracker.Online("u2"))
}

func TestLeaveClearsStateAndUnsubscribes(t *testing.T) {
	ch := &fakeChannel{}
	tracker := NewTracker(newFakeFactory(ch), nil, nil)
	require.NoError(t, tracker.Join(context.Background(), Identity{UserID: "u1"}))
	ch.push(t, Record{UserID: "u1", IsLoggedIn: true})

	tracker.Leave(context.Background())
	require.True(t, ch.unsubscribed)
	require.Equal(t, StateDisconnected, tracker.State())
	require.Empty(t, tracker.OnlineUsers())

	// Repeat leave must be safe.
	tracker.Leave(context.Background())
}

func TestLateSnapshotAfterLeaveIsIgnored(t *testing.T) {
	ch := &fakeChannel{}
	tracker := NewTracker(newFakeFactory(ch), nil, nil)
	require.NoError(t, tracker.Join(context.Background(), Identity{UserID: "u1"}))

	ch.mu.Lock()
	fn := ch.syncFn
	ch.mu.Unlock()

	tracker.Leave(context.Background())

	data, err := json.Marshal(Record{UserID: "u9", IsLoggedIn: true})
	require.NoError(t, err)
	fn(realtime.PresenceSnapshot{"u9": data})

	require.Empty(t, tracker.OnlineUsers())
	require.Equal(t, StateDisconnected, tracker.State())
}

func TestSubscribeFailureResetsState(t *testing.T) {
	ch := &fakeChannel{subscribeErr: errors.New("redis down")}
	tracker := NewTracker(newFakeFactory(ch), nil, nil)

	require.Error(t, tracker.Join(context.Background(), Identity{UserID: "u1"}))
	require.Equal(t, StateDisconnected, tracker.State())
}

func TestTrackFailureDoesNotFailJoin(t *testing.T) {
	ch := &fakeChannel{trackErr: errors.New("announce failed")}
	tracker := NewTracker(newFakeFactory(ch), nil, nil)

	require.NoError(t, tracker.Join(context.Background(), Identity{UserID: "u1"}))
	ch.push(t, Record{UserID: "u2", IsLoggedIn: true})
	require.True(t, tracker.Online("u2"))
}
