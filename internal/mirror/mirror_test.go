package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/larder-hq/larder/internal/realtime"
)

type row struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

func (r row) RecordID() string { return r.ID }

type fakeSubscription struct {
	events chan realtime.ChangeEvent
	once   sync.Once
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{events: make(chan realtime.ChangeEvent, 16)}
}

func (s *fakeSubscription) Events() <-chan realtime.ChangeEvent { return s.events }

func (s *fakeSubscription) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *fakeSubscription) emit(t *testing.T, typ realtime.EventType, table string, record row) {
	t.Helper()
	var (
		event realtime.ChangeEvent
		err   error
	)
	if typ == realtime.EventDeleted {
		event, err = realtime.NewChange(typ, table, nil, record)
	} else {
		event, err = realtime.NewChange(typ, table, record, nil)
	}
	require.NoError(t, err)
	s.events <- event
}

type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSubscription
	err  error
}

func (f *fakeFeed) Subscribe(ctx context.Context, table string) (realtime.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := newFakeSubscription()
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeFeed) last() *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fetchStub struct {
	mu    sync.Mutex
	items []row
	err   error
	calls int
}

func (s *fetchStub) fetch(ctx context.Context) ([]row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	items := make([]row, len(s.items))
	copy(items, s.items)
	return items, nil
}

func (s *fetchStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestMirror(t *testing.T, strategy Strategy, stub *fetchStub, feed *fakeFeed) *Mirror[row] {
	t.Helper()
	m := New(Config[row]{
		Table:    "stocks",
		Strategy: strategy,
		Fetch:    stub.fetch,
		Feed:     feed,
		Less:     func(a, b row) bool { return a.Name < b.Name },
	})
	t.Cleanup(m.Stop)
	return m
}

func snapshotIDs(m *Mirror[row]) []string {
	items := m.Snapshot()
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func TestStartSeedsAndSorts(t *testing.T) {
	stub := &fetchStub{items: []row{{ID: "2", Name: "Sugar"}, {ID: "1", Name: "Flour"}}}
	feed := &fakeFeed{}
	m := newTestMirror(t, StrategyPatch, stub, feed)

	require.True(t, m.Loading())
	require.NoError(t, m.Start(context.Background()))
	require.False(t, m.Loading())
	require.Equal(t, []string{"1", "2"}, snapshotIDs(m))
}

func TestFailedSeedOpensNoSubscription(t *testing.T) {
	stub := &fetchStub{err: errors.New("db down")}
	feed := &fakeFeed{}
	m := newTestMirror(t, StrategyPatch, stub, feed)

	require.Error(t, m.Start(context.Background()))
	require.Zero(t, feed.count())
	require.Empty(t, m.Snapshot())
}

func TestPatchCreateIsIdempotent(t *testing.T) {
	stub := &fetchStub{items: []row{{ID: "1", Name: "Flour", Qty: 5}}}
	feed := &fakeFeed{}
	m := newTestMirror(t, StrategyPatch, stub, feed)
	require.NoError(t, m.Start(context.Background()))

	sub := feed.last()
	sub.emit(t, realtime.EventCreated, "stocks", row{ID: "2", Name: "Sugar"})
	require.Eventually(t, func() bool {
		return len(m.Snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	// Duplicate delivery of the same create must not add a second copy.
	sub.emit(t, realtime.EventCreated, "stocks", row{ID: "2", Name: "Sugar"})
	sub.emit(t, realtime.EventUpdated, "stocks", row{ID: "1", Name: "Flour", Qty: 9})
	require.Eventually(t, func() bool {
		items := m.Snapshot()
		return len(items) == 2 && items[0].Qty == 9
	}, time.Second, 5*time.Millisecond)
}

func TestPatchUpdateSelfHealsMissingRow(t *testing.T) {
	stub := &fetchStub{items: []row{{ID: "1", Name: "Flour"}}}
	feed := &fakeFeed{}
	m := newTestMirror(t, StrategyPatch, stub, feed)
	require.NoError(t, m.Start(context.Background()))

	feed.last().emit(t, realtime.EventUpdated, "stocks", row{ID: "9", Name: "Yeast"})
	require.Eventually(t, func() bool {
		return len(m.Snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestPatchDeleteAbsentIsNoOp(t *testing.T) {
	stub := &fetchStub{items: []row{{ID: "1", Name: "Flour"}, {ID: "2", Name: "Sugar"}}}
	feed := &fakeFeed{}
	m := newTestMirror(t, StrategyPatch, stub, feed)
	require.NoError(t, m.Start(context.Background()))

	sub := feed.last()
	sub.emit(t, realtime.EventDeleted, "stocks", row{ID: "404", Name: "Ghost"})
	sub.emit(t, realtime.EventDeleted, "stocks", row{ID: "2", Name: "Sugar"})
	require.Eventually(t, func() bool {
		return len(m.Snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"1"}, snapshotIDs(m))
}

func TestEventsForOtherTablesAreIgnored(t *testing.T) {
	stub := &fetchStub{items: []row{{ID: "1", Name: "Flour"}}}
	feed := &fakeFeed{}
	m := newTestMirror(t, StrategyPatch, stub, feed)
	require.NoError(t, m.Start(context.Background()))

	sub := feed.last()
	sub.emit(t, realtime.EventCreated, "categories", row{ID: "7", Name: "Dairy"})
	sub.emit(t, realtime.EventCreated, "stocks", row{ID: "2", Name: "Sugar"})
	require.Eventually(t, func() bool {
		return len(m.Snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
	require.NotContains(t, snapshotIDs(m), "7")
}

func TestRefetchStrategyRereadsTable(t *testing.T) {
	stub := &fetchStub{items: []row{{ID: "1", Name: "Flour"}}}
	feed := &fakeFeed{}
	m := newTestMirror(t, StrategyRefetch, stub, feed)
	require.NoError(t, m.Start(context.Background()))
	require.Equal(t, 1, stub.callCount())

	stub.mu.Lock()
	stub.items = []row{{ID: "1", Name: "Flour"}, {ID: "2", Name: "Sugar"}}
	stub.mu.Unlock()

	feed.last().emit(t, realtime.EventCreated, "stocks", row{ID: "2", Name: "Sugar"})
	require.Eventually(t, func() bool {
		return len(m.Snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, stub.callCount())
}

func TestStopDiscardsLateEvents(t *testing.T) {
	stub := &fetchStub{items: []row{{ID: "1", Name: "Flour"}}}
	feed := &fakeFeed{}
	m := newTestMirror(t, StrategyPatch, stub, feed)
	require.NoError(t, m.Start(context.Background()))

	m.Stop()
	require.Equal(t, []string{"1"}, snapshotIDs(m))
}

func TestRestartReseeds(t *testing.T) {
	stub := &fetchStub{items: []row{{ID: "1", Name: "Flour"}}}
	feed := &fakeFeed{}
	m := newTestMirror(t, StrategyPatch, stub, feed)
	require.NoError(t, m.Start(context.Background()))

	stub.mu.Lock()
	stub.items = []row{{ID: "3", Name: "Butter"}}
	stub.mu.Unlock()

	require.NoError(t, m.Start(context.Background()))
	require.Equal(t, []string{"3"}, snapshotIDs(m))
	require.Equal(t, 2, feed.count())
}
