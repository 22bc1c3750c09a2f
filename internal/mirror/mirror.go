// Package mirror keeps a local collection synchronized with one remote table
// using a fetch-then-patch strategy: seed with a full read, then apply each
// change event as an incremental patch. A mirror is exclusively owned by one
// consumer; two mirrors over the same table drain their event streams
// independently and may transiently disagree.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/larder-hq/larder/internal/realtime"
)

// Record is a row carried by a mirror. RecordID must be unique within the
// table and stable across updates.
type Record interface {
	RecordID() string
}

// Strategy selects how a mirror reacts to change events.
type Strategy int

const (
	// StrategyPatch applies each event as an incremental patch, O(events).
	StrategyPatch Strategy = iota
	// StrategyRefetch re-reads the whole table on any event,
	// O(events x table size). Acceptable for small, low-churn tables.
	StrategyRefetch
)

// FetchFunc performs the full read that seeds (or re-seeds) the mirror.
type FetchFunc[T Record] func(ctx context.Context) ([]T, error)

// Subscriber opens change subscriptions; satisfied by *realtime.Feed.
type Subscriber interface {
	Subscribe(ctx context.Context, table string) (realtime.Subscription, error)
}

// Config groups the dependencies of a mirror.
type Config[T Record] struct {
	Table    string
	Strategy Strategy
	Fetch    FetchFunc[T]
	Feed     Subscriber
	Logger   *slog.Logger
	// Less, when set, orders snapshots. Ordering is a presentation
	// concern applied on read, never during patching.
	Less func(a, b T) bool
	// OnChange is invoked after every applied mutation.
	OnChange func()
}

// Mirror keeps an in-memory projection of one remote table.
type Mirror[T Record] struct {
	table    string
	strategy Strategy
	fetch    FetchFunc[T]
	feed     Subscriber
	logger   *slog.Logger
	less     func(a, b T) bool
	onChange func()

	mu      sync.RWMutex
	items   []T
	loading bool
	gen     uint64
	sub     realtime.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a stopped mirror.
func New[T Record](cfg Config[T]) *Mirror[T] {
	return &Mirror[T]{
		table:    cfg.Table,
		strategy: cfg.Strategy,
		fetch:    cfg.Fetch,
		feed:     cfg.Feed,
		logger:   cfg.Logger,
		less:     cfg.Less,
		onChange: cfg.OnChange,
		loading:  true,
	}
}

// Start seeds the mirror with a full read, replacing local state wholesale,
// then opens a change subscription for the table. Restarting an already
// running mirror re-seeds and re-subscribes cleanly. A failed read leaves
// local state untouched and opens no subscription.
func (m *Mirror[T]) Start(ctx context.Context) error {
	m.Stop()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.loading = true
	m.mu.Unlock()

	items, err := m.fetch(ctx)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.loading = false
		}
		m.mu.Unlock()
		return fmt.Errorf("mirror: seed %s: %w", m.table, err)
	}

	sub, err := m.feed.Subscribe(ctx, m.table)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.loading = false
		}
		m.mu.Unlock()
		return fmt.Errorf("mirror: subscribe %s: %w", m.table, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.gen != gen {
		// A concurrent Stop or Start superseded this call; discard.
		m.mu.Unlock()
		cancel()
		_ = sub.Close()
		return nil
	}
	m.items = items
	m.loading = false
	m.sub = sub
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.consume(runCtx, gen, sub)
	m.notify()
	return nil
}

// Stop releases the change subscription. Safe to call multiple times; a
// late event arriving after Stop mutates nothing.
func (m *Mirror[T]) Stop() {
	m.mu.Lock()
	m.gen++
	sub := m.sub
	cancel := m.cancel
	m.sub = nil
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		_ = sub.Close()
	}
	m.wg.Wait()
}

// Snapshot returns a copy of the mirrored collection, ordered by the
// configured sort key.
func (m *Mirror[T]) Snapshot() []T {
	m.mu.RLock()
	items := make([]T, len(m.items))
	copy(items, m.items)
	m.mu.RUnlock()

	if m.less != nil {
		sort.SliceStable(items, func(i, j int) bool { return m.less(items[i], items[j]) })
	}
	return items
}

// Loading reports whether the initial seed is still outstanding.
func (m *Mirror[T]) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

func (m *Mirror[T]) consume(ctx context.Context, gen uint64, sub realtime.Subscription) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			m.handle(ctx, gen, event)
		}
	}
}

func (m *Mirror[T]) handle(ctx context.Context, gen uint64, event realtime.ChangeEvent) {
	if event.Table != m.table {
		return
	}

	if m.strategy == StrategyRefetch {
		items, err := m.fetch(ctx)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("mirror refetch failed", slog.String("table", m.table), slog.Any("error", err))
			}
			return
		}
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.items = items
		m.mu.Unlock()
		m.notify()
		return
	}

	var record T
	if err := json.Unmarshal(event.Payload(), &record); err != nil {
		if m.logger != nil {
			m.logger.Warn("mirror drop malformed record", slog.String("table", m.table), slog.Any("error", err))
		}
		return
	}

	if m.applyPatch(gen, event.Type, record) {
		m.notify()
	}
}

// applyPatch mutates the collection by whole-value replacement so readers
// never observe a partially updated snapshot. All patches are idempotent:
// re-applying a create for a present id or a delete for an absent id is a
// no-op, which absorbs duplicate delivery without error.
func (m *Mirror[T]) applyPatch(gen uint64, typ realtime.EventType, record T) bool {
	id := record.RecordID()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}

	idx := -1
	for i := range m.items {
		if m.items[i].RecordID() == id {
			idx = i
			break
		}
	}

	switch typ {
	case realtime.EventCreated:
		if idx >= 0 {
			return false
		}
		next := make([]T, len(m.items), len(m.items)+1)
		copy(next, m.items)
		m.items = append(next, record)
	case realtime.EventUpdated:
		next := make([]T, len(m.items), len(m.items)+1)
		copy(next, m.items)
		if idx >= 0 {
			next[idx] = record
		} else {
			// Self-heal after a missed insert.
			next = append(next, record)
		}
		m.items = next
	case realtime.EventDeleted:
		if idx < 0 {
			return false
		}
		next := make([]T, 0, len(m.items)-1)
		next = append(next, m.items[:idx]...)
		next = append(next, m.items[idx+1:]...)
		m.items = next
	default:
		return false
	}
	return true
}

func (m *Mirror[T]) notify() {
	if m.onChange != nil {
		m.onChange()
	}
}
