package stock

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/larder-hq/larder/internal/realtime"
	"github.com/larder-hq/larder/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	items  map[int64]Item
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: map[int64]Item{}}
}

func (r *memoryRepo) List(ctx context.Context) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]Item, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (r *memoryRepo) ListByExpiry(ctx context.Context) ([]Item, error) {
	items, _ := r.List(ctx)
	sort.Slice(items, func(i, j int) bool { return items[i].Expiry.Before(items[j].Expiry) })
	return items, nil
}

func (r *memoryRepo) ListLowStock(ctx context.Context, threshold float64) ([]Item, error) {
	all, _ := r.List(ctx)
	items := make([]Item, 0, len(all))
	for _, item := range all {
		if item.Quantity <= threshold {
			items = append(items, item)
		}
	}
	return items, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return Item{}, shared.ErrNotFound
	}
	return item, nil
}

func (r *memoryRepo) Create(ctx context.Context, input CreateInput) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	item := Item{
		ID:       r.nextID,
		Name:     input.Name,
		Quantity: input.Quantity,
		Unit:     input.Unit,
		Expiry:   input.Expiry,
	}
	r.items[item.ID] = item
	return item, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, input UpdateInput) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return Item{}, shared.ErrNotFound
	}
	item.Name = input.Name
	item.Quantity = input.Quantity
	item.Unit = input.Unit
	item.Expiry = input.Expiry
	r.items[id] = item
	return item, nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return Item{}, shared.ErrNotFound
	}
	delete(r.items, id)
	return item, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, event realtime.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) all() []realtime.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := make([]realtime.ChangeEvent, len(p.events))
	copy(events, p.events)
	return events
}

func TestCreatePublishesChange(t *testing.T) {
	repo := newMemoryRepo()
	pub := &capturePublisher{}
	svc := NewService(repo, pub, nil, 0)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateInput{Name: "Flour", Quantity: 25, Unit: "kg", Expiry: time.Now().AddDate(0, 6, 0)})
	require.NoError(t, err)
	require.Equal(t, int64(1), item.ID)

	events := pub.all()
	require.Len(t, events, 1)
	require.Equal(t, realtime.EventCreated, events[0].Type)
	require.Equal(t, Table, events[0].Table)
	require.NotNil(t, events[0].New)
}

func TestCreateValidatesInput(t *testing.T) {
	svc := NewService(newMemoryRepo(), &capturePublisher{}, nil, 0)

	_, err := svc.Create(context.Background(), CreateInput{Quantity: -1})
	require.Error(t, err)
}

func TestUpdateCarriesOldRow(t *testing.T) {
	repo := newMemoryRepo()
	pub := &capturePublisher{}
	svc := NewService(repo, pub, nil, 0)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateInput{Name: "Sugar", Quantity: 10, Unit: "kg"})
	require.NoError(t, err)

	_, err = svc.Update(ctx, item.ID, UpdateInput{Name: "Sugar", Quantity: 4, Unit: "kg"})
	require.NoError(t, err)

	events := pub.all()
	require.Len(t, events, 2)
	require.Equal(t, realtime.EventUpdated, events[1].Type)
	require.NotNil(t, events[1].New)
	require.NotNil(t, events[1].Old)
}

func TestUpdateMissingItemFails(t *testing.T) {
	svc := NewService(newMemoryRepo(), &capturePublisher{}, nil, 0)

	_, err := svc.Update(context.Background(), 42, UpdateInput{Name: "Ghost", Quantity: 1, Unit: "kg"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeletePublishesOldRow(t *testing.T) {
	repo := newMemoryRepo()
	pub := &capturePublisher{}
	svc := NewService(repo, pub, nil, 0)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateInput{Name: "Butter", Quantity: 2, Unit: "kg"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, item.ID))

	events := pub.all()
	require.Len(t, events, 2)
	require.Equal(t, realtime.EventDeleted, events[1].Type)
	require.Nil(t, events[1].New)
	require.NotNil(t, events[1].Old)
	require.NotNil(t, events[1].Payload())
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	repo := newMemoryRepo()
	pub := &capturePublisher{err: context.DeadlineExceeded}
	svc := NewService(repo, pub, nil, 0)

	_, err := svc.Create(context.Background(), CreateInput{Name: "Milk", Quantity: 8, Unit: "l"})
	require.NoError(t, err)
}

func TestListLowStockUsesThreshold(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, 5)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "Flour", Quantity: 25, Unit: "kg"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Name: "Butter", Quantity: 4, Unit: "kg"})
	require.NoError(t, err)

	low, err := svc.ListLowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, "Butter", low[0].Name)
}
