package stock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/larder-hq/larder/internal/realtime"
)

// Publisher pushes change events to the realtime feed; satisfied by
// *realtime.Feed.
type Publisher interface {
	Publish(ctx context.Context, event realtime.ChangeEvent) error
}

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	List(ctx context.Context) ([]Item, error)
	ListByExpiry(ctx context.Context) ([]Item, error)
	ListLowStock(ctx context.Context, threshold float64) ([]Item, error)
	Get(ctx context.Context, id int64) (Item, error)
	Create(ctx context.Context, input CreateInput) (Item, error)
	Update(ctx context.Context, id int64, input UpdateInput) (Item, error)
	Delete(ctx context.Context, id int64) (Item, error)
}

// Service coordinates stock operations and feeds the realtime layer.
type Service struct {
	repo      RepositoryPort
	feed      Publisher
	logger    *slog.Logger
	validate  *validator.Validate
	threshold float64
}

// NewService builds Service. threshold <= 0 selects the default low-stock
// threshold.
func NewService(repo RepositoryPort, feed Publisher, logger *slog.Logger, threshold float64) *Service {
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	return &Service{
		repo:      repo,
		feed:      feed,
		logger:    logger,
		validate:  validator.New(),
		threshold: threshold,
	}
}

// List returns all stock items ordered by name.
func (s *Service) List(ctx context.Context) ([]Item, error) {
	return s.repo.List(ctx)
}

// ListByExpiry returns the dashboard projection, expiry ascending.
func (s *Service) ListByExpiry(ctx context.Context) ([]Item, error) {
	return s.repo.ListByExpiry(ctx)
}

// ListLowStock returns items at or below the configured threshold.
func (s *Service) ListLowStock(ctx context.Context) ([]Item, error) {
	return s.repo.ListLowStock(ctx, s.threshold)
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and inserts a stock item, then announces it on the feed.
func (s *Service) Create(ctx context.Context, input CreateInput) (Item, error) {
	if err := s.validate.Struct(input); err != nil {
		return Item{}, fmt.Errorf("stock: create: %w", err)
	}
	item, err := s.repo.Create(ctx, input)
	if err != nil {
		return Item{}, fmt.Errorf("stock: create: %w", err)
	}
	s.publish(ctx, realtime.EventCreated, &item, nil)
	return item, nil
}

// Update validates and updates a stock item, then announces it on the feed.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Item, error) {
	if err := s.validate.Struct(input); err != nil {
		return Item{}, fmt.Errorf("stock: update: %w", err)
	}
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	item, err := s.repo.Update(ctx, id, input)
	if err != nil {
		return Item{}, fmt.Errorf("stock: update %d: %w", id, err)
	}
	s.publish(ctx, realtime.EventUpdated, &item, &before)
	return item, nil
}

// Delete removes a stock item and announces the deletion on the feed.
func (s *Service) Delete(ctx context.Context, id int64) error {
	item, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, realtime.EventDeleted, nil, &item)
	return nil
}

// publish is best-effort: a lost event only delays mirrors until their
// next reseed, so failures are logged rather than surfaced.
func (s *Service) publish(ctx context.Context, typ realtime.EventType, newRow, oldRow *Item) {
	if s.feed == nil {
		return
	}
	event, err := changeEvent(typ, newRow, oldRow)
	if err == nil {
		err = s.feed.Publish(ctx, event)
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("publish stock change", slog.String("type", string(typ)), slog.Any("error", err))
	}
}

func changeEvent(typ realtime.EventType, newRow, oldRow *Item) (realtime.ChangeEvent, error) {
	var newAny, oldAny any
	if newRow != nil {
		newAny = *newRow
	}
	if oldRow != nil {
		oldAny = *oldRow
	}
	return realtime.NewChange(typ, Table, newAny, oldAny)
}
