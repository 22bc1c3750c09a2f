package categories

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/larder-hq/larder/internal/realtime"
)

// Publisher pushes change events to the realtime feed.
type Publisher interface {
	Publish(ctx context.Context, event realtime.ChangeEvent) error
}

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	List(ctx context.Context) ([]Category, error)
	Create(ctx context.Context, input Input) (Category, error)
	Rename(ctx context.Context, id int64, input Input) (Category, error)
	Delete(ctx context.Context, id int64) (Category, error)
}

// Service coordinates category operations.
type Service struct {
	repo     RepositoryPort
	feed     Publisher
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service.
func NewService(repo RepositoryPort, feed Publisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, feed: feed, logger: logger, validate: validator.New()}
}

// List returns all categories.
func (s *Service) List(ctx context.Context) ([]Category, error) {
	return s.repo.List(ctx)
}

// Create validates and inserts a category.
func (s *Service) Create(ctx context.Context, input Input) (Category, error) {
	if err := s.validate.Struct(input); err != nil {
		return Category{}, fmt.Errorf("categories: create: %w", err)
	}
	category, err := s.repo.Create(ctx, input)
	if err != nil {
		return Category{}, err
	}
	s.publish(ctx, realtime.EventCreated, &category, nil)
	return category, nil
}

// Rename validates and renames a category.
func (s *Service) Rename(ctx context.Context, id int64, input Input) (Category, error) {
	if err := s.validate.Struct(input); err != nil {
		return Category{}, fmt.Errorf("categories: rename: %w", err)
	}
	category, err := s.repo.Rename(ctx, id, input)
	if err != nil {
		return Category{}, err
	}
	s.publish(ctx, realtime.EventUpdated, &category, nil)
	return category, nil
}

// Delete removes a category.
func (s *Service) Delete(ctx context.Context, id int64) error {
	category, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, realtime.EventDeleted, nil, &category)
	return nil
}

func (s *Service) publish(ctx context.Context, typ realtime.EventType, newRow, oldRow *Category) {
	if s.feed == nil {
		return
	}
	var newAny, oldAny any
	if newRow != nil {
		newAny = *newRow
	}
	if oldRow != nil {
		oldAny = *oldRow
	}
	event, err := realtime.NewChange(typ, Table, newAny, oldAny)
	if err == nil {
		err = s.feed.Publish(ctx, event)
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("publish category change", slog.String("type", string(typ)), slog.Any("error", err))
	}
}
