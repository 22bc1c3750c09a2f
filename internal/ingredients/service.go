package ingredients

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
	List(ctx context.Context) ([]Recipe, error)
	Create(ctx context.Context, input Input) (Recipe, error)
	Update(ctx context.Context, id int64, input Input) (Recipe, error)
	Delete(ctx context.Context, id int64) (Recipe, error)
}

// Service coordinates recipe operations.
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

// List returns all recipes.
func (s *Service) List(ctx context.Context) ([]Recipe, error) {
	return s.repo.List(ctx)
}

// Create validates and inserts a recipe.
func (s *Service) Create(ctx context.Context, input Input) (Recipe, error) {
	if err := s.validate.Struct(input); err != nil {
		return Recipe{}, fmt.Errorf("ingredients: create: %w", err)
	}
	recipe, err := s.repo.Create(ctx, input)
	if err != nil {
		return Recipe{}, fmt.Errorf("ingredients: create: %w", err)
	}
	s.publish(ctx, realtime.EventCreated, &recipe, nil)
	return recipe, nil
}

// Update validates and updates a recipe.
func (s *Service) Update(ctx context.Context, id int64, input Input) (Recipe, error) {
	if err := s.validate.Struct(input); err != nil {
		return Recipe{}, fmt.Errorf("ingredients: update: %w", err)
	}
	recipe, err := s.repo.Update(ctx, id, input)
	if err != nil {
		return Recipe{}, err
	}
	s.publish(ctx, realtime.EventUpdated, &recipe, nil)
	return recipe, nil
}

// Delete removes a recipe.
func (s *Service) Delete(ctx context.Context, id int64) error {
	recipe, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, realtime.EventDeleted, nil, &recipe)
	return nil
}

func (s *Service) publish(ctx context.Context, typ realtime.EventType, newRow, oldRow *Recipe) {
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
		s.logger.Warn("publish recipe change", slog.String("type", string(typ)), slog.Any("error", err))
	}
}
