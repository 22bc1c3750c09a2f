package profiles

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/larder-hq/larder/internal/gate"
	"github.com/larder-hq/larder/internal/realtime"
	"github.com/larder-hq/larder/internal/shared"
)

// Publisher pushes change events to the realtime feed.
type Publisher interface {
	Publish(ctx context.Context, event realtime.ChangeEvent) error
}

// AuditPort records role changes and deletions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	List(ctx context.Context) ([]Profile, error)
	Get(ctx context.Context, id string) (Profile, error)
	RoleID(ctx context.Context, id string) (int, error)
	Create(ctx context.Context, email string) (Profile, error)
	UpdateRole(ctx context.Context, id string, roleID int) (Profile, error)
	Delete(ctx context.Context, id string) (Profile, error)
}

// Service coordinates profile operations and serves as the gate's role
// source.
type Service struct {
	repo     RepositoryPort
	feed     Publisher
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service.
func NewService(repo RepositoryPort, feed Publisher, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, feed: feed, audit: audit, logger: logger, validate: validator.New()}
}

// RoleByUser implements gate.RoleSource.
func (s *Service) RoleByUser(ctx context.Context, userID string) (gate.Role, error) {
	roleID, err := s.repo.RoleID(ctx, userID)
	if err != nil {
		return gate.RolePending, fmt.Errorf("profiles: role for %s: %w", userID, err)
	}
	return gate.RoleFromID(roleID), nil
}

// List returns all profiles.
func (s *Service) List(ctx context.Context) ([]Profile, error) {
	return s.repo.List(ctx)
}

// Get returns one profile.
func (s *Service) Get(ctx context.Context, id string) (Profile, error) {
	return s.repo.Get(ctx, id)
}

// Create registers a new pending profile.
func (s *Service) Create(ctx context.Context, email string) (Profile, error) {
	profile, err := s.repo.Create(ctx, email)
	if err != nil {
		return Profile{}, err
	}
	s.publish(ctx, realtime.EventCreated, &profile, nil)
	return profile, nil
}

// UpdateRole changes a profile's role on behalf of an admin. The change is
// audited; an already-resolved session keeps its old role until its next
// session event.
func (s *Service) UpdateRole(ctx context.Context, actorID, id string, input UpdateRoleInput) (Profile, error) {
	if err := s.validate.Struct(input); err != nil {
		return Profile{}, fmt.Errorf("profiles: update role: %w", err)
	}
	profile, err := s.repo.UpdateRole(ctx, id, input.RoleID)
	if err != nil {
		return Profile{}, err
	}
	s.publish(ctx, realtime.EventUpdated, &profile, nil)
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "profiles.role_update",
		Entity:   Table,
		EntityID: id,
		Meta:     map[string]any{"role_id": input.RoleID},
	})
	return profile, nil
}

// Delete removes a profile on behalf of an admin.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	profile, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, realtime.EventDeleted, nil, &profile)
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "profiles.delete",
		Entity:   Table,
		EntityID: id,
		Meta:     map[string]any{"email": profile.Email},
	})
	return nil
}

func (s *Service) publish(ctx context.Context, typ realtime.EventType, newRow, oldRow *Profile) {
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
		s.logger.Warn("publish profile change", slog.String("type", string(typ)), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.String("action", log.Action), slog.Any("error", err))
	}
}
