package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/larder-hq/larder/internal/realtime"
	"github.com/larder-hq/larder/internal/shared"
)

// profilesTable matches the profiles module's change-feed table name;
// referenced by name to keep this package out of the gate import chain.
const profilesTable = "profiles"

// Publisher pushes change events to the realtime feed.
type Publisher interface {
	Publish(ctx context.Context, event realtime.ChangeEvent) error
}

// Service wraps authentication business rules and owns the auth event
// stream.
type Service struct {
	repo        Repository
	sessions    *shared.SessionManager
	feed        Publisher
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions *shared.SessionManager, feed Publisher, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		sessions:    sessions,
		feed:        feed,
		broadcaster: NewBroadcaster(),
		logger:      logger,
	}
}

// Broadcaster exposes the auth event stream for provider construction.
func (s *Service) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// SignIn validates credentials and binds the user to the request session.
func (s *Service) SignIn(ctx context.Context, sess *shared.Session, email, password string) (*Session, error) {
	cred, err := s.repo.FindCredential(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}

	sess.SetUser(cred.UserID, cred.Email)
	session := &Session{ID: sess.ID, UserID: cred.UserID, Email: cred.Email}
	s.broadcaster.Emit(EventSignedIn, session)
	return session, nil
}

// SignUp registers a new pending account and announces the profile on the
// change feed so admin dashboards see it appear.
func (s *Service) SignUp(ctx context.Context, email, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: signup: %w", err)
	}
	userID, err := s.repo.CreateAccount(ctx, email, string(hash))
	if err != nil {
		return "", err
	}

	if s.feed != nil {
		profile := struct {
			ID     string `json:"id"`
			Email  string `json:"email"`
			RoleID int    `json:"role_id"`
		}{ID: userID, Email: email}
		event, err := realtime.NewChange(realtime.EventCreated, profilesTable, profile, nil)
		if err == nil {
			err = s.feed.Publish(ctx, event)
		}
		if err != nil && s.logger != nil {
			s.logger.Warn("publish signup", slog.Any("error", err))
		}
	}
	return userID, nil
}

// SignOut destroys the request session and emits the sign-out event.
func (s *Service) SignOut(ctx context.Context, sess *shared.Session) {
	userID := sess.User()
	s.sessions.Destroy(sess)
	s.broadcaster.Emit(EventSignedOut, &Session{ID: sess.ID, UserID: userID})
}

// SignOutByID destroys a stored session by id, used by providers detached
// from an HTTP request.
func (s *Service) SignOutByID(ctx context.Context, sessionID string) error {
	stored, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if err := s.sessions.DestroyByID(ctx, sessionID); err != nil {
		return err
	}
	emitted := &Session{ID: sessionID}
	if stored != nil {
		emitted.UserID = stored.User()
		emitted.Email = stored.Email()
	}
	s.broadcaster.Emit(EventSignedOut, emitted)
	return nil
}

// SessionByID resolves a stored session, nil when signed out.
func (s *Service) SessionByID(ctx context.Context, sessionID string) (*Session, error) {
	stored, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if stored.User() == "" {
		return nil, nil
	}
	return &Session{ID: sessionID, UserID: stored.User(), Email: stored.Email()}, nil
}
