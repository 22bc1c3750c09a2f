package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/larder-hq/larder/internal/shared"
)

type memoryRepo struct {
	mu    sync.Mutex
	creds map[string]Credential
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{creds: map[string]Credential{}}
}

func (r *memoryRepo) FindCredential(ctx context.Context, email string) (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[email]
	if !ok {
		return Credential{}, shared.ErrNotFound
	}
	return cred, nil
}

func (r *memoryRepo) CreateAccount(ctx context.Context, email, passwordHash string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.creds[email]; ok {
		return "", shared.ErrDuplicate
	}
	userID := uuid.NewString()
	r.creds[email] = Credential{UserID: userID, Email: email, PasswordHash: passwordHash}
	return userID, nil
}

func testService(t *testing.T) (*Service, *memoryRepo, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := shared.NewSessionManager(client, "larder_session", time.Hour, false)
	repo := newMemoryRepo()
	return NewService(repo, sessions, nil, nil), repo, sessions
}

func freshSession(t *testing.T, sessions *shared.SessionManager) *shared.Session {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sessions.Load(context.Background(), req)
	require.NoError(t, err)
	return sess
}

func TestSignInBindsSession(t *testing.T) {
	svc, repo, sessions := testService(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("chef1234"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.creds["chef@larder.local"] = Credential{UserID: "u1", Email: "chef@larder.local", PasswordHash: string(hash)}

	sess := freshSession(t, sessions)
	session, err := svc.SignIn(ctx, sess, "chef@larder.local", "chef1234")
	require.NoError(t, err)
	require.Equal(t, "u1", session.UserID)
	require.Equal(t, "u1", sess.User())
	require.Equal(t, sess.ID, session.ID)
}

func TestSignInWrongPassword(t *testing.T) {
	svc, repo, sessions := testService(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("chef1234"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.creds["chef@larder.local"] = Credential{UserID: "u1", Email: "chef@larder.local", PasswordHash: string(hash)}

	_, err = svc.SignIn(context.Background(), freshSession(t, sessions), "chef@larder.local", "nope")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestSignInUnknownEmail(t *testing.T) {
	svc, _, sessions := testService(t)

	_, err := svc.SignIn(context.Background(), freshSession(t, sessions), "ghost@larder.local", "whatever")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestSignUpThenSignIn(t *testing.T) {
	svc, _, sessions := testService(t)
	ctx := context.Background()

	userID, err := svc.SignUp(ctx, "new@larder.local", "longenough")
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	session, err := svc.SignIn(ctx, freshSession(t, sessions), "new@larder.local", "longenough")
	require.NoError(t, err)
	require.Equal(t, userID, session.UserID)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "new@larder.local", "longenough")
	require.NoError(t, err)
	_, err = svc.SignUp(ctx, "new@larder.local", "longenough")
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestSignOutEmitsEvent(t *testing.T) {
	svc, repo, sessions := testService(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("chef1234"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.creds["chef@larder.local"] = Credential{UserID: "u1", Email: "chef@larder.local", PasswordHash: string(hash)}

	var mu sync.Mutex
	var events []Event
	unsubscribe := svc.Broadcaster().Subscribe(func(event Event, sess *Session) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})
	defer unsubscribe()

	sess := freshSession(t, sessions)
	_, err = svc.SignIn(ctx, sess, "chef@larder.local", "chef1234")
	require.NoError(t, err)
	svc.SignOut(ctx, sess)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Event{EventSignedIn, EventSignedOut}, events)
}

func TestSessionByID(t *testing.T) {
	svc, repo, sessions := testService(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("chef1234"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.creds["chef@larder.local"] = Credential{UserID: "u1", Email: "chef@larder.local", PasswordHash: string(hash)}

	sess := freshSession(t, sessions)
	_, err = svc.SignIn(ctx, sess, "chef@larder.local", "chef1234")
	require.NoError(t, err)
	require.NoError(t, sessions.Commit(ctx, httptest.NewRecorder(), sess))

	found, err := svc.SessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "u1", found.UserID)

	// Unknown and anonymous sessions both resolve to nil.
	missing, err := svc.SessionByID(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, missing)
}
