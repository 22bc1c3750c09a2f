// Package gate decides, once per session change, whether the realtime
// workspace (table mirrors and presence tracker) may run and at what
// privilege level. No mirrors or trackers exist for unauthenticated or
// pending sessions.
package gate

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/larder-hq/larder/internal/auth"
	"github.com/larder-hq/larder/internal/presence"
)

// State is the gate's access decision as exposed to consumers.
type State struct {
	Authenticated bool   `json:"authenticated"`
	Role          Role   `json:"role"`
	Loading       bool   `json:"loading"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
}

// RoleSource resolves the role attribute for a user, backed by the
// profiles store.
type RoleSource interface {
	RoleByUser(ctx context.Context, userID string) (Role, error)
}

// Workspace is the session-scoped container the gate controls the
// lifetime of.
type Workspace interface {
	Close(ctx context.Context)
}

// Factory builds a workspace for an approved session.
type Factory func(ctx context.Context, identity presence.Identity, role Role) (Workspace, error)

// Gate consumes the auth provider and derives the tri-state access
// decision: unauthenticated, authenticated-pending, authenticated-approved.
type Gate struct {
	auth     auth.Provider
	roles    RoleSource
	build    Factory
	logger   *slog.Logger
	onChange func()

	sf        singleflight.Group
	applyMu   sync.Mutex
	mu        sync.RWMutex
	state     State
	ws        Workspace
	roleCache map[string]Role
	unsub     func()
}

// New constructs a Gate. build may be nil when the caller only needs the
// decision. onChange, when non-nil, fires after every state transition.
func New(provider auth.Provider, roles RoleSource, build Factory, logger *slog.Logger, onChange func()) *Gate {
	return &Gate{
		auth:      provider,
		roles:     roles,
		build:     build,
		logger:    logger,
		onChange:  onChange,
		state:     State{Loading: true},
		roleCache: map[string]Role{},
	}
}

// Run resolves the current session and subscribes to session changes. The
// returned error reflects the initial resolution only; later changes are
// applied asynchronously.
func (g *Gate) Run(ctx context.Context) error {
	g.unsub = g.auth.OnAuthStateChange(func(_ auth.Event, sess *auth.Session) {
		g.apply(ctx, sess)
	})

	sess, err := g.auth.GetSession(ctx)
	if err != nil {
		g.apply(ctx, nil)
		return err
	}
	g.apply(ctx, sess)
	return nil
}

// Close detaches from the auth provider and tears the workspace down.
func (g *Gate) Close(ctx context.Context) {
	if g.unsub != nil {
		g.unsub()
		g.unsub = nil
	}
	g.apply(ctx, nil)
}

// SignOut terminates the underlying session; the resulting auth event
// drives the usual teardown through apply.
func (g *Gate) SignOut(ctx context.Context) error {
	return g.auth.SignOut(ctx)
}

// State returns the current access decision.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Workspace returns the running workspace, or nil when none exists.
func (g *Gate) Workspace() Workspace {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ws
}

// apply processes one session change end to end: decision, role
// resolution, workspace lifecycle. Events are serialized: the initial
// resolution in Run can race the broadcaster callback, and two
// interleaved applies for the same approved session would each build a
// workspace and orphan one of them.
func (g *Gate) apply(ctx context.Context, sess *auth.Session) {
	g.applyMu.Lock()
	defer g.applyMu.Unlock()

	if sess == nil {
		g.mu.Lock()
		g.state = State{}
		ws := g.ws
		g.ws = nil
		g.roleCache = map[string]Role{}
		g.mu.Unlock()

		if ws != nil {
			ws.Close(ctx)
		}
		g.notify()
		return
	}

	g.mu.Lock()
	g.state = State{Authenticated: true, Loading: true, UserID: sess.UserID, Email: sess.Email}
	g.mu.Unlock()
	g.notify()

	role := g.resolveRole(ctx, sess)

	g.mu.Lock()
	g.state.Role = role
	g.state.Loading = false
	ws := g.ws
	needBuild := role.Approved() && g.build != nil && ws == nil
	if !role.Approved() {
		g.ws = nil
	}
	g.mu.Unlock()
	g.notify()

	if !role.Approved() {
		if ws != nil {
			ws.Close(ctx)
		}
		return
	}

	if needBuild {
		built, err := g.build(ctx, presence.Identity{UserID: sess.UserID, Email: sess.Email}, role)
		if err != nil {
			if g.logger != nil {
				g.logger.Error("build workspace", slog.String("user_id", sess.UserID), slog.Any("error", err))
			}
			return
		}
		g.mu.Lock()
		stale := !g.state.Authenticated
		if !stale {
			g.ws = built
		}
		g.mu.Unlock()
		if stale {
			// Signed out while the workspace was being assembled.
			built.Close(ctx)
		}
	}
}

// resolveRole fetches the role attribute once per session and caches it
// for the session's lifetime; concurrent resolutions for the same session
// are collapsed. A failed fetch resolves to Pending and is not cached, so
// the next session event can recover.
func (g *Gate) resolveRole(ctx context.Context, sess *auth.Session) Role {
	g.mu.RLock()
	cached, ok := g.roleCache[sess.ID]
	g.mu.RUnlock()
	if ok {
		return cached
	}

	value, err, _ := g.sf.Do(sess.ID, func() (any, error) {
		return g.roles.RoleByUser(ctx, sess.UserID)
	})
	if err != nil {
		if g.logger != nil {
			g.logger.Warn("role fetch failed, treating as pending", slog.String("user_id", sess.UserID), slog.Any("error", err))
		}
		return RolePending
	}

	role := value.(Role)
	g.mu.Lock()
	g.roleCache[sess.ID] = role
	g.mu.Unlock()
	return role
}

func (g *Gate) notify() {
	if g.onChange != nil {
		g.onChange()
	}
}
