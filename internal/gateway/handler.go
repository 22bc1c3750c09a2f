package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/larder-hq/larder/internal/auth"
	"github.com/larder-hq/larder/internal/gate"
	"github.com/larder-hq/larder/internal/platform/httpx"
	"github.com/larder-hq/larder/internal/presence"
	"github.com/larder-hq/larder/internal/shared"
	"github.com/larder-hq/larder/internal/workspace"
)

// Handler upgrades dashboard connections and wires each one to its own
// session gate.
type Handler struct {
	hub      *Hub
	auth     *auth.Service
	roles    gate.RoleSource
	deps     workspace.Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds Handler instance.
func NewHandler(hub *Hub, authService *auth.Service, roles gate.RoleSource, deps workspace.Deps, logger *slog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		auth:   authService,
		roles:  roles,
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Serve handles GET /ws. The session cookie middleware must run first so
// the connection is bound to a session id; the gate then decides what the
// connection may see, starting from the unauthenticated state.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "session unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", slog.Any("error", err))
		return
	}

	client := newClient(h.hub, conn, h.logger)
	provider := auth.NewSessionProvider(h.auth, sess.ID)

	build := func(ctx context.Context, identity presence.Identity, role gate.Role) (gate.Workspace, error) {
		ws, err := h.deps.Build(ctx, identity, role, client.requestState)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
	client.gate = gate.New(provider, h.roles, build, h.logger, client.requestState)

	client.start()
	if err := client.gate.Run(client.ctx); err != nil {
		h.logger.Warn("gate run", slog.Any("error", err))
	}
}
