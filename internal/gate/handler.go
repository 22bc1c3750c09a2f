package gate

import (
	"log/slog"
	"net/http"

	"github.com/larder-hq/larder/internal/platform/httpx"
	"github.com/larder-hq/larder/internal/shared"
)

// SessionHandler reports the access decision for the HTTP session, mirroring
// the state a websocket gate would compute for the same user.
func SessionHandler(roles RoleSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			httpx.JSON(w, http.StatusOK, State{})
			return
		}
		role, err := roles.RoleByUser(r.Context(), sess.User())
		if err != nil {
			if logger != nil {
				logger.Warn("session role fetch", slog.Any("error", err))
			}
			role = RolePending
		}
		httpx.JSON(w, http.StatusOK, State{
			Authenticated: true,
			Role:          role,
			UserID:        sess.User(),
			Email:         sess.Email(),
		})
	}
}
