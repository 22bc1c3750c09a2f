package gate

import (
	"log/slog"
	"net/http"

	"github.com/larder-hq/larder/internal/platform/httpx"
	"github.com/larder-hq/larder/internal/shared"
)

// Middleware guards HTTP routes by role.
type Middleware struct {
	Roles  RoleSource
	Logger *slog.Logger
}

// RequireAny ensures the signed-in user holds one of the given roles.
func (m Middleware) RequireAny(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := m.currentRole(w, r)
			if !ok {
				return
			}
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient role")
		})
	}
}

// RequireApproved ensures the signed-in user holds any approved role.
func (m Middleware) RequireApproved() func(http.Handler) http.Handler {
	return m.RequireAny(RoleUser, RoleAdmin, RoleChef)
}

func (m Middleware) currentRole(w http.ResponseWriter, r *http.Request) (Role, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return 0, false
	}
	role, err := m.Roles.RoleByUser(r.Context(), sess.User())
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("resolve role", slog.Any("error", err))
		}
		// Least privilege on resolution failure.
		return RolePending, true
	}
	return role, true
}
