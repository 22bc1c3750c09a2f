package gate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/larder-hq/larder/internal/shared"
)

func protectedRequest(t *testing.T, mw func(http.Handler) http.Handler, sess *shared.Session) *httptest.ResponseRecorder {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if sess != nil {
		req = req.WithContext(shared.ContextWithSession(context.Background(), sess))
	}
	rr := httptest.NewRecorder()
	mw(next).ServeHTTP(rr, req)
	return rr
}

func sessionFor(t *testing.T, userID string) *shared.Session {
	t.Helper()
	sess := &shared.Session{ID: "s1"}
	sess.SetUser(userID, userID+"@larder.local")
	return sess
}

func TestMiddlewareAnonymousGetsProblemJSON(t *testing.T) {
	mw := Middleware{Roles: &fakeRoles{role: RoleUser}}

	rr := protectedRequest(t, mw.RequireApproved(), nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), `"status":401`)
}

func TestMiddlewareWrongRoleGetsProblemJSON(t *testing.T) {
	mw := Middleware{Roles: &fakeRoles{role: RoleUser}}

	rr := protectedRequest(t, mw.RequireAny(RoleAdmin), sessionFor(t, "u1"))
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), `"status":403`)
}

func TestMiddlewareApprovedRolePasses(t *testing.T) {
	mw := Middleware{Roles: &fakeRoles{role: RoleChef}}

	rr := protectedRequest(t, mw.RequireApproved(), sessionFor(t, "u1"))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestMiddlewarePendingRoleIsForbidden(t *testing.T) {
	mw := Middleware{Roles: &fakeRoles{role: RolePending}}

	rr := protectedRequest(t, mw.RequireApproved(), sessionFor(t, "u1"))
	require.Equal(t, http.StatusForbidden, rr.Code)
}
