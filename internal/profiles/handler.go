package profiles

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/larder-hq/larder/internal/gate"
	"github.com/larder-hq/larder/internal/platform/httpx"
	"github.com/larder-hq/larder/internal/shared"
)

// Handler exposes profile administration endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   gate.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard gate.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers profile routes. All of them are admin-only.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(gate.RoleAdmin))
		r.Get("/", h.list)
		r.Put("/{id}/role", h.updateRole)
		r.Delete("/{id}", h.delete)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list profiles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": profiles})
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var input UpdateRoleInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	profile, err := h.service.UpdateRole(r.Context(), h.actor(r), chi.URLParam(r, "id"), input)
	if err != nil {
		h.respondServiceError(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == h.actor(r) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Target", "cannot delete your own profile")
		return
	}
	if err := h.service.Delete(r.Context(), h.actor(r), id); err != nil {
		h.respondServiceError(w, "delete profile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) actor(r *http.Request) string {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		return sess.User()
	}
	return ""
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	var verr validator.ValidationErrors
	if errors.As(err, &verr) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", verr.Error())
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
