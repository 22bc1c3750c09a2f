package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/larder-hq/larder/internal/platform/httpx"
	"github.com/larder-hq/larder/internal/shared"
)

// Handler manages authentication endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type credentialsInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MountRoutes registers auth routes. Login and signup are rate limited to
// slow down credential stuffing.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Post("/login", h.login)
		r.Post("/signup", h.signup)
	})
	r.Post("/logout", h.logout)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var input credentialsInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	session, err := h.service.SignIn(r.Context(), sess, input.Email, input.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": session.UserID, "email": session.Email})
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var input credentialsInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if input.Email == "" || len(input.Password) < 8 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "email required, password must be at least 8 characters")
		return
	}
	userID, err := h.service.SignUp(r.Context(), input.Email, input.Password)
	if err != nil {
		h.logger.Error("signup", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"user_id": userID, "pending": true})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil && sess.User() != "" {
		h.service.SignOut(r.Context(), sess)
	}
	w.WriteHeader(http.StatusNoContent)
}
