package jobs

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/larder-hq/larder/internal/gate"
	"github.com/larder-hq/larder/internal/platform/httpx"
)

// Handler exposes on-demand job triggers for administrators; the scheduled
// runs live in the worker.
type Handler struct {
	logger *slog.Logger
	client *Client
	guard  gate.Middleware

	windowDays int
	threshold  float64
}

// NewHTTPHandler builds Handler instance.
func NewHTTPHandler(logger *slog.Logger, client *Client, guard gate.Middleware, windowDays int, threshold float64) *Handler {
	return &Handler{logger: logger, client: client, guard: guard, windowDays: windowDays, threshold: threshold}
}

// MountRoutes registers job trigger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(gate.RoleAdmin))
		r.Post("/expiry-scan", h.expiryScan)
		r.Post("/low-stock-digest", h.lowStockDigest)
	})
}

func (h *Handler) expiryScan(w http.ResponseWriter, r *http.Request) {
	info, err := h.client.EnqueueExpiryScan(r.Context(), ExpiryScanPayload{WindowDays: h.windowDays})
	if err != nil {
		h.logger.Error("enqueue expiry scan", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": info.ID})
}

func (h *Handler) lowStockDigest(w http.ResponseWriter, r *http.Request) {
	info, err := h.client.EnqueueLowStockDigest(r.Context(), LowStockDigestPayload{Threshold: h.threshold})
	if err != nil {
		h.logger.Error("enqueue low stock digest", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": info.ID})
}
