package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/larder-hq/larder/internal/auth"
	"github.com/larder-hq/larder/internal/categories"
	"github.com/larder-hq/larder/internal/gate"
	"github.com/larder-hq/larder/internal/gateway"
	"github.com/larder-hq/larder/internal/ingredients"
	"github.com/larder-hq/larder/internal/observability"
	"github.com/larder-hq/larder/internal/profiles"
	"github.com/larder-hq/larder/internal/shared"
	"github.com/larder-hq/larder/internal/stock"
	"github.com/larder-hq/larder/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	AuthHandler        *auth.Handler
	StockHandler       *stock.Handler
	IngredientsHandler *ingredients.Handler
	CategoriesHandler  *categories.Handler
	ProfilesHandler    *profiles.Handler
	GatewayHandler     *gateway.Handler
	JobsHandler        *jobs.Handler
	Roles              gate.RoleSource
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Larder defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	mwConfig := MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}

	// The websocket route carries only the session loader; the timeout,
	// compression and commit layers would break the upgraded connection.
	r.Group(func(r chi.Router) {
		r.Use(chimw.RealIP, chimw.RequestID, SessionLoader(mwConfig))
		r.Get("/ws", params.GatewayHandler.Serve)
	})

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(mwConfig) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})

		r.Route("/auth", func(r chi.Router) {
			params.AuthHandler.MountRoutes(r)
			r.Get("/session", gate.SessionHandler(params.Roles, params.Logger))
		})
		r.Route("/stocks", params.StockHandler.MountRoutes)
		r.Route("/ingredients", params.IngredientsHandler.MountRoutes)
		r.Route("/categories", params.CategoriesHandler.MountRoutes)
		r.Route("/profiles", params.ProfilesHandler.MountRoutes)
		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
