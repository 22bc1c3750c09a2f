package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/larder-hq/larder/internal/app"
	"github.com/larder-hq/larder/internal/auth"
	"github.com/larder-hq/larder/internal/categories"
	"github.com/larder-hq/larder/internal/gate"
	"github.com/larder-hq/larder/internal/gateway"
	"github.com/larder-hq/larder/internal/ingredients"
	"github.com/larder-hq/larder/internal/observability"
	"github.com/larder-hq/larder/internal/platform/cache"
	"github.com/larder-hq/larder/internal/platform/db"
	"github.com/larder-hq/larder/internal/presence"
	"github.com/larder-hq/larder/internal/profiles"
	"github.com/larder-hq/larder/internal/realtime"
	"github.com/larder-hq/larder/internal/shared"
	"github.com/larder-hq/larder/internal/stock"
	"github.com/larder-hq/larder/internal/workspace"
	"github.com/larder-hq/larder/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, 10)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	auditLogger := shared.NewAuditLogger(dbpool)

	feed := realtime.NewFeed(redisClient, logger)
	feed.OnPublish(metrics.FeedEvent)

	channels := presence.ChannelFactory(func(topic, key string) presence.Channel {
		return realtime.NewPresenceChannel(redisClient, logger, topic, key, cfg.PresenceTTL)
	})

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, sessionManager, feed, logger)
	authHandler := auth.NewHandler(logger, authService)

	stockRepo := stock.NewRepository(dbpool)
	stockService := stock.NewService(stockRepo, feed, logger, cfg.LowStockThreshold)

	ingredientsRepo := ingredients.NewRepository(dbpool)
	ingredientsService := ingredients.NewService(ingredientsRepo, feed, logger)

	categoriesRepo := categories.NewRepository(dbpool)
	categoriesService := categories.NewService(categoriesRepo, feed, logger)

	profilesRepo := profiles.NewRepository(dbpool)
	profilesService := profiles.NewService(profilesRepo, feed, auditLogger, logger)

	guard := gate.Middleware{Roles: profilesService, Logger: logger}

	stockHandler := stock.NewHandler(logger, stockService, guard)
	ingredientsHandler := ingredients.NewHandler(logger, ingredientsService, guard)
	categoriesHandler := categories.NewHandler(logger, categoriesService, guard)
	profilesHandler := profiles.NewHandler(logger, profilesService, guard)

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHTTPHandler(logger, jobsClient, guard, cfg.ExpiryWindowDays, cfg.LowStockThreshold)

	hub := gateway.NewHub(logger)
	metrics.ObserveClients(hub.Clients)
	go func() {
		if err := hub.RunNotices(ctx, feed); err != nil && err != context.Canceled {
			logger.Warn("notice relay", slog.Any("error", err))
		}
	}()

	deps := workspace.Deps{
		Stocks:     stockService,
		Categories: categoriesService,
		Profiles:   profilesService,
		Feed:       feed,
		Channels:   channels,
		Logger:     logger,
	}
	gatewayHandler := gateway.NewHandler(hub, authService, profilesService, deps, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		AuthHandler:        authHandler,
		StockHandler:       stockHandler,
		IngredientsHandler: ingredientsHandler,
		CategoriesHandler:  categoriesHandler,
		ProfilesHandler:    profilesHandler,
		GatewayHandler:     gatewayHandler,
		JobsHandler:        jobsHandler,
		Roles:              profilesService,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
