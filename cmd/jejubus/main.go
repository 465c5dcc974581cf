package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"jejubus/internal/cache"
	"jejubus/internal/config"
	"jejubus/internal/handler"
	"jejubus/internal/hub"
	"jejubus/internal/ingestor"
	"jejubus/internal/middleware"
	"jejubus/internal/reconcile"
	"jejubus/internal/session"
	"jejubus/internal/store"
	"jejubus/pkg/busapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	mode, err := reconcile.ParseMode(cfg.ReconcileMode)
	if err != nil {
		logger.Error("invalid reconcile mode", "error", err)
		os.Exit(1)
	}

	logger.Info("starting jejubus server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"feed_format", cfg.PositionFeedFormat,
		"reconcile_mode", cfg.ReconcileMode,
		"tracked_plates", len(cfg.TrackedPlates),
		"redis_enabled", cfg.RedisEnabled,
	)

	busStore := store.New()
	poiStore := store.NewPOIStore()
	wsHub := hub.NewHub(cfg.TileZoomLevel, logger)

	sess := session.New(wsHub, wsHub, session.Options{
		Mode:          mode,
		TrackedPlates: cfg.TrackedPlates,
	}, logger)

	apiClient := busapi.New(cfg.PositionFeedURL, cfg.POIFeedURL, cfg.FetchTimeout)

	var busFeed ingestor.BusFeed = apiClient
	if cfg.PositionFeedFormat == "gtfsrt" {
		busFeed = busapi.NewGTFSRT(cfg.PositionFeedURL, cfg.FetchTimeout)
	}

	var poiFeed ingestor.POIFeed
	if cfg.POIFeedURL != "" {
		poiFeed = apiClient
	}

	var poiCache ingestor.POICache
	if cfg.RedisEnabled {
		redisCache, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without poi cache", "error", err)
		} else {
			defer redisCache.Close()
			poiCache = cache.NewPOICache(redisCache, cfg.CacheTTL)
		}
	}

	ing := ingestor.New(busFeed, poiFeed, busStore, poiStore, sess, poiCache, ingestor.Options{
		PollInterval:     cfg.PollInterval,
		POIRetryInterval: cfg.POIRetryInterval,
		FetchTimeout:     cfg.FetchTimeout,
	}, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)
	limiter.OnBlocked(handler.ServerStats.IncRateLimitBlocked)

	httpHandler := handler.NewHTTPHandler(busStore, poiStore)
	sessionHandler := handler.NewSessionHandler(sess, logger)
	wsHandler := handler.NewWSHandler(wsHub, sess, cfg.TileZoomLevel, logger)
	healthHandler := handler.NewHealthHandler(ing, busStore, poiStore)
	statsHandler := handler.NewStatsHandler(sess, ing, wsHub)

	api := http.NewServeMux()

	api.HandleFunc("GET /v1/vehicles", httpHandler.ListVehicles)
	api.HandleFunc("GET /v1/vehicles/{plate}", httpHandler.GetVehicle)
	api.HandleFunc("GET /v1/pois", httpHandler.ListPOIs)
	api.HandleFunc("GET /v1/pois/{id}", httpHandler.GetPOI)

	api.HandleFunc("GET /v1/markers", sessionHandler.ListMarkers)
	api.HandleFunc("POST /v1/markers/{handle}/click", sessionHandler.Click)
	api.HandleFunc("GET /v1/selection", sessionHandler.GetSelection)
	api.HandleFunc("POST /v1/selection/dismiss", sessionHandler.Dismiss)
	api.HandleFunc("GET /v1/latency", sessionHandler.GetLatency)
	api.HandleFunc("GET /v1/stats", statsHandler.GetStats)

	mux := http.NewServeMux()
	mux.Handle("/v1/", handler.CORSMiddleware(limiter.Middleware(handler.GzipMiddleware(api))))
	// websocket upgrades must not pass through the gzip writer
	mux.HandleFunc("/v1/ws", wsHandler.ServeWS)
	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.CountRequests(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsHub.OnReady(func() {
		if err := sess.SurfaceChanged(ctx); err != nil {
			logger.Warn("failed to reconcile after surface became ready", "error", err)
		}
	})

	go sess.Run(ctx)
	go wsHub.Run(ctx)
	go ing.Run(ctx)
	go limiter.Run(ctx)

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-sess.Done():
	case <-shutdownCtx.Done():
		logger.Warn("session teardown did not finish before the shutdown deadline")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
