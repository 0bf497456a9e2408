package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/skyline-api/internal/assistant"
	"github.com/ksred/skyline-api/internal/auth"
	"github.com/ksred/skyline-api/internal/batch"
	"github.com/ksred/skyline-api/internal/config"
	"github.com/ksred/skyline-api/internal/database"
	"github.com/ksred/skyline-api/internal/events"
	"github.com/ksred/skyline-api/internal/gateway"
	"github.com/ksred/skyline-api/internal/lab"
	"github.com/ksred/skyline-api/internal/logging"
	"github.com/ksred/skyline-api/internal/mentor"
	"github.com/ksred/skyline-api/internal/metrics"
	"github.com/ksred/skyline-api/internal/roadmap"
	"github.com/ksred/skyline-api/pkg/middleware"
	"github.com/ksred/skyline-api/pkg/retry"
)

// main initializes and runs the skyline API server with graceful shutdown support.
// SKYLINE_CONFIG points at a config file; without it the default search paths apply.
func main() {
	cfg, err := config.Load(os.Getenv("SKYLINE_CONFIG"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Setup(cfg.Log, cfg.IsProduction())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Events
	publisher, store, kafkaPublisher := buildPublisher(cfg.Events, db)
	if kafkaPublisher != nil {
		defer kafkaPublisher.Close()
	}

	// Lab sessions
	reports := lab.NewDatabase(db)
	manager := lab.NewManager(lab.Options{
		TickInterval: cfg.Lab.TickInterval,
		StageDelay:   cfg.Lab.StageDelay,
		MaxMove:      cfg.Lab.MaxMove,
		MaxNotional:  decimal.NewFromFloat(cfg.Risk.MaxNotional),
		Scheduler:    batch.RealScheduler{},
		Publisher:    publisher,
		Reports:      reports,
	}, cfg.Lab.IdleTimeout, cfg.Lab.MaxSessionsPerOwner)
	go manager.Reap(ctx)

	var history lab.EventHistory
	if store != nil {
		history = store
	}
	labHandlers := lab.NewGinHandlers(manager, reports, history)

	// Auth
	authService := auth.NewService(cfg.Auth)
	authHandlers := auth.NewGinHandlers(authService)

	// AI provider
	gw, video, dial := buildGateway(cfg.AI)
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.AI.MaxAttempts

	roadmapCache, err := roadmap.NewCache(cfg.Cache.NumCounters, cfg.Cache.MaxCost, cfg.Cache.RoadmapTTL)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create roadmap cache")
	}
	defer roadmapCache.Close()
	roadmapService := roadmap.NewService(roadmap.NewDatabase(db), gw, roadmapCache, retryCfg)
	roadmapHandlers := roadmap.NewGinHandlers(roadmapService)

	assistantService := assistant.NewService(gw, video, retryCfg, cfg.AI.ChatHistory)
	assistantHandlers := assistant.NewGinHandlers(assistantService)
	go assistant.NewPoller(assistantService, cfg.AI.VideoPollInterval, cfg.AI.VideoTimeout, cfg.AI.Retention).Start(ctx)

	mentorHandlers := mentor.NewGinHandlers(dial, cfg.Server.AllowedOrigins)

	// Router
	limiter := middleware.NewRateLimiter(
		middleware.Rule{Prefix: "/api/v1/auth", PerMinute: cfg.Server.AuthRateLimit},
		middleware.Rule{Prefix: "/api/v1/labs", PerMinute: cfg.Server.LabRateLimit},
		middleware.Rule{Prefix: "/api/v1/roadmaps", PerMinute: cfg.Server.AIRateLimit},
		middleware.Rule{Prefix: "/api/v1/assistant", PerMinute: cfg.Server.AIRateLimit},
		middleware.Rule{Prefix: "/api/v1/mentor", PerMinute: cfg.Server.AIRateLimit},
	)
	go limiter.Cleanup(ctx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins)))

	setupRoutes(router, authService.Secret(), limiter.Handler(), authHandlers, labHandlers, roadmapHandlers, assistantHandlers, mentorHandlers)

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout is left unset: the mentor socket and speech stream outlive it
	}

	go func() {
		zlog.Info().Str("port", cfg.Server.Port).Str("env", cfg.Server.Env).
			Bool("ai_enabled", cfg.AIEnabled()).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}
	manager.CloseAll()

	zlog.Info().Msg("Server exiting")
}

// buildPublisher assembles the configured event sinks. The store publisher is
// returned separately because it also serves event history.
func buildPublisher(cfg config.EventsConfig, db *gorm.DB) (events.Publisher, *events.StorePublisher, *events.KafkaPublisher) {
	var (
		sinks events.Multi
		store *events.StorePublisher
		kafka *events.KafkaPublisher
	)
	if cfg.Log {
		sinks = append(sinks, events.LogPublisher{})
	}
	if cfg.Store {
		store = events.NewStorePublisher(db)
		sinks = append(sinks, store)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafka = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, kafka)
		zlog.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("Publishing lab events to Kafka")
	}
	if len(sinks) == 0 {
		return events.Nop{}, nil, nil
	}
	return sinks, store, kafka
}

// buildGateway picks the AI provider clients. Without an API key every AI
// feature answers with an invalid-key error instead of failing startup.
func buildGateway(cfg config.AIConfig) (gateway.Gateway, gateway.VideoGateway, mentor.DialFunc) {
	unconfigured := func(context.Context) (mentor.Conn, error) {
		return nil, fmt.Errorf("%w: no API key configured", gateway.ErrInvalidKey)
	}
	if cfg.APIKey == "" {
		zlog.Warn().Msg("No AI provider key configured; AI features are disabled")
		return gateway.Unconfigured{}, gateway.Unconfigured{}, unconfigured
	}

	client, err := gateway.NewOpenAIClient(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create AI client")
	}

	var video gateway.VideoGateway = gateway.Unconfigured{}
	if cfg.VideoURL != "" {
		video = gateway.NewVideoClient(cfg)
	}

	return client, video, mentor.NewDialer(cfg.RealtimeURL, cfg.APIKey, cfg.RequestTimeout)
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

// setupRoutes configures all API endpoints and their handlers.
// Auth routes are public and rate limited per IP; everything else needs a
// dashboard token, which the mentor socket may also carry in the access_token
// query parameter, and is rate limited per client after authentication.
func setupRoutes(
	router *gin.Engine,
	secret []byte,
	limit gin.HandlerFunc,
	authHandlers *auth.GinHandlers,
	labHandlers *lab.GinHandlers,
	roadmapHandlers *roadmap.GinHandlers,
	assistantHandlers *assistant.GinHandlers,
	mentorHandlers *mentor.GinHandlers,
) {
	router.GET("/metrics", metrics.Handler())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth", limit)
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		jwt := middleware.JWTAuth(secret)

		labHandlers.RegisterRoutes(v1.Group("/labs", jwt, limit))
		roadmapHandlers.RegisterRoutes(v1.Group("/roadmaps", jwt, limit))
		assistantHandlers.RegisterRoutes(v1.Group("/assistant", jwt, limit))
		mentorHandlers.RegisterRoutes(v1.Group("/mentor", jwt, limit))
	}
}
