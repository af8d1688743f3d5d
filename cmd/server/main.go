package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"

	youthgov "github.com/Honniee/YouthGovernanceWeb-sub002"
	"github.com/Honniee/YouthGovernanceWeb-sub002/internal/api/handler/endpoints"
	"github.com/Honniee/YouthGovernanceWeb-sub002/internal/api/handler/middleware"
	"github.com/Honniee/YouthGovernanceWeb-sub002/internal/realtime"
)

func main() {
	cfg := youthgov.Load(".env")
	logger := youthgov.NewLogger()

	gin.SetMode(gin.ReleaseMode)
	if cfg.Mode == "dev" {
		gin.SetMode(gin.DebugMode)
	}

	redisClient, err := youthgov.ConnectRedis(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router, err := graceful.Default(graceful.WithAddr(cfg.ApiPort))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build router")
	}
	defer router.Close()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderCSRFToken, middleware.HeaderXSRFToken},
		ExposeHeaders:    []string{"Content-Length", middleware.HeaderCSRFToken},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// The process entry point owns the one hub instance; everything that
	// emits gets it by reference.
	hub := realtime.NewHub(logger)
	verifier := realtime.NewVerifier(cfg.JWTConfig.Secret)
	emitter := realtime.NewEmitter(hub, logger)
	defer emitter.Close()
	logger.Info().Msg("Realtime hub started")

	// Out-of-process collaborators reach the hub through NATS. A missing
	// broker never blocks the API: domain writes must not depend on the
	// notification layer.
	bridge, err := realtime.NewNATSBridge(cfg.RealtimeConfig.NatsURL, emitter, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("NATS bridge unavailable, realtime limited to in-process emits")
	} else {
		defer bridge.Close()
		if err := bridge.Subscribe(); err != nil {
			logger.Warn().Err(err).Msg("NATS subscribe failed")
		}
	}

	csrfStore := middleware.NewCSRFStore(redisClient, cfg.CSRFConfig.TokenTTL)
	router.Use(middleware.CSRFMiddleware(csrfStore, logger))

	endpoints.RealtimeHandler(router, hub, verifier, cfg, csrfStore, logger)

	logger.Debug().Msgf("Starting CORE API on port %s", cfg.ApiPort)
	if err = router.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Msg(err.Error())
	}
}
