package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/games-vector/vector-games-v2-sub000/internal/clients"
	"github.com/games-vector/vector-games-v2-sub000/internal/config"
	"github.com/games-vector/vector-games-v2-sub000/internal/handlers"
	"github.com/games-vector/vector-games-v2-sub000/internal/logging"
	"github.com/games-vector/vector-games-v2-sub000/internal/middleware"
	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/outcome"
	"github.com/games-vector/vector-games-v2-sub000/internal/services"
	"github.com/games-vector/vector-games-v2-sub000/internal/store"
)

func main() {
	_ = godotenv.Load()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	podID := cfg.PodID
	if podID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			podID = host
		} else {
			podID = uuid.New().String()
		}
	}

	st, err := store.NewRedisStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer st.Close()

	wallet := clients.NewWalletClient(cfg.WalletBaseURL, cfg.CollaboratorAPIKey)
	betHistory := clients.NewBetHistoryClient(cfg.BetHistoryBaseURL, cfg.CollaboratorAPIKey)
	gameConfig := clients.NewGameConfigClient(cfg.GameConfigBaseURL, cfg.CollaboratorAPIKey)

	jwtService := services.NewJWTService(cfg.JWTSecret)
	seeds := services.NewUserSeeds(st)
	limiter := services.NewRateLimiter(st)
	settlement := services.NewSettlementCoordinator(st, wallet, betHistory, cfg.IdempotencyTTL)

	hub := handlers.NewHub()
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	games := make(map[models.GameCode]*handlers.GameServices)

	// Crash: round based, leader driven.
	crashSpec := models.DefaultCrashSpec()
	crashRounds := services.NewRoundStore(st, crashSpec)
	crashEngine := services.NewRoundEngine(crashRounds, outcome.NewGenerator(gameConfig, crashSpec), crashSpec)
	crashLedger := services.NewBetLedger(crashRounds, settlement, st, seeds, crashSpec, cfg.PendingBetTTL)
	crashElector := services.NewLeaderElector(st, crashSpec.Code, cfg.LeaderLockTTL)
	crashScheduler := services.NewBroadcastScheduler(
		crashEngine, crashLedger, crashRounds, settlement, crashElector,
		hub, crashSpec, podID, cfg.LeaderRenewTick,
	)
	go crashScheduler.Run(ctx)
	games[crashSpec.Code] = &handlers.GameServices{
		Spec:   crashSpec,
		Rounds: crashRounds,
		Ledger: crashLedger,
	}

	// Mines: session based, no shared round to lead.
	minesSpec := models.DefaultMinesSpec()
	games[minesSpec.Code] = &handlers.GameServices{
		Spec:  minesSpec,
		Mines: services.NewMinesService(st, settlement, seeds, minesSpec, cfg.MinesSessionTTL),
	}

	wsHandler := handlers.NewWebSocketHandler(hub, games, seeds, limiter)
	gameHandler := handlers.NewGameHandler(games, seeds, wallet, betHistory)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		if err := st.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		leader, _ := crashElector.CurrentLeader(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"pod_id": podID,
			"leader": leader == podID,
		})
	})

	authed := router.Group("/", middleware.AuthMiddleware(jwtService))
	authed.GET("/ws", wsHandler.HandleConnection)

	api := authed.Group("/api/games")
	api.GET("/:gameCode/state", gameHandler.GetState)
	api.GET("/:gameCode/history", gameHandler.GetHistory)
	api.GET("/:gameCode/seeds", gameHandler.GetSeeds)
	api.GET("/:gameCode/bets", gameHandler.GetMyBets)
	authed.GET("/api/balance", gameHandler.GetBalance)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("pod", podID).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	// Stopping the scheduler context releases the leader lock before the
	// listener drains.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}
