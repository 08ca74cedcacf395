package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"social-game-backend/internal/config"
	"social-game-backend/internal/handlers"
	"social-game-backend/internal/presence"
	"social-game-backend/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	var (
		players   store.PlayerStore
		states    store.StateStore
		transfers store.TransferLog
		ping      func(context.Context) error
	)

	switch cfg.StoreBackend {
	case "memory":
		mem := store.NewMemoryStore()
		players, states, transfers, ping = mem, mem, mem, mem.Ping
		logger.Warn("using in-memory store, balances will not survive a restart")
	default:
		rs, err := store.NewRedisStore(cfg)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rs.Close()
		players, states, transfers, ping = rs, rs, rs, rs.Ping
	}

	registry := presence.NewRegistry()
	gameRouter := handlers.NewGameRouter(logger, players, states, registry)
	sessionHandler := handlers.NewSessionHandler(gameRouter, registry, logger, cfg.IdleTimeout)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.GET("/healthz", func(c *gin.Context) {
		if err := ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": registry.Len()})
	})

	router.GET("/ws", sessionHandler.HandleWebSocket)

	history := handlers.NewHistoryHandler(logger, transfers)
	router.GET("/players/:id/transfers", history.GetPlayerTransfers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("game server started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown did not finish cleanly", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
