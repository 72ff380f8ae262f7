// Package main is the entry point for the Croupier dashboard service.
// Croupier drives a remote roulette prediction backend: it manages live
// play sessions, mirrors their history locally, and exposes a REST API
// plus SSE/websocket streams for the dashboard frontend.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/croupier/internal/config"
	"github.com/aristath/croupier/internal/di"
	"github.com/aristath/croupier/internal/server"
	"github.com/aristath/croupier/pkg/logger"
)

func main() {
	// .env is optional; real deployments configure via the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Croupier")

	// Wire all dependencies: mirror database, predictor client, services,
	// optional backups, and the cron scheduler.
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	container.Scheduler.Start()
	log.Info().Msg("Scheduler started")

	srv := server.New(cfg, container, log)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop a running session cleanly so the backend does not hold a stale
	// inference session across restarts.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := container.SessionService.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to stop active session during shutdown")
	}
	stopCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
