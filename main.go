package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/wordcheck/session-agent/internal/app"
	"github.com/wordcheck/session-agent/internal/config"
	"github.com/wordcheck/session-agent/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start session agent")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	// cached session first, fresh code otherwise
	if _, err := a.Manager.AutoLogin(ctx); err != nil {
		log.Warn().Err(err).Msg("auto login failed, waiting for page controllers")
	}

	if err := a.Serve(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}
