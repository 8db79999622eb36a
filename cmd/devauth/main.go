// devauth serves single-use login codes and the wordcheck auth endpoints
// for local development.
//
// Environment:
//   - DEVAUTH_ADDR: listen address (default: :8090)
//   - DEVAUTH_JWT_SECRET: HS256 signing secret
//   - DEVAUTH_TOKEN_TTL, DEVAUTH_CODE_TTL
package main

import (
	"github.com/gin-gonic/gin"
	"github.com/wordcheck/session-agent/internal/config"
	"github.com/wordcheck/session-agent/internal/devauth"
	"github.com/wordcheck/session-agent/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.Component(logger.New(cfg.Log.Level, cfg.Log.Pretty), "devauth")
	gin.SetMode(gin.ReleaseMode)

	svc, err := devauth.NewService(cfg.DevAuth)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create devauth service")
	}
	svc.Start()
	defer svc.Stop()

	router := devauth.NewRouter(svc, log)
	log.Info().Str("addr", cfg.DevAuth.Addr).Msg("devauth listening")
	if err := router.Run(cfg.DevAuth.Addr); err != nil {
		log.Fatal().Err(err).Msg("devauth stopped")
	}
}
