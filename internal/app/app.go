// Package app wires the session agent together: store, auth client,
// coordinator, events, webhooks and the local page-controller API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/wordcheck/session-agent/internal/client"
	"github.com/wordcheck/session-agent/internal/config"
	"github.com/wordcheck/session-agent/internal/handler"
	"github.com/wordcheck/session-agent/internal/metrics"
	"github.com/wordcheck/session-agent/internal/service"
	"github.com/wordcheck/session-agent/internal/session"
	"github.com/wordcheck/session-agent/internal/store"
)

type App struct {
	Config   config.Config
	Store    store.Store
	Manager  *session.Manager
	Events   *session.Events
	Metrics  *metrics.Metrics
	Webhooks *service.WebhookDeliveryService

	log zerolog.Logger
}

// New opens the configured store and builds the coordinator on top of it.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	kv, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}

	events := session.NewEvents(nil)
	webhooks := service.NewWebhookDeliveryService(cfg.Webhooks, log)
	if err := webhooks.Attach(events); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("failed to attach webhooks: %w", err)
	}

	m := metrics.New()
	mgr := session.NewManager(session.Options{
		Session: cfg.Session,
		App:     cfg.App,
		Store:   kv,
		Auth:    client.NewAuthClient(cfg.Auth),
		Codes:   client.NewWxCodeSource(cfg.Auth.CodeSourceURL, cfg.Auth.RequestTimeout),
		Events:  events,
		Metrics: m,
		Logger:  log,
	})

	return &App{
		Config:   cfg,
		Store:    kv,
		Manager:  mgr,
		Events:   events,
		Metrics:  m,
		Webhooks: webhooks,
		log:      log,
	}, nil
}

// Router builds the local API page controllers talk to.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestLogger(a.log))
	if len(a.Config.HTTP.AllowedOrigins) > 0 {
		r.Use(handler.CORSMiddleware(a.Config.HTTP.AllowedOrigins, false))
	}

	r.GET("/ping", handler.Ping)
	r.GET("/", handler.Root)
	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	handler.NewSessionHandler(a.Manager).Register(r.Group("/api/v1"))
	return r
}

// Serve runs the janitor and the local API until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	go a.Manager.Run(ctx)

	srv := &http.Server{
		Addr:    a.Config.HTTP.Addr,
		Handler: a.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.log.Info().Str("addr", srv.Addr).Msg("session agent listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close waits for pending webhook deliveries and closes the store.
func (a *App) Close() error {
	a.Webhooks.Wait()
	return a.Store.Close()
}
