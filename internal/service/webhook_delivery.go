package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wordcheck/session-agent/internal/logger"
	"github.com/wordcheck/session-agent/internal/model"
	"github.com/wordcheck/session-agent/internal/session"
	tmpl "github.com/wordcheck/session-agent/internal/template"
)

// WebhookDeliveryService posts rendered session events to the configured
// webhooks. A failing target is logged and the others still receive the
// event.
type WebhookDeliveryService struct {
	configs    []model.WebhookConfig
	httpClient *http.Client
	log        zerolog.Logger
	wg         sync.WaitGroup
}

func NewWebhookDeliveryService(configs []model.WebhookConfig, log zerolog.Logger) *WebhookDeliveryService {
	return &WebhookDeliveryService{
		configs: configs,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logger.Component(log, "webhook"),
	}
}

// Attach subscribes the service to every session event. Deliveries run in
// the background so a slow webhook never blocks a login.
func (s *WebhookDeliveryService) Attach(events *session.Events) error {
	if len(s.configs) == 0 {
		return nil
	}
	return events.SubscribeAll(func(evt model.SessionEvent) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Deliver(context.Background(), evt)
		}()
	})
}

// Wait blocks until background deliveries finish.
func (s *WebhookDeliveryService) Wait() {
	s.wg.Wait()
}

// Deliver sends evt to every webhook subscribed to its type and returns how
// many deliveries succeeded.
func (s *WebhookDeliveryService) Deliver(ctx context.Context, evt model.SessionEvent) int {
	data := tmpl.EventDataFromModel(evt)

	delivered := 0
	for _, cfg := range s.configs {
		if cfg.URL == "" {
			s.log.Warn().Msg("skipping webhook without URL")
			continue
		}
		if !cfg.Accepts(evt.Type) {
			continue
		}

		body := tmpl.RenderBody(cfg.Body, data)
		if err := s.sendHTTP(ctx, cfg, body); err != nil {
			s.log.Error().Err(err).Str("url", cfg.URL).Str("event", evt.Type).Msg("webhook delivery failed")
			continue
		}
		delivered++
		s.log.Debug().Str("url", cfg.URL).Str("event", evt.Type).Msg("webhook delivered")
	}
	return delivered
}

func (s *WebhookDeliveryService) sendHTTP(ctx context.Context, cfg model.WebhookConfig, body string) error {
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewBufferString(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Content-Type defaults to application/json
	hasContentType := false
	for _, h := range cfg.Headers {
		if h.Key != "" {
			req.Header.Set(h.Key, h.Value)
		}
		if http.CanonicalHeaderKey(h.Key) == "Content-Type" {
			hasContentType = true
		}
	}
	if !hasContentType {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
