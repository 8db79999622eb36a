package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wordcheck/session-agent/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("SESSION_WEBHOOK_URLS", "")

	cfg := Load()
	assert.Equal(t, "http://127.0.0.1:8080/api/v1", cfg.Auth.BaseURL)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, 30*time.Second, cfg.Session.LockTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Session.CodeExpiry)
	assert.Equal(t, 3, cfg.Session.MaxRetries)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.TokenTTL)
	assert.Empty(t, cfg.Webhooks)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.com/api/v1/")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("SESSION_LOCK_TIMEOUT", "5s")
	t.Setenv("SESSION_MAX_RETRIES", "not-a-number")
	t.Setenv("SESSION_WEBHOOK_URLS", "http://a.test/hook, ,http://b.test/hook")
	t.Setenv("SESSION_WEBHOOK_EVENTS", "session:login_failed")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,")
	t.Setenv("SESSION_WEBHOOK_HEADERS", "Authorization=Bearer abc,broken")

	cfg := Load()
	assert.Equal(t, "https://api.example.com/api/v1", cfg.Auth.BaseURL)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.Session.LockTimeout)
	assert.Equal(t, 3, cfg.Session.MaxRetries)
	require.Len(t, cfg.Webhooks, 2)
	assert.Equal(t, "http://b.test/hook", cfg.Webhooks[1].URL)
	assert.Equal(t, []string{"session:login_failed"}, cfg.Webhooks[0].Events)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, []model.WebhookHeader{{Key: "Authorization", Value: "Bearer abc"}}, cfg.Webhooks[1].Headers)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Load()
	cfg.Store.Backend = "etcd"
	assert.Error(t, cfg.Validate())
}
