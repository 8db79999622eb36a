// Session agent configuration
//
// Environment variables (an optional .env file is loaded first):
//   - API_BASE_URL: wordcheck API root (default: http://127.0.0.1:8080/api/v1)
//   - CODE_SOURCE_URL: platform login-code endpoint (default: http://127.0.0.1:8090/dev/wx/login)
//   - STORE_BACKEND: memory | file | redis | postgres | mongo (default: file)
//   - LOG_LEVEL, LOG_PRETTY
//   - HTTP_ADDR: local API listen address (default: :8081)
//   - CORS_ALLOWED_ORIGINS: comma separated origins for the local API
//   - SESSION_*: coordinator timings, see SessionConfig

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wordcheck/session-agent/internal/model"
)

type Config struct {
	App      AppConfig
	Auth     AuthConfig
	Store    StoreConfig
	Postgres PostgresConfig
	Session  SessionConfig
	Log      LogConfig
	HTTP     HTTPConfig
	Webhooks []model.WebhookConfig
	DevAuth  DevAuthConfig
}

// AppConfig describes the client sent along with every login request.
type AppConfig struct {
	AppID    string
	Version  string
	Platform string
	System   string
}

type AuthConfig struct {
	BaseURL        string
	CodeSourceURL  string
	RequestTimeout time.Duration
}

type StoreConfig struct {
	Backend       string
	FilePath      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	MongoURI      string
	MongoDatabase string
	MongoColl     string
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

type SessionConfig struct {
	LockTimeout     time.Duration
	CodeExpiry      time.Duration
	SweepInterval   time.Duration
	CodeSpacing     time.Duration
	TokenTTL        time.Duration
	MaxRetries      int
	ReuseRetryDelay time.Duration
	ProfileRefresh  time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	BackoffJitter   time.Duration
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

type DevAuthConfig struct {
	Addr      string
	JWTSecret string
	TokenTTL  time.Duration
	CodeTTL   time.Duration
}

// DefaultSession returns the coordinator timings used by the mini-program.
func DefaultSession() SessionConfig {
	return SessionConfig{
		LockTimeout:     30 * time.Second,
		CodeExpiry:      10 * time.Minute,
		SweepInterval:   time.Minute,
		CodeSpacing:     500 * time.Millisecond,
		TokenTTL:        7 * 24 * time.Hour,
		MaxRetries:      3,
		ReuseRetryDelay: 1500 * time.Millisecond,
		ProfileRefresh:  30 * time.Minute,
		BackoffBase:     time.Second,
		BackoffMax:      5 * time.Second,
		BackoffJitter:   time.Second,
	}
}

func Load() Config {
	_ = godotenv.Load()

	def := DefaultSession()
	return Config{
		App: AppConfig{
			AppID:    os.Getenv("WX_APP_ID"),
			Version:  getenv("APP_VERSION", "1.0.0"),
			Platform: getenv("APP_PLATFORM", "devtools"),
			System:   getenv("APP_SYSTEM", "go"),
		},
		Auth: AuthConfig{
			BaseURL:        strings.TrimRight(getenv("API_BASE_URL", "http://127.0.0.1:8080/api/v1"), "/"),
			CodeSourceURL:  getenv("CODE_SOURCE_URL", "http://127.0.0.1:8090/dev/wx/login"),
			RequestTimeout: getDuration("AUTH_REQUEST_TIMEOUT", 15*time.Second),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(getenv("STORE_BACKEND", "file")),
			FilePath:      getenv("STORE_FILE", ".wordcheck/session.json"),
			RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       getInt("REDIS_DB", 0),
			RedisPrefix:   getenv("REDIS_PREFIX", "wordcheck"),
			MongoURI:      getenv("MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase: getenv("MONGO_DB_NAME", "wordcheck"),
			MongoColl:     getenv("MONGO_COLLECTION", "session_kv"),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
		Session: SessionConfig{
			LockTimeout:     getDuration("SESSION_LOCK_TIMEOUT", def.LockTimeout),
			CodeExpiry:      getDuration("SESSION_CODE_EXPIRY", def.CodeExpiry),
			SweepInterval:   getDuration("SESSION_SWEEP_INTERVAL", def.SweepInterval),
			CodeSpacing:     getDuration("SESSION_CODE_SPACING", def.CodeSpacing),
			TokenTTL:        getDuration("SESSION_TOKEN_TTL", def.TokenTTL),
			MaxRetries:      getInt("SESSION_MAX_RETRIES", def.MaxRetries),
			ReuseRetryDelay: getDuration("SESSION_REUSE_RETRY_DELAY", def.ReuseRetryDelay),
			ProfileRefresh:  getDuration("SESSION_PROFILE_REFRESH", def.ProfileRefresh),
			BackoffBase:     getDuration("SESSION_BACKOFF_BASE", def.BackoffBase),
			BackoffMax:      getDuration("SESSION_BACKOFF_MAX", def.BackoffMax),
			BackoffJitter:   getDuration("SESSION_BACKOFF_JITTER", def.BackoffJitter),
		},
		Log: LogConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Pretty: getBool("LOG_PRETTY", true),
		},
		HTTP: HTTPConfig{
			Addr:           getenv("HTTP_ADDR", ":8081"),
			AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		},
		Webhooks: loadWebhooks(),
		DevAuth: DevAuthConfig{
			Addr:      getenv("DEVAUTH_ADDR", ":8090"),
			JWTSecret: getenv("DEVAUTH_JWT_SECRET", "dev-only-secret-change-me"),
			TokenTTL:  getDuration("DEVAUTH_TOKEN_TTL", 7*24*time.Hour),
			CodeTTL:   getDuration("DEVAUTH_CODE_TTL", 5*time.Minute),
		},
	}
}

// Validate rejects settings the coordinator cannot run with.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "file", "redis", "postgres", "mongo":
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Auth.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.Session.MaxRetries < 0 {
		return fmt.Errorf("SESSION_MAX_RETRIES must not be negative")
	}
	if c.Session.LockTimeout <= 0 {
		return fmt.Errorf("SESSION_LOCK_TIMEOUT must be positive")
	}
	return nil
}

// loadWebhooks reads SESSION_WEBHOOK_URLS (comma separated) sharing one
// body template, header list (SESSION_WEBHOOK_HEADERS, "Key=Value,...")
// and event filter.
func loadWebhooks() []model.WebhookConfig {
	raw := os.Getenv("SESSION_WEBHOOK_URLS")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	body := getenv("SESSION_WEBHOOK_BODY", `{"event":"{{event.type}}","userId":"{{user.id}}","at":"{{event.at}}","error":"{{error.kind}}"}`)
	events := splitList(os.Getenv("SESSION_WEBHOOK_EVENTS"))
	var headers []model.WebhookHeader
	for _, pair := range splitList(os.Getenv("SESSION_WEBHOOK_HEADERS")) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		headers = append(headers, model.WebhookHeader{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}

	var hooks []model.WebhookConfig
	for _, u := range splitList(raw) {
		hooks = append(hooks, model.WebhookConfig{
			URL:     u,
			Method:  "POST",
			Headers: headers,
			Body:    body,
			Events:  events,
		})
	}
	return hooks
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}
