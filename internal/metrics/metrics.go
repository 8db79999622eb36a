// Package metrics holds the Prometheus collectors of the session agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	LoginAttempts    *prometheus.CounterVec
	ExchangeRequests *prometheus.CounterVec
	ReuseRecoveries  *prometheus.CounterVec
	LockAutoReleases prometheus.Counter
	CodesSwept       prometheus.Counter
	LoginDuration    prometheus.Histogram
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LoginAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wordcheck",
				Subsystem: "session",
				Name:      "login_attempts_total",
				Help:      "Login operations by result kind",
			},
			[]string{"result"},
		),
		ExchangeRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wordcheck",
				Subsystem: "session",
				Name:      "exchange_requests_total",
				Help:      "Code exchange calls to the auth service by outcome",
			},
			[]string{"outcome"},
		),
		ReuseRecoveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wordcheck",
				Subsystem: "session",
				Name:      "code_reuse_recoveries_total",
				Help:      "Code reuse recoveries by result",
			},
			[]string{"result"},
		),
		LockAutoReleases: f.NewCounter(prometheus.CounterOpts{
			Namespace: "wordcheck",
			Subsystem: "session",
			Name:      "lock_auto_releases_total",
			Help:      "Login locks released by the safety timer",
		}),
		CodesSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: "wordcheck",
			Subsystem: "session",
			Name:      "ledger_codes_swept_total",
			Help:      "Expired login code entries removed from the ledger",
		}),
		LoginDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wordcheck",
			Subsystem: "session",
			Name:      "login_duration_seconds",
			Help:      "Wall time of login operations",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
