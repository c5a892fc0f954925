package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"
)

// SyncMetrics observes registry sync runs and the registry circuit breakers.
type SyncMetrics struct {
	service  string
	registry *prometheus.Registry

	companiesTotal *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	breakerState   *prometheus.GaugeVec
}

func NewSyncMetrics(service string) *SyncMetrics {
	registry := prometheus.NewRegistry()

	companiesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "companies_total",
			Help:      "Listed companies handled by sync runs, by outcome.",
		},
		[]string{"service", "outcome"},
	)
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Completed sync runs by outcome.",
		},
		[]string{"service", "outcome"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Sync run duration in seconds by outcome.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
		[]string{"service", "outcome"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "circuit_breaker_state",
			Help:      "Registry circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(companiesTotal, runsTotal, runDuration, breakerState)

	return &SyncMetrics{
		service:        service,
		registry:       registry,
		companiesTotal: companiesTotal,
		runsTotal:      runsTotal,
		runDuration:    runDuration,
		breakerState:   breakerState,
	}
}

func (m *SyncMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *SyncMetrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *SyncMetrics) ObserveCompany(outcome string) {
	m.companiesTotal.WithLabelValues(m.service, outcome).Inc()
}

func (m *SyncMetrics) ObserveRun(outcome string, duration time.Duration) {
	m.runsTotal.WithLabelValues(m.service, outcome).Inc()
	m.runDuration.WithLabelValues(m.service, outcome).Observe(duration.Seconds())
}

// ObserveBreakerState matches resilience.StateListener.
func (m *SyncMetrics) ObserveBreakerState(operation string, _ gobreaker.State, to gobreaker.State) {
	value := 0.0
	switch to {
	case gobreaker.StateHalfOpen:
		value = 1
	case gobreaker.StateOpen:
		value = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}
