package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for fleet and host convergence runs.
// A nil or disabled Metrics is safe to call; every observation becomes a
// no-op.
type Metrics struct {
	config MetricsConfig

	fleetRunsStarted   *prometheus.CounterVec
	fleetRunsCompleted *prometheus.CounterVec
	fleetRunDuration   *prometheus.HistogramVec

	hostRunsCompleted *prometheus.CounterVec
	hostRunDuration   *prometheus.HistogramVec

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	activeHostRuns prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		fleetRunsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fleet_runs_started_total",
				Help:      "Total number of fleet runs started",
			},
			[]string{"playbook", "environment"},
		),
		fleetRunsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fleet_runs_completed_total",
				Help:      "Total number of fleet runs completed",
			},
			[]string{"status"},
		),
		fleetRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fleet_run_duration_seconds",
				Help:      "Duration of fleet runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		hostRunsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "host_runs_completed_total",
				Help:      "Total number of per-host convergence runs completed",
			},
			[]string{"status"},
		),
		hostRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "host_run_duration_seconds",
				Help:      "Duration of per-host convergence runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of operations by disposition",
			},
			[]string{"disposition", "action"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operation guard evaluation plus apply in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		activeHostRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_host_runs",
				Help:      "Number of host convergence runs currently in flight",
			},
		),
	}

	registry.MustRegister(
		m.fleetRunsStarted,
		m.fleetRunsCompleted,
		m.fleetRunDuration,
		m.hostRunsCompleted,
		m.hostRunDuration,
		m.operations,
		m.operationDuration,
		m.activeHostRuns,
	)

	return m, nil
}

// enabled reports whether observations should be recorded.
func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// FleetRunStarted records the start of a fleet run.
func (m *Metrics) FleetRunStarted(playbook, environment string) {
	if !m.enabled() {
		return
	}
	m.fleetRunsStarted.WithLabelValues(playbook, environment).Inc()
}

// FleetRunCompleted records the completion of a fleet run.
func (m *Metrics) FleetRunCompleted(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.fleetRunsCompleted.WithLabelValues(status).Inc()
	m.fleetRunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// HostRunStarted records a host run entering flight.
func (m *Metrics) HostRunStarted() {
	if !m.enabled() {
		return
	}
	m.activeHostRuns.Inc()
}

// HostRunCompleted records a host run completion.
func (m *Metrics) HostRunCompleted(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.activeHostRuns.Dec()
	m.hostRunsCompleted.WithLabelValues(status).Inc()
	m.hostRunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// OperationObserved records one operation's disposition and duration.
func (m *Metrics) OperationObserved(disposition, action string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.operations.WithLabelValues(disposition, action).Inc()
	m.operationDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// StartServer starts the metrics HTTP endpoint, when configured.
func (m *Metrics) StartServer() error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	return nil
}

// StopServer shuts the metrics endpoint down.
func (m *Metrics) StopServer() error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Close()
}
