package player

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for playback engines. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry             *prometheus.Registry
	reloadsTotal         *prometheus.CounterVec
	refetchFailuresTotal prometheus.Counter
	fatalErrorsTotal     *prometheus.CounterVec
	sourcesLoadedTotal   *prometheus.CounterVec
	activeEngines        prometheus.Gauge
}

// NewMetrics creates and registers the playback metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	reloadsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetplay_reloads_total",
		Help: "Total number of reloads triggered by the reconnect policy",
	}, []string{"transport"})
	refetchFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetplay_refetch_failures_total",
		Help: "Total number of failed stream descriptor refetch attempts",
	})
	fatalErrorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetplay_fatal_errors_total",
		Help: "Total number of fatal transport errors",
	}, []string{"transport", "terminal"})
	sourcesLoadedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetplay_sources_loaded_total",
		Help: "Total number of sources that produced media",
	}, []string{"transport"})
	activeEngines := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetplay_active_engines",
		Help: "Number of playback engines not yet disposed",
	})

	registry.MustRegister(
		reloadsTotal,
		refetchFailuresTotal,
		fatalErrorsTotal,
		sourcesLoadedTotal,
		activeEngines,
	)

	return &Metrics{
		registry:             registry,
		reloadsTotal:         reloadsTotal,
		refetchFailuresTotal: refetchFailuresTotal,
		fatalErrorsTotal:     fatalErrorsTotal,
		sourcesLoadedTotal:   sourcesLoadedTotal,
		activeEngines:        activeEngines,
	}
}

// IncReloads increments the reload counter for a transport.
func (m *Metrics) IncReloads(t Transport) {
	if m == nil {
		return
	}
	m.reloadsTotal.WithLabelValues(string(t)).Inc()
}

// IncRefetchFailures increments the refetch failure counter.
func (m *Metrics) IncRefetchFailures() {
	if m == nil {
		return
	}
	m.refetchFailuresTotal.Inc()
}

// IncFatalErrors increments the fatal error counter.
func (m *Metrics) IncFatalErrors(t Transport, terminal bool) {
	if m == nil {
		return
	}
	label := "false"
	if terminal {
		label = "true"
	}
	m.fatalErrorsTotal.WithLabelValues(string(t), label).Inc()
}

// IncSourcesLoaded increments the sources loaded counter for a transport.
func (m *Metrics) IncSourcesLoaded(t Transport) {
	if m == nil {
		return
	}
	m.sourcesLoadedTotal.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) engineStarted() {
	if m == nil {
		return
	}
	m.activeEngines.Inc()
}

func (m *Metrics) engineDisposed() {
	if m == nil {
		return
	}
	m.activeEngines.Dec()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
