// Package metrics exposes engine counters to Prometheus. A nil *Metrics is
// valid and records nothing, so components take it as an optional
// dependency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campaign_engine"

type Metrics struct {
	registry *prometheus.Registry

	dispatches      *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	handovers       *prometheus.CounterVec
	retries         *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	skipped         *prometheus.CounterVec
	advanceErrors   prometheus.Counter
	cleanupRemoved  prometheus.Counter
	chatConnections prometheus.Gauge
}

// New registers the engine collectors on a fresh registry along with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by channel and outcome.",
		}, []string{"channel", "status"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in a channel sender.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_transitions_total",
			Help:      "Executions entering each status.",
		}, []string{"status"}),
		handovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handover_criteria_total",
			Help:      "Handover criteria that fired.",
		}, []string{"criterion"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_retries_total",
			Help:      "Dispatch retries after a failed attempt.",
		}, []string{"channel"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Wall time of one scheduler tick.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_skipped_total",
			Help:      "Due executions not advanced on a tick.",
		}, []string{"reason"}),
		advanceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_advance_errors_total",
			Help:      "Advances that returned an error or panicked.",
		}),
		cleanupRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_removed_total",
			Help:      "Terminal executions removed by cleanup.",
		}),
		chatConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_connections",
			Help:      "Live chat connections.",
		}),
	}
	m.registry.MustRegister(
		m.dispatches, m.dispatchLatency, m.transitions, m.handovers, m.retries,
		m.tickDuration, m.skipped, m.advanceErrors, m.cleanupRemoved, m.chatConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Dispatch(channel, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(channel, status).Inc()
	m.dispatchLatency.WithLabelValues(channel).Observe(took.Seconds())
}

func (m *Metrics) Retry(channel string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(channel).Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Handover(criteria []string) {
	if m == nil {
		return
	}
	for _, c := range criteria {
		m.handovers.WithLabelValues(c).Inc()
	}
}

func (m *Metrics) Tick(took time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(took.Seconds())
}

// Skipped counts a due execution left for a later tick. reason is
// "in_flight" or "locked".
func (m *Metrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) AdvanceError() {
	if m == nil {
		return
	}
	m.advanceErrors.Inc()
}

func (m *Metrics) CleanupRemoved(n int) {
	if m == nil {
		return
	}
	m.cleanupRemoved.Add(float64(n))
}

func (m *Metrics) ChatConnections(n int) {
	if m == nil {
		return
	}
	m.chatConnections.Set(float64(n))
}
