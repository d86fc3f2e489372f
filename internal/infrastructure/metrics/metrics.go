// Package metrics defines the Prometheus collectors shared by the core's
// infrastructure. Collectors are registered on the registry passed to New so
// tests can use an isolated registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sparkquest"

// Resolver outcomes.
const (
	OutcomeHit       = "hit"
	OutcomeGenerated = "generated"
	OutcomeRaceLost  = "race_lost"
	OutcomeFallback  = "fallback"
	OutcomeMemo      = "fallback_memo"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// EventsPublished counts events by type.
	EventsPublished *prometheus.CounterVec

	// HandlerDuration measures event handler latency by type and result.
	HandlerDuration *prometheus.HistogramVec

	// SectionResolutions counts resolver outcomes.
	SectionResolutions *prometheus.CounterVec

	// GeneratorDuration measures generator calls by result.
	GeneratorDuration *prometheus.HistogramVec

	// IllustrationsTotal counts enrichment attempts by result.
	IllustrationsTotal *prometheus.CounterVec

	// RewardsIssued counts ledger rewards by kind.
	RewardsIssued *prometheus.CounterVec

	// RewardsSkipped counts rewards skipped because the transition was a no-op.
	RewardsSkipped *prometheus.CounterVec

	// BalanceDrift counts cached balances corrected by reconciliation.
	BalanceDrift prometheus.Counter

	// JobRuns counts scheduler runs by job and result.
	JobRuns *prometheus.CounterVec

	// JobDuration measures scheduler runs by job.
	JobDuration *prometheus.HistogramVec

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration measures API latency by route.
	HTTPDuration *prometheus.HistogramVec

	// StreamSessions tracks open sync streams.
	StreamSessions prometheus.Gauge
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "published_total",
			Help: "Domain events published by type.",
		}, []string{"event_type"}),
		HandlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "events", Name: "handler_duration_seconds",
			Help:    "Event handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type", "result"}),
		SectionResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "content", Name: "resolutions_total",
			Help: "Section resolutions by outcome.",
		}, []string{"outcome"}),
		GeneratorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "content", Name: "generator_duration_seconds",
			Help:    "Content generator latency.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"result"}),
		IllustrationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "content", Name: "illustrations_total",
			Help: "Illustration enrichment attempts by result.",
		}, []string{"result"}),
		RewardsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "rewards_issued_total",
			Help: "Rewards appended to the ledger by kind.",
		}, []string{"kind"}),
		RewardsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "rewards_skipped_total",
			Help: "Rewards not issued because the transition was a review.",
		}, []string{"kind"}),
		BalanceDrift: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "balance_drift_total",
			Help: "Cached balances corrected by reconciliation.",
		}),
		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "job_runs_total",
			Help: "Scheduled job runs by result.",
		}, []string{"job", "result"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "job_duration_seconds",
			Help:    "Scheduled job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "API requests by route and status class.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "API latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		StreamSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "stream_sessions",
			Help: "Open child sync streams.",
		}),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// NIL-SAFE RECORDERS
// ══════════════════════════════════════════════════════════════════════════════

// Resolution records a resolver outcome.
func (m *Metrics) Resolution(outcome string) {
	if m == nil {
		return
	}
	m.SectionResolutions.WithLabelValues(outcome).Inc()
}

// Generator records a generator call.
func (m *Metrics) Generator(seconds float64, err error) {
	if m == nil {
		return
	}
	m.GeneratorDuration.WithLabelValues(result(err)).Observe(seconds)
}

// Illustration records an enrichment attempt.
func (m *Metrics) Illustration(err error) {
	if m == nil {
		return
	}
	m.IllustrationsTotal.WithLabelValues(result(err)).Inc()
}

// Reward records an issued or skipped reward.
func (m *Metrics) Reward(kind string, issued bool) {
	if m == nil {
		return
	}
	if issued {
		m.RewardsIssued.WithLabelValues(kind).Inc()
		return
	}
	m.RewardsSkipped.WithLabelValues(kind).Inc()
}

// Drift records a corrected cached balance.
func (m *Metrics) Drift() {
	if m == nil {
		return
	}
	m.BalanceDrift.Inc()
}

// Published records a published event.
func (m *Metrics) Published(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// Handled records an event handler execution.
func (m *Metrics) Handled(eventType string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(eventType, result(err)).Observe(seconds)
}

// Job records a scheduler run.
func (m *Metrics) Job(name string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(name, result(err)).Inc()
	m.JobDuration.WithLabelValues(name).Observe(seconds)
}

// Request records an API request.
func (m *Metrics) Request(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}

// StreamOpened records a new sync stream.
func (m *Metrics) StreamOpened() {
	if m != nil {
		m.StreamSessions.Inc()
	}
}

// StreamClosed records a closed sync stream.
func (m *Metrics) StreamClosed() {
	if m != nil {
		m.StreamSessions.Dec()
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
