// Package metrics holds the engine's Prometheus collectors
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine collectors. A nil *Metrics is valid and
// records nothing, so tests and the CLI can skip registration.
type Metrics struct {
	ExecutionsStarted  prometheus.Counter
	ExecutionsFinished *prometheus.CounterVec
	NodeDuration       *prometheus.HistogramVec
	EventsAppended     prometheus.Counter
	ApprovalsPending   prometheus.Gauge
	SubscribersActive  prometheus.Gauge
	NodeErrors         *prometheus.CounterVec
	ExecutionsInFlight prometheus.Gauge
}

// New creates and registers the engine collectors
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecutionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skein_executions_started_total",
			Help: "Executions started, including replays.",
		}),
		ExecutionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skein_executions_finished_total",
			Help: "Executions finished, by terminal status.",
		}, []string{"status"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skein_node_duration_seconds",
			Help:    "Wall time of node executions, by node type.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"type"}),
		EventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skein_journal_events_total",
			Help: "Event records appended across all journals.",
		}),
		ApprovalsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skein_approvals_pending",
			Help: "Approval requests currently waiting on a human.",
		}),
		SubscribersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skein_subscribers_active",
			Help: "Live event-stream subscribers.",
		}),
		NodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skein_node_errors_total",
			Help: "Node executions that ended in error, by node type.",
		}, []string{"type"}),
		ExecutionsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skein_executions_in_flight",
			Help: "Executions currently running.",
		}),
	}

	reg.MustRegister(
		m.ExecutionsStarted, m.ExecutionsFinished, m.NodeDuration,
		m.EventsAppended, m.ApprovalsPending, m.SubscribersActive,
		m.NodeErrors, m.ExecutionsInFlight,
	)
	return m
}

// Nil-safe recording helpers.

func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.ExecutionsStarted.Inc()
	m.ExecutionsInFlight.Inc()
}

func (m *Metrics) ExecutionFinished(status string) {
	if m == nil {
		return
	}
	m.ExecutionsFinished.WithLabelValues(status).Inc()
	m.ExecutionsInFlight.Dec()
}

func (m *Metrics) ObserveNode(nodeType string, seconds float64) {
	if m == nil {
		return
	}
	m.NodeDuration.WithLabelValues(nodeType).Observe(seconds)
}

func (m *Metrics) NodeErrored(nodeType string) {
	if m == nil {
		return
	}
	m.NodeErrors.WithLabelValues(nodeType).Inc()
}

func (m *Metrics) EventAppended() {
	if m == nil {
		return
	}
	m.EventsAppended.Inc()
}

func (m *Metrics) ApprovalOpened() {
	if m == nil {
		return
	}
	m.ApprovalsPending.Inc()
}

func (m *Metrics) ApprovalClosed() {
	if m == nil {
		return
	}
	m.ApprovalsPending.Dec()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.SubscribersActive.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.SubscribersActive.Dec()
}
