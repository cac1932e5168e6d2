package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch outcomes recorded by RecordDispatch.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeThrottled = "throttled"
	OutcomeTripped   = "tripped"
)

// Kinds of events published by the engine.
const (
	KindSent     = "sent"
	KindResponse = "response"
	KindError    = "error"
)

// Metrics holds Prometheus instruments for webhook dispatch.
type Metrics struct {
	DispatchesTotal      *prometheus.CounterVec
	DispatchLatency      prometheus.Histogram
	DispatchesInFlight   prometheus.Gauge
	EventsPublishedTotal *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them with reg. A nil reg
// leaves them unregistered, which suits tests and embedding.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkcloud_dispatches_total",
			Help: "Webhook dispatches by outcome.",
		}, []string{"outcome"}),
		DispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sparkcloud_dispatch_latency_seconds",
			Help:    "Time from request start to response for webhook calls.",
			Buckets: prometheus.DefBuckets,
		}),
		DispatchesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sparkcloud_dispatches_in_flight",
			Help: "Webhook calls currently waiting on the network.",
		}),
		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkcloud_events_published_total",
			Help: "Events published by the dispatch engine by kind.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.DispatchesTotal,
			m.DispatchLatency,
			m.DispatchesInFlight,
			m.EventsPublishedTotal,
		)
	}
	return m
}

// RecordDispatch records a finished dispatch. Latency is ignored for
// dispatches that never reached the network.
func (m *Metrics) RecordDispatch(outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.DispatchesTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSucceeded || outcome == OutcomeFailed {
		m.DispatchLatency.Observe(latencySeconds)
	}
}

// RecordPublished counts an engine-published event.
func (m *Metrics) RecordPublished(kind string) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.WithLabelValues(kind).Inc()
}

// InFlight adjusts the in-flight gauge by delta.
func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.DispatchesInFlight.Add(delta)
}
