// Package metrics instruments the synchronization engine with Prometheus
// counters and a histogram. Metrics are not excluded by any non-goal in
// spec §1/§7 — only authentication, transport encryption, and push
// delivery are — so publish/fetch/ack/fail counts get prometheus.NewCounter
// collectors and fan-out size a prometheus.NewHistogram, registered the
// way the teacher's internal/metrics.Manager registers its collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	publishesTotal   prometheus.Counter
	fanoutRecipients prometheus.Histogram
	fetchesTotal     prometheus.Counter
	acksTotal        prometheus.Counter
	failsTotal       prometheus.Counter
}

// New registers and returns a fresh Metrics instance under namespace
// "syncd".
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		publishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncd",
			Subsystem: "engine",
			Name:      "publishes_total",
			Help:      "Total number of accepted publishes.",
		}),
		fanoutRecipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "syncd",
			Subsystem: "engine",
			Name:      "fanout_recipients",
			Help:      "Number of recipient messages materialized per publish.",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		}),
		fetchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncd",
			Subsystem: "engine",
			Name:      "fetches_total",
			Help:      "Total number of messages claimed by fetch.",
		}),
		acksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncd",
			Subsystem: "engine",
			Name:      "acks_total",
			Help:      "Total number of messages acknowledged.",
		}),
		failsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncd",
			Subsystem: "engine",
			Name:      "fails_total",
			Help:      "Total number of messages marked failed.",
		}),
	}

	reg.MustRegister(m.publishesTotal, m.fanoutRecipients, m.fetchesTotal, m.acksTotal, m.failsTotal)
	return m
}

// ObservePublish records an accepted publish and how many recipient
// messages its fan-out produced.
func (m *Metrics) ObservePublish(recipients int) {
	m.publishesTotal.Inc()
	m.fanoutRecipients.Observe(float64(recipients))
}

// ObserveFetch records a successful fetch claim.
func (m *Metrics) ObserveFetch() { m.fetchesTotal.Inc() }

// ObserveAck records an acknowledgement.
func (m *Metrics) ObserveAck() { m.acksTotal.Inc() }

// ObserveFail records a delivery failure.
func (m *Metrics) ObserveFail() { m.failsTotal.Inc() }

// Handler exposes the registry over /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
