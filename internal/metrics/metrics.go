// Package metrics exposes Prometheus collectors for the action queue, the
// job lifecycle and the host registry.
//
// Every method is safe to call on a nil *Metrics so components can run
// without instrumentation (e.g. in unit tests).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clusterq"

// Outcome labels for job transitions.
const (
	OutcomeApplied    = "applied"
	OutcomeIdempotent = "idempotent"
	OutcomeRejected   = "rejected"
)

// Metrics groups all collectors registered for one server instance.
type Metrics struct {
	gatherer prometheus.Gatherer

	enqueued    prometheus.Counter
	duplicates  prometheus.Counter
	drained     prometheus.Counter
	depth       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	hosts       *prometheus.GaugeVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		enqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Commands appended to a host queue",
		}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "duplicates_total",
			Help:      "Enqueue calls suppressed because an equal command was already pending",
		}),
		drained: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "drained_total",
			Help:      "Commands removed from host queues for delivery",
		}),
		depth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Pending commands per host",
		}, []string{"host"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "transitions_total",
			Help:      "Job events applied to the lifecycle machine by event type and outcome",
		}, []string{"event", "outcome"}),
		hosts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hosts",
			Help:      "Registered hosts by liveness state",
		}, []string{"state"}),
	}
}

// Handler returns the exposition handler for the registry passed to New.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// CommandEnqueued records an accepted enqueue and the new queue depth.
func (m *Metrics) CommandEnqueued(host string, depth int) {
	if m == nil {
		return
	}
	m.enqueued.Inc()
	m.depth.WithLabelValues(host).Set(float64(depth))
}

// CommandDuplicate records a suppressed enqueue.
func (m *Metrics) CommandDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// CommandsDrained records n commands leaving a host queue.
func (m *Metrics) CommandsDrained(host string, n, depth int) {
	if m == nil {
		return
	}
	m.drained.Add(float64(n))
	m.depth.WithLabelValues(host).Set(float64(depth))
}

// QueueRemoved drops the depth series of a removed host queue.
func (m *Metrics) QueueRemoved(host string) {
	if m == nil {
		return
	}
	m.depth.DeleteLabelValues(host)
}

// JobTransition records the outcome of applying one event.
func (m *Metrics) JobTransition(event, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, outcome).Inc()
}

// HostStates replaces the per-state host gauge.
func (m *Metrics) HostStates(counts map[string]int) {
	if m == nil {
		return
	}
	m.hosts.Reset()
	for state, n := range counts {
		m.hosts.WithLabelValues(state).Set(float64(n))
	}
}
