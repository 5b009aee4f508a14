// Package metrics exposes pipeline activity as Prometheus metrics on a
// registry private to the daemon.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qbicsoftware/data-scanner/internal/ledger"
)

const namespace = "datascanner"

// Metrics holds every collector of the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Task transitions by stage and outcome
	Transitions *prometheus.CounterVec

	// Registration requests waiting in the bounded queue
	QueueDepth prometheus.Gauge

	// User registration folders watched by the scanner
	TrackedDirectories prometheus.Gauge

	// Requests remembered for deduplication
	SubmittedRequests prometheus.Gauge

	// Requests handed to the queue
	EnqueuedRequests prometheus.Counter

	// Task directories currently claimed, by stage
	ClaimsHeld *prometheus.GaugeVec

	// Workers busy with a unit of work, by stage
	ActiveWorkers *prometheus.GaugeVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task directories leaving a stage by outcome",
		}, []string{"stage", "outcome"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registration_queue_depth",
			Help:      "Registration requests waiting in the queue",
		}),
		TrackedDirectories: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scanner_tracked_directories",
			Help:      "User registration directories watched by the scanner",
		}),
		SubmittedRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scanner_submitted_requests",
			Help:      "Registration requests remembered for deduplication",
		}),
		EnqueuedRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scanner_enqueued_requests_total",
			Help:      "Registration requests handed to the queue",
		}),
		ClaimsHeld: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "claims_held",
			Help:      "Task directories currently claimed by a worker",
		}, []string{"stage"}),
		ActiveWorkers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently processing a unit of work",
		}, []string{"stage"}),
	}
}

// Record counts a transition. It satisfies ledger.Recorder.
func (m *Metrics) Record(_ context.Context, event ledger.Event) error {
	if m != nil {
		m.Transitions.WithLabelValues(event.Stage, string(event.Outcome)).Inc()
	}
	return nil
}

// ObserveScan updates the scanner gauges after a pass.
func (m *Metrics) ObserveScan(tracked, submitted, enqueued int) {
	if m == nil {
		return
	}
	m.TrackedDirectories.Set(float64(tracked))
	m.SubmittedRequests.Set(float64(submitted))
	m.EnqueuedRequests.Add(float64(enqueued))
}

// SetQueueDepth records the number of queued registration requests.
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

// SetClaims records the number of claimed task directories of a stage.
func (m *Metrics) SetClaims(stage string, n int) {
	if m != nil {
		m.ClaimsHeld.WithLabelValues(stage).Set(float64(n))
	}
}

// SetActiveWorkers records how many workers of a stage are busy.
func (m *Metrics) SetActiveWorkers(stage string, n int) {
	if m != nil {
		m.ActiveWorkers.WithLabelValues(stage).Set(float64(n))
	}
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
