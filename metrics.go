package keel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors a container reports to.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Created         *prometheus.CounterVec
	CreationSeconds *prometheus.HistogramVec
	Failures        *prometheus.CounterVec
	EarlyReferences prometheus.Counter
	Destroyed       prometheus.Counter
}

// NewMetrics creates the container collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Created: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keel",
				Name:      "components_created_total",
				Help:      "Total number of component instances created",
			},
			[]string{"scope"},
		),
		CreationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "keel",
				Name:      "component_creation_seconds",
				Help:      "Component creation duration in seconds, including nested dependencies",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"scope"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keel",
				Name:      "component_creation_failures_total",
				Help:      "Total number of failed component creations",
			},
			[]string{"scope"},
		),
		EarlyReferences: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keel",
				Name:      "early_references_total",
				Help:      "Total number of early singleton references handed out to resolve cycles",
			},
		),
		Destroyed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keel",
				Name:      "components_destroyed_total",
				Help:      "Total number of component instances destroyed",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.Created, m.CreationSeconds, m.Failures, m.EarlyReferences, m.Destroyed)
	}

	return m
}

func (m *Metrics) created(scope string, d time.Duration) {
	if m == nil {
		return
	}

	m.Created.WithLabelValues(scope).Inc()
	m.CreationSeconds.WithLabelValues(scope).Observe(d.Seconds())
}

func (m *Metrics) failed(scope string) {
	if m == nil {
		return
	}

	m.Failures.WithLabelValues(scope).Inc()
}

func (m *Metrics) earlyReference() {
	if m == nil {
		return
	}

	m.EarlyReferences.Inc()
}

func (m *Metrics) destroyed() {
	if m == nil {
		return
	}

	m.Destroyed.Inc()
}
