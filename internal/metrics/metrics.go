package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the workflow engine's Prometheus metrics on a private
// registry.
type Collector struct {
	registry         *prometheus.Registry
	workflowsCreated prometheus.Counter
	decisions        *prometheus.CounterVec
	cascadeSteps     *prometheus.CounterVec
	decisionDuration prometheus.Histogram
}

// NewCollector creates a Collector with all metrics registered.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		workflowsCreated: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "credit_workflows_resolved_total",
			Help: "Total number of approval workflows resolved and created",
		}),
		decisions: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "credit_decisions_total",
			Help: "Total number of approval decisions by action and outcome",
		}, []string{"action", "outcome"}),
		cascadeSteps: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "credit_cascade_steps_total",
			Help: "Total number of steps resolved by cascade",
		}, []string{"action"}),
		decisionDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "credit_decision_duration_seconds",
			Help:    "Time taken to validate and persist one approval decision",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordWorkflowCreated counts one resolved workflow.
func (c *Collector) RecordWorkflowCreated() {
	c.workflowsCreated.Inc()
}

// RecordDecision counts one decision attempt and its duration. outcome is
// "ok" or the error kind.
func (c *Collector) RecordDecision(action, outcome string, duration time.Duration, cascades int) {
	c.decisions.WithLabelValues(action, outcome).Inc()
	c.decisionDuration.Observe(duration.Seconds())
	if cascades > 0 {
		c.cascadeSteps.WithLabelValues(action).Add(float64(cascades))
	}
}

// Handler returns the HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
