// Package metrics exposes workflow counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/bi-workflow/internal/application/dispatcher"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/domain/event"
)

const namespace = "workflow"

// Collector counts workflow events. It owns its registry so tests and
// multiple servers in one process do not share state.
type Collector struct {
	registry *prometheus.Registry

	initiated    *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	advances     prometheus.Counter
	completed    *prometheus.CounterVec
	unassigned   prometheus.Counter
	slaBreaches  prometheus.Counter
	templates    prometheus.Counter
	decideErrors *prometheus.CounterVec
}

// NewCollector creates a collector with Go and process metrics registered
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		initiated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instances_initiated_total",
				Help:      "Total number of workflow instances initiated",
			},
			[]string{"entity_type"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of decisions written to the step ledger",
			},
			[]string{"decision"},
		),
		advances: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_advances_total",
				Help:      "Total number of step advances",
			},
		),
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instances_completed_total",
				Help:      "Total number of instances that reached a terminal status",
			},
			[]string{"status", "entity_type"},
		),
		unassigned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unassigned_steps_total",
				Help:      "Total number of steps entered with no resolvable approver",
			},
		),
		slaBreaches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sla_breaches_total",
				Help:      "Total number of steps reported past their SLA",
			},
		),
		templates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "template_versions_published_total",
				Help:      "Total number of template versions published",
			},
		),
		decideErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decide_errors_total",
				Help:      "Total number of rejected decide calls by error kind",
			},
			[]string{"kind"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.initiated,
		c.decisions,
		c.advances,
		c.completed,
		c.unassigned,
		c.slaBreaches,
		c.templates,
		c.decideErrors,
	)
	return c
}

// Subscribe feeds the collector from every dispatched event
func (c *Collector) Subscribe(d dispatcher.Dispatcher) {
	d.SubscribeNamed(dispatcher.AnyType, "metrics", c.Handle)
}

// Handle is a dispatcher.Handler
func (c *Collector) Handle(ctx context.Context, evt *event.Event) error {
	switch evt.Type {
	case event.TypeInstanceInitiated:
		c.initiated.WithLabelValues(evt.EntityType).Inc()
	case event.TypeDecisionRecorded:
		c.decisions.WithLabelValues(evt.GetPayloadString("decision")).Inc()
	case event.TypeStepAdvanced:
		c.advances.Inc()
	case event.TypeInstanceApproved:
		c.completed.WithLabelValues(string(entity.StatusApproved), evt.EntityType).Inc()
	case event.TypeInstanceRejected:
		c.completed.WithLabelValues(string(entity.StatusRejected), evt.EntityType).Inc()
	case event.TypeInstanceCancelled:
		c.completed.WithLabelValues(string(entity.StatusCancelled), evt.EntityType).Inc()
	case event.TypeStepUnassigned:
		c.unassigned.Inc()
	case event.TypeSLABreached:
		c.slaBreaches.Inc()
	case event.TypeTemplatePublished:
		c.templates.Inc()
	}
	return nil
}

// RecordDecideError counts a failed decide call by its error kind
func (c *Collector) RecordDecideError(err error) {
	if err == nil {
		return
	}
	c.decideErrors.WithLabelValues(KindLabel(err)).Inc()
}

// RegisterPendingGauge exposes the current number of pending instances
func (c *Collector) RegisterPendingGauge(pending func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_pending",
			Help:      "Number of instances currently pending",
		},
		pending,
	))
}

// RegisterQueueGauge exposes the number of events waiting for async delivery
func (c *Collector) RegisterQueueGauge(depth func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_depth",
			Help:      "Number of workflow events queued for async delivery",
		},
		depth,
	))
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// KindLabel maps an error to its taxonomy label
func KindLabel(err error) string {
	switch entity.ErrorKind(err) {
	case entity.ErrValidation:
		return "validation"
	case entity.ErrNotFound:
		return "not_found"
	case entity.ErrUnauthorized:
		return "unauthorized"
	case entity.ErrInvalidState:
		return "invalid_state"
	case entity.ErrConflict:
		return "conflict"
	default:
		return "internal"
	}
}
