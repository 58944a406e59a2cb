package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace string = "graph_broker"

// Metrics counts what the broker does. It satisfies the counter interfaces of
// the mutation engine, the temporal projection, the event emitter and the
// message consumers.
type Metrics struct {
	registry *prometheus.Registry

	mutationOutcomes *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	eventsSuppressed *prometheus.CounterVec
	instancesStored  *prometheus.CounterVec
	messagesConsumed *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_outcomes_total",
			Help:      "Attribute instance outcomes per mutation operation.",
		}, []string{"operation", "outcome"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Entity events published on the message bus.",
		}, []string{"operation_type"}),
		eventsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_suppressed_total",
			Help:      "Entity events that were not published.",
		}, []string{"reason"}),
		instancesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "temporal_instances_stored_total",
			Help:      "Attribute instances written to the temporal store.",
		}, []string{"operation"}),
		messagesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Messages consumed from the bus per consumer and outcome.",
		}, []string{"consumer", "outcome"}),
	}

	m.registry.MustRegister(
		m.mutationOutcomes,
		m.eventsPublished,
		m.eventsSuppressed,
		m.instancesStored,
		m.messagesConsumed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) MutationOutcome(operation, outcome string) {
	m.mutationOutcomes.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) EventPublished(operationType string) {
	m.eventsPublished.WithLabelValues(operationType).Inc()
}

func (m *Metrics) EventSuppressed(reason string) {
	m.eventsSuppressed.WithLabelValues(reason).Inc()
}

func (m *Metrics) InstancesStored(operation string, count int) {
	if count > 0 {
		m.instancesStored.WithLabelValues(operation).Add(float64(count))
	}
}

func (m *Metrics) MessageConsumed(consumer, outcome string) {
	m.messagesConsumed.WithLabelValues(consumer, outcome).Inc()
}
