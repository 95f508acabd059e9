package prometheusadapter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"folio/contexts/event-delivery/event-consumer/domain/entities"
)

// ConsumerMetrics implements ports.ConsumerMetrics.
type ConsumerMetrics struct {
	deliveriesTotal *prometheus.CounterVec
	attemptsTotal   *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
}

func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	m := &ConsumerMetrics{
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_consumer_deliveries_total",
			Help: "Total number of settled deliveries by disposition.",
		}, []string{"consumer", "event_type", "disposition"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_consumer_handler_attempts_total",
			Help: "Total number of handler invocations by outcome.",
		}, []string{"consumer", "event_type", "outcome"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "event_consumer_handler_duration_seconds",
			Help:    "Handler latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"consumer", "event_type"}),
	}
	reg.MustRegister(m.deliveriesTotal, m.attemptsTotal, m.handlerDuration)
	return m
}

func (m *ConsumerMetrics) ObserveDisposition(consumer string, eventType string, disposition entities.Disposition) {
	m.deliveriesTotal.WithLabelValues(consumer, labelOrUnknown(eventType), string(disposition)).Inc()
}

func (m *ConsumerMetrics) ObserveAttempt(consumer string, eventType string, outcome entities.Outcome) {
	m.attemptsTotal.WithLabelValues(consumer, labelOrUnknown(eventType), string(outcome)).Inc()
}

func (m *ConsumerMetrics) ObserveHandlerDuration(consumer string, eventType string, duration time.Duration) {
	m.handlerDuration.WithLabelValues(consumer, labelOrUnknown(eventType)).Observe(duration.Seconds())
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
