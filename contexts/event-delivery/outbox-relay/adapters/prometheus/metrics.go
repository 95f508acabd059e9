package prometheusadapter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics implements ports.RelayMetrics.
type RelayMetrics struct {
	cyclesTotal   *prometheus.CounterVec
	claimedTotal  prometheus.Counter
	sentTotal     *prometheus.CounterVec
	retriedTotal  *prometheus.CounterVec
	failedTotal   *prometheus.CounterVec
	lagSeconds    prometheus.Gauge
	cycleDuration prometheus.Histogram
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_relay_cycles_total",
			Help: "Total number of relay cycles by result.",
		}, []string{"result"}),
		claimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_relay_claimed_total",
			Help: "Total number of claimed outbox rows.",
		}),
		sentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_relay_sent_total",
			Help: "Total number of outbox rows marked as sent.",
		}, []string{"event_type"}),
		retriedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_relay_retried_total",
			Help: "Total number of publish failures scheduled for retry.",
		}, []string{"event_type"}),
		failedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_relay_failed_total",
			Help: "Total number of outbox rows marked as failed.",
		}, []string{"event_type", "reason"}),
		lagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_lag_seconds",
			Help: "Lag in seconds between now and the oldest claimed outbox row.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_relay_cycle_duration_seconds",
			Help:    "Relay cycle latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.cyclesTotal,
		m.claimedTotal,
		m.sentTotal,
		m.retriedTotal,
		m.failedTotal,
		m.lagSeconds,
		m.cycleDuration,
	)
	return m
}

func (m *RelayMetrics) ObserveClaimed(count int) {
	m.claimedTotal.Add(float64(count))
}

func (m *RelayMetrics) ObserveSent(eventType string) {
	m.sentTotal.WithLabelValues(eventType).Inc()
}

func (m *RelayMetrics) ObserveRetry(eventType string) {
	m.retriedTotal.WithLabelValues(eventType).Inc()
}

func (m *RelayMetrics) ObserveFailed(eventType string, reason string) {
	m.failedTotal.WithLabelValues(eventType, reason).Inc()
}

func (m *RelayMetrics) ObserveLag(lag time.Duration) {
	m.lagSeconds.Set(lag.Seconds())
}

func (m *RelayMetrics) ObserveCycle(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cyclesTotal.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}
