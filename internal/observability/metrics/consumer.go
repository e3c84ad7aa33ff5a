// Package metrics provides queue consumer metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ConsumerMetrics contains Prometheus metrics for the queue consumer.
type ConsumerMetrics struct {
	messagesTotal   *prometheus.CounterVec
	pollErrorsTotal prometheus.Counter
	batchSize       prometheus.Histogram
	inFlight        prometheus.Gauge

	collectors []prometheus.Collector
}

// NewConsumerMetrics creates and registers new consumer metrics
func NewConsumerMetrics(registry prometheus.Registerer) (*ConsumerMetrics, error) {
	m := &ConsumerMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ConsumerMetrics) initMetrics() {
	m.messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "consumer_messages_total",
			Help:      "Total number of queue messages handled by result",
		},
		[]string{"result"}, // processed, failed, malformed
	)

	m.pollErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "consumer_poll_errors_total",
		Help:      "Total number of failed queue receive or delete calls",
	})

	m.batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "consumer_batch_size",
		Help:      "Number of messages returned per receive call",
		Buckets:   prometheus.LinearBuckets(0, 1, 11),
	})

	m.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "consumer_messages_in_flight",
		Help:      "Messages currently being processed",
	})

	m.collectors = []prometheus.Collector{m.messagesTotal, m.pollErrorsTotal, m.batchSize, m.inFlight}
}

// Describe implements the Collector interface
func (m *ConsumerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *ConsumerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordMessage counts a handled message
func (m *ConsumerMetrics) RecordMessage(result string) {
	m.messagesTotal.WithLabelValues(result).Inc()
}

// RecordPollError counts a failed receive or delete call
func (m *ConsumerMetrics) RecordPollError() {
	m.pollErrorsTotal.Inc()
}

// ObserveBatch records the size of a received batch
func (m *ConsumerMetrics) ObserveBatch(size int) {
	m.batchSize.Observe(float64(size))
}

// MessageStarted and MessageDone track in-flight messages
func (m *ConsumerMetrics) MessageStarted() { m.inFlight.Inc() }

// MessageDone decrements the in-flight gauge
func (m *ConsumerMetrics) MessageDone() { m.inFlight.Dec() }
