// Package metrics provides prediction pipeline metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PredictionMetrics contains Prometheus metrics for the prediction pipeline.
type PredictionMetrics struct {
	predictionsTotal    *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec
	stepErrorsTotal     *prometheus.CounterVec
	detectionsPersisted prometheus.Counter
	detectionsFailed    prometheus.Counter

	collectors []prometheus.Collector
}

// NewPredictionMetrics creates and registers new prediction metrics
func NewPredictionMetrics(registry prometheus.Registerer) (*PredictionMetrics, error) {
	m := &PredictionMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PredictionMetrics) initMetrics() {
	m.predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "predictions_total",
			Help:      "Total number of prediction requests by outcome",
		},
		[]string{"status"},
	)

	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "prediction_step_duration_seconds",
			Help:      "Time taken by each pipeline step",
			Buckets:   prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~20s
		},
		[]string{"step"},
	)

	m.stepErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "prediction_step_errors_total",
			Help:      "Total number of pipeline failures by step and kind",
		},
		[]string{"step", "kind"},
	)

	m.detectionsPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "detections_persisted_total",
		Help:      "Total number of detection objects written to storage",
	})

	m.detectionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "detections_failed_total",
		Help:      "Total number of detection objects that could not be written",
	})

	m.collectors = []prometheus.Collector{
		m.predictionsTotal, m.stepDuration, m.stepErrorsTotal,
		m.detectionsPersisted, m.detectionsFailed,
	}
}

// Describe implements the Collector interface
func (m *PredictionMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PredictionMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordOperation counts a finished prediction. The operation argument is
// accepted for Recorder compatibility; predictions are counted by status only.
func (m *PredictionMetrics) RecordOperation(_, status string) {
	m.predictionsTotal.WithLabelValues(status).Inc()
}

// RecordDuration records the duration of a pipeline step
func (m *PredictionMetrics) RecordDuration(step string, seconds float64) {
	m.stepDuration.WithLabelValues(step).Observe(seconds)
}

// RecordError records a failed pipeline step
func (m *PredictionMetrics) RecordError(step, kind string) {
	m.stepErrorsTotal.WithLabelValues(step, kind).Inc()
}

// RecordDetections records how many detection writes succeeded and failed
func (m *PredictionMetrics) RecordDetections(persisted, failed int) {
	m.detectionsPersisted.Add(float64(persisted))
	m.detectionsFailed.Add(float64(failed))
}
