package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of a de-identification run.
type Metrics struct {
	registry *prometheus.Registry

	StudiesTotal         *prometheus.CounterVec
	StudyDuration        prometheus.Histogram
	SamplesRedactedTotal prometheus.Counter
	WorkersBusy          prometheus.Gauge
}

// NewMetrics creates the metrics on their own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		StudiesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "echodeid_studies_total",
				Help: "Studies processed, by outcome status",
			},
			[]string{"status"},
		),

		StudyDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "echodeid_study_duration_seconds",
				Help:    "Per-study processing time distribution",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		SamplesRedactedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "echodeid_samples_redacted_total",
				Help: "Non-zero pixel samples zeroed by masking",
			},
		),

		WorkersBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "echodeid_workers_busy",
				Help: "Study tasks currently in flight",
			},
		),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordStudy records the outcome and duration of one study.
func (m *Metrics) RecordStudy(status string, duration time.Duration, samplesRedacted int) {
	m.StudiesTotal.WithLabelValues(status).Inc()
	m.StudyDuration.Observe(duration.Seconds())
	if samplesRedacted > 0 {
		m.SamplesRedactedTotal.Add(float64(samplesRedacted))
	}
}

// WriteTextfile dumps all metrics in the text exposition format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
