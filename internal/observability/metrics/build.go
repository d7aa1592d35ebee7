package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildMetrics describes one offline index build. The build is a batch job, so
// the metrics are written to a node_exporter textfile instead of being scraped.
type BuildMetrics struct {
	registry *prometheus.Registry

	chunksTotal   *prometheus.CounterVec
	batchDuration prometheus.Histogram
	lastSuccess   prometheus.Gauge
	buildDuration prometheus.Gauge
}

func NewBuildMetrics(service string) *BuildMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	chunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "index_build",
			Name:        "chunks_total",
			Help:        "Chunks processed by the index build by status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	batchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "index_build",
			Name:        "embed_batch_duration_seconds",
			Help:        "Duration of one embedding batch in seconds.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			ConstLabels: constLabels,
		},
	)
	lastSuccess := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "index_build",
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time of the last successful index build.",
			ConstLabels: constLabels,
		},
	)
	buildDuration := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "index_build",
			Name:        "duration_seconds",
			Help:        "Wall time of the last index build.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(chunksTotal, batchDuration, lastSuccess, buildDuration)

	return &BuildMetrics{
		registry:      registry,
		chunksTotal:   chunksTotal,
		batchDuration: batchDuration,
		lastSuccess:   lastSuccess,
		buildDuration: buildDuration,
	}
}

func (m *BuildMetrics) ObserveBatch(size int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.chunksTotal.WithLabelValues(status).Add(float64(size))
	m.batchDuration.Observe(duration.Seconds())
}

func (m *BuildMetrics) FinishBuild(started time.Time, err error) {
	m.buildDuration.Set(time.Since(started).Seconds())
	if err == nil {
		m.lastSuccess.SetToCurrentTime()
	}
}

// WriteTextfile writes the metrics in the Prometheus text format to path.
func (m *BuildMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
