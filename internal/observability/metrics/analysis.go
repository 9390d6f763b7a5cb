package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AnalysisMetrics tracks files run through the classifier.
type AnalysisMetrics struct {
	FilesTotal      *prometheus.CounterVec
	FileDuration    *prometheus.HistogramVec
	DetectionsTotal prometheus.Counter
}

// NewAnalysisMetrics creates and registers analysis metrics.
func NewAnalysisMetrics(registry *prometheus.Registry) (*AnalysisMetrics, error) {
	m := &AnalysisMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register analysis metrics: %w", err)
	}
	return m, nil
}

func (m *AnalysisMetrics) initMetrics() {
	m.FilesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "soundbird_analysis_files_total",
		Help: "Total number of audio files analyzed, by outcome.",
	}, []string{"outcome"})

	m.FileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "soundbird_analysis_file_duration_seconds",
		Help:    "Time taken to analyze and store one audio file.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"outcome"})

	m.DetectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "soundbird_detections_total",
		Help: "Total number of detections produced by analysis.",
	})
}

// ObserveFile records one processed file.
func (m *AnalysisMetrics) ObserveFile(outcome string, duration time.Duration, detections int) {
	m.FilesTotal.WithLabelValues(outcome).Inc()
	m.FileDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if detections > 0 {
		m.DetectionsTotal.Add(float64(detections))
	}
}

// Describe implements the prometheus.Collector interface.
func (m *AnalysisMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FilesTotal.Describe(ch)
	m.FileDuration.Describe(ch)
	m.DetectionsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *AnalysisMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FilesTotal.Collect(ch)
	m.FileDuration.Collect(ch)
	m.DetectionsTotal.Collect(ch)
}
