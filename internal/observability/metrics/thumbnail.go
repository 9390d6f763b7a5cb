package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ThumbnailMetrics tracks the description cache and upstream provider calls.
type ThumbnailMetrics struct {
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewThumbnailMetrics creates and registers thumbnail metrics.
func NewThumbnailMetrics(registry *prometheus.Registry) (*ThumbnailMetrics, error) {
	m := &ThumbnailMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register thumbnail metrics: %w", err)
	}
	return m, nil
}

func (m *ThumbnailMetrics) initMetrics() {
	m.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "soundbird_thumbnail_cache_hits_total",
		Help: "Total number of description cache hits.",
	})

	m.CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "soundbird_thumbnail_cache_misses_total",
		Help: "Total number of description cache misses.",
	})

	m.RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "soundbird_thumbnail_provider_requests_total",
		Help: "Total number of provider requests, by provider and status.",
	}, []string{"provider", "status"})

	m.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "soundbird_thumbnail_provider_request_duration_seconds",
		Help:    "Duration of provider requests.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"provider"})
}

// IncrementCacheHits increases the cache hit counter by one.
func (m *ThumbnailMetrics) IncrementCacheHits() {
	m.CacheHits.Inc()
}

// IncrementCacheMisses increases the cache miss counter by one.
func (m *ThumbnailMetrics) IncrementCacheMisses() {
	m.CacheMisses.Inc()
}

// ObserveRequest records one call to provider.
func (m *ThumbnailMetrics) ObserveRequest(provider string, duration time.Duration, err error) {
	m.RequestsTotal.WithLabelValues(provider, statusOf(err)).Inc()
	m.RequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// Describe implements the prometheus.Collector interface.
func (m *ThumbnailMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.CacheHits.Desc()
	ch <- m.CacheMisses.Desc()
	m.RequestsTotal.Describe(ch)
	m.RequestDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ThumbnailMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.CacheHits
	ch <- m.CacheMisses
	m.RequestsTotal.Collect(ch)
	m.RequestDuration.Collect(ch)
}
