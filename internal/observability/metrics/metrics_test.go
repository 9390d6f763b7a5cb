package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/soundbird/internal/errors"
)

func TestAnalysisMetrics(t *testing.T) {
	t.Parallel()
	m, err := NewAnalysisMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveFile(OutcomeCompleted, time.Second, 4)
	m.ObserveFile(OutcomeCompleted, time.Second, 0)
	m.ObserveFile(OutcomeFailed, time.Second, 0)

	assert.InDelta(t, 2, testutil.ToFloat64(m.FilesTotal.WithLabelValues(OutcomeCompleted)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FilesTotal.WithLabelValues(OutcomeFailed)), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.DetectionsTotal), 0)
}

func TestDatastoreMetricsStatus(t *testing.T) {
	t.Parallel()
	m, err := NewDatastoreMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveOperation("recording_create", time.Millisecond, nil)
	m.ObserveOperation("recording_create", time.Millisecond, errors.NewStd("locked"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("recording_create", StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("recording_create", StatusError)), 0)
}

func TestThumbnailMetrics(t *testing.T) {
	t.Parallel()
	m, err := NewThumbnailMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.IncrementCacheHits()
	m.IncrementCacheMisses()
	m.IncrementCacheMisses()
	m.ObserveRequest("wikipedia", 100*time.Millisecond, nil)

	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheHits), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.CacheMisses), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("wikipedia", StatusSuccess)), 0)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()

	_, err := NewHTTPMetrics(registry)
	require.NoError(t, err)
	_, err = NewHTTPMetrics(registry)
	require.Error(t, err)
}
