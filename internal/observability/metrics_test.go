package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Pipeline.RecordRun(OutcomeSuccess)
	m.Pipeline.RecordRun(OutcomeSuccess)
	m.Pipeline.RecordRun(OutcomeFailure)
	m.Pipeline.RecordDetections([]string{"person", "dog", "person"})
	m.Pipeline.ObserveStage("detect", 20*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Pipeline.RunsTotal.WithLabelValues(OutcomeSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Pipeline.RunsTotal.WithLabelValues(OutcomeFailure)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Pipeline.DetectionsTotal.WithLabelValues("person")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Pipeline.StageDuration))
}

func TestMetricsHandler(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.HTTP.RecordRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	m.Pipeline.RecordRun(OutcomeWarning)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `detection_pipeline_runs_total{outcome="warning"} 1`)
	assert.Contains(t, body, `http_requests_total{method="GET",route="/",status="200"} 1`)
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	_, err := NewMetrics()
	require.NoError(t, err)
	_, err = NewMetrics()
	assert.NoError(t, err)
}
