package route

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detectionapi/internal/config"
	"detectionapi/internal/handler"
	"detectionapi/internal/logger"
	"detectionapi/internal/model"
	"detectionapi/internal/observability"
	"detectionapi/internal/repository"
	"detectionapi/internal/service"
)

type stubCatalog struct {
	repository.Catalog
	latest *model.ResultRecord
}

func (c *stubCatalog) Latest(context.Context) (*model.ResultRecord, error) {
	if c.latest == nil {
		return nil, repository.ErrNotFound
	}
	return c.latest, nil
}

type stubProcessor struct {
	catalog *stubCatalog
}

func (p *stubProcessor) Process(_ context.Context, imagePath string) (*service.Outcome, error) {
	record := &model.ResultRecord{
		ID:         "r1",
		Detections: model.DetectionSet{},
		ImageURL:   "http://localhost:8080/artifacts/annotated_images/r1.jpg",
	}
	p.catalog.latest = record
	return &service.Outcome{Record: record}, nil
}

func newServer(t *testing.T, artifactsDir string) (*httptest.Server, *observability.Metrics) {
	t.Helper()
	return newServerWith(t, func(d *Deps) { d.ArtifactsDir = artifactsDir })
}

func newServerWith(t *testing.T, mutate func(*Deps)) (*httptest.Server, *observability.Metrics) {
	t.Helper()
	metrics, err := observability.NewMetrics()
	require.NoError(t, err)

	catalog := &stubCatalog{}
	deps := Deps{
		Processor: &stubProcessor{catalog: catalog},
		Catalog:   catalog,
		Metrics:   metrics,
		Logger:    logger.NewNop(),
		Health:    handler.HealthInfo{Detector: "opencv", Store: "local"},
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := httptest.NewServer(SetupRoutes(deps))
	t.Cleanup(srv.Close)
	return srv, metrics
}

func TestRoutes_DetectThenLatest(t *testing.T) {
	srv, _ := newServer(t, "")

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"No detections found"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Post(srv.URL+"/detect", "application/json", strings.NewReader(`{"image_path":"cam.jpg"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	var latest model.ResultRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&latest))
	resp.Body.Close()
	assert.Equal(t, "r1", latest.ID)
}

func TestRoutes_MethodsAndPreflight(t *testing.T) {
	srv, _ := newServer(t, "")

	resp, err := http.Get(srv.URL + "/detect")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/detect", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoutes_MetricsAndHealth(t *testing.T) {
	srv, metrics := newServer(t, "")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	health := metrics.HTTP.RequestsTotal.WithLabelValues(http.MethodGet, "/health", "200")
	assert.Eventually(t, func() bool { return testutil.ToFloat64(health) == 1 }, time.Second, 10*time.Millisecond)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestRoutes_ServesLocalArtifacts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, model.CategoryAnnotatedImages), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, model.CategoryAnnotatedImages, "r1.jpg"), []byte("jpeg"), 0644))
	srv, _ := newServer(t, dir)

	resp, err := http.Get(srv.URL + "/artifacts/annotated_images/r1.jpg")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jpeg", string(body))

	noArtifacts, _ := newServer(t, "")
	resp, err = http.Get(noArtifacts.URL + "/artifacts/annotated_images/r1.jpg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoutes_ClearLogsRequiresOptIn(t *testing.T) {
	srv, _ := newServer(t, "")

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/logs/info", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/logs/info")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEqual(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRoutes_ClearLogsWhenAllowed(t *testing.T) {
	log, err := logger.NewLogger(&config.Config{LogDirectory: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	log.Info("before clearing")

	srv, _ := newServerWith(t, func(d *Deps) {
		d.Logger = log
		d.AllowLogClear = true
	})

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/logs/info", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	data, err := os.ReadFile(filepath.Join(log.Dir(), "info.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "before clearing")
}
