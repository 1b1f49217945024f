package app

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"detectionapi/internal/config"
	"detectionapi/internal/dto"
	"detectionapi/internal/model"
)

// inferenceServer mimics the remote detector backend: one confident person and one weak guess.
func inferenceServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("image"); err != nil {
			http.Error(w, "missing image", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"detections":[
			{"object":"person","confidence":0.9,"coordinates":{"x1":10,"y1":10,"x2":80,"y2":100}},
			{"object":"kite","confidence":0.3,"coordinates":{"x1":0,"y1":0,"x2":20,"y2":20}}
		]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, inferenceURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:         8080,
		LogDirectory: filepath.Join(dir, "logs"),
		LogLevel:     "error",
		Detector: config.DetectorConfig{
			Backend:             config.DetectorRemote,
			InferenceURL:        inferenceURL,
			ConfidenceThreshold: 0.5,
			NMSThreshold:        0.45,
			Workers:             1,
		},
		Storage: config.StorageConfig{
			Backend:       config.StorageLocal,
			Directory:     filepath.Join(dir, "artifacts"),
			PublicBaseURL: "http://localhost:8080",
		},
		Catalog: config.CatalogConfig{
			Backend:      config.CatalogSQLite,
			DatabasePath: filepath.Join(dir, "data", "detections.db"),
		},
		Identity: config.IdentityConfig{Scheme: config.IdentityRandom, Length: 8},
		Pipeline: config.PipelineConfig{
			Sidecar: true,
			TempDir: filepath.Join(dir, "tmp"),
			Timeout: 10 * time.Second,
		},
		CacheTTL: time.Second,
	}
}

func writeImage(t *testing.T) string {
	t.Helper()
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 120, 40, 0), 160, 160, gocv.MatTypeCV8UC3)
	defer mat.Close()
	path := filepath.Join(t.TempDir(), "frame.png")
	require.True(t, gocv.IMWrite(path, mat))
	return path
}

func TestApp_DetectEndToEnd(t *testing.T) {
	cfg := testConfig(t, inferenceServer(t).URL)
	a, err := NewApp(context.Background(), cfg, Options{LiveUpdates: false})
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	var empty dto.MessageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	resp.Body.Close()
	assert.Equal(t, "No detections found", empty.Message)

	resp, err = http.Post(srv.URL+"/detect", "application/json",
		strings.NewReader(`{"image_path":"`+writeImage(t)+`"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detected dto.DetectResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detected))
	resp.Body.Close()

	assert.Equal(t, []string{"person"}, detected.DetectedObjects.Labels())
	assert.Equal(t, "http://localhost:8080/artifacts/annotated_images/"+detected.ID+".jpg", detected.ImageURL)
	assert.Equal(t, "http://localhost:8080/artifacts/json_results/"+detected.ID+".json", detected.JSONFileURL)

	resp, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	var latest model.ResultRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&latest))
	resp.Body.Close()
	assert.Equal(t, detected.ID, latest.ID)
	assert.Equal(t, detected.DetectedObjects, latest.Detections)

	resp, err = http.Get(srv.URL + "/artifacts/annotated_images/" + detected.ID + ".jpg")
	require.NoError(t, err)
	jpeg, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, len(jpeg) > 2 && jpeg[0] == 0xFF && jpeg[1] == 0xD8)

	entries, err := os.ReadDir(cfg.Pipeline.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApp_DetectUnreadableImage(t *testing.T) {
	cfg := testConfig(t, inferenceServer(t).URL)
	a, err := NewApp(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/detect", "application/json",
		strings.NewReader(`{"image_path":"`+filepath.Join(t.TempDir(), "missing.jpg")+`"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	entries, err := os.ReadDir(cfg.Storage.Directory)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, inferenceServer(t).URL)
	cfg.Port = 0
	a, err := NewApp(context.Background(), cfg, Options{LiveUpdates: true})
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestNewCatalog_UnknownBackend(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	cfg.Catalog.Backend = "mongodb"
	_, err := newCatalog(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown catalog backend")
}

func TestNewApp_FailsOnBadStorage(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	cfg.Storage.Backend = "s3"
	_, err := NewApp(context.Background(), cfg, Options{})
	assert.ErrorContains(t, err, "unknown storage backend")
}
