package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"gocv.io/x/gocv"

	"detectionapi/internal/config"
	"detectionapi/internal/logger"
	"detectionapi/internal/model"
)

// RemoteDetector delegates inference to an HTTP service that accepts a multipart
// "image" field and replies with {"detections": [{"object", "confidence", "coordinates"}]}.
type RemoteDetector struct {
	url       string
	client    *http.Client
	threshold float64
	logger    *logger.Logger
}

type remoteResponse struct {
	Detections []model.Detection `json:"detections"`
}

// NewRemoteDetector uses client, or a client with a 30s timeout when client is nil.
func NewRemoteDetector(cfg config.DetectorConfig, client *http.Client, log *logger.Logger) *RemoteDetector {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RemoteDetector{
		url:       cfg.InferenceURL,
		client:    client,
		threshold: cfg.ConfidenceThreshold,
		logger:    log,
	}
}

func (d *RemoteDetector) Name() string { return config.DetectorRemote }

func (d *RemoteDetector) Detect(ctx context.Context, img gocv.Mat) (model.DetectionSet, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrImageDecode)
	}
	data, err := EncodeJPEG(img)
	if err != nil {
		return nil, err
	}
	return d.detectJPEG(ctx, data, img.Cols(), img.Rows())
}

func (d *RemoteDetector) detectJPEG(ctx context.Context, data []byte, width, height int) (model.DetectionSet, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build inference request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}

	results := model.DetectionSet{}
	for _, det := range decoded.Detections {
		if kept, ok := accept(det.Label, det.Confidence, det.Box, width, height, d.threshold); ok {
			results = append(results, kept)
		}
	}
	d.logger.Debug("Remote detector returned %d objects, kept %d", len(decoded.Detections), len(results))
	return results, nil
}

func (d *RemoteDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
