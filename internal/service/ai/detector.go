package ai

import (
	"context"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"detectionapi/internal/config"
	"detectionapi/internal/logger"
	"detectionapi/internal/model"
)

// Detector finds objects in a decoded image.
type Detector interface {
	Detect(ctx context.Context, img gocv.Mat) (model.DetectionSet, error)
	Name() string
	Close() error
}

// NewDetector builds the backend selected by cfg.Detector.Backend and loads its model.
func NewDetector(cfg *config.Config, log *logger.Logger) (Detector, error) {
	switch cfg.Detector.Backend {
	case config.DetectorOpenCV:
		return NewOpenCVDetector(cfg.Detector, log)
	case config.DetectorONNX:
		return NewONNXDetector(cfg.Detector, log)
	case config.DetectorRemote:
		return NewRemoteDetector(cfg.Detector, nil, log), nil
	default:
		return nil, fmt.Errorf("unknown detector backend: %q", cfg.Detector.Backend)
	}
}

// accept clamps a raw box to the image and applies the confidence cutoff.
// Degenerate boxes are dropped.
func accept(label string, confidence float64, box model.BoundingBox, width, height int, threshold float64) (model.Detection, bool) {
	if confidence < threshold {
		return model.Detection{}, false
	}
	box = box.Clamp(width, height)
	if !box.Valid(width, height) {
		return model.Detection{}, false
	}
	return model.Detection{Label: label, Confidence: confidence, Box: box}, true
}

// OpenCVDetector runs a TensorFlow SSD graph through the OpenCV DNN module.
type OpenCVDetector struct {
	nets      *pool[*gocv.Net]
	threshold float64
	logger    *logger.Logger
}

// NewOpenCVDetector loads one network per worker from the frozen graph and its .pbtxt.
func NewOpenCVDetector(cfg config.DetectorConfig, log *logger.Logger) (*OpenCVDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if _, err := os.Stat(cfg.ConfigPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	nets, err := newPool(cfg.Workers, func() (*gocv.Net, error) {
		net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
		if net.Empty() {
			return nil, fmt.Errorf("failed to load network from %s", cfg.ModelPath)
		}
		errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
		errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
		if errBackend != nil || errTarget != nil {
			net.Close()
			return nil, fmt.Errorf("failed to set preferable backend or target")
		}
		return &net, nil
	}, func(n *gocv.Net) { n.Close() })
	if err != nil {
		return nil, err
	}

	log.Info("Detection network initialized with %d workers", cfg.Workers)
	return &OpenCVDetector{nets: nets, threshold: cfg.ConfidenceThreshold, logger: log}, nil
}

func (d *OpenCVDetector) Name() string { return config.DetectorOpenCV }

// Detect runs the SSD network on img.
func (d *OpenCVDetector) Detect(ctx context.Context, img gocv.Mat) (model.DetectionSet, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrImageDecode)
	}

	net, err := d.nets.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire network: %w", err)
	}
	defer d.nets.release(net)

	// SSD COCO graphs expect 300x300 input scaled to [-1, 1]
	blob := gocv.BlobFromImage(img, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	net.SetInput(blob, "")
	output := net.Forward("")
	defer output.Close()

	width, height := img.Cols(), img.Rows()
	results := model.DetectionSet{}

	// Each row is [batch_id, class_id, confidence, x1, y1, x2, y2] with normalized corners
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()
	for i := 0; i < rows.Rows(); i++ {
		confidence := float64(rows.GetFloatAt(i, 2))
		box := model.BoundingBox{
			X1: int(rows.GetFloatAt(i, 3) * float32(width)),
			Y1: int(rows.GetFloatAt(i, 4) * float32(height)),
			X2: int(rows.GetFloatAt(i, 5) * float32(width)),
			Y2: int(rows.GetFloatAt(i, 6) * float32(height)),
		}
		if det, ok := accept(ssdLabel(int(rows.GetFloatAt(i, 1))), confidence, box, width, height, d.threshold); ok {
			results = append(results, det)
		}
	}

	d.logger.Debug("SSD detected %d objects", len(results))
	return results, nil
}

func (d *OpenCVDetector) Close() error {
	d.nets.Close()
	return nil
}
