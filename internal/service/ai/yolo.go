package ai

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"detectionapi/internal/config"
	"detectionapi/internal/logger"
	"detectionapi/internal/model"
)

var (
	ortInit    sync.Once
	ortInitErr error
)

// yoloSession is one ONNX Runtime session with its bound tensors.
type yoloSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *yoloSession) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// ONNXDetector runs a YOLOv8/YOLO11 export with output layout [1, 4+classes, boxes].
type ONNXDetector struct {
	sessions     *pool[*yoloSession]
	inputSize    int
	numClasses   int
	numBoxes     int
	threshold    float64
	nmsThreshold float64
	logger       *logger.Logger
}

// yoloAnchors returns the number of candidate boxes for a square input of the given size.
func yoloAnchors(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := inputSize / stride
		n += side * side
	}
	return n
}

func NewONNXDetector(cfg config.DetectorConfig, log *logger.Logger) (*ONNXDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	ortInit.Do(func() {
		if cfg.ONNXLibrary != "" {
			ort.SetSharedLibraryPath(cfg.ONNXLibrary)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("error initializing ORT environment: %w", ortInitErr)
	}

	d := &ONNXDetector{
		inputSize:    cfg.InputSize,
		numClasses:   len(cocoClasses),
		numBoxes:     yoloAnchors(cfg.InputSize),
		threshold:    cfg.ConfidenceThreshold,
		nmsThreshold: cfg.NMSThreshold,
		logger:       log,
	}

	sessions, err := newPool(cfg.Workers, func() (*yoloSession, error) {
		return d.newSession(cfg.ModelPath)
	}, (*yoloSession).destroy)
	if err != nil {
		return nil, err
	}
	d.sessions = sessions

	log.Info("ONNX detector initialized from %s with %d workers", cfg.ModelPath, cfg.Workers)
	return d, nil
}

func (d *ONNXDetector) newSession(modelPath string) (*yoloSession, error) {
	size := int64(d.inputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+d.numClasses), int64(d.numBoxes)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating ORT session: %w", err)
	}

	return &yoloSession{session: session, input: inputTensor, output: outputTensor}, nil
}

func (d *ONNXDetector) Name() string { return config.DetectorONNX }

func (d *ONNXDetector) Detect(ctx context.Context, img gocv.Mat) (model.DetectionSet, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrImageDecode)
	}

	src, err := img.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}

	s, err := d.sessions.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session: %w", err)
	}
	defer d.sessions.release(s)

	lb := letterbox(src, d.inputSize)
	fillInput(lb.canvas, s.input.GetData())

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	dets := decodeYOLO(s.output.GetData(), yoloOutput{
		numClasses:   d.numClasses,
		numBoxes:     d.numBoxes,
		threshold:    d.threshold,
		nmsThreshold: d.nmsThreshold,
		width:        img.Cols(),
		height:       img.Rows(),
		scale:        lb.scale,
		padX:         lb.padX,
		padY:         lb.padY,
	})
	d.logger.Debug("YOLO detected %d objects", len(dets))
	return dets, nil
}

func (d *ONNXDetector) Close() error {
	d.sessions.Close()
	return nil
}

// letterboxed is a square model input with the source image scaled and centered on gray padding.
type letterboxed struct {
	canvas *image.NRGBA
	scale  float64
	padX   int
	padY   int
}

func letterbox(src image.Image, size int) letterboxed {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	scale := float64(size) / float64(max(w, h))

	nw, nh := int(float64(w)*scale+0.5), int(float64(h)*scale+0.5)
	resized := imaging.Resize(src, max(nw, 1), max(nh, 1), imaging.Linear)

	padX, padY := (size-resized.Bounds().Dx())/2, (size-resized.Bounds().Dy())/2
	canvas := imaging.New(size, size, color.NRGBA{R: 114, G: 114, B: 114, A: 255})
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return letterboxed{canvas: canvas, scale: scale, padX: padX, padY: padY}
}

// fillInput writes the canvas into dst as planar RGB scaled to [0, 1].
func fillInput(canvas *image.NRGBA, dst []float32) {
	w, h := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	plane := w * h
	for y := 0; y < h; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			dst[i] = float32(row[x*4]) / 255.0
			dst[plane+i] = float32(row[x*4+1]) / 255.0
			dst[2*plane+i] = float32(row[x*4+2]) / 255.0
		}
	}
}

type yoloOutput struct {
	numClasses   int
	numBoxes     int
	threshold    float64
	nmsThreshold float64
	width        int
	height       int
	scale        float64
	padX         int
	padY         int
}

type candidate struct {
	classID    int
	confidence float64
	box        model.BoundingBox
}

// decodeYOLO turns the raw [4+classes, boxes] tensor into detections in original image
// coordinates, sorted by confidence and filtered with class-aware NMS.
func decodeYOLO(data []float32, o yoloOutput) model.DetectionSet {
	n := o.numBoxes
	var candidates []candidate

	for i := 0; i < n; i++ {
		classID, best := -1, float32(0)
		for c := 0; c < o.numClasses; c++ {
			if score := data[(4+c)*n+i]; score > best {
				classID, best = c, score
			}
		}
		if classID < 0 || float64(best) < o.threshold {
			continue
		}

		cx, cy, bw, bh := float64(data[i]), float64(data[n+i]), float64(data[2*n+i]), float64(data[3*n+i])
		box := model.BoundingBox{
			X1: int((cx - bw/2 - float64(o.padX)) / o.scale),
			Y1: int((cy - bh/2 - float64(o.padY)) / o.scale),
			X2: int((cx + bw/2 - float64(o.padX)) / o.scale),
			Y2: int((cy + bh/2 - float64(o.padY)) / o.scale),
		}
		det, ok := accept(yoloLabel(classID), float64(best), box, o.width, o.height, o.threshold)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{classID: classID, confidence: det.Confidence, box: det.Box})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].confidence > candidates[b].confidence
	})

	results := model.DetectionSet{}
	kept := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		suppressed := false
		for _, k := range kept {
			if k.classID == c.classID && iou(k.box, c.box) > o.nmsThreshold {
				suppressed = true
				break
			}
		}
		if suppressed {
			continue
		}
		kept = append(kept, c)
		results = append(results, model.Detection{Label: yoloLabel(c.classID), Confidence: c.confidence, Box: c.box})
	}
	return results
}

func iou(a, b model.BoundingBox) float64 {
	inter := a.Rect().Intersect(b.Rect())
	if inter.Empty() {
		return 0
	}
	interArea := float64(inter.Dx() * inter.Dy())
	areaA := float64(a.Rect().Dx() * a.Rect().Dy())
	areaB := float64(b.Rect().Dx() * b.Rect().Dy())
	return interArea / (areaA + areaB - interArea)
}
