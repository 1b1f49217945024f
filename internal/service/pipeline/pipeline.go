// Package pipeline turns a local image into a committed, annotated detection result.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"detectionapi/internal/logger"
	"detectionapi/internal/model"
	"detectionapi/internal/observability"
	"detectionapi/internal/repository"
	"detectionapi/internal/service"
	"detectionapi/internal/service/ai"
	"detectionapi/internal/service/identity"
	"detectionapi/internal/service/storage"
	"detectionapi/internal/telemetry"
)

// compensationTimeout bounds the cleanup of stored artifacts after a failed commit.
const compensationTimeout = 10 * time.Second

// IDGenerator hands out unused result identifiers.
type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// Options controls a Pipeline.
type Options struct {
	Sidecar bool
	TempDir string
	Timeout time.Duration
}

// Pipeline wires the detector, artifact store and catalog together.
type Pipeline struct {
	detector  ai.Detector
	store     storage.Store
	catalog   repository.Catalog
	ids       IDGenerator
	notifiers []service.Notifier
	metrics   *observability.PipelineMetrics
	reporter  *telemetry.Reporter
	logger    *logger.Logger
	opts      Options
	loadImage func(path string) (gocv.Mat, error)
}

var _ service.Processor = (*Pipeline)(nil)

// Deps are the collaborators of a Pipeline. Metrics, Reporter and Notifiers are optional.
type Deps struct {
	Detector  ai.Detector
	Store     storage.Store
	Catalog   repository.Catalog
	IDs       IDGenerator
	Notifiers []service.Notifier
	Metrics   *observability.PipelineMetrics
	Reporter  *telemetry.Reporter
	Logger    *logger.Logger
}

func New(deps Deps, opts Options) (*Pipeline, error) {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(opts.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}

	return &Pipeline{
		detector:  deps.Detector,
		store:     deps.Store,
		catalog:   deps.Catalog,
		ids:       deps.IDs,
		notifiers: deps.Notifiers,
		metrics:   deps.Metrics,
		reporter:  deps.Reporter,
		logger:    deps.Logger,
		opts:      opts,
		loadImage: ai.LoadImage,
	}, nil
}

// Process runs load, detect, annotate, identify, persist and commit for one image.
// The artifact is always uploaded before the record referencing it is committed.
func (p *Pipeline) Process(ctx context.Context, imagePath string) (*service.Outcome, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	if p.metrics != nil {
		p.metrics.ActiveRuns.Inc()
		defer p.metrics.ActiveRuns.Dec()
	}

	start := time.Now()
	outcome, err := p.run(ctx, imagePath)
	if err != nil {
		p.logger.Error("Detection failed for %s: %v", imagePath, err)
		p.recordRun(observability.OutcomeFailure)
		p.reporter.CaptureError(err, map[string]string{
			"stage": string(service.StageOf(err)),
			"store": p.store.Name(),
		})
		return nil, err
	}

	if len(outcome.Warnings) > 0 {
		p.recordRun(observability.OutcomeWarning)
	} else {
		p.recordRun(observability.OutcomeSuccess)
	}
	p.logger.Info("Processed %s as %s: %d objects in %s", imagePath, outcome.Record.ID, len(outcome.Record.Detections), time.Since(start).Round(time.Millisecond))
	return outcome, nil
}

func (p *Pipeline) run(ctx context.Context, imagePath string) (*service.Outcome, error) {
	outcome := &service.Outcome{}
	fail := func(stage service.Stage, kind, err error) error {
		return &service.StageError{Stage: stage, Kind: kind, Err: err, Steps: outcome.Steps}
	}

	// 1. Load
	done := p.stage(service.StageLoad)
	img, err := p.loadImage(imagePath)
	done()
	if err != nil {
		return nil, fail(service.StageLoad, service.ErrImageDecode, err)
	}
	defer img.Close()

	// 2. Detect
	done = p.stage(service.StageDetect)
	detections, err := p.detector.Detect(ctx, img)
	done()
	if err != nil {
		kind := service.ErrDetect
		if errors.Is(err, ai.ErrImageDecode) {
			kind = service.ErrImageDecode
		}
		return nil, fail(service.StageDetect, kind, err)
	}
	detections = detections.NonNil()
	outcome.Steps.Detected = len(detections)

	// 3. Annotate
	done = p.stage(service.StageAnnotate)
	jpeg, err := annotateJPEG(img, detections)
	done()
	if err != nil {
		return nil, fail(service.StageAnnotate, service.ErrAnnotate, err)
	}

	// 4. Identify
	done = p.stage(service.StageIdentify)
	id, err := p.ids.NewID(ctx)
	done()
	if err != nil {
		kind := service.ErrCatalogQuery
		if errors.Is(err, identity.ErrIDExhausted) {
			kind = service.ErrIDExhausted
		}
		return nil, fail(service.StageIdentify, kind, err)
	}

	// 5. Persist
	done = p.stage(service.StagePersist)
	imageURL, jsonURL, stored, err := p.persist(ctx, id, jpeg, detections, outcome)
	if err == nil {
		err = p.confirmStored(ctx, stored[0])
		if err != nil {
			outcome.Steps.RolledBack = p.compensate(ctx, stored)
		}
	}
	done()
	if err != nil {
		return nil, fail(service.StagePersist, service.ErrStore, err)
	}

	// 6. Commit
	record := &model.ResultRecord{
		ID:         id,
		Detections: detections,
		ImageURL:   imageURL,
		JSONURL:    jsonURL,
	}
	done = p.stage(service.StageCommit)
	err = p.catalog.Commit(ctx, record)
	done()
	if err != nil {
		outcome.Steps.RolledBack = p.compensate(ctx, stored)
		return nil, fail(service.StageCommit, service.ErrCatalog, errors.Wrapf(err, "commit %s", id))
	}
	outcome.Steps.Committed = true
	outcome.Record = record

	if p.metrics != nil {
		p.metrics.RecordDetections(detections.Labels())
	}

	// 7. Notify
	p.notify(ctx, record)
	return outcome, nil
}

// persist writes the annotated image to a request-scoped temp file, uploads it and, when
// enabled, the JSON sidecar. It returns the keys it stored so a failed commit can undo them.
func (p *Pipeline) persist(ctx context.Context, id string, jpeg []byte, detections model.DetectionSet, outcome *service.Outcome) (imageURL, jsonURL string, stored []string, err error) {
	tmpPath := filepath.Join(p.opts.TempDir, id+".jpg")
	if err := os.WriteFile(tmpPath, jpeg, 0644); err != nil {
		return "", "", nil, errors.Wrap(err, "write temporary image")
	}
	defer func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			p.logger.Warning("Failed to remove temporary file %s: %v", tmpPath, rmErr)
		}
	}()

	f, err := os.Open(tmpPath)
	if err != nil {
		return "", "", nil, errors.Wrap(err, "open temporary image")
	}
	defer f.Close()

	imageKey := model.ArtifactKey(model.CategoryAnnotatedImages, id, ".jpg")
	imageURL, err = p.store.Put(ctx, imageKey, "image/jpeg", f)
	if err != nil {
		return "", "", nil, errors.Wrap(err, "upload annotated image")
	}
	stored = append(stored, imageKey)
	outcome.Steps.ImageStored = true

	if !p.opts.Sidecar {
		return imageURL, "", stored, nil
	}

	jsonKey := model.ArtifactKey(model.CategoryJSONResults, id, ".json")
	jsonURL, err = p.putSidecar(ctx, jsonKey, id, imageURL, detections)
	if err != nil {
		p.logger.Warning("Sidecar upload for %s failed, committing without it: %v", id, err)
		outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("json sidecar not stored: %v", err))
		return imageURL, "", stored, nil
	}
	stored = append(stored, jsonKey)
	outcome.Steps.SidecarStored = true
	return imageURL, jsonURL, stored, nil
}

type sidecar struct {
	ID              string             `json:"id"`
	DetectedObjects model.DetectionSet `json:"detected_objects"`
	ImageURL        string             `json:"image_url"`
}

func (p *Pipeline) putSidecar(ctx context.Context, key, id, imageURL string, detections model.DetectionSet) (string, error) {
	body, err := json.MarshalIndent(sidecar{ID: id, DetectedObjects: detections, ImageURL: imageURL}, "", "    ")
	if err != nil {
		return "", errors.Wrap(err, "encode sidecar")
	}
	url, err := p.store.Put(ctx, key, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "upload sidecar")
	}
	return url, nil
}

// confirmStored checks that the image artifact is visible in the store before a record references it.
func (p *Pipeline) confirmStored(ctx context.Context, key string) error {
	ok, err := p.store.Exists(ctx, key)
	if err != nil {
		return errors.Wrapf(err, "check artifact %s", key)
	}
	if !ok {
		return errors.Errorf("artifact %s missing after upload", key)
	}
	return nil
}

// compensate deletes artifacts whose record could not be committed and reports whether all
// of them are gone. It runs even when ctx has expired.
func (p *Pipeline) compensate(ctx context.Context, keys []string) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	removed := true
	for _, key := range keys {
		if err := p.store.Delete(ctx, key); err != nil {
			p.logger.Error("Failed to remove orphaned artifact %s: %v", key, err)
			removed = false
			continue
		}
		p.logger.Warning("Removed orphaned artifact %s", key)
	}
	return removed
}

func (p *Pipeline) notify(ctx context.Context, record *model.ResultRecord) {
	if len(p.notifiers) == 0 {
		return
	}
	done := p.stage(service.StageNotify)
	defer done()

	for _, n := range p.notifiers {
		if err := n.Notify(ctx, record); err != nil {
			p.logger.Warning("Notification for %s failed: %v", record.ID, err)
		}
	}
}

func (p *Pipeline) stage(s service.Stage) func() {
	start := time.Now()
	return func() {
		if p.metrics != nil {
			p.metrics.ObserveStage(string(s), time.Since(start))
		}
	}
}

func (p *Pipeline) recordRun(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordRun(outcome)
	}
}

func annotateJPEG(img gocv.Mat, detections model.DetectionSet) ([]byte, error) {
	annotated, err := ai.Annotate(img, detections)
	if err != nil {
		return nil, err
	}
	defer annotated.Close()
	return ai.EncodeJPEG(annotated)
}
