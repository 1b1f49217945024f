package service

import (
	"context"

	"detectionapi/internal/model"
)

// Steps reports how far a run got.
type Steps struct {
	Detected      int  `json:"detected"`
	ImageStored   bool `json:"image_stored"`
	SidecarStored bool `json:"sidecar_stored"`
	Committed     bool `json:"committed"`
	RolledBack    bool `json:"rolled_back,omitempty"`
}

// Outcome is the result of a successful run. Warnings list non-fatal problems.
type Outcome struct {
	Record   *model.ResultRecord `json:"record"`
	Steps    Steps               `json:"steps"`
	Warnings []string            `json:"warnings,omitempty"`
}

// Processor runs the detection pipeline for one local image.
type Processor interface {
	Process(ctx context.Context, imagePath string) (*Outcome, error)
}

// Notifier is told about every committed record. Failures never affect the run.
type Notifier interface {
	Notify(ctx context.Context, record *model.ResultRecord) error
}
