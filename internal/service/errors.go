package service

import (
	"errors"
	"fmt"
)

// Error kinds a pipeline run can fail with. Match them with errors.Is.
var (
	ErrImageDecode  = errors.New("image could not be decoded")
	ErrDetect       = errors.New("detection failed")
	ErrAnnotate     = errors.New("annotation failed")
	ErrIDExhausted  = errors.New("identifier space exhausted")
	ErrStore        = errors.New("artifact store failure")
	ErrCatalog      = errors.New("catalog commit failed")
	ErrCatalogQuery = errors.New("catalog query failed")
)

// Stage names a step of the detection pipeline.
type Stage string

const (
	StageLoad     Stage = "load"
	StageDetect   Stage = "detect"
	StageAnnotate Stage = "annotate"
	StageIdentify Stage = "identify"
	StagePersist  Stage = "persist"
	StageCommit   Stage = "commit"
	StageNotify   Stage = "notify"
)

// StageError records which step failed, with which kind of failure, and how far the run got.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
	Steps Steps
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the error kind, so errors.Is(err, ErrStore) works without the cause wrapping it.
func (e *StageError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// StageOf returns the failed stage, or "" when err did not come from the pipeline.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
