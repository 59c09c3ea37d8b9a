package scan

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step a fatal error came from.
type Stage string

const (
	StageConfig   Stage = "config load"
	StageDownload Stage = "artifact download"
	StageCatalog  Stage = "rule catalog"
	StageAnalysis Stage = "analysis"
	StageReport   Stage = "report write"
)

// StageError is a fatal scan error tagged with its stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage of a scan error, or "" if it has none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
