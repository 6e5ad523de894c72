package types

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnreadable fails the whole job.
	ErrSourceUnreadable = errors.New("source unreadable")

	ErrTranscriptionUnavailable = errors.New("transcription unavailable")
	ErrRerankUnavailable        = errors.New("rerank unavailable")

	ErrRenderFailed  = errors.New("render failed")
	ErrPublishFailed = errors.New("publish failed")

	// ErrConstraintViolation rejects a job spec at submission.
	ErrConstraintViolation = errors.New("constraint violation")
)

// StageError attributes an error to the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewStageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
