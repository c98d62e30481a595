package pipeline

import (
	"errors"
	"fmt"

	"github.com/Lunanaall/thumbnailer/internal/processor"
	"github.com/Lunanaall/thumbnailer/internal/storage/blob"
)

// Stage names a step of the per-image state machine.
type Stage string

const (
	StageSelect    Stage = "select"
	StageClaim     Stage = "claim"
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StagePublish   Stage = "publish"
	StageRecord    Stage = "record"
)

// SelectionError means candidates could not be read. It aborts the run.
type SelectionError struct {
	Err error
}

func (e *SelectionError) Error() string { return fmt.Sprintf("select candidates: %v", e.Err) }
func (e *SelectionError) Unwrap() error { return e.Err }

// ClaimError means the lease backend failed while claiming an image.
type ClaimError struct {
	ImageID int64
	Err     error
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("claim image %d: %v", e.ImageID, e.Err)
}
func (e *ClaimError) Unwrap() error { return e.Err }

// FetchError means the original could not be read from the object store.
type FetchError struct {
	ImageID   int64
	Container string
	Key       string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch original %s/%s for image %d: %v", e.Container, e.Key, e.ImageID, e.Err)
}
func (e *FetchError) Unwrap() error { return e.Err }

// NotFound reports whether the original is missing, as opposed to a
// transport or authorisation failure.
func (e *FetchError) NotFound() bool {
	return errors.Is(e.Err, blob.ErrObjectNotFound) || errors.Is(e.Err, blob.ErrInvalidLocation)
}

// TransformError wraps a failure to build the preview. Undecodable input
// unwraps to *processor.DecodeError.
type TransformError struct {
	ImageID int64
	Err     error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform image %d: %v", e.ImageID, e.Err)
}
func (e *TransformError) Unwrap() error { return e.Err }

// Decode reports whether the input was not a supported image.
func (e *TransformError) Decode() bool {
	var de *processor.DecodeError
	return errors.As(e.Err, &de)
}

// PublishError means the preview could not be stored.
type PublishError struct {
	ImageID   int64
	Container string
	Key       string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish preview %s/%s for image %d: %v", e.Container, e.Key, e.ImageID, e.Err)
}
func (e *PublishError) Unwrap() error { return e.Err }

// RecordError means the completion write failed and was rolled back.
type RecordError struct {
	ImageID  int64
	Location string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record preview %s for image %d: %v", e.Location, e.ImageID, e.Err)
}
func (e *RecordError) Unwrap() error { return e.Err }

// StageOf returns the stage a pipeline error belongs to, or "" if err is not
// one of the stage errors.
func StageOf(err error) Stage {
	var (
		selErr   *SelectionError
		claimErr *ClaimError
		fetchErr *FetchError
		trErr    *TransformError
		pubErr   *PublishError
		recErr   *RecordError
	)

	switch {
	case errors.As(err, &selErr):
		return StageSelect
	case errors.As(err, &claimErr):
		return StageClaim
	case errors.As(err, &fetchErr):
		return StageFetch
	case errors.As(err, &trErr):
		return StageTransform
	case errors.As(err, &pubErr):
		return StagePublish
	case errors.As(err, &recErr):
		return StageRecord
	default:
		return ""
	}
}
