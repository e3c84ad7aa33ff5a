package prediction

import (
	"fmt"

	"github.com/polybot/yolo-service/internal/errors"
)

// Step names where a pipeline run can fail.
const (
	StepValidate          = "validate"
	StepPrepare           = "prepare"
	StepFetch             = "fetch"
	StepInfer             = "infer"
	StepSaveSession       = "save_session"
	StepPersistDetections = "persist_detections"
	StepPublish           = "publish"
	StepRemote            = "remote"
)

// Kind classifies a failure for callers mapping errors to responses.
type Kind string

const (
	KindValidation Kind = "validation"
	KindFetch      Kind = "fetch"
	KindInference  Kind = "inference"
	KindStorage    Kind = "storage"
	KindTransport  Kind = "transport"
	KindResource   Kind = "resource"
)

var kindCategory = map[Kind]errors.ErrorCategory{
	KindValidation: errors.CategoryValidation,
	KindFetch:      errors.CategoryImageFetch,
	KindInference:  errors.CategoryInference,
	KindStorage:    errors.CategoryDatabase,
	KindTransport:  errors.CategoryNetwork,
	KindResource:   errors.CategoryDiskUsage,
}

// PipelineError is the single error type returned by Service.Process.
type PipelineError struct {
	Step string
	Kind Kind
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// newPipelineError wraps cause in an EnhancedError so it is categorised and
// reported to telemetry. A cause that already is an EnhancedError keeps its
// own category, for example not-found from the object store.
func newPipelineError(step string, kind Kind, cause error, uid string) *PipelineError {
	var ee *errors.EnhancedError
	if !errors.As(cause, &ee) {
		b := errors.New(cause).
			Component(componentPrediction).
			Category(kindCategory[kind]).
			Context("step", step)
		if uid != "" {
			b = b.Context("uid", uid)
		}
		cause = b.Build()
	}
	return &PipelineError{Step: step, Kind: kind, Err: cause}
}

// IsValidation reports whether err is a rejected request. Such requests had
// no side effects and must not be retried.
func IsValidation(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Kind == KindValidation
}
