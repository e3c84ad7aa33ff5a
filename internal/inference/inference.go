// Package inference runs object detection on a local image and writes an
// annotated copy with boxes and labels drawn on it.
package inference

import (
	"context"
	"time"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/httpclient"
	"github.com/polybot/yolo-service/internal/logger"
)

const componentInference = "inference"

// Detection is one labelled box in source image pixels (x1, y1, x2, y2).
type Detection struct {
	Label string     `json:"label"`
	Score float64    `json:"score"`
	Box   [4]float64 `json:"box"`
}

// Output is the result of one Run.
type Output struct {
	Detections     []Detection
	AnnotatedImage string // path of the annotated image
}

// Engine detects objects. Implementations are safe for concurrent use.
type Engine interface {
	// Run detects objects in imagePath and writes the annotated image to
	// annotatedPath.
	Run(ctx context.Context, imagePath, annotatedPath string) (*Output, error)
	Close() error
}

// New creates the engine selected by inference.engine.
func New(settings *conf.InferenceSettings, log logger.Logger) (Engine, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.Module(componentInference)

	switch settings.Engine {
	case conf.EngineRemote:
		client := httpclient.New(&httpclient.Config{DefaultTimeout: settings.Remote.Timeout})
		return NewRemoteEngine(client, settings.Remote.URL, settings.Annotate.Quality, log), nil
	case conf.EngineONNX:
		return NewONNXEngine(settings.ONNX, settings.Annotate.Quality, log)
	default:
		return nil, errors.Newf("unsupported inference engine %q", settings.Engine).
			Component(componentInference).
			Category(errors.CategoryConfiguration).
			Context("engine", settings.Engine).
			Build()
	}
}

func inferenceError(err error, engine, operation string, started time.Time) error {
	return errors.New(err).
		Component(componentInference).
		Category(errors.CategoryInference).
		Context("engine", engine).
		Timing("inference", time.Since(started)).
		Context("operation", operation).
		Build()
}
