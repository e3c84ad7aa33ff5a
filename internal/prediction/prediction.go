// Package prediction orchestrates one detection run: fetch the image, run
// inference, persist the session and its detections, publish the annotated
// image.
package prediction

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/datastore"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/inference"
	"github.com/polybot/yolo-service/internal/logger"
	"github.com/polybot/yolo-service/internal/objectstore"
	"github.com/polybot/yolo-service/internal/observability/metrics"
)

const componentPrediction = "prediction"

// Request names the source image. It is the body of POST /predict and of
// queue messages.
type Request struct {
	ImageName  string `json:"image_name"`
	BucketName string `json:"bucket_name"`
	RegionName string `json:"region_name"`
}

// Result summarises a completed run.
type Result struct {
	UID              string   `json:"prediction_uid"`
	OriginalImage    string   `json:"original_image"`
	PredictedImage   string   `json:"predicted_image"`
	DetectionCount   int      `json:"detection_count"`
	Labels           []string `json:"labels"`
	PredictedKey     string   `json:"predicted_s3_key"`
	FailedDetections int      `json:"failed_detections,omitempty"`
}

// Processor runs a prediction. Service runs it in process and
// RemoteProcessor delegates to another instance.
type Processor interface {
	Process(ctx context.Context, req Request) (*Result, error)
}

// Notifier is told about every successful run.
type Notifier interface {
	PublishResult(ctx context.Context, result *Result) error
}

// ResourceGuard refuses new work when the scratch area is exhausted.
type ResourceGuard interface {
	Check(path string) error
}

// Service is the in-process Processor.
type Service struct {
	settings conf.PredictionSettings
	store    datastore.Interface
	objects  objectstore.Store
	engine   inference.Engine

	log      logger.Logger
	metrics  *metrics.PredictionMetrics
	notifier Notifier
	guard    ResourceGuard
	newUID   func() string
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log.Module(componentPrediction)
		}
	}
}

// WithMetrics records step durations and outcomes.
func WithMetrics(m *metrics.PredictionMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier publishes successful results.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithResourceGuard checks the scratch area before each run.
func WithResourceGuard(g ResourceGuard) Option {
	return func(s *Service) { s.guard = g }
}

// WithUIDGenerator replaces the UUIDv4 generator.
func WithUIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newUID = fn }
}

// NewService creates the orchestrator.
func NewService(settings conf.PredictionSettings, store datastore.Interface, objects objectstore.Store, engine inference.Engine, opts ...Option) *Service {
	s := &Service{
		settings: settings,
		store:    store,
		objects:  objects,
		engine:   engine,
		log:      logger.NewNopLogger(),
		newUID:   uuid.NewString,
	}
	if s.settings.PredictedPrefix == "" {
		s.settings.PredictedPrefix = "predicted/"
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (r Request) validate() error {
	var missing []string
	if strings.TrimSpace(r.ImageName) == "" {
		missing = append(missing, "image_name")
	}
	if strings.TrimSpace(r.BucketName) == "" {
		missing = append(missing, "bucket_name")
	}
	if strings.TrimSpace(r.RegionName) == "" {
		missing = append(missing, "region_name")
	}
	if len(missing) > 0 {
		return errors.ValidationError("missing required fields: " + strings.Join(missing, ", "))
	}
	return nil
}

// PredictedKey returns the object key of the annotated image for imageName:
// the final path segment with _predicted inserted before the extension.
func PredictedKey(prefix, imageName string) string {
	base := path.Base(imageName)
	ext := path.Ext(base)
	return prefix + strings.TrimSuffix(base, ext) + "_predicted" + ext
}

// Process runs the pipeline. Every failure is a *PipelineError.
func (s *Service) Process(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	result, err := s.process(ctx, req)
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordOperation("", metrics.StatusSuccess)
		s.metrics.RecordDuration("total", time.Since(started).Seconds())
	}
	s.notify(ctx, result)
	return result, nil
}

func (s *Service) process(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, &PipelineError{Step: StepValidate, Kind: KindValidation, Err: err}
	}

	if s.guard != nil {
		if err := s.guard.Check(s.settings.OriginalDir); err != nil {
			return nil, newPipelineError(StepPrepare, KindResource, err, "")
		}
	}

	uid := s.newUID()
	ext := path.Ext(path.Base(req.ImageName))
	originalPath := filepath.Join(s.settings.OriginalDir, uid+ext)
	predictedPath := filepath.Join(s.settings.PredictedDir, uid+"_predicted"+ext)
	loc := objectstore.Location{Bucket: req.BucketName, Region: req.RegionName}
	log := s.log.WithContext(ctx).With(logger.String("uid", uid), logger.String("image", req.ImageName))

	log.Info("prediction started", logger.String("bucket", req.BucketName))

	if err := s.step(StepFetch, func() error {
		return s.objects.Fetch(ctx, loc, req.ImageName, originalPath)
	}); err != nil {
		return nil, newPipelineError(StepFetch, KindFetch, err, uid)
	}

	var out *inference.Output
	if err := s.step(StepInfer, func() (err error) {
		out, err = s.engine.Run(ctx, originalPath, predictedPath)
		return err
	}); err != nil {
		return nil, newPipelineError(StepInfer, KindInference, err, uid)
	}

	if err := s.step(StepSaveSession, func() error {
		return s.store.SavePrediction(ctx, uid, originalPath, predictedPath)
	}); err != nil {
		return nil, newPipelineError(StepSaveSession, KindStorage, err, uid)
	}

	labels, failed := s.persistDetections(ctx, log, uid, out.Detections)
	if s.metrics != nil {
		s.metrics.RecordDetections(len(labels), failed)
	}
	if len(out.Detections) > 0 && len(labels) == 0 {
		err := fmt.Errorf("none of %d detections could be saved", len(out.Detections))
		return nil, newPipelineError(StepPersistDetections, KindStorage, err, uid)
	}

	key := PredictedKey(s.settings.PredictedPrefix, req.ImageName)
	if err := s.step(StepPublish, func() error {
		return s.objects.Put(ctx, predictedPath, loc, key)
	}); err != nil {
		return nil, newPipelineError(StepPublish, KindTransport, err, uid)
	}

	log.Info("prediction completed",
		logger.Int("detections", len(labels)),
		logger.Int("failed_detections", failed),
		logger.String("predicted_key", key))

	return &Result{
		UID:              uid,
		OriginalImage:    originalPath,
		PredictedImage:   predictedPath,
		DetectionCount:   len(labels),
		Labels:           labels,
		PredictedKey:     key,
		FailedDetections: failed,
	}, nil
}

// persistDetections saves each detection, continuing past failures. It
// returns the labels that were saved and the number of failed writes.
func (s *Service) persistDetections(ctx context.Context, log logger.Logger, uid string, detections []inference.Detection) ([]string, int) {
	start := time.Now()
	labels := make([]string, 0, len(detections))
	failed := 0
	for _, d := range detections {
		if err := s.store.SaveDetection(ctx, uid, d.Label, d.Score, datastore.BoundingBox(d.Box)); err != nil {
			failed++
			log.Warn("failed to save detection",
				logger.String("label", d.Label),
				logger.Float64("score", d.Score),
				logger.Error(err))
			continue
		}
		labels = append(labels, d.Label)
	}
	if s.metrics != nil {
		s.metrics.RecordDuration(StepPersistDetections, time.Since(start).Seconds())
	}
	return labels, failed
}

func (s *Service) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.metrics != nil {
		s.metrics.RecordDuration(name, time.Since(start).Seconds())
	}
	return err
}

func (s *Service) recordFailure(err error) {
	var pe *PipelineError
	if !errors.As(err, &pe) {
		return
	}
	if pe.Kind == KindValidation {
		s.log.Debug("prediction rejected", logger.Error(err))
	} else {
		s.log.Error("prediction failed", logger.String("step", pe.Step), logger.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordOperation("", metrics.StatusError)
		s.metrics.RecordError(pe.Step, string(pe.Kind))
	}
}

func (s *Service) notify(ctx context.Context, result *Result) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishResult(ctx, result); err != nil {
		s.log.Warn("failed to publish prediction event", logger.String("uid", result.UID), logger.Error(err))
	}
}
