// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
	"github.com/polybot/yolo-service/internal/observability/metrics"
)

// Interface abstracts the storage backend. Every implementation must be safe
// for concurrent use and behave identically for the four data operations.
type Interface interface {
	Open() error
	Close() error

	// SavePrediction creates the session record. Saving an existing uid again
	// is a no-op and returns nil.
	SavePrediction(ctx context.Context, uid, originalImage, predictedImage string) error

	// SaveDetection appends one detection to an existing session. A missing
	// session yields a not-found error and nothing is written.
	SaveDetection(ctx context.Context, uid, label string, score float64, box BoundingBox) error

	// GetPrediction returns the session with its detections, or a not-found error.
	GetPrediction(ctx context.Context, uid string) (*PredictionView, error)

	// GetPredictionsByScore returns each session having at least one detection
	// with score >= minScore exactly once, newest first.
	GetPredictionsByScore(ctx context.Context, minScore float64) ([]PredictionSummary, error)
}

// New creates the backend selected by output.backend. The store is not opened.
// A non-nil recorder wraps the store with operation metrics.
func New(settings *conf.Settings, log logger.Logger, recorder metrics.Recorder) (Interface, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.Module("datastore")

	var store Interface
	switch settings.Output.Backend {
	case conf.BackendSQLite:
		store = &SQLiteStore{DataStore: newDataStore(log.Module("sqlite")), Settings: settings}
	case conf.BackendMySQL:
		store = &MySQLStore{DataStore: newDataStore(log.Module("mysql")), Settings: settings}
	case conf.BackendDynamoDB:
		store = NewDynamoStore(nil, settings.Output.DynamoDB, log.Module("dynamodb"))
	default:
		return nil, validationError("unsupported storage backend", "output.backend", settings.Output.Backend)
	}

	if recorder != nil {
		store = WithMetrics(store, recorder)
	}
	return store, nil
}

// validateDetection checks SaveDetection arguments before any backend call.
func validateDetection(uid, label string, score float64) error {
	if strings.TrimSpace(uid) == "" {
		return validationError("uid must not be empty", "uid", uid)
	}
	if strings.TrimSpace(label) == "" {
		return validationError("label must not be empty", "label", label)
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return validationError("score must be between 0 and 1", "score", score)
	}
	return nil
}

// instrumentedStore records duration and outcome of every data operation.
type instrumentedStore struct {
	Interface
	recorder metrics.Recorder
}

// WithMetrics wraps store so each data operation is recorded on recorder.
func WithMetrics(store Interface, recorder metrics.Recorder) Interface {
	return &instrumentedStore{Interface: store, recorder: recorder}
}

func (s *instrumentedStore) observe(operation string, start time.Time, err error) {
	s.recorder.RecordDuration(operation, time.Since(start).Seconds())
	if err == nil {
		s.recorder.RecordOperation(operation, metrics.StatusSuccess)
		return
	}
	s.recorder.RecordOperation(operation, metrics.StatusError)

	category := string(errors.CategoryDatabase)
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		category = ee.GetCategory()
	}
	s.recorder.RecordError(operation, category)
}

func (s *instrumentedStore) SavePrediction(ctx context.Context, uid, originalImage, predictedImage string) error {
	start := time.Now()
	err := s.Interface.SavePrediction(ctx, uid, originalImage, predictedImage)
	s.observe(metrics.OpSavePrediction, start, err)
	return err
}

func (s *instrumentedStore) SaveDetection(ctx context.Context, uid, label string, score float64, box BoundingBox) error {
	start := time.Now()
	err := s.Interface.SaveDetection(ctx, uid, label, score, box)
	s.observe(metrics.OpSaveDetection, start, err)
	return err
}

func (s *instrumentedStore) GetPrediction(ctx context.Context, uid string) (*PredictionView, error) {
	start := time.Now()
	view, err := s.Interface.GetPrediction(ctx, uid)
	s.observe(metrics.OpGetPrediction, start, err)
	return view, err
}

func (s *instrumentedStore) GetPredictionsByScore(ctx context.Context, minScore float64) ([]PredictionSummary, error) {
	start := time.Now()
	rows, err := s.Interface.GetPredictionsByScore(ctx, minScore)
	s.observe(metrics.OpGetPredictionsByScore, start, err)
	return rows, err
}
