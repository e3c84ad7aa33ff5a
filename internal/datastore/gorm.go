package datastore

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
)

const (
	// DefaultSlowQueryThreshold defines the duration after which a query is logged as slow.
	DefaultSlowQueryThreshold = 500 * time.Millisecond

	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = time.Hour
)

// DataStore implements the data operations of Interface on top of GORM.
// The relational backends embed it and add Open and Close.
type DataStore struct {
	DB  *gorm.DB // GORM database instance
	log logger.Logger
	now func() time.Time
}

func newDataStore(log logger.Logger) DataStore {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return DataStore{log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (ds *DataStore) gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                 logger.NewGormLoggerAdapter(ds.log, DefaultSlowQueryThreshold),
		SkipDefaultTransaction: true,
		NowFunc:                ds.now,
	}
}

// configurePool applies connection pool limits to the underlying *sql.DB.
func (ds *DataStore) configurePool(maxOpen int) error {
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "configure_pool", errors.PriorityHigh)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(min(maxIdleConns, maxOpen))
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	return nil
}

// performAutoMigration creates or updates the session and detection tables.
func (ds *DataStore) performAutoMigration(dbType string) error {
	start := time.Now()
	if err := ds.DB.AutoMigrate(&PredictionSession{}, &DetectionObject{}); err != nil {
		return dbError(err, "auto_migrate", errors.PriorityCritical, "db_type", dbType)
	}
	ds.log.Debug("database migration completed",
		logger.String("db_type", dbType),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// closeDB closes the connection pool. Closing a store that was never opened is a no-op.
func (ds *DataStore) closeDB() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close", errors.PriorityMedium)
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close", errors.PriorityMedium)
	}
	ds.DB = nil
	return nil
}

func (ds *DataStore) ready(operation string) error {
	if ds.DB == nil {
		return dbError(errors.NewStd("database connection is not initialized"), operation, errors.PriorityHigh)
	}
	return nil
}

// SavePrediction inserts the session, ignoring a conflict on an existing uid.
func (ds *DataStore) SavePrediction(ctx context.Context, uid, originalImage, predictedImage string) error {
	if strings.TrimSpace(uid) == "" {
		return validationError("uid must not be empty", "uid", uid)
	}
	if err := ds.ready("save_prediction"); err != nil {
		return err
	}

	session := PredictionSession{
		UID:            uid,
		Timestamp:      ds.now(),
		OriginalImage:  originalImage,
		PredictedImage: predictedImage,
	}
	result := ds.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit(clause.Associations).
		Create(&session)
	if result.Error != nil {
		return classifyRelationalError(result.Error, "save_prediction", uid)
	}
	if result.RowsAffected == 0 {
		ds.log.Debug("prediction session already exists", logger.String("uid", uid))
	}
	return nil
}

// SaveDetection inserts one detection after confirming the session exists.
// The foreign key backs the check when a session disappears between the two
// statements.
func (ds *DataStore) SaveDetection(ctx context.Context, uid, label string, score float64, box BoundingBox) error {
	if err := validateDetection(uid, label, score); err != nil {
		return err
	}
	if err := ds.ready("save_detection"); err != nil {
		return err
	}

	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&PredictionSession{}).Where("uid = ?", uid).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errSessionNotFound
		}
		return tx.Create(&DetectionObject{
			PredictionUID: uid,
			Label:         label,
			Score:         score,
			Box:           box,
		}).Error
	})
	return classifyRelationalError(err, "save_detection", uid)
}

// GetPrediction loads a session and its detections in insertion order.
func (ds *DataStore) GetPrediction(ctx context.Context, uid string) (*PredictionView, error) {
	if err := ds.ready("get_prediction"); err != nil {
		return nil, err
	}

	var session PredictionSession
	err := ds.DB.WithContext(ctx).
		Preload("Detections", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("uid = ?", uid).
		Take(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("prediction", uid)
		}
		return nil, classifyRelationalError(err, "get_prediction", uid)
	}

	return newPredictionView(session.UID, session.Timestamp, session.OriginalImage,
		session.PredictedImage, session.Detections), nil
}

// GetPredictionsByScore uses EXISTS rather than a join so every session appears once.
func (ds *DataStore) GetPredictionsByScore(ctx context.Context, minScore float64) ([]PredictionSummary, error) {
	if err := ds.ready("get_predictions_by_score"); err != nil {
		return nil, err
	}

	rows := make([]PredictionSummary, 0)
	err := ds.DB.WithContext(ctx).
		Model(&PredictionSession{}).
		Select("prediction_sessions.uid", "prediction_sessions.timestamp").
		Where("EXISTS (?)", ds.DB.Model(&DetectionObject{}).
			Select("1").
			Where("detection_objects.prediction_uid = prediction_sessions.uid AND detection_objects.score >= ?", minScore)).
		Order("prediction_sessions.timestamp DESC").
		Order("prediction_sessions.uid DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, dbError(err, "get_predictions_by_score", errors.PriorityMedium, "min_score", minScore)
	}
	return rows, nil
}
