package datastore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PredictionSession is one processed image. It is created once and never updated.
type PredictionSession struct {
	UID            string            `gorm:"primaryKey;size:36"`
	Timestamp      time.Time         `gorm:"not null;index:idx_session_timestamp"`
	OriginalImage  string            `gorm:"size:1024"`
	PredictedImage string            `gorm:"size:1024"`
	Detections     []DetectionObject `gorm:"foreignKey:PredictionUID;references:UID;constraint:OnDelete:CASCADE"`
}

// TableName pins the table name so both relational backends agree.
func (PredictionSession) TableName() string { return "prediction_sessions" }

// DetectionObject is one labelled box belonging to a session.
type DetectionObject struct {
	ID            uint        `gorm:"primaryKey"`
	PredictionUID string      `gorm:"size:36;not null;index:idx_prediction_uid"`
	Label         string      `gorm:"size:128;not null;index:idx_label"`
	Score         float64     `gorm:"not null;index:idx_score"`
	Box           BoundingBox `gorm:"type:varchar(255)"`
}

// TableName pins the table name so both relational backends agree.
func (DetectionObject) TableName() string { return "detection_objects" }

// BoundingBox is x1, y1, x2, y2 in source image pixels.
// Relational backends store it as a JSON array.
type BoundingBox [4]float64

// Value implements driver.Valuer
func (b BoundingBox) Value() (driver.Value, error) {
	data, err := json.Marshal([4]float64(b))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (b *BoundingBox) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*b = BoundingBox{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported bounding box column type %T", src)
	}

	var box [4]float64
	if err := json.Unmarshal(data, &box); err != nil {
		return fmt.Errorf("decoding bounding box: %w", err)
	}
	*b = box
	return nil
}

// PredictionView is a session with its detections flattened into parallel
// slices in insertion order.
type PredictionView struct {
	UID            string        `json:"uid"`
	Timestamp      time.Time     `json:"timestamp"`
	OriginalImage  string        `json:"original_image"`
	PredictedImage string        `json:"predicted_image"`
	Labels         []string      `json:"labels"`
	Scores         []float64     `json:"scores"`
	Boxes          []BoundingBox `json:"boxes"`
}

// PredictionSummary identifies a session in score queries.
type PredictionSummary struct {
	UID       string    `json:"uid"`
	Timestamp time.Time `json:"timestamp"`
}

// newPredictionView flattens detections. Nil slices become empty so the JSON
// form always carries arrays.
func newPredictionView(uid string, ts time.Time, original, predicted string, detections []DetectionObject) *PredictionView {
	view := &PredictionView{
		UID:            uid,
		Timestamp:      ts,
		OriginalImage:  original,
		PredictedImage: predicted,
		Labels:         make([]string, 0, len(detections)),
		Scores:         make([]float64, 0, len(detections)),
		Boxes:          make([]BoundingBox, 0, len(detections)),
	}
	for i := range detections {
		view.Labels = append(view.Labels, detections[i].Label)
		view.Scores = append(view.Scores, detections[i].Score)
		view.Boxes = append(view.Boxes, detections[i].Box)
	}
	return view
}
