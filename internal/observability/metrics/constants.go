// Package metrics provides constants used across metric definitions.
package metrics

// Namespace prefixes every metric exported by the service.
const Namespace = "yolo"

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Datastore operation label values.
const (
	OpSavePrediction        = "save_prediction"
	OpSaveDetection         = "save_detection"
	OpGetPrediction         = "get_prediction"
	OpGetPredictionsByScore = "get_predictions_by_score"
)

// Consumer result label values.
const (
	ResultProcessed = "processed"
	ResultFailed    = "failed"
	ResultMalformed = "malformed"
)

// Histogram bucket configuration constants.
// These define the base values and factors for exponential bucket generation.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)
