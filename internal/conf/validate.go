// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateWebServerSettings(&s.WebServer) },
		func(s *Settings) error { return validatePredictionSettings(&s.Prediction) },
		func(s *Settings) error { return validateObjectStoreSettings(&s.ObjectStore) },
		func(s *Settings) error { return validateInferenceSettings(&s.Inference) },
		func(s *Settings) error { return validateOutputSettings(&s.Output) },
		func(s *Settings) error { return validateQueueSettings(&s.Queue) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		func(s *Settings) error { return validateSentrySettings(&s.Sentry) },
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateWebServerSettings validates the WebServer-specific settings
func validateWebServerSettings(settings *WebServerSettings) error {
	if !settings.Enabled {
		return nil
	}
	if settings.Port == "" {
		return errors.New("WebServer port is required when enabled")
	}
	if err := validateEnvPort(settings.Port); err != nil {
		return fmt.Errorf("WebServer port: %w", err)
	}
	if settings.RateLimit < 0 {
		return errors.New("WebServer ratelimit must be non-negative")
	}
	if settings.RateLimit > 0 && settings.RateBurst < 1 {
		return errors.New("WebServer rateburst must be at least 1 when ratelimit is set")
	}
	return nil
}

// validatePredictionSettings validates the scratch directories and key prefix
func validatePredictionSettings(settings *PredictionSettings) error {
	var errs []string

	if settings.OriginalDir == "" || settings.PredictedDir == "" {
		errs = append(errs, "prediction originaldir and predicteddir must be set")
	}
	if settings.PredictedPrefix == "" {
		errs = append(errs, "prediction predictedprefix must not be empty")
	} else if !strings.HasSuffix(settings.PredictedPrefix, "/") {
		settings.PredictedPrefix += "/"
	}
	if settings.MaxDiskUsage < 0 || settings.MaxDiskUsage > 100 {
		errs = append(errs, "prediction maxdiskusage must be between 0 and 100")
	}

	if len(errs) > 0 {
		return fmt.Errorf("prediction settings errors: %v", errs)
	}
	return nil
}

func validateObjectStoreSettings(settings *ObjectStoreSettings) error {
	switch settings.Backend {
	case ObjectStoreS3:
		if settings.S3.Endpoint != "" {
			if err := validateEnvURL(settings.S3.Endpoint); err != nil {
				return fmt.Errorf("objectstore s3 endpoint: %w", err)
			}
		}
	case ObjectStoreLocal:
		if settings.Local.Root == "" {
			return errors.New("objectstore local root must be set")
		}
	default:
		return fmt.Errorf("objectstore backend must be %s or %s, got %q", ObjectStoreS3, ObjectStoreLocal, settings.Backend)
	}
	return nil
}

// validateInferenceSettings validates the selected engine
func validateInferenceSettings(settings *InferenceSettings) error {
	var errs []string

	switch settings.Engine {
	case EngineRemote:
		if err := validateEnvURL(settings.Remote.URL); err != nil {
			errs = append(errs, fmt.Sprintf("inference remote url: %v", err))
		}
		if settings.Remote.Timeout <= 0 {
			errs = append(errs, "inference remote timeout must be positive")
		}
	case EngineONNX:
		if settings.ONNX.ModelPath == "" {
			errs = append(errs, "inference onnx modelpath must be set")
		}
		if settings.ONNX.InputSize <= 0 || settings.ONNX.InputSize%32 != 0 {
			errs = append(errs, "inference onnx inputsize must be a positive multiple of 32")
		}
		if settings.ONNX.Confidence < 0 || settings.ONNX.Confidence > 1 {
			errs = append(errs, "inference onnx confidence must be between 0 and 1")
		}
		if settings.ONNX.IoU < 0 || settings.ONNX.IoU > 1 {
			errs = append(errs, "inference onnx iou must be between 0 and 1")
		}
		if settings.ONNX.PoolSize < 1 {
			errs = append(errs, "inference onnx poolsize must be at least 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("inference engine must be %s or %s, got %q", EngineRemote, EngineONNX, settings.Engine))
	}

	if settings.Annotate.Quality < 1 || settings.Annotate.Quality > 100 {
		errs = append(errs, "inference annotate quality must be between 1 and 100")
	}

	if len(errs) > 0 {
		return fmt.Errorf("inference settings errors: %v", errs)
	}
	return nil
}

// validateOutputSettings validates the storage backend selection
func validateOutputSettings(settings *OutputSettings) error {
	switch settings.Backend {
	case BackendSQLite:
		if settings.SQLite.Path == "" {
			return errors.New("output sqlite path must be set")
		}
	case BackendMySQL:
		if settings.MySQL.Host == "" || settings.MySQL.Database == "" {
			return errors.New("output mysql host and database must be set")
		}
		if _, err := strconv.Atoi(settings.MySQL.Port); err != nil {
			return fmt.Errorf("output mysql port must be numeric: %w", err)
		}
	case BackendDynamoDB:
		if settings.DynamoDB.Table == "" || settings.DynamoDB.Region == "" {
			return errors.New("output dynamodb table and region must be set")
		}
	default:
		return fmt.Errorf("output backend must be one of %s, %s, %s, got %q",
			BackendSQLite, BackendMySQL, BackendDynamoDB, settings.Backend)
	}
	return nil
}

// validateQueueSettings validates the consumer settings. The URL is only
// required when the consumer is enabled.
func validateQueueSettings(settings *QueueSettings) error {
	var errs []string

	if settings.Enabled && settings.URL == "" {
		errs = append(errs, "queue url is required when the consumer is enabled")
	}
	if settings.MaxMessages < 1 || settings.MaxMessages > 10 {
		errs = append(errs, "queue maxmessages must be between 1 and 10")
	}
	if settings.WaitTime < 0 || settings.WaitTime.Seconds() > 20 {
		errs = append(errs, "queue waittime must be between 0 and 20s")
	}
	if settings.EmptyBackoff < 0 || settings.ErrorBackoff < 0 {
		errs = append(errs, "queue backoff durations must be non-negative")
	}
	if settings.Concurrency < 1 {
		errs = append(errs, "queue concurrency must be at least 1")
	}
	if settings.RemoteURL != "" {
		if err := validateEnvURL(settings.RemoteURL); err != nil {
			errs = append(errs, fmt.Sprintf("queue remoteurl: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("queue settings errors: %v", errs)
	}
	return nil
}

func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}
	if settings.Broker == "" {
		return errors.New("MQTT broker URL is required when MQTT is enabled")
	}
	if _, err := url.Parse(settings.Broker); err != nil {
		return fmt.Errorf("invalid MQTT broker URL: %w", err)
	}
	if settings.Topic == "" {
		return errors.New("MQTT topic is required when MQTT is enabled")
	}
	return nil
}

func validateSentrySettings(settings *SentrySettings) error {
	if !settings.Enabled {
		return nil
	}
	if settings.DSN == "" {
		return errors.New("sentry dsn is required when sentry is enabled")
	}
	if settings.SampleRate < 0 || settings.SampleRate > 1 {
		return errors.New("sentry samplerate must be between 0 and 1")
	}
	return nil
}
