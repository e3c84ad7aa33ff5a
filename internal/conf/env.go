// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation.
// An env var may feed more than one key (AWS_REGION, AWS_ENDPOINT_URL).
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "YOLO_DEBUG", validateEnvBool},
		{"webserver.port", "YOLO_WEBSERVER_PORT", validateEnvPort},

		// Storage
		{"output.backend", "YOLO_STORAGE_BACKEND", validateEnvBackend},
		{"output.sqlite.path", "YOLO_SQLITE_PATH", nil},
		{"output.mysql.password", "YOLO_MYSQL_PASSWORD", nil},
		{"output.dynamodb.table", "DYNAMODB_TABLE", nil},
		{"output.dynamodb.region", "AWS_REGION", nil},
		{"output.dynamodb.endpoint", "AWS_ENDPOINT_URL", validateEnvURL},

		// Queue
		{"queue.url", "SQS_QUEUE_URL", validateEnvURL},
		{"queue.region", "AWS_REGION", nil},
		{"queue.endpoint", "AWS_ENDPOINT_URL", validateEnvURL},
		{"queue.remoteurl", "YOLO_PREDICT_URL", validateEnvURL},

		// Object store
		{"objectstore.backend", "YOLO_OBJECTSTORE_BACKEND", nil},
		{"objectstore.s3.endpoint", "AWS_ENDPOINT_URL", validateEnvURL},

		// Inference
		{"inference.engine", "YOLO_INFERENCE_ENGINE", nil},
		{"inference.remote.url", "YOLO_INFERENCE_URL", validateEnvURL},
		{"inference.onnx.modelpath", "YOLO_MODEL_PATH", nil},
		{"inference.onnx.librarypath", "ONNXRUNTIME_LIB", nil},

		// Integrations
		{"mqtt.password", "YOLO_MQTT_PASSWORD", nil},
		{"sentry.dsn", "SENTRY_DSN", validateEnvURL},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch value {
	case BackendSQLite, BackendMySQL, BackendDynamoDB:
		return nil
	}
	return fmt.Errorf("must be one of %s, %s, %s", BackendSQLite, BackendMySQL, BackendDynamoDB)
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL must include scheme and host")
	}
	return nil
}
