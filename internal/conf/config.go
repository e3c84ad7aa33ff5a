// config.go: settings struct for the yolo service and functions to load it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/polybot/yolo-service/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Storage backend names accepted by output.backend
const (
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendDynamoDB = "dynamodb"
)

// Object store backend names accepted by objectstore.backend
const (
	ObjectStoreS3    = "s3"
	ObjectStoreLocal = "local"
)

// Inference engine names accepted by inference.engine
const (
	EngineRemote = "remote"
	EngineONNX   = "onnx"
)

// MainSettings identifies this instance.
type MainSettings struct {
	Name string `yaml:"name"` // instance name, used as MQTT client id and user agent
}

// WebServerSettings configures the HTTP entry point.
type WebServerSettings struct {
	Enabled         bool          `yaml:"enabled"`
	Port            string        `yaml:"port"`
	BodyLimit       string        `yaml:"bodylimit"`       // echo BodyLimit value, e.g. "1M"
	RateLimit       float64       `yaml:"ratelimit"`       // requests per second per client on /predict, 0 disables
	RateBurst       int           `yaml:"rateburst"`       // burst size for the rate limiter
	ShutdownTimeout time.Duration `yaml:"shutdowntimeout"` // graceful shutdown deadline
	CORSOrigins     []string      `yaml:"corsorigins"`
}

// PredictionSettings configures the pipeline scratch area and output keys.
type PredictionSettings struct {
	OriginalDir     string  `yaml:"originaldir"`     // local scratch for downloaded images
	PredictedDir    string  `yaml:"predicteddir"`    // local scratch for annotated images
	PredictedPrefix string  `yaml:"predictedprefix"` // object key prefix for annotated images
	MaxDiskUsage    float64 `yaml:"maxdiskusage"`    // percent; new work is refused above it, 0 disables
}

// S3Settings tunes the S3 object store client.
type S3Settings struct {
	Endpoint     string `yaml:"endpoint"`     // custom endpoint (LocalStack, MinIO)
	UsePathStyle bool   `yaml:"usepathstyle"` // path-style addressing, needed by most emulators
}

// LocalStoreSettings configures the filesystem object store.
type LocalStoreSettings struct {
	Root string `yaml:"root"` // buckets are sub-directories of Root
}

// ObjectStoreSettings selects and configures the object store.
type ObjectStoreSettings struct {
	Backend string             `yaml:"backend"` // s3 or local
	S3      S3Settings         `yaml:"s3"`
	Local   LocalStoreSettings `yaml:"local"`
}

// RemoteInferenceSettings configures the HTTP inference engine.
type RemoteInferenceSettings struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ONNXSettings configures the in-process YOLOv8 engine.
type ONNXSettings struct {
	ModelPath      string        `yaml:"modelpath"`
	LibraryPath    string        `yaml:"librarypath"` // onnxruntime shared library
	LabelsPath     string        `yaml:"labelspath"`  // one label per line, empty uses COCO
	InputSize      int           `yaml:"inputsize"`
	Confidence     float64       `yaml:"confidence"`
	IoU            float64       `yaml:"iou"`
	PoolSize       int           `yaml:"poolsize"`
	AcquireTimeout time.Duration `yaml:"acquiretimeout"`
}

// AnnotateSettings controls the annotated image output.
type AnnotateSettings struct {
	Quality int `yaml:"quality"` // JPEG quality
}

// InferenceSettings selects and configures the inference engine.
type InferenceSettings struct {
	Engine   string                  `yaml:"engine"` // remote or onnx
	Remote   RemoteInferenceSettings `yaml:"remote"`
	ONNX     ONNXSettings            `yaml:"onnx"`
	Annotate AnnotateSettings        `yaml:"annotate"`
}

// SQLiteSettings configures the sqlite backend.
type SQLiteSettings struct {
	Path string `yaml:"path"`
}

// MySQLSettings configures the mysql backend.
type MySQLSettings struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DynamoDBSettings configures the document backend.
type DynamoDBSettings struct {
	Table       string `yaml:"table"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	CreateTable bool   `yaml:"createtable"` // create the table on startup when missing
}

// OutputSettings selects the storage backend.
type OutputSettings struct {
	Backend  string           `yaml:"backend"` // sqlite, mysql or dynamodb
	SQLite   SQLiteSettings   `yaml:"sqlite"`
	MySQL    MySQLSettings    `yaml:"mysql"`
	DynamoDB DynamoDBSettings `yaml:"dynamodb"`
}

// QueueSettings configures the SQS consumer.
type QueueSettings struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Region       string        `yaml:"region"`
	Endpoint     string        `yaml:"endpoint"`
	MaxMessages  int           `yaml:"maxmessages"`
	WaitTime     time.Duration `yaml:"waittime"`
	EmptyBackoff time.Duration `yaml:"emptybackoff"`
	ErrorBackoff time.Duration `yaml:"errorbackoff"`
	Concurrency  int           `yaml:"concurrency"`
	RemoteURL    string        `yaml:"remoteurl"` // post messages to this /predict instead of running in-process
}

// MQTTSettings configures prediction event publishing.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Retain   bool   `yaml:"retain"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool    `yaml:"enabled"`
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"samplerate"`
}

// MetricsSettings toggles the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Settings contains all configuration options for the service.
type Settings struct {
	Debug       bool                 `yaml:"debug"`
	Main        MainSettings         `yaml:"main"`
	WebServer   WebServerSettings    `yaml:"webserver"`
	Prediction  PredictionSettings   `yaml:"prediction"`
	ObjectStore ObjectStoreSettings  `yaml:"objectstore"`
	Inference   InferenceSettings    `yaml:"inference"`
	Output      OutputSettings       `yaml:"output"`
	Queue       QueueSettings        `yaml:"queue"`
	MQTT        MQTTSettings         `yaml:"mqtt"`
	Sentry      SentrySettings       `yaml:"sentry"`
	Metrics     MetricsSettings      `yaml:"metrics"`
	Logging     logger.LoggingConfig `yaml:"logging"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads .env, the config file, defaults and environment variables into Settings.
// An empty configFile searches the default config paths and writes the embedded
// default config to the first of them when nothing is found.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	// .env is optional; a missing file is not an error
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults and env bindings and reads the configuration file.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// GetSettings returns the settings loaded by the last successful Load
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DumpYAML renders settings as YAML with secrets masked.
func DumpYAML(settings *Settings) ([]byte, error) {
	masked := *settings
	masked.Output.MySQL.Password = mask(masked.Output.MySQL.Password)
	masked.MQTT.Password = mask(masked.MQTT.Password)
	masked.Sentry.DSN = mask(masked.Sentry.DSN)

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return data, nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
