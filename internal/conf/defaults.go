// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/polybot/yolo-service/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "yolo-service")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.bodylimit", "1M")
	viper.SetDefault("webserver.ratelimit", 20.0)
	viper.SetDefault("webserver.rateburst", 40)
	viper.SetDefault("webserver.shutdowntimeout", 30*time.Second)
	viper.SetDefault("webserver.corsorigins", []string{"*"})

	viper.SetDefault("prediction.originaldir", "uploads/original")
	viper.SetDefault("prediction.predicteddir", "uploads/predicted")
	viper.SetDefault("prediction.predictedprefix", "predicted/")
	viper.SetDefault("prediction.maxdiskusage", 95.0)

	viper.SetDefault("objectstore.backend", ObjectStoreS3)
	viper.SetDefault("objectstore.s3.endpoint", "")
	viper.SetDefault("objectstore.s3.usepathstyle", false)
	viper.SetDefault("objectstore.local.root", "objects")

	viper.SetDefault("inference.engine", EngineRemote)
	viper.SetDefault("inference.remote.url", "http://localhost:5000/detect")
	viper.SetDefault("inference.remote.timeout", 60*time.Second)
	viper.SetDefault("inference.onnx.modelpath", "models/yolov8n.onnx")
	viper.SetDefault("inference.onnx.librarypath", "")
	viper.SetDefault("inference.onnx.labelspath", "")
	viper.SetDefault("inference.onnx.inputsize", 640)
	viper.SetDefault("inference.onnx.confidence", 0.25)
	viper.SetDefault("inference.onnx.iou", 0.45)
	viper.SetDefault("inference.onnx.poolsize", 2)
	viper.SetDefault("inference.onnx.acquiretimeout", 30*time.Second)
	viper.SetDefault("inference.annotate.quality", 90)

	viper.SetDefault("output.backend", BackendSQLite)
	viper.SetDefault("output.sqlite.path", "predictions.db")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
	viper.SetDefault("output.mysql.username", "")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "predictions")
	viper.SetDefault("output.dynamodb.table", "Predictions")
	viper.SetDefault("output.dynamodb.region", "eu-north-1")
	viper.SetDefault("output.dynamodb.endpoint", "")
	viper.SetDefault("output.dynamodb.createtable", false)

	viper.SetDefault("queue.enabled", false)
	viper.SetDefault("queue.url", "")
	viper.SetDefault("queue.region", "eu-north-1")
	viper.SetDefault("queue.endpoint", "")
	viper.SetDefault("queue.maxmessages", 5)
	viper.SetDefault("queue.waittime", 10*time.Second)
	viper.SetDefault("queue.emptybackoff", 1*time.Second)
	viper.SetDefault("queue.errorbackoff", 5*time.Second)
	viper.SetDefault("queue.concurrency", 1)
	viper.SetDefault("queue.remoteurl", "")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "yolo/predictions")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")
	viper.SetDefault("sentry.samplerate", 1.0)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("logging.default_level", logger.DefaultLogLevel)
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	viper.SetDefault("logging.file_output.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.file_output.max_size", logger.DefaultMaxSize)
	viper.SetDefault("logging.file_output.max_age", logger.DefaultMaxAge)
	viper.SetDefault("logging.file_output.max_rotated_files", logger.DefaultMaxRotatedFiles)
	viper.SetDefault("logging.file_output.compress", false)
}
