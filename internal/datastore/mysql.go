package datastore

import (
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// mysqlConfig builds the driver configuration from settings. Times are
// stored and read in UTC.
func mysqlConfig(settings *conf.MySQLSettings) *mysqldriver.Config {
	cfg := mysqldriver.NewConfig()
	cfg.User = settings.Username
	cfg.Passwd = settings.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(settings.Host, settings.Port)
	cfg.DBName = settings.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = 10 * time.Second
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg
}

// redactedDSN returns the DSN with the password masked, for logging.
func redactedDSN(cfg *mysqldriver.Config) string {
	clone := cfg.Clone()
	if clone.Passwd != "" {
		clone.Passwd = "[REDACTED]"
	}
	return clone.FormatDSN()
}

// Open sets up the MySQL database connection and migrates the schema.
func (store *MySQLStore) Open() error {
	cfg := mysqlConfig(&store.Settings.Output.MySQL)

	db, err := gorm.Open(mysql.Open(cfg.FormatDSN()), store.gormConfig())
	if err != nil {
		store.log.Error("failed to open MySQL database",
			logger.String("dsn", redactedDSN(cfg)),
			logger.Error(err))
		return dbError(err, "open", errors.PriorityCritical,
			"db_type", "mysql",
			"host", store.Settings.Output.MySQL.Host,
			"database", store.Settings.Output.MySQL.Database)
	}
	store.DB = db

	if err := store.configurePool(maxOpenConns); err != nil {
		return err
	}
	if err := store.performAutoMigration("mysql"); err != nil {
		return err
	}
	store.log.Info("mysql database opened", logger.String("dsn", redactedDSN(cfg)))
	return nil
}

// Close closes the MySQL connection pool
func (store *MySQLStore) Close() error {
	return store.closeDB()
}
