package datastore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
)

// sqliteBusyTimeoutMs bounds how long a writer waits for the database lock.
const sqliteBusyTimeoutMs = 5000

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// sqliteDSN enables WAL, foreign keys and a busy timeout. Foreign keys are a
// per-connection setting in SQLite so they must be in the DSN, not a PRAGMA.
func sqliteDSN(path string) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", fmt.Sprint(sqliteBusyTimeoutMs))
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Open sets up the SQLite database connection and migrates the schema.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Output.SQLite.Path
	if path == "" {
		return validationError("sqlite path must not be empty", "output.sqlite.path", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component(componentDatastore).
				Category(errors.CategoryFileIO).
				Context("operation", "create_database_dir").
				Context("path", dir).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), store.gormConfig())
	if err != nil {
		return dbError(err, "open", errors.PriorityCritical, "db_type", "sqlite", "path", path)
	}
	store.DB = db

	// SQLite allows one writer; a small pool keeps readers concurrent in WAL mode.
	if err := store.configurePool(maxOpenConns); err != nil {
		return err
	}

	if err := store.performAutoMigration("sqlite"); err != nil {
		return err
	}
	store.log.Info("sqlite database opened", logger.String("path", path))
	return nil
}

// Close closes the SQLite connection pool
func (store *SQLiteStore) Close() error {
	return store.closeDB()
}
