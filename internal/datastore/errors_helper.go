// Package datastore provides error handling helpers for database operations
package datastore

import (
	"fmt"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/polybot/yolo-service/internal/errors"
)

const componentDatastore = "datastore"

// MySQL server error numbers inspected by the relational backends.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrNoReferencedRow = 1452
	mysqlErrLockDeadlock    = 1213
	mysqlErrLockWaitTimeout = 1205
)

// errSessionNotFound is returned inside transactions when the parent session is missing.
var errSessionNotFound = errors.NewStd("prediction session not found")

// dbError creates a properly categorized database error with context
func dbError(err error, operation, priority string, context ...any) error {
	builder := errors.New(err).
		Component(componentDatastore).
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	if priority != "" {
		builder = builder.Priority(priority)
	}

	// Add context pairs
	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// validationError creates a validation error for a rejected argument
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component(componentDatastore).
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}

// conflictError creates a conflict error for lock contention and constraint violations
func conflictError(err error, operation, conflictType string) error {
	return errors.New(err).
		Component(componentDatastore).
		Category(errors.CategoryConflict).
		Priority(errors.PriorityMedium).
		Context("operation", operation).
		Context("conflict_type", conflictType).
		Build()
}

// notFoundError creates a not found error (low priority, expected in normal operation)
func notFoundError(resource, identifier string) error {
	return errors.Newf("%s not found", resource).
		Component(componentDatastore).
		Category(errors.CategoryNotFound).
		Priority(errors.PriorityLow).
		Context("resource", resource).
		Context("identifier", identifier).
		Build()
}

// classifyRelationalError maps driver specific failures onto datastore error
// categories. A missing parent row, whether caught by the explicit check or by
// the foreign key constraint, becomes a not-found error.
func classifyRelationalError(err error, operation, uid string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errSessionNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundError("prediction session", uid)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return notFoundError("prediction session", uid)
		case sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked:
			return conflictError(err, operation, "database_locked")
		case sqliteErr.Code == sqlite3.ErrFull:
			return dbError(err, operation, errors.PriorityCritical, "uid", uid, "reason", "disk_full")
		case sqliteErr.Code == sqlite3.ErrCorrupt:
			return dbError(err, operation, errors.PriorityCritical, "uid", uid, "reason", "corrupt")
		}
	}

	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrNoReferencedRow:
			return notFoundError("prediction session", uid)
		case mysqlErrDuplicateEntry:
			return conflictError(err, operation, "duplicate_key")
		case mysqlErrLockDeadlock, mysqlErrLockWaitTimeout:
			return conflictError(err, operation, "lock")
		}
	}

	priority := errors.PriorityMedium
	if strings.Contains(strings.ToLower(err.Error()), "no space") {
		priority = errors.PriorityCritical
	}
	return dbError(err, operation, priority, "uid", uid)
}
