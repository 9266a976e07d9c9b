package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"

	mysqlDeadlock        = 1213
	mysqlLockWaitTimeout = 1205
	mysqlDuplicateEntry  = 1062
)

// Transient failure kinds reported by TransientKind.
const (
	TransientSerialization = "serialization_failure"
	TransientDeadlock      = "deadlock"
	TransientLockTimeout   = "db_lock_timeout"
	TransientBusy          = "busy"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	if hasPGCode(err, pgUniqueViolation) {
		return true
	}

	if hasMySQLNumber(err, mysqlDuplicateEntry) {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsTransientErr reports lock contention failures that are safe to retry
// by re-running the whole transaction.
func IsTransientErr(err error) bool {
	return TransientKind(err) != ""
}

// TransientKind names the contention failure behind err, or "" when err is
// not retryable.
func TransientKind(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case hasPGCode(err, pgSerializationFailure):
		return TransientSerialization
	case hasPGCode(err, pgDeadlockDetected), hasMySQLNumber(err, mysqlDeadlock):
		return TransientDeadlock
	case hasPGCode(err, pgLockNotAvailable), hasMySQLNumber(err, mysqlLockWaitTimeout):
		return TransientLockTimeout
	}

	msg := err.Error()
	if strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") {
		return TransientBusy
	}
	return ""
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func hasMySQLNumber(err error, number uint16) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == number
	}
	return false
}
