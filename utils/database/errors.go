package database

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// StorageError is returned when the store is unreachable or a transaction
// aborted. CorrelationID is shown to staff so support can find the log line.
type StorageError struct {
	Op            string
	CorrelationID string
	Err           error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s [%s]: %v", e.Op, e.CorrelationID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err with a fresh correlation id. An err that already
// is a StorageError is returned unchanged.
func NewStorageError(op string, err error) *StorageError {
	var se *StorageError
	if errors.As(err, &se) {
		return se
	}
	return &StorageError{Op: op, CorrelationID: uuid.NewString(), Err: err}
}

// IsUniqueViolation reports whether err is a primary key or unique constraint violation.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrConstraint &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique)
}
