package database

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	apperrors "github.com/kbukum/idresolver/errors"
)

// IsConnectionError checks if a database error means the server could not
// be reached, as opposed to a failed statement.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"no route to host",
		"network is unreachable",
		"connection closed",
		"driver: bad connection",
		"database is closed",
		"database is locked",
		"unable to open database",
	} {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// IsNotFoundError checks if the error is a GORM record-not-found error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// FromDatabase converts a database error to an AppError.
func FromDatabase(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if IsConnectionError(err) {
		return apperrors.ServiceUnavailable("database").WithCause(err)
	}
	return apperrors.DatabaseError(err)
}
