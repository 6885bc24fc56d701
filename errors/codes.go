package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Connection/Availability errors (retryable)
const (
	// ErrCodeServiceUnavailable indicates the service is temporarily unavailable.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeResolverUnavailable indicates a resolver backend could not be reached.
	ErrCodeResolverUnavailable ErrorCode = "RESOLVER_UNAVAILABLE"
	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeCacheInconsistent indicates forward and reverse lookup entries disagreed
	// and were dropped. The lookup should be retried.
	ErrCodeCacheInconsistent ErrorCode = "CACHE_INCONSISTENT"
)

// Resolution errors
const (
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeUserNotFound indicates a backend affirmatively denied a login or id.
	ErrCodeUserNotFound ErrorCode = "USER_NOT_FOUND"
	// ErrCodeNoSuchUser indicates no resolver in scope could bind the user.
	ErrCodeNoSuchUser ErrorCode = "NO_SUCH_USER"
	// ErrCodeAmbiguousUser indicates a login maps to different ids within one realm.
	ErrCodeAmbiguousUser ErrorCode = "AMBIGUOUS_USER"
	// ErrCodeRealmNotFound indicates the realm is not configured.
	ErrCodeRealmNotFound ErrorCode = "REALM_NOT_FOUND"
	// ErrCodeNotImplemented indicates a backend does not support a capability.
	ErrCodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
)

// Validation errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeMalformedSpec indicates a resolver spec string could not be parsed.
	ErrCodeMalformedSpec ErrorCode = "MALFORMED_SPEC"
	// ErrCodeInvalidRealmName indicates a realm name contains forbidden characters.
	ErrCodeInvalidRealmName ErrorCode = "INVALID_REALM_NAME"
)

// Authentication errors
const (
	// ErrCodeAuthenticationFailed indicates no candidate accepted the password.
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
)

// Internal errors
const (
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrCodeDatabaseError indicates a database error.
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeServiceUnavailable:  true,
	ErrCodeResolverUnavailable: true,
	ErrCodeTimeout:             true,
	ErrCodeCacheInconsistent:   true,
	ErrCodeDatabaseError:       true,
	ErrCodeInternal:            false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
