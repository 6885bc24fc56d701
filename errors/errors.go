package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Resolution errors ---

// MalformedSpec is returned when a resolver spec has no class/config delimiter.
func MalformedSpec(raw string) *AppError {
	return &AppError{
		Code: ErrCodeMalformedSpec, Message: fmt.Sprintf("Malformed resolver specification %q.", raw),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"spec": raw},
	}
}

// UserNotFound is returned when a backend affirmatively denies a login or id.
func UserNotFound(key, spec string) *AppError {
	return &AppError{
		Code: ErrCodeUserNotFound, Message: fmt.Sprintf("User %q not found in resolver %s.", key, spec),
		HTTPStatus: http.StatusNotFound, Retryable: false,
		Details: map[string]any{"key": key, "resolver_spec": spec},
	}
}

// ResolverUnavailable is returned when a resolver backend cannot be reached.
func ResolverUnavailable(spec string) *AppError {
	return &AppError{
		Code: ErrCodeResolverUnavailable, Message: fmt.Sprintf("Failed to connect to resolver %s.", spec),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"resolver_spec": spec},
	}
}

// NotImplemented is returned by backends that do not support a capability.
func NotImplemented(capability string) *AppError {
	return &AppError{
		Code: ErrCodeNotImplemented, Message: fmt.Sprintf("Capability %s is not implemented by this resolver.", capability),
		HTTPStatus: http.StatusNotImplemented, Retryable: false,
		Details: map[string]any{"capability": capability},
	}
}

// CacheInconsistent is returned after a divergent forward/reverse pair was dropped.
func CacheInconsistent(spec, id string) *AppError {
	return &AppError{
		Code: ErrCodeCacheInconsistent, Message: "User lookup cache entries disagreed and were invalidated.",
		HTTPStatus: http.StatusConflict, Retryable: true,
		Details: map[string]any{"resolver_spec": spec, "user_id": id},
	}
}

// AmbiguousUser is returned when one login resolves to several ids in one realm.
func AmbiguousUser(login, realm string, ids []string) *AppError {
	return &AppError{
		Code: ErrCodeAmbiguousUser,
		Message: fmt.Sprintf("Multiple user ids found for user %q in realm %q: %s.",
			login, realm, strings.Join(ids, ", ")),
		HTTPStatus: http.StatusConflict, Retryable: false,
		Details: map[string]any{"login": login, "realm": realm, "user_ids": ids},
	}
}

// NoSuchUser is returned when no resolver in scope could bind the user.
func NoSuchUser(login, realm string) *AppError {
	return &AppError{
		Code: ErrCodeNoSuchUser, Message: fmt.Sprintf("No user %q found in realm %q.", login, realm),
		HTTPStatus: http.StatusNotFound, Retryable: false,
		Details: map[string]any{"login": login, "realm": realm},
	}
}

// RealmNotFound is returned for lookups of an unknown realm.
func RealmNotFound(realm string) *AppError {
	return &AppError{
		Code: ErrCodeRealmNotFound, Message: fmt.Sprintf("Realm %q is not defined.", realm),
		HTTPStatus: http.StatusNotFound, Retryable: false,
		Details: map[string]any{"realm": realm},
	}
}

// InvalidRealmName is returned when a realm name contains forbidden characters.
func InvalidRealmName(name, pattern string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidRealmName, Message: fmt.Sprintf("Non conformant characters in realm name %q (not in %s).", name, pattern),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"realm": name, "pattern": pattern},
	}
}

// AuthenticationFailed is returned when no candidate accepted the password.
func AuthenticationFailed(login string) *AppError {
	return &AppError{
		Code: ErrCodeAuthenticationFailed, Message: "Authentication failed.",
		HTTPStatus: http.StatusUnauthorized, Retryable: false,
		Details: map[string]any{"login": login},
	}
}

// --- Common Error Constructors ---

// ServiceUnavailable creates a new AppError for a service that is temporarily unavailable.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code: ErrCodeServiceUnavailable, Message: fmt.Sprintf("The %s is temporarily unavailable. Please try again.", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// Timeout creates a new AppError for a request that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: "The request took too long. Please try again.",
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// Internal creates a new AppError for an internal server error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred. Please try again or contact support.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// DatabaseError creates a new AppError for a database error.
func DatabaseError(cause error) *AppError {
	return &AppError{
		Code: ErrCodeDatabaseError, Message: "A database error occurred. Please try again.",
		HTTPStatus: http.StatusInternalServerError, Retryable: true, Cause: cause,
	}
}
