// Package errors provides unified error handling for the resource server,
// implementing the taxonomy from spec.md §7.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Authentication/authorization errors (AUTH) — the JWT extension hook.
	ErrCodeUnauthorized ErrorCode = "AUTH_0001"
	ErrCodeForbidden    ErrorCode = "AUTH_0002"
	ErrCodeInvalidToken ErrorCode = "AUTH_0003"

	// Validation errors (VAL) — surfaced as 4xx with the offending field path.
	ErrCodeInvalidInput     ErrorCode = "VAL_1001"
	ErrCodeMissingParameter ErrorCode = "VAL_1002"
	ErrCodeInvalidFormat    ErrorCode = "VAL_1003"
	ErrCodeOutOfRange       ErrorCode = "VAL_1004"
	ErrCodeInvalidQuery     ErrorCode = "VAL_1005"

	// Resource errors (RES)
	ErrCodeNotFound      ErrorCode = "RES_2001"
	ErrCodeAlreadyExists ErrorCode = "RES_2002"
	ErrCodeConflict      ErrorCode = "RES_2003"

	// Rate limiting (RATE)
	ErrCodeRateLimitExceeded ErrorCode = "RATE_3001"

	// Upstream errors (UPS) — transient is retriable, permanent is not.
	ErrCodeUpstreamTransient ErrorCode = "UPS_4001"
	ErrCodeUpstreamPermanent ErrorCode = "UPS_4002"
	ErrCodeTimeout           ErrorCode = "UPS_4003"

	// Internal errors (SVC) — never leak internals to the caller.
	ErrCodeInternal ErrorCode = "SVC_5001"

	// Degraded-dependency errors (DEG) — a non-critical side effect of a
	// mutation failed. These never fail the originating request; they are
	// logged via infrastructure/logging and, where surfaced at all, attached
	// to a response as a warning rather than an error status.
	ErrCodeBroadcastFailure ErrorCode = "DEG_6001"
	ErrCodeCacheFailure     ErrorCode = "DEG_6002"
)

// ServiceError represents a structured, machine-readable error.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Authentication/authorization errors

// Unauthorized reports a missing or unverifiable bearer token.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "unauthorized"
	}
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

// Forbidden reports an authenticated caller lacking the required role.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "forbidden"
	}
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

// InvalidToken reports a JWT that failed signature, expiry or claims checks.
func InvalidToken(err error) *ServiceError {
	return Wrap(ErrCodeInvalidToken, "invalid authentication token", http.StatusUnauthorized, err)
}

// Validation errors

// InvalidInput reports a bad field value, naming the offending field path.
func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// MissingParameter reports an absent required parameter.
func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

// InvalidFormat reports a field that parses but doesn't match the expected shape.
func InvalidFormat(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFormat, "invalid format", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

// OutOfRange reports a numeric field outside its allowed bounds (e.g. limit > 1000).
func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "value out of range", http.StatusUnprocessableEntity).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

// InvalidQuery reports a malformed filter query (unknown operator, bad shape).
func InvalidQuery(reason string) *ServiceError {
	return New(ErrCodeInvalidQuery, "malformed query", http.StatusUnprocessableEntity).
		WithDetails("reason", reason)
}

// Resource errors

// NotFound reports an id that doesn't exist for a kind.
func NotFound(kind, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("kind", kind).
		WithDetails("id", id)
}

// AlreadyExists reports a unique-key collision.
func AlreadyExists(kind, field string) *ServiceError {
	return New(ErrCodeAlreadyExists, "resource already exists", http.StatusConflict).
		WithDetails("kind", kind).
		WithDetails("field", field)
}

// Conflict reports a generic 409.
func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Rate limiting

// RateLimitExceeded reports a denied request under the sliding window policy.
func RateLimitExceeded(limit int, windowSeconds int, retryAfter int) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window_seconds", windowSeconds).
		WithDetails("retry_after", retryAfter)
}

// Upstream errors

// UpstreamTransient reports a retriable upstream failure (DB timeout, store
// unreachable, SMTP 4xx-retriable). Workers retry; synchronous callers see 503.
func UpstreamTransient(operation string, err error) *ServiceError {
	return Wrap(ErrCodeUpstreamTransient, "upstream temporarily unavailable", http.StatusServiceUnavailable, err).
		WithDetails("operation", operation)
}

// UpstreamPermanent reports a non-retriable upstream failure (webhook 4xx,
// SMTP 5xx-permanent). The caller must not retry.
func UpstreamPermanent(operation string, err error) *ServiceError {
	return Wrap(ErrCodeUpstreamPermanent, "upstream rejected the request", http.StatusBadGateway, err).
		WithDetails("operation", operation)
}

// Timeout reports a suspension point that exceeded its deadline.
func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

// Internal errors

// Internal wraps an unexpected error without leaking details to the caller.
func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// Degraded-dependency errors

// BroadcastFailure reports that a channel fan-out could not be delivered
// after a mutation committed. The mutation itself already succeeded; this
// is informational only and is never returned as the response to a CRUD
// call, only logged or attached to an internal retry queue.
func BroadcastFailure(channel string, err error) *ServiceError {
	return Wrap(ErrCodeBroadcastFailure, "broadcast fan-out failed", http.StatusOK, err).
		WithDetails("channel", channel)
}

// CacheFailure reports that the shared store was unreachable for a
// read-through cache operation. Callers fall back to the database and
// continue; this is never returned as the response to a request.
func CacheFailure(key string, err error) *ServiceError {
	return Wrap(ErrCodeCacheFailure, "cache operation failed", http.StatusOK, err).
		WithDetails("key", key)
}

// Helpers

// IsServiceError checks if an error is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
