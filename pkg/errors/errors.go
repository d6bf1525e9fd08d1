package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Standard error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeBadRequest      = "BAD_REQUEST"
	CodeNotFound        = "RESOURCE_NOT_FOUND"
	CodeStoreNotFound   = "STORE_NOT_FOUND"
	CodeSKUNotFound     = "SKU_NOT_FOUND"
	CodeSyncFailed      = "SYNC_FAILED"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeTimeout         = "TIMEOUT"
)

// AppError represents an application error with HTTP status and error code
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a single detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Wrap wraps an existing error
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

// NewAppError creates a new AppError
func NewAppError(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// ErrValidation creates a validation error
func ErrValidation(message string) *AppError {
	return NewAppError(CodeValidationError, message, http.StatusBadRequest)
}

// ErrBadRequest creates a bad request error
func ErrBadRequest(message string) *AppError {
	return NewAppError(CodeBadRequest, message, http.StatusBadRequest)
}

// ErrNotFound creates a not found error
func ErrNotFound(resource string) *AppError {
	return NewAppError(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// ErrStoreNotFound is returned when a webhook names a store outside the registry.
func ErrStoreNotFound(identity string) *AppError {
	return NewAppError(CodeStoreNotFound, "Store not found", http.StatusNotFound).WithDetail("store", identity)
}

// ErrSKUNotFound is returned in strict mode when the triggering item has no SKU.
func ErrSKUNotFound() *AppError {
	return NewAppError(CodeSKUNotFound, "SKU not found", http.StatusNotFound)
}

// ErrSyncFailed reports that propagation failed for at least one store.
func ErrSyncFailed(failedStores []string) *AppError {
	return NewAppError(CodeSyncFailed, "Error syncing inventory", http.StatusInternalServerError).
		WithDetail("failedStores", strings.Join(failedStores, ","))
}

// ErrInternal creates an internal error
func ErrInternal(message string) *AppError {
	if message == "" {
		message = "an internal error occurred"
	}
	return NewAppError(CodeInternalError, message, http.StatusInternalServerError)
}

// ErrTimeout creates a timeout error
func ErrTimeout(operation string) *AppError {
	return NewAppError(CodeTimeout, fmt.Sprintf("%s timed out", operation), http.StatusGatewayTimeout)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Mapping pairs a domain sentinel with the AppError it surfaces as.
type Mapping struct {
	Target error
	Build  func(err error) *AppError
}

// MapDomainError converts err into an AppError. Explicit mappings are tried
// first with errors.Is, then message patterns, then internal error.
func MapDomainError(err error, mappings ...Mapping) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	for _, m := range mappings {
		if errors.Is(err, m.Target) {
			return m.Build(err).Wrap(err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(msg, "timeout"):
		return ErrTimeout("operation").Wrap(err)
	case strings.Contains(msg, "not found"):
		return ErrNotFound("resource").Wrap(err)
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "required"):
		return ErrValidation(err.Error()).Wrap(err)
	default:
		return ErrInternal("").Wrap(err)
	}
}
