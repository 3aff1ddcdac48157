package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrOutOfRange   = errors.New("index out of range")
	ErrWriteFailed  = errors.New("write failed")
	ErrReadFailed   = errors.New("read failed")
	ErrInternal     = errors.New("internal server error")
)

type AppError struct {
	BaseError error
	Message   string
	Details   string
	Err       error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (Details: %s, Cause: %v)", e.BaseError.Error(), e.Message, e.Details, e.Err)
	}
	return fmt.Sprintf("%s: %s (Details: %s)", e.BaseError.Error(), e.Message, e.Details)
}

func (e *AppError) Unwrap() error {
	return e.BaseError
}

// Cause returns the underlying store or driver error, if any.
func (e *AppError) Cause() error {
	return e.Err
}

func NewAppError(base error, msg, details string, err error) *AppError {
	return &AppError{BaseError: base, Message: msg, Details: details, Err: err}
}

func NewNotFound(resource, identifier string) *AppError {
	msg := fmt.Sprintf("%s not found", resource)
	details := fmt.Sprintf("%s with identifier '%s' was not found", resource, identifier)
	return NewAppError(ErrNotFound, msg, details, nil)
}

func NewInvalidInput(details string, err error) *AppError {
	return NewAppError(ErrInvalidInput, "Invalid input provided", details, err)
}

func NewOutOfRange(field string, index, length int) *AppError {
	msg := fmt.Sprintf("%s index out of range", field)
	details := fmt.Sprintf("index %d is outside %s of length %d", index, field, length)
	return NewAppError(ErrOutOfRange, msg, details, nil)
}

func NewWriteFailed(details string, err error) *AppError {
	return NewAppError(ErrWriteFailed, "Write to profile store failed", details, err)
}

func NewReadFailed(details string, err error) *AppError {
	return NewAppError(ErrReadFailed, "Read from profile store failed", details, err)
}

func NewInternal(details string, err error) *AppError {
	return NewAppError(ErrInternal, "An internal server error occurred", details, err)
}

func ToHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrOutOfRange) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// DetailOf returns the most specific human-readable detail for err: the
// driver cause when present, otherwise the AppError details.
func DetailOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Err != nil {
			return appErr.Err.Error()
		}
		return appErr.Details
	}
	return err.Error()
}

func (e *AppError) ToJSON() gin.H {
	return gin.H{
		"error":   e.BaseError.Error(),
		"message": e.Message,
	}
}
