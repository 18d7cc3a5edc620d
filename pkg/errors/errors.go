// Package errors holds the sentinel errors shared by the services and maps
// them to HTTP statuses and failure kinds.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrItemNotFound       = errors.New("item not found")
	ErrIndexNotFound      = errors.New("index not found")
	ErrServerNotFound     = errors.New("server not found")
	ErrServerDisabled     = errors.New("server disabled")
	ErrIndexDisabled      = errors.New("index disabled")
	ErrReadOnlyIndex      = errors.New("index is read-only")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInternal           = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
)

// AppError attaches a client-facing message and status to a sentinel.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, StatusCode: statusCode}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return New(sentinel, statusCode, fmt.Sprintf(format, args...))
}

// Kind classifies a failure for logs and metrics.
type Kind string

const (
	// KindConfig is a processor option or catalog entry that cannot work.
	KindConfig Kind = "config"
	// KindResolution is a server or index that no longer exists.
	KindResolution Kind = "resolution"
	// KindBackend is a search backend that failed or could not be reached.
	KindBackend Kind = "backend"
	KindInput   Kind = "input"
	KindTimeout Kind = "timeout"
	KindOther   Kind = "other"
)

// KindOf returns the kind of err. Errors that match no sentinel are other.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidConfig):
		return KindConfig
	case errors.Is(err, ErrIndexNotFound), errors.Is(err, ErrServerNotFound), errors.Is(err, ErrItemNotFound):
		return KindResolution
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrServerDisabled):
		return KindBackend
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrReadOnlyIndex), errors.Is(err, ErrIndexDisabled):
		return KindInput
	}
	return KindOther
}

// HTTPStatusCode maps err to a response status. An AppError's own status
// wins.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	switch {
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrIndexNotFound), errors.Is(err, ErrServerNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrReadOnlyIndex), errors.Is(err, ErrIndexDisabled):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrServerDisabled), errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
