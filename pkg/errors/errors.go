package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Recoverable kinds. None of them aborts a query.
var (
	ErrInvalidPosting  = errors.New("invalid posting")
	ErrDuplicate       = errors.New("duplicate posting")
	ErrSourceFailed    = errors.New("posting source failed")
	ErrPeerUnavailable = errors.New("peer unavailable")
	ErrTimeout         = errors.New("operation timed out")
	ErrSessionClosed   = errors.New("merge session closed")
	ErrInvalidProfile  = errors.New("invalid ranking profile")
	ErrInvalidInput    = errors.New("invalid input")
)

// ErrInternal marks a broken invariant inside the merge core. It is never
// produced by bad input and must not be retried.
var ErrInternal = errors.New("internal invariant violated")

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
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Internalf wraps ErrInternal with a formatted detail message.
func Internalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}

// IsRecoverable reports whether err belongs to the recoverable kinds: bad
// postings, failed sources, timeouts. Invariant violations are not.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	return !errors.Is(err, ErrInternal)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidProfile), errors.Is(err, ErrInvalidPosting):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, ErrPeerUnavailable), errors.Is(err, ErrSourceFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
