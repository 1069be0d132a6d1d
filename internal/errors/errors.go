package errors

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind classifies an APIError so callers can branch on the failure class
// without parsing messages.
type Kind string

const (
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindForbidden       Kind = "FORBIDDEN"
	KindNotFound        Kind = "NOT_FOUND"
	KindAlreadyExists   Kind = "ALREADY_EXISTS"
	KindInvalidState    Kind = "INVALID_STATE"
	KindFull            Kind = "FULL"
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindConflict        Kind = "CONFLICT"
	KindUnavailable     Kind = "UNAVAILABLE"
	KindTimeout         Kind = "TIMEOUT"
	KindInternal        Kind = "INTERNAL"
)

// APIError represents an application error
type APIError struct {
	Status   int    `json:"-"`
	Kind     Kind   `json:"kind"`
	Message  string `json:"error"`
	Internal error  `json:"-"`
}

// Error returns the error message
func (e *APIError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

// Unwrap returns the original error
func (e *APIError) Unwrap() error {
	return e.Internal
}

// WithMessage returns a copy of the APIError with a custom message
func (e *APIError) WithMessage(msg string) *APIError {
	return &APIError{
		Status:   e.Status,
		Kind:     e.Kind,
		Message:  msg,
		Internal: e.Internal,
	}
}

func New(status int, kind Kind, message string, err error) *APIError {
	return &APIError{
		Status:   status,
		Kind:     kind,
		Message:  message,
		Internal: err,
	}
}

func Unauthenticated(message string, err error) *APIError {
	return New(http.StatusUnauthorized, KindUnauthenticated, message, err)
}

func Forbidden(message string, err error) *APIError {
	return New(http.StatusForbidden, KindForbidden, message, err)
}

func NotFound(message string, err error) *APIError {
	return New(http.StatusNotFound, KindNotFound, message, err)
}

func AlreadyExists(message string, err error) *APIError {
	return New(http.StatusConflict, KindAlreadyExists, message, err)
}

func InvalidState(message string, err error) *APIError {
	return New(http.StatusConflict, KindInvalidState, message, err)
}

func Full(message string, err error) *APIError {
	return New(http.StatusConflict, KindFull, message, err)
}

func InvalidArgument(message string, err error) *APIError {
	return New(http.StatusBadRequest, KindInvalidArgument, message, err)
}

func Conflict(message string, err error) *APIError {
	return New(http.StatusConflict, KindConflict, message, err)
}

func Unavailable(message string, err error) *APIError {
	return New(http.StatusServiceUnavailable, KindUnavailable, message, err)
}

func Timeout(message string, err error) *APIError {
	return New(http.StatusGatewayTimeout, KindTimeout, message, err)
}

func Internal(err error) *APIError {
	return New(http.StatusInternalServerError, KindInternal, "Internal server error", err)
}

// NewValidationError flattens gin binding failures into one message.
func NewValidationError(err error) *APIError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fe.Field()+" failed on '"+fe.Tag()+"'")
		}
		return New(http.StatusBadRequest, KindInvalidArgument, "Invalid input: "+strings.Join(fields, ", "), err)
	}
	return New(http.StatusBadRequest, KindInvalidArgument, "Invalid input", err)
}

// KindOf extracts the Kind from an error chain. Errors the engine did not
// classify count as KindInternal.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the failure is transient. Permission and
// lifecycle violations are terminal for the call; only store/transport
// failures may be retried with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindTimeout:
		return true
	}
	return false
}
