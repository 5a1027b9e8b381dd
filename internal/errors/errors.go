package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"document-gateway/internal/domain"

	"github.com/go-playground/validator/v10"
)

// APIError is the JSON error body of the REST surface.
type APIError struct {
	Status   int    `json:"-"`
	Code     string `json:"code"`
	Message  string `json:"error"`
	Internal error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Internal
}

func New(status int, code, message string, err error) *APIError {
	return &APIError{Status: status, Code: code, Message: message, Internal: err}
}

func BadRequest(message string, err error) *APIError {
	return New(http.StatusBadRequest, domain.KindInvalidRequest.String(), message, err)
}

func Unauthorized(message string, err error) *APIError {
	return New(http.StatusUnauthorized, domain.KindUnauthenticated.String(), message, err)
}

func Forbidden(message string, err error) *APIError {
	return New(http.StatusForbidden, domain.KindPermissionDenied.String(), message, err)
}

func NotFound(message string, err error) *APIError {
	return New(http.StatusNotFound, domain.KindNotFound.String(), message, err)
}

func Conflict(message string, err error) *APIError {
	return New(http.StatusConflict, domain.KindConflict.String(), message, err)
}

func NotImplemented(message string, err error) *APIError {
	return New(http.StatusNotImplemented, domain.KindUnimplemented.String(), message, err)
}

func Unavailable(message string, err error) *APIError {
	return New(http.StatusServiceUnavailable, domain.KindAdapterFailure.String(), message, err)
}

func Internal(err error) *APIError {
	return New(http.StatusInternalServerError, domain.KindInternal.String(), "Internal server error", err)
}

// FromDomain maps a domain error kind onto an HTTP status.
func FromDomain(err error) *APIError {
	msg := domain.Message(err)
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return NotFound(msg, err)
	case domain.KindConflict:
		return Conflict(msg, err)
	case domain.KindInvalidRequest:
		return BadRequest(msg, err)
	case domain.KindUnimplemented:
		return NotImplemented(msg, err)
	case domain.KindAdapterFailure:
		return Unavailable(msg, err)
	case domain.KindUnauthenticated:
		return Unauthorized(msg, err)
	case domain.KindPermissionDenied:
		return Forbidden(msg, err)
	default:
		return Internal(err)
	}
}

// NewValidationError turns binding errors into a 400 naming the offending fields.
func NewValidationError(err error) *APIError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return BadRequest("Invalid request body", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on the '%s' rule", fe.Field(), fe.Tag()))
	}
	return BadRequest("Validation failed: "+strings.Join(parts, ", "), err)
}
