package utils

import (
	"errors"
	"net/http"
)

type ErrorKind string

const (
	KindInvalidInput          ErrorKind = "invalid_input"
	KindNotFound              ErrorKind = "not_found"
	KindConflict              ErrorKind = "conflict"
	KindDependencyUnavailable ErrorKind = "dependency_unavailable"
)

// AppError carries a taxonomy kind alongside a stable code so handlers can map
// failures to HTTP without string matching.
type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by code so wrapped copies created with Wrap still
// satisfy errors.Is against the sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(kind ErrorKind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to a sentinel without mutating it.
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: err}
}

var (
	ErrInvalidCoordinates = NewAppError(KindInvalidInput, "INVALID_COORDINATES", "invalid coordinates")
	ErrInvalidRequestID   = NewAppError(KindInvalidInput, "INVALID_REQUEST_ID", "invalid request id")
	ErrValidation         = NewAppError(KindInvalidInput, "VALIDATION_ERROR", ErrValidationFailed)

	ErrRequestNotFound  = NewAppError(KindNotFound, "REQUEST_NOT_FOUND", "sos request not found")
	ErrResponseNotFound = NewAppError(KindNotFound, "RESPONSE_NOT_FOUND", "no en-route response for donor")
	ErrDonorNotFound    = NewAppError(KindNotFound, "DONOR_NOT_FOUND", "donor location not found")

	ErrRequestClosed    = NewAppError(KindConflict, "REQUEST_CLOSED", "sos request is no longer active")
	ErrDuplicateDonor   = NewAppError(KindConflict, "DUPLICATE_DONOR", "donor already responded to this request")
	ErrConcurrentUpdate = NewAppError(KindConflict, "CONCURRENT_UPDATE", "sos request was modified concurrently")
	ErrStoreUnavailable = NewAppError(KindDependencyUnavailable, "STORE_UNAVAILABLE", "store unavailable")
	ErrIndexUnavailable = NewAppError(KindDependencyUnavailable, "GEO_INDEX_UNAVAILABLE", "geo index unavailable")
)

// KindOf reports the taxonomy kind of err, or "" for errors outside it.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func StatusCodeForKind(kind ErrorKind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
