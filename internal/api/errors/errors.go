// Package errors maps the sync engine's internal error taxonomy onto the
// stable HTTP error_code contract the control plane exposes.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/camasync/syncengine/internal/syncerr"
)

// ErrorCode is a stable, documented identifier for a class of API error.
type ErrorCode string

const (
	CodeInputInvalid        ErrorCode = "INPUT_INVALID"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	CodeReadinessFailure    ErrorCode = "READINESS_FAILURE"
	CodeRemoteUnavailable   ErrorCode = "REMOTE_UNAVAILABLE"
	CodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// APIError is the structured error body returned by every control-plane
// endpoint, carrying a correlation id so a 500 can be traced end to end.
type APIError struct {
	Code          ErrorCode `json:"error_code"`
	Message       string    `json:"message"`
	Details       any       `json:"details,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     string    `json:"timestamp"`
}

// ErrorResponse wraps APIError for JSON responses.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// NewAPIError creates a new API error.
func NewAPIError(code ErrorCode, message string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

func (e *APIError) WithCorrelationID(id string) *APIError {
	e.CorrelationID = id
	return e
}

// StatusCode maps an error code onto the HTTP status it corresponds to,
// per the control-plane contract's InputInvalid->400, NotFound->404,
// InvalidTransition->409, ReadinessFailure->503, everything else->500.
func (e *APIError) StatusCode() int {
	switch e.Code {
	case CodeInputInvalid:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition:
		return http.StatusConflict
	case CodeReadinessFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WriteError writes an APIError as a JSON response.
func WriteError(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode())
	json.NewEncoder(w).Encode(ErrorResponse{Error: *err})
}

// FromDomainError maps an internal syncerr.Kind onto the stable API error
// taxonomy, so handlers never have to know the pipeline's internal kinds.
func FromDomainError(err error) *APIError {
	var notFound *syncerr.NotFound
	if errors.As(err, &notFound) {
		return NewAPIError(CodeNotFound, err.Error())
	}
	var invalidTransition *syncerr.InvalidTransition
	if errors.As(err, &invalidTransition) {
		return NewAPIError(CodeInvalidTransition, err.Error())
	}
	var circuitOpen *syncerr.CircuitOpen
	if errors.As(err, &circuitOpen) {
		return NewAPIError(CodeRemoteUnavailable, err.Error())
	}

	switch syncerr.KindOf(err) {
	case syncerr.InputInvalid:
		return NewAPIError(CodeInputInvalid, err.Error())
	case syncerr.RemoteUnavailable:
		return NewAPIError(CodeRemoteUnavailable, err.Error())
	default:
		return NewAPIError(CodeInternalError, err.Error())
	}
}

func InputInvalid(message string) *APIError {
	return NewAPIError(CodeInputInvalid, message)
}

func NotFound(resource string) *APIError {
	return NewAPIError(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InvalidTransition(message string) *APIError {
	return NewAPIError(CodeInvalidTransition, message)
}

func ReadinessFailure(message string) *APIError {
	return NewAPIError(CodeReadinessFailure, message)
}

func Internal(message string) *APIError {
	return NewAPIError(CodeInternalError, message)
}
