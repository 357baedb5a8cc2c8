package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/goclaw/sagaflow/pkg/command"
	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/eventstore"
	"github.com/goclaw/sagaflow/pkg/saga"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// Error codes
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeUnprocessable      = "UNPROCESSABLE"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
	ErrCodeTransitionConflict = "TRANSITION_CONFLICT"
	ErrCodeRetriesExhausted   = "RETRIES_EXHAUSTED"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrValidationFailed   = errors.New("validation failed")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// HTTPStatusFromError maps API, saga, store and command errors to a status code.
//
// A command that failed while loading or committing only stops when its retry
// strategy gives up, so those categories mean the backend stayed unavailable.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, saga.ErrTransitionConflict) {
		return http.StatusConflict
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch command.CategoryOf(err) {
	case command.CategoryAggregateLoading, command.CategoryCommit:
		return http.StatusServiceUnavailable
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, saga.ErrProcessNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidationFailed),
		errors.Is(err, saga.ErrInvalidEvent), errors.Is(err, event.ErrEmptyType),
		errors.Is(err, eventstore.ErrEmptyStreamID):
		return http.StatusBadRequest
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case command.CategoryOf(err) == command.CategoryExecution:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// ErrorCodeFromError returns the error code written for err.
func ErrorCodeFromError(err error) string {
	status := HTTPStatusFromError(err)
	switch {
	case errors.Is(err, saga.ErrTransitionConflict):
		return ErrCodeTransitionConflict
	case status == http.StatusServiceUnavailable && command.CategoryOf(err) != "":
		return ErrCodeRetriesExhausted
	case status == http.StatusBadRequest && errors.Is(err, saga.ErrInvalidEvent):
		return ErrCodeValidationFailed
	}
	return ErrorCodeFromStatus(status)
}

// ErrorCodeFromStatus returns an error code for the given HTTP status.
func ErrorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusMethodNotAllowed:
		return ErrCodeMethodNotAllowed
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusRequestEntityTooLarge:
		return ErrCodePayloadTooLarge
	case http.StatusUnprocessableEntity:
		return ErrCodeUnprocessable
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavailable
	case http.StatusGatewayTimeout:
		return ErrCodeGatewayTimeout
	default:
		return ErrCodeInternalServer
	}
}

// HandleError writes err with its mapped status and code. Command failures
// carry their category and attempt in the details.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	status := HTTPStatusFromError(err)
	code := ErrorCodeFromError(err)

	var details map[string]any
	if category := command.CategoryOf(err); category != "" {
		details = map[string]any{
			command.ErrorTypeLabel: string(category),
			"attempt":              command.AttemptOf(err),
		}
	}
	var conflict *saga.TransitionConflictError
	if errors.As(err, &conflict) {
		if details == nil {
			details = map[string]any{}
		}
		details["stage"] = conflict.Stage
		details["transitions"] = conflict.Transitions
	}

	if details != nil {
		ErrorWithDetails(w, status, code, err.Error(), details, requestID)
		return
	}
	Error(w, status, code, err.Error(), requestID)
}
