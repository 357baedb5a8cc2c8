// Package response writes JSON bodies and error envelopes for the HTTP API.
package response

import (
	"encoding/json"
	"net/http"
)

// JSON writes data as a JSON body with the given status code.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data == nil || statusCode == http.StatusNoContent {
		return
	}
	// Headers are already sent, an encode failure can only truncate the body.
	_ = json.NewEncoder(w).Encode(data)
}

// Error writes the standard error envelope.
func Error(w http.ResponseWriter, statusCode int, code, message string, requestID string) {
	JSON(w, statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	})
}

// ErrorWithDetails writes the standard error envelope with extra details.
func ErrorWithDetails(w http.ResponseWriter, statusCode int, code, message string, details map[string]any, requestID string) {
	JSON(w, statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
	})
}
