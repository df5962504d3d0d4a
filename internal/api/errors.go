package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/localrivet/sharedcontext/internal/errortypes"
)

// ErrorResponse represents the structure of error responses sent by the API
type ErrorResponse struct {
	Status  string                 `json:"status"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes
const (
	// ErrorCodeInvalidRequest indicates the client sent an invalid request
	ErrorCodeInvalidRequest = "INVALID_REQUEST"

	// ErrorCodeResourceNotFound indicates a requested context was not found
	ErrorCodeResourceNotFound = "RESOURCE_NOT_FOUND"

	// ErrorCodeConflict indicates a uniqueness violation
	ErrorCodeConflict = "CONFLICT"

	// ErrorCodeUnavailable indicates a transient storage failure
	ErrorCodeUnavailable = "SERVICE_UNAVAILABLE"

	// ErrorCodeInternalError indicates an internal server error
	ErrorCodeInternalError = "INTERNAL_ERROR"
)

// writeErrorResponse writes a structured error response to the HTTP response writer
func writeErrorResponse(w http.ResponseWriter, logger *slog.Logger, status int, code, message string, err error) {
	errResp := ErrorResponse{
		Status:  "error",
		Code:    code,
		Message: message,
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}

		// Client mistakes are not worth an error-level log line.
		if status >= http.StatusInternalServerError {
			logErr := errortypes.APIError(err, fmt.Sprintf("API Error (%s)", code)).
				WithField("status_code", status).
				WithField("error_code", code).
				WithField("client_message", message)
			errortypes.LogError(logger, logErr)
		} else if logger != nil {
			logger.Debug("Request rejected", "status_code", status, "error_code", code, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// HandleBadRequest handles 400 Bad Request errors
func HandleBadRequest(w http.ResponseWriter, logger *slog.Logger, message string, err error) {
	writeErrorResponse(w, logger, http.StatusBadRequest, ErrorCodeInvalidRequest, message, err)
}

// HandleNotFound handles 404 Not Found errors
func HandleNotFound(w http.ResponseWriter, logger *slog.Logger, message string, err error) {
	writeErrorResponse(w, logger, http.StatusNotFound, ErrorCodeResourceNotFound, message, err)
}

// HandleConflict handles 409 Conflict errors
func HandleConflict(w http.ResponseWriter, logger *slog.Logger, message string, err error) {
	writeErrorResponse(w, logger, http.StatusConflict, ErrorCodeConflict, message, err)
}

// HandleUnavailable handles 503 Service Unavailable errors
func HandleUnavailable(w http.ResponseWriter, logger *slog.Logger, message string, err error) {
	writeErrorResponse(w, logger, http.StatusServiceUnavailable, ErrorCodeUnavailable, message, err)
}

// HandleInternalError handles 500 Internal Server Error errors
func HandleInternalError(w http.ResponseWriter, logger *slog.Logger, message string, err error) {
	writeErrorResponse(w, logger, http.StatusInternalServerError, ErrorCodeInternalError, message, err)
}

// HandleError inspects err's type to pick the HTTP response.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch errortypes.TypeOf(err) {
	case errortypes.ErrorTypeValidation:
		HandleBadRequest(w, logger, "Invalid request parameters", err)
	case errortypes.ErrorTypeNotFound:
		HandleNotFound(w, logger, "Context not found", err)
	case errortypes.ErrorTypeConflict:
		HandleConflict(w, logger, "Resource already exists", err)
	case errortypes.ErrorTypeTransient:
		HandleUnavailable(w, logger, "Storage temporarily unavailable", err)
	default:
		HandleInternalError(w, logger, "An unexpected error occurred", err)
	}
}
