package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/icexec/icexec/internal/authn"
	"github.com/icexec/icexec/internal/orchestrator"
	"github.com/icexec/icexec/internal/ratelimit"
	"github.com/icexec/icexec/internal/sanitize"
	"github.com/icexec/icexec/internal/whitelist"
	"github.com/icexec/icexec/internal/workspace"
)

// Error codes returned in API responses.
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeCommandForbidden   = "COMMAND_FORBIDDEN"
	ErrCodeBadPath            = "BAD_PATH"
	ErrCodePathNotFound       = "PATH_NOT_FOUND"
	ErrCodePathIsDirectory    = "PATH_IS_DIRECTORY"
	ErrCodeFileTooLarge       = "FILE_TOO_LARGE"
	ErrCodeRuntimeUnavailable = "RUNTIME_UNAVAILABLE"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// APIError is the structured error response body.
type APIError struct {
	Code    string                 `json:"error_code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeAPIError classifies err against the core sentinel errors and writes
// the mapped status code and body. Every branch matches a sentinel via
// errors.Is, never error text.
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr APIError
	statusCode := http.StatusInternalServerError

	switch {
	case errors.Is(err, authn.ErrUnauthenticated):
		apiErr = APIError{Code: ErrCodeUnauthorized, Message: err.Error()}
		statusCode = http.StatusUnauthorized

	case errors.Is(err, orchestrator.ErrForbidden):
		apiErr = APIError{Code: ErrCodeForbidden, Message: err.Error()}
		statusCode = http.StatusForbidden

	case errors.Is(err, ratelimit.ErrRateLimited):
		apiErr = APIError{Code: ErrCodeRateLimited, Message: err.Error()}
		statusCode = http.StatusTooManyRequests

	case errors.Is(err, whitelist.ErrCommandForbidden):
		apiErr = APIError{Code: ErrCodeCommandForbidden, Message: err.Error()}
		statusCode = http.StatusBadRequest

	case errors.Is(err, sanitize.ErrBadPath):
		apiErr = APIError{Code: ErrCodeBadPath, Message: err.Error()}
		statusCode = http.StatusBadRequest

	case errors.Is(err, workspace.ErrPathNotFound):
		apiErr = APIError{Code: ErrCodePathNotFound, Message: err.Error()}
		statusCode = http.StatusNotFound

	case errors.Is(err, workspace.ErrIsDirectory):
		apiErr = APIError{Code: ErrCodePathIsDirectory, Message: err.Error()}
		statusCode = http.StatusBadRequest

	case errors.Is(err, workspace.ErrFileTooLarge):
		apiErr = APIError{Code: ErrCodeFileTooLarge, Message: err.Error()}
		statusCode = http.StatusBadRequest

	case errors.Is(err, orchestrator.ErrRuntimeUnavailable):
		apiErr = APIError{Code: ErrCodeRuntimeUnavailable, Message: err.Error()}
		statusCode = http.StatusBadGateway

	default:
		apiErr = APIError{Code: ErrCodeInternalError, Message: err.Error()}
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErr)
}

// writeValidationError writes a 400 Bad Request with validation details.
func writeValidationError(w http.ResponseWriter, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	})
}

// writeUnauthorizedError writes a 401 Unauthorized error.
func writeUnauthorizedError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}
