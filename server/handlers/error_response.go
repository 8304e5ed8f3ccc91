package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/metadata"
	"github.com/ebogdum/cloudfs/server/middleware"
	"github.com/ebogdum/cloudfs/thumbnails"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// badRequest marks request validation failures that never reach the engine
type badRequest struct {
	message string
}

func (e *badRequest) Error() string {
	return e.message
}

// errorStatus maps an engine error onto its HTTP status and error code
func errorStatus(err error) (int, string) {
	var br *badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, metadata.ErrNotFound):
		return http.StatusNotFound, "FILE_NOT_FOUND"
	case errors.Is(err, metadata.ErrAlreadyExists):
		return http.StatusConflict, "FILE_ALREADY_EXISTS"
	case errors.Is(err, metadata.ErrInvalidPath):
		return http.StatusBadRequest, "INVALID_PATH"
	case errors.Is(err, metadata.ErrInvalidTag):
		return http.StatusBadRequest, "INVALID_TAG"
	case errors.Is(err, metadata.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"
	case errors.Is(err, thumbnails.ErrUnsupported):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"
	case errors.Is(err, metadata.ErrQuotaExceeded):
		return http.StatusInternalServerError, "QUOTA_EXCEEDED"
	case errors.Is(err, metadata.ErrInconsistency):
		return http.StatusInternalServerError, "STORAGE_INCONSISTENT"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// SendErrorResponse sends a standardized JSON error response. Internal errors are
// logged in full but reported to the client without detail.
func SendErrorResponse(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	statusCode, errorCode := errorStatus(err)

	message := err.Error()
	if statusCode == http.StatusInternalServerError && errorCode == "INTERNAL_ERROR" {
		message = http.StatusText(statusCode)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if encErr := json.NewEncoder(w).Encode(ErrorResponse{Code: errorCode, Message: message}); encErr != nil {
		logger.Error("Failed to encode error response", zap.Error(encErr))
	}

	fields := []zap.Field{
		zap.String("error_code", errorCode),
		zap.Int("status_code", statusCode),
		zap.String("request_id", requestID(r)),
		zap.Error(err),
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("Request failed", fields...)
	} else {
		logger.Debug("Request rejected", fields...)
	}
}

// SendJSONResponse sends a 200 JSON response with any data structure
func SendJSONResponse(w http.ResponseWriter, logger *zap.Logger, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}
