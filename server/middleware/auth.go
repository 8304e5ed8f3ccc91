package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/auth"
)

// contextKey is the type of request-scoped values set by this package
type contextKey string

const (
	clientIDKey  contextKey = "clientID"
	RequestIDKey contextKey = "request_id"
)

// APIKeyHeader carries the API key when no Authorization header is sent
const APIKeyHeader = "X-API-Key"

// V1AuthMiddleware creates middleware for API key authentication. The key is read
// from X-API-Key or from an "Authorization: Bearer" header.
func V1AuthMiddleware(authenticator auth.Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := r.Header.Get(APIKeyHeader)
			if credential == "" {
				credential = r.Header.Get("Authorization")
			}
			if credential == "" {
				logger.Debug("Missing API key", zap.String("request_id", GetRequestID(r.Context())))
				sendErrorResponse(w, logger, http.StatusUnauthorized, "AUTHENTICATION_FAILED", auth.ErrAuthenticationFailed)
				return
			}

			clientID, err := authenticator.Authenticate(r.Context(), credential)
			if err != nil {
				logger.Debug("Authentication failed",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.Error(err))
				sendErrorResponse(w, logger, http.StatusUnauthorized, "AUTHENTICATION_FAILED", auth.ErrAuthenticationFailed)
				return
			}

			ctx := context.WithValue(r.Context(), clientIDKey, clientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// V1RequestIDMiddleware tags each request with an ID, reusing a well-formed
// X-Request-ID sent by the client
func V1RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}

			w.Header().Set("X-Request-ID", requestID)
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientID extracts the authenticated client identity from request context
func GetClientID(ctx context.Context) (string, bool) {
	clientID, ok := ctx.Value(clientIDKey).(string)
	return clientID, ok
}

// GetRequestID returns the request ID, or "" outside the request ID middleware
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}

// sendErrorResponse writes a JSON error body in the same shape as the handlers
func sendErrorResponse(w http.ResponseWriter, logger *zap.Logger, statusCode int, code string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	body := map[string]string{"code": code, "message": err.Error()}
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		logger.Error("Failed to write error response", zap.Error(encErr))
	}
}
