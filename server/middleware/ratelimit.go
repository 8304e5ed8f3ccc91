package middleware

import (
	"errors"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ebogdum/cloudfs/metrics"
)

var errRateLimited = errors.New("rate limit exceeded")

// V1RateLimitMiddleware rejects requests beyond the limiter's rate with 429. The
// limiter is shared by every client; a nil limiter disables limiting.
func V1RateLimitMiddleware(limiter *rate.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				metrics.ErrorsTotal.WithLabelValues("http", "rate_limited").Inc()
				logger.Warn("Request rate limited",
					zap.String("method", r.Method),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("request_id", GetRequestID(r.Context())))

				w.Header().Set("Retry-After", "1")
				sendErrorResponse(w, logger, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", errRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
