package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ebogdum/cloudfs/auth"
	"github.com/ebogdum/cloudfs/config"
	"github.com/ebogdum/cloudfs/core"
	"github.com/ebogdum/cloudfs/metrics"
	"github.com/ebogdum/cloudfs/server/handlers"
	apiMiddleware "github.com/ebogdum/cloudfs/server/middleware"
)

// RouterOptions selects the optional parts of the router
type RouterOptions struct {
	// ServeMetrics mounts /metrics on this router
	ServeMetrics bool
}

// NewRouter creates and configures the HTTP router
func NewRouter(
	engine *core.Engine,
	authenticator auth.Authenticator,
	serverConfig *config.ServerConfig,
	opts RouterOptions,
	logger *zap.Logger,
) chi.Router {
	r := chi.NewRouter()

	r.Use(apiMiddleware.V1RequestIDMiddleware())
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.V1SecurityHeaders())
	r.Use(requestLogger(logger))

	// Health check endpoint (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		handlers.SendJSONResponse(w, logger, map[string]any{
			"status": "ok",
			"files":  engine.Usage().FileCount,
		})
	})

	if opts.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	var limiter *rate.Limiter
	if serverConfig.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(serverConfig.RateLimit), max(serverConfig.RateBurst, 1))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(apiMiddleware.V1RateLimitMiddleware(limiter, logger))
		r.Use(apiMiddleware.V1AuthMiddleware(authenticator, logger))

		r.Get("/files", handlers.V1ListFiles(engine, logger))
		r.Get("/files/*", handlers.V1GetFile(engine, logger))
		r.Head("/files/*", handlers.V1GetFile(engine, logger))
		r.Post("/files/*", handlers.V1PostFile(engine, logger))
		r.Patch("/files/*", handlers.V1PatchFile(engine, logger))
		r.Delete("/files/*", handlers.V1DeleteFile(engine, logger))

		r.Get("/directories", handlers.V1ListDirectory(engine, logger))
		r.Get("/directories/*", handlers.V1ListDirectory(engine, logger))
		r.Get("/thumbnails/*", handlers.V1GetThumbnail(engine, logger))
		r.Get("/usage", handlers.V1Usage(engine, logger))
	})

	logger.Info("HTTP router configured",
		zap.Bool("metrics", opts.ServeMetrics),
		zap.Float64("rate_limit", serverConfig.RateLimit))

	return r
}

// NewMetricsHandler serves /metrics alone, for a dedicated metrics listener
func NewMetricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// requestLogger records request metrics by route pattern and logs each request
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", duration),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", apiMiddleware.GetRequestID(r.Context())))
		})
	}
}
