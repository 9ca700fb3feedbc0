package http

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

const contextKeyRequestID = "request_id"

// requestIDMiddleware adds a unique request ID to each request.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(contextKeyRequestID, requestID)
		c.Header(HeaderRequestID, requestID)
		c.Next()
	}
}

// requestID returns the id set by requestIDMiddleware.
func requestID(c *gin.Context) string {
	return c.GetString(contextKeyRequestID)
}

// tracingMiddleware starts a server span per request.
func tracingMiddleware(service string) gin.HandlerFunc {
	return otelgin.Middleware(service)
}

// requestLogger logs every request once it completes.
// 5xx are errors, 4xx warnings.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fields := []logger.Field{
			logger.String("method", strings.ToUpper(c.Request.Method)),
			logger.String("path", path),
			logger.Int("status", status),
			logger.Int64("duration_ms", time.Since(start).Milliseconds()),
			logger.String("ip", c.ClientIP()),
			logger.String("request_id", requestID(c)),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			fields = append(fields, logger.String("trace_id", sc.TraceID().String()))
		}
		if learner := c.Param("id"); learner != "" {
			fields = append(fields, logger.LearnerID(learner))
		}

		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

// recoveryMiddleware recovers from panics and returns 500.
func recoveryMiddleware(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		log.Error("panic recovered",
			logger.Any("error", err),
			logger.String("stack", string(debug.Stack())),
			logger.String("path", c.Request.URL.Path),
			logger.String("request_id", requestID(c)),
		)
		writeJSONError(c, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	})
}

// corsMiddleware returns nil when no origins are configured.
func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return nil
	}

	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Authorization", HeaderRequestID},
		ExposeHeaders: []string{HeaderRequestID},
		MaxAge:        24 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cors.New(cfg)
		}
	}
	cfg.AllowOrigins = origins
	return cors.New(cfg)
}
