// Package middleware provides HTTP middleware for metrics collection and
// request logging.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/taskboard/internal/metrics"
	"go.uber.org/zap"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		recordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

// LoggingMiddleware logs one line per request. Server errors are logged at
// error level, everything else at debug.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
			}
			if wrapped.statusCode >= http.StatusInternalServerError {
				logger.Error("request failed", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
}

func normalizeEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/dashboard/tasks/") && strings.HasSuffix(path, "/intervals"):
		return "/api/dashboard/tasks/:gid/intervals"
	case strings.HasPrefix(path, "/api/jobs/") && !strings.Contains(path[len("/api/jobs/"):], "/"):
		return "/api/jobs/:id"
	case strings.HasPrefix(path, "/api/dlq/jobs/"):
		parts := strings.Split(strings.TrimPrefix(path, "/api/dlq/jobs/"), "/")
		if len(parts) >= 2 && parts[1] == "retry" {
			return "/api/dlq/jobs/:id/retry"
		}

		return "/api/dlq/jobs/:id"
	default:
		return path
	}
}
