package api

import (
	"net/http"
	"time"

	"finmesh/pkg/logger"
)

// withRequestLog logs every request with its status and duration.
// Mailbox polls are frequent and only logged at debug level.
func withRequestLog(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if r.Method == http.MethodGet || wrapped.statusCode < http.StatusBadRequest {
			log.Debugw("HTTP request", fields...)
			return
		}
		log.Infow("HTTP request", fields...)
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
