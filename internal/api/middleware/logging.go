package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cleanpipe/core/internal/logger"
	"github.com/cleanpipe/core/internal/metrics"
)

// statusRecorder captures the status code written by the wrapped handler,
// defaulting to 200 if WriteHeader is never called explicitly.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs every request at Info level and records its duration
// and outcome in the HTTP Prometheus series.
func RequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			status := strconv.Itoa(rec.status)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", duration).
				Str("remote_addr", r.RemoteAddr).
				Msg("request handled")

			metrics.RecordHTTPRequest(r.Method, r.URL.Path, status, duration.Seconds())
		})
	}
}
