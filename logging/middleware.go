package logging

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// quietPaths are polled by probes and scrapers and are not request logged
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

var recorderPool = sync.Pool{
	New: func() any {
		return &statusRecorder{statusCode: http.StatusOK}
	},
}

// RequestLogger logs one structured line per HTTP request
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if quietPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			rec := recorderPool.Get().(*statusRecorder)
			rec.ResponseWriter = w
			rec.statusCode = http.StatusOK
			rec.bytesWritten = 0
			defer func() {
				rec.ResponseWriter = nil
				recorderPool.Put(rec)
			}()

			next.ServeHTTP(rec, r)

			requestID, ok := r.Context().Value(middleware.RequestIDKey).(string)
			if !ok || requestID == "" {
				requestID = "unknown"
			}

			attrs := []any{
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
			}
			if r.URL.RawQuery != "" {
				attrs = append(attrs, "query", r.URL.RawQuery)
			}
			attrs = append(attrs,
				"remote_addr", r.RemoteAddr,
				"status_code", rec.statusCode,
				"bytes_written", rec.bytesWritten,
				"duration_ms", time.Since(start).Milliseconds(),
			)

			level := slog.LevelInfo
			if rec.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "HTTP request", attrs...)
		})
	}
}

// statusRecorder captures the status code and body size of a response
type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(data []byte) (int, error) {
	n, err := w.ResponseWriter.Write(data)
	w.bytesWritten += n
	return n, err
}
