package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

// requestFields collects values inner middleware learn about the request
type requestFields struct {
	browserID string
}

type requestFieldsKey struct{}

// setBrowserID records the browser id for the request log line
func setBrowserID(ctx context.Context, id string) {
	if f, ok := ctx.Value(requestFieldsKey{}).(*requestFields); ok {
		f.browserID = id
	}
}

// LoggingMiddleware logs HTTP requests with method, path, status, duration, and browser id
func LoggingMiddleware(logger *zap.SugaredLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK, // Default status
			}
			fields := &requestFields{browserID: "-"}

			next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), requestFieldsKey{}, fields)))

			logger.Infow("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"duration", time.Since(start).Round(time.Millisecond),
				"browser_id", fields.browserID,
				"bytes", rw.written,
			)
		})
	}
}
