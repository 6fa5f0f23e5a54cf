package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/k1networth/cb-testclient/internal/shared/requestid"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the Flusher of streaming handlers.
func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// AccessLog writes one http_request line per request, at warn for 4xx and
// error for 5xx.
func AccessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			attrs := []slog.Attr{
				slog.String("request_id", requestid.Get(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Int64("bytes", sw.bytes),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			if cid := r.Header.Get("X-Client-Id"); cid != "" {
				attrs = append(attrs, slog.String("client_id", cid))
			}

			level := slog.LevelInfo
			switch {
			case sw.status >= 500:
				level = slog.LevelError
			case sw.status >= 400:
				level = slog.LevelWarn
			}
			log.LogAttrs(context.Background(), level, "http_request", attrs...)
		})
	}
}
