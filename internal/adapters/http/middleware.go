package httpadapter

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/cti-assistant/internal/observability/logging"
)

const (
	requestIDHeader    = "X-Request-Id"
	maxRequestIDLength = 128
)

func requestIDFromContext(ctx context.Context) string {
	return logging.RequestID(ctx)
}

// requestIDMiddleware reuses a caller-supplied id only when it is short printable
// ASCII, since the id ends up in every log record of the request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if !validRequestID(requestID) {
			requestID = uuid.NewString()
		}

		r = r.WithContext(logging.WithRequestID(r.Context(), requestID))
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r)
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		remoteAddr := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			remoteAddr = host
		}

		level := slog.LevelInfo
		switch {
		case recorder.statusCode >= 500:
			level = slog.LevelError
		case recorder.statusCode >= 400:
			level = slog.LevelWarn
		}
		slog.LogAttrs(r.Context(), level, "http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", recorder.statusCode),
			slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0),
			slog.Int("bytes", recorder.bytesWritten),
			slog.String("remote_addr", remoteAddr),
			slog.String("user_agent", r.UserAgent()),
		)
	})
}

// statusRecorder captures what the handlers wrote. Responses are plain JSON,
// so it does not forward Flush or Hijack.
type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}
