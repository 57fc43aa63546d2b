package logging

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

// HTTPMiddleware logs one line per request and stores a request-scoped logger
// in the request context. The wrapped ResponseWriter still implements
// http.Hijacker, which the WebSocket upgrade depends on.
func HTTPMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get(headerRequestID)
			if reqID == "" {
				reqID = uuid.New().String()
			}

			child := logger.With().
				Str(FieldRequestID, reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str(FieldRemoteAddr, ClientIP(r)).
				Logger()

			w.Header().Set(headerRequestID, reqID)
			r = r.WithContext(WithLogger(r.Context(), child))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			ev := child.Info()
			if rec.hijacked {
				ev = child.Debug()
			}
			ev.Int("status", rec.status).
				Bool("hijacked", rec.hijacked).
				Dur("latency", time.Since(start)).
				Msg("request completed")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not implement http.Hijacker")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		r.hijacked = true
		r.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// ClientIP extracts the client IP from X-Forwarded-For, X-Real-IP, or
// RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
