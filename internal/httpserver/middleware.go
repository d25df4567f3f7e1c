package httpserver

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type requestLoggerKey struct{}

var errHijackUnsupported = errors.New("httpserver: response writer does not support hijacking")

// quietPaths are polled by probes and scrapers; successful requests to them
// are logged at debug level only.
var quietPaths = map[string]struct{}{
	"/healthz":     {},
	"/readyz":      {},
	"/api/healthz": {},
	"/api/readyz":  {},
	"/metrics":     {},
}

// statusRecorder captures the response status and size for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	written  int64
	hijacked bool
}

func (rec *statusRecorder) WriteHeader(status int) {
	if rec.status == 0 {
		rec.status = status
	}
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.written += int64(n)
	return n, err
}

func (rec *statusRecorder) statusCode() int {
	switch {
	case rec.hijacked:
		return http.StatusSwitchingProtocols
	case rec.status == 0:
		return http.StatusOK
	default:
		return rec.status
	}
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket handler take over the connection.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errHijackUnsupported
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		rec.hijacked = true
	}
	return conn, rw, err
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// withRequestLogging attaches a per-request logger to the context and writes
// one access record when the handler returns.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.With(
			"req_id", s.requestIDs.Add(1),
			"method", r.Method,
			"path", r.URL.Path,
		)
		if r.RemoteAddr != "" {
			logger = logger.With("remote_addr", r.RemoteAddr)
		}

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestLoggerKey{}, logger)))

		status := rec.statusCode()
		logger.Log(r.Context(), accessLevel(r.URL.Path, status), "request complete",
			"status", status,
			"duration", time.Since(start),
			"bytes", rec.written,
		)
	})
}

func accessLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	}
	if _, quiet := quietPaths[path]; quiet {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func (s *Server) loggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(requestLoggerKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return s.logger
}
