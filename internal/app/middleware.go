package app

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Probe endpoints poll every few seconds and would drown real chat traffic
// in the access log; they are only logged when they fail.
var quietPaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
}

// WithAccessLog wraps an http.Handler with structured access logging.
// The wrapper must keep Hijacker, Flusher, Pusher and ReaderFrom reachable,
// otherwise the websocket upgrade on /ws fails behind it.
func WithAccessLog(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &accessRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if _, quiet := quietPaths[r.URL.Path]; quiet && rec.status < http.StatusInternalServerError {
			return
		}

		lvl := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			lvl = slog.LevelError
		}
		log.Log(r.Context(), lvl, "http.access",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
		)
	})
}

// accessRecorder captures status and byte count while delegating the
// optional interfaces of the underlying ResponseWriter.
type accessRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *accessRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *accessRecorder) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *accessRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func (w *accessRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *accessRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := w.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func (w *accessRecorder) ReadFrom(r io.Reader) (int64, error) {
	if rf, ok := w.ResponseWriter.(io.ReaderFrom); ok {
		n, err := rf.ReadFrom(r)
		w.bytes += n
		return n, err
	}
	n, err := io.Copy(w.ResponseWriter, r)
	w.bytes += n
	return n, err
}

func (w *accessRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
