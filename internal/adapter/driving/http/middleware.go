package httphandler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// statusWriter records the response status and whether the handler streamed.
type statusWriter struct {
	http.ResponseWriter
	status  int
	flushed bool
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// Flush marks the request as a stream. http.ResponseController finds it
// before falling back to Unwrap.
func (sw *statusWriter) Flush() {
	sw.flushed = true
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController for
// deadlines.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// requestAttrs returns the log attributes that identify which ref a request
// was about.
func requestAttrs(r *http.Request) []any {
	attrs := []any{"method", r.Method, "path", r.URL.Path}
	if owner, repo := r.PathValue("owner"), r.PathValue("repo"); owner != "" && repo != "" {
		attrs = append(attrs, "repo", owner+"/"+repo)
	}
	if ref := r.URL.Query().Get("ref"); ref != "" {
		attrs = append(attrs, "ref", ref)
	}
	return attrs
}

// isHealthCheck reports requests made by health checks and metric scrapers.
func isHealthCheck(r *http.Request) bool {
	return r.URL.Path == "/metrics" || strings.HasSuffix(r.URL.Path, "/health")
}

// loggingMiddleware logs each request with its repo, ref, status and
// duration. Event streams are logged when they close. Health checks and scrapes log at debug.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		msg := "http request"
		if sw.flushed {
			msg = "http stream closed"
		}
		level := slog.LevelInfo
		if isHealthCheck(r) {
			level = slog.LevelDebug
		}
		attrs := append(requestAttrs(r),
			"status", sw.status,
			"duration", time.Since(start).Round(time.Microsecond),
		)
		logger.Log(r.Context(), level, msg, attrs...)
	})
}

// recoveryMiddleware turns a handler panic into a 500. An aborted stream is
// re-raised so net/http drops the connection quietly.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			logger.Error("panic recovered", append(requestAttrs(r), "panic", v)...)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}()

		next.ServeHTTP(w, r)
	})
}
