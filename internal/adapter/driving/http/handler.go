package httphandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/checkpulse/internal/application"
	"github.com/ericfisherdev/checkpulse/internal/domain/model"
)

// DefaultKeepAlive is the interval between comment frames on an idle event stream.
const DefaultKeepAlive = 15 * time.Second

// Handler is the HTTP driving adapter that serves the check status API.
type Handler struct {
	registry  *application.MonitorRegistry
	logger    *slog.Logger
	keepAlive time.Duration
}

// NewHandler creates a Handler backed by the given session registry.
func NewHandler(registry *application.MonitorRegistry, logger *slog.Logger) *Handler {
	return &Handler{
		registry:  registry,
		logger:    logger,
		keepAlive: DefaultKeepAlive,
	}
}

// SetKeepAlive overrides the event stream keep-alive interval.
func (h *Handler) SetKeepAlive(d time.Duration) {
	if d > 0 {
		h.keepAlive = d
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. metrics may be nil.
func NewServeMux(h *Handler, metrics http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/checks", h.GetChecks)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/checks/stream", h.StreamChecks)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/checks/refresh", h.RefreshChecks)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/checks/head", h.NotifyHead)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Time:     time.Now().UTC().Format(time.RFC3339),
		Sessions: h.registry.Len(),
	})
}

// GetChecks returns the status of a ref: the live session's view if one is
// running, otherwise whatever the cache holds. It never starts polling.
func (h *Handler) GetChecks(w http.ResponseWriter, r *http.Request) {
	repoFullName, ref, ok := parseTarget(w, r, r.URL.Query().Get("ref"))
	if !ok {
		return
	}

	if m := h.registry.Lookup(repoFullName, ref); m != nil {
		writeJSON(w, http.StatusOK, toSessionResponse(m.Snapshot()))
		return
	}

	status, err := h.registry.Cached(r.Context(), repoFullName, ref)
	if err != nil && !errors.Is(err, model.ErrCorruptCacheEntry) {
		h.logger.Error("failed to read cached status", "repo", repoFullName, "ref", ref, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toCachedResponse(repoFullName, ref, status))
}

// StreamChecks subscribes to a ref's session and sends a "status" event with
// the full snapshot whenever the status, loading flag, or error changes. The
// connection counts as a subscriber: it starts the session if needed and
// releases it on disconnect.
func (h *Handler) StreamChecks(w http.ResponseWriter, r *http.Request) {
	repoFullName, ref, ok := parseTarget(w, r, r.URL.Query().Get("ref"))
	if !ok {
		return
	}

	m, release := h.registry.Acquire(repoFullName, ref)
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	defer release()

	statusCh := m.Status().Subscribe()
	defer m.Status().Unsubscribe(statusCh)
	loadingCh := m.Loading().Subscribe()
	defer m.Loading().Unsubscribe(loadingCh)
	errCh := m.Err().Subscribe()
	defer m.Err().Unsubscribe(errCh)

	// Every subscription starts with the current value; fold those into a
	// single initial event.
	<-statusCh
	<-loadingCh
	<-errCh

	rc := http.NewResponseController(w)
	// Streams outlive the server's WriteTimeout.
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func() bool {
		data, err := json.Marshal(toSessionResponse(m.Snapshot()))
		if err != nil {
			h.logger.Error("failed to encode status event", "error", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case _, ok := <-statusCh:
			if !ok || !send() {
				return
			}
		case _, ok := <-loadingCh:
			if !ok || !send() {
				return
			}
		case _, ok := <-errCh:
			if !ok || !send() {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if rc.Flush() != nil {
				return
			}
		}
	}
}

// RefreshChecks runs an immediate poll on a live session and returns the
// resulting snapshot. A settled session is left as is.
func (h *Handler) RefreshChecks(w http.ResponseWriter, r *http.Request) {
	repoFullName, ref, ok := parseTarget(w, r, r.URL.Query().Get("ref"))
	if !ok {
		return
	}

	m := h.registry.Lookup(repoFullName, ref)
	if m == nil {
		writeError(w, http.StatusNotFound, "no active session for ref")
		return
	}

	m.Update()
	writeJSON(w, http.StatusOK, toSessionResponse(m.Snapshot()))
}

// NotifyHead records the commit a ref points at, restarting its session when
// the commit changed.
func (h *Handler) NotifyHead(w http.ResponseWriter, r *http.Request) {
	var req HeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.SHA) == "" {
		writeError(w, http.StatusBadRequest, "sha is required")
		return
	}

	repoFullName, ref, ok := parseTarget(w, r, req.Ref)
	if !ok {
		return
	}

	restarted := h.registry.NotifyHead(repoFullName, ref, req.SHA)
	writeJSON(w, http.StatusOK, HeadResponse{Restarted: restarted})
}

// parseTarget validates the repository path and ref, writing a 400 on failure.
func parseTarget(w http.ResponseWriter, r *http.Request, ref string) (string, string, bool) {
	repoFullName := r.PathValue("owner") + "/" + r.PathValue("repo")
	if !isValidRepoName(repoFullName) {
		writeError(w, http.StatusBadRequest, "invalid repository name: must be owner/repo")
		return "", "", false
	}

	ref = strings.TrimSpace(ref)
	if ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return "", "", false
	}

	return repoFullName, ref, true
}

// isValidRepoName validates that name is in owner/repo format where each part
// contains only alphanumeric characters, hyphens, dots, or underscores.
func isValidRepoName(name string) bool {
	parts := strings.SplitN(name, "/", 3)
	if len(parts) != 2 {
		return false
	}

	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, ch := range part {
			if !isValidRepoChar(ch) {
				return false
			}
		}
	}

	return true
}

// isValidRepoChar returns true if the rune is allowed in a repository owner or name.
func isValidRepoChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '.' || ch == '_'
}
