package application

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/checkpulse/internal/domain/model"
	"github.com/ericfisherdev/checkpulse/internal/domain/port/driven"
)

// session is a live monitor and the number of subscribers holding it.
type session struct {
	monitor *ChecksMonitor
	refs    int
}

// MonitorRegistry owns one ChecksMonitor per (repo, ref). The first
// subscriber starts a session, later ones share it, and the last release
// stops it. The registry lock guards only the session map; monitors never
// call back into the registry.
type MonitorRegistry struct {
	ctx     context.Context
	cancel  context.CancelFunc
	api     driven.ChecksAPI
	cache   driven.StatusCache
	cfg     MonitorConfig
	metrics MonitorMetrics
	logger  *slog.Logger
	opts    []MonitorOption

	mu       sync.Mutex
	sessions map[string]*session
	heads    map[string]string
	closed   bool
}

// RegistryOption customizes a MonitorRegistry.
type RegistryOption func(*MonitorRegistry)

// WithRegistryMetrics records session telemetry and hands the same sink to
// every monitor.
func WithRegistryMetrics(mm MonitorMetrics) RegistryOption {
	return func(r *MonitorRegistry) { r.metrics = mm }
}

// WithRegistryLogger sets the logger for the registry and its monitors.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *MonitorRegistry) { r.logger = l }
}

// WithMonitorOptions appends options applied to every monitor created.
func WithMonitorOptions(opts ...MonitorOption) RegistryOption {
	return func(r *MonitorRegistry) { r.opts = append(r.opts, opts...) }
}

// NewMonitorRegistry creates an empty registry. Sessions are bound to ctx:
// canceling it ends every poll loop, as does Close.
func NewMonitorRegistry(
	ctx context.Context,
	api driven.ChecksAPI,
	cache driven.StatusCache,
	cfg MonitorConfig,
	opts ...RegistryOption,
) *MonitorRegistry {
	rctx, cancel := context.WithCancel(ctx)
	r := &MonitorRegistry{
		ctx:      rctx,
		cancel:   cancel,
		api:      api,
		cache:    cache,
		cfg:      cfg,
		metrics:  NoopMetrics{},
		logger:   slog.Default(),
		sessions: make(map[string]*session),
		heads:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the session for ref in repoFullName, starting one if none
// is live. The returned release must be called when the subscriber goes
// away; it is safe to call more than once. After Close, Acquire returns a
// nil monitor and a no-op release.
func (r *MonitorRegistry) Acquire(repoFullName, ref string) (*ChecksMonitor, func()) {
	key := model.StatusKey(repoFullName, ref)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, func() {}
	}

	s, ok := r.sessions[key]
	if !ok {
		opts := append([]MonitorOption{WithMetrics(r.metrics), WithLogger(r.logger)}, r.opts...)
		s = &session{monitor: NewChecksMonitor(r.api, r.cache, repoFullName, ref, r.cfg, opts...)}
		r.sessions[key] = s
		s.monitor.StartAsync(r.ctx)
		r.metrics.SessionOpened(r.ctx)
		r.logger.Info("checks session opened", "repo", repoFullName, "ref", ref)
	}
	s.refs++

	var once sync.Once
	release := func() {
		once.Do(func() { r.release(key, s) })
	}
	return s.monitor, release
}

func (r *MonitorRegistry) release(key string, s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.refs--
	if s.refs > 0 {
		return
	}
	// The session may already be gone after Close.
	if cur, ok := r.sessions[key]; !ok || cur != s {
		return
	}
	delete(r.sessions, key)
	delete(r.heads, key)
	s.monitor.Close()
	r.metrics.SessionClosed(r.ctx)
	r.logger.Info("checks session closed", "key", key)
}

// Lookup returns the live monitor for ref, or nil.
func (r *MonitorRegistry) Lookup(repoFullName, ref string) *ChecksMonitor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[model.StatusKey(repoFullName, ref)]; ok {
		return s.monitor
	}
	return nil
}

// NotifyHead records the commit a watched ref currently points at. When a
// previously recorded SHA changes, for example after a force push, the live
// session is restarted so the new commit's suite is observed from scratch.
// Heads are tracked only while a session is live. It reports whether a
// restart happened.
func (r *MonitorRegistry) NotifyHead(repoFullName, ref, sha string) bool {
	key := model.StatusKey(repoFullName, ref)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	s, ok := r.sessions[key]
	if !ok {
		return false
	}

	prev := r.heads[key]
	r.heads[key] = sha
	if prev == "" || prev == sha {
		return false
	}
	r.logger.Info("ref head moved, restarting checks session",
		"repo", repoFullName, "ref", ref, "from", prev, "to", sha)
	s.monitor.RestartAsync(r.ctx)
	return true
}

// Cached returns the persisted status for ref without starting a session.
func (r *MonitorRegistry) Cached(ctx context.Context, repoFullName, ref string) (*model.ChecksStatus, error) {
	return r.cache.Get(ctx, model.StatusKey(repoFullName, ref))
}

// Len returns the number of live sessions.
func (r *MonitorRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops every session. Further Acquire calls return nil.
func (r *MonitorRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.cancel()

	for key, s := range r.sessions {
		s.monitor.Close()
		r.metrics.SessionClosed(r.ctx)
		delete(r.sessions, key)
	}
	clear(r.heads)
}
