package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/checkpulse/internal/domain/model"
	"github.com/ericfisherdev/checkpulse/internal/domain/port/driven"
	"github.com/ericfisherdev/checkpulse/internal/observable"
)

// Monitor defaults.
const (
	DefaultMinCompletedAge   = 20 * time.Second
	DefaultBootstrapAttempts = 5
	DefaultBootstrapDelay    = 2 * time.Second
)

// MonitorConfig tunes a ChecksMonitor.
type MonitorConfig struct {
	Backoff BackoffConfig
	// MinCompletedAge is how old a completed suite must be before polling
	// stops. Some forges report a suite complete before all its jobs register.
	MinCompletedAge time.Duration
	// BootstrapAttempts bounds the run listings made while a fresh push has
	// check suites but no check runs yet.
	BootstrapAttempts int
	BootstrapDelay    time.Duration
}

// DefaultMonitorConfig returns the default monitor tuning.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Backoff:           DefaultBackoffConfig(),
		MinCompletedAge:   DefaultMinCompletedAge,
		BootstrapAttempts: DefaultBootstrapAttempts,
		BootstrapDelay:    DefaultBootstrapDelay,
	}
}

// MonitorSnapshot is a point-in-time view of a monitor session.
type MonitorSnapshot struct {
	RepoFullName string
	Ref          string
	State        model.MonitorState
	Suites       model.SuiteState
	Observed     model.ObservedStatus
	Loading      bool
	Err          error
	Runs         []model.CheckRun
}

// pollResult is the outcome of one fetch, before it is committed.
type pollResult struct {
	list   *model.CheckRunList
	suites model.SuiteState
	err    error
}

// ChecksMonitor polls the CI checks of one ref and publishes the aggregate
// status. It is a state machine:
//
//	Idle -> Polling -> (Settled | NoChecks)
//
// Start and Restart enter Polling; Stop returns to Idle from any state.
// Poll cycles never overlap, at most one poll is pending at a time, and
// nothing is written to the cache or published once Stop has returned.
type ChecksMonitor struct {
	api          driven.ChecksAPI
	cache        driven.StatusCache
	clock        Clock
	cfg          MonitorConfig
	metrics      MonitorMetrics
	logger       *slog.Logger
	repoFullName string
	ref          string
	key          string

	// cycleMu serializes poll cycles. It is held across the network fetch,
	// so Stop never takes it.
	cycleMu sync.Mutex

	mu       sync.Mutex
	gen      uint64 // Bumped by Start and Stop; stale cycles compare against it.
	tick     uint64 // Bumped whenever the pending poll is replaced or cancelled.
	state    model.MonitorState
	suites   model.SuiteState
	last     *model.ChecksStatus
	lastRuns []model.CheckRun
	// firstSeen is when this session first fetched a non-empty suite. It
	// stands in for the suite age when no run reports a start time.
	firstSeen time.Time
	timer    Timer
	sctx     context.Context // Session context, canceled by Stop.
	cancel   context.CancelFunc

	status  *observable.Cell[model.ObservedStatus]
	loading *observable.Cell[bool]
	lastErr *observable.Cell[error]
}

// MonitorOption customizes a ChecksMonitor.
type MonitorOption func(*ChecksMonitor)

// WithClock replaces the wall clock, typically with a virtual one in tests.
func WithClock(c Clock) MonitorOption {
	return func(m *ChecksMonitor) { m.clock = c }
}

// WithMetrics records polling telemetry.
func WithMetrics(mm MonitorMetrics) MonitorOption {
	return func(m *ChecksMonitor) { m.metrics = mm }
}

// WithLogger sets the base logger; repo and ref attributes are added to it.
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *ChecksMonitor) { m.logger = l }
}

// NewChecksMonitor creates an idle monitor for ref in repoFullName.
func NewChecksMonitor(
	api driven.ChecksAPI,
	cache driven.StatusCache,
	repoFullName string,
	ref string,
	cfg MonitorConfig,
	opts ...MonitorOption,
) *ChecksMonitor {
	m := &ChecksMonitor{
		api:          api,
		cache:        cache,
		clock:        SystemClock{},
		cfg:          cfg.normalized(),
		metrics:      NoopMetrics{},
		logger:       slog.Default(),
		repoFullName: repoFullName,
		ref:          ref,
		key:          model.StatusKey(repoFullName, ref),
		state:        model.MonitorStateIdle,
		suites:       model.SuiteStateUnknown,
		status:       observable.NewCell(model.ObservedStatus{}),
		loading:      observable.NewCell(false),
		lastErr:      observable.NewCell[error](nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("repo", repoFullName, "ref", ref)
	return m
}

// Start begins a polling session. It publishes any cached status right away,
// then runs the bootstrap fetch that decides whether the ref has CI at all,
// and returns once that first cycle has been committed. Later polls run on
// the monitor's timer until a stop condition holds. The session lives until
// Stop is called or ctx is canceled.
func (m *ChecksMonitor) Start(ctx context.Context) {
	gen, sctx := m.begin(ctx)
	m.bootstrap(sctx, gen)
}

// StartAsync is Start without waiting for the bootstrap fetch. The session is
// registered before StartAsync returns, so a following Stop always wins.
func (m *ChecksMonitor) StartAsync(ctx context.Context) {
	gen, sctx := m.begin(ctx)
	go m.bootstrap(sctx, gen)
}

// Restart discards the session, including the "has check suites"
// determination, and starts a fresh one. Used when the ref's commit changes
// (e.g. a force push), since a new suite may exist under the same ref name.
func (m *ChecksMonitor) Restart(ctx context.Context) {
	m.Stop()
	m.Start(ctx)
}

// RestartAsync is Restart without waiting for the bootstrap fetch.
func (m *ChecksMonitor) RestartAsync(ctx context.Context) {
	m.Stop()
	m.StartAsync(ctx)
}

// Stop cancels any pending poll and in-flight fetch and returns to Idle.
// It is safe to call repeatedly and from any goroutine.
func (m *ChecksMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	m.tick++

	if m.state != model.MonitorStateIdle {
		m.logger.Debug("checks monitor stopped", "state", string(m.state))
	}
	m.state = model.MonitorStateIdle
	m.loading.Set(false)
}

// Update runs one fetch-aggregate-publish-reschedule cycle now, replacing the
// pending timed poll. It is a no-op unless the monitor is Polling: a settled
// status is never overwritten until Restart. While another cycle is in flight
// Update returns at once, since that cycle already publishes fresh data.
func (m *ChecksMonitor) Update() {
	if !m.cycleMu.TryLock() {
		m.logger.Debug("manual update skipped, poll in flight")
		return
	}
	defer m.cycleMu.Unlock()

	m.mu.Lock()
	if m.state != model.MonitorStatePolling || m.cancel == nil {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("manual update ignored", "state", string(state))
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.tick++
	gen, tick := m.gen, m.tick
	sctx := m.sctx
	m.mu.Unlock()

	m.cycleLocked(sctx, gen, tick)
}

// LastStatus returns the last known aggregate, which may come from the cache.
// A nil result means either no checks exist or nothing is known yet; see
// Status for the distinction.
func (m *ChecksMonitor) LastStatus() *model.ChecksStatus {
	return m.status.Get().Status
}

// State returns the current polling state.
func (m *ChecksMonitor) State() model.MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status is the observable aggregate status.
func (m *ChecksMonitor) Status() *observable.Cell[model.ObservedStatus] { return m.status }

// Loading is true while a fetch is in flight.
func (m *ChecksMonitor) Loading() *observable.Cell[bool] { return m.loading }

// Err holds the last fetch error, or nil after a successful fetch.
func (m *ChecksMonitor) Err() *observable.Cell[error] { return m.lastErr }

// Snapshot returns a consistent view of the session.
func (m *ChecksMonitor) Snapshot() MonitorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]model.CheckRun, len(m.lastRuns))
	copy(runs, m.lastRuns)

	return MonitorSnapshot{
		RepoFullName: m.repoFullName,
		Ref:          m.ref,
		State:        m.state,
		Suites:       m.suites,
		Observed:     m.status.Get(),
		Loading:      m.loading.Get(),
		Err:          m.lastErr.Get(),
		Runs:         runs,
	}
}

// Close stops the monitor and closes its observable cells.
func (m *ChecksMonitor) Close() {
	m.Stop()
	m.status.Close()
	m.loading.Close()
	m.lastErr.Close()
}

// begin resets session state and enters Polling.
func (m *ChecksMonitor) begin(ctx context.Context) (uint64, context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
	}

	sctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.gen++
	m.tick++
	m.state = model.MonitorStatePolling
	m.suites = model.SuiteStateUnknown
	m.last = nil
	m.lastRuns = nil
	m.firstSeen = time.Time{}
	m.sctx = sctx

	m.logger.Debug("checks monitor started")
	return m.gen, sctx
}

// bootstrap publishes the cached status and runs the first poll cycle.
func (m *ChecksMonitor) bootstrap(ctx context.Context, gen uint64) {
	m.publishCached(ctx, gen)

	m.mu.Lock()
	tick := m.tick
	m.mu.Unlock()

	m.cycle(ctx, gen, tick)
}

// publishCached loads the cached status for instant display. A corrupt entry
// is removed and treated as a cold start.
func (m *ChecksMonitor) publishCached(ctx context.Context, gen uint64) {
	cached, err := m.cache.Get(ctx, m.key)
	if err != nil {
		if errors.Is(err, model.ErrCorruptCacheEntry) {
			m.logger.Warn("discarding corrupt cached status", "error", err)
			if rmErr := m.cache.Remove(ctx, m.key); rmErr != nil {
				m.logger.Error("remove corrupt cached status failed", "error", rmErr)
			}
		} else {
			m.logger.Warn("read cached status failed", "error", err)
		}
		return
	}
	if cached == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.status.Set(model.ObservedStatus{Status: cached, Resolved: true, FromCache: true})
	m.logger.Debug("published cached status", "ci_status", string(cached.CIStatus()))
}

// cycle performs one poll and commits it. tick identifies the poll slot the
// caller owns; a cycle whose slot has since been replaced does nothing.
func (m *ChecksMonitor) cycle(ctx context.Context, gen, tick uint64) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	m.cycleLocked(ctx, gen, tick)
}

// cycleLocked is cycle for callers already holding cycleMu.
func (m *ChecksMonitor) cycleLocked(ctx context.Context, gen, tick uint64) {
	m.mu.Lock()
	if gen != m.gen || tick != m.tick || m.state != model.MonitorStatePolling {
		m.mu.Unlock()
		return
	}
	suites := m.suites
	m.loading.Set(true)
	m.mu.Unlock()

	res := m.poll(ctx, suites)
	m.commit(ctx, gen, res)
}

// poll fetches check runs. While the suite state is unknown it runs the
// bootstrap listing through RetryUntil; afterwards it is a plain listing.
// A panic from the forge client is converted into an error.
func (m *ChecksMonitor) poll(ctx context.Context, suites model.SuiteState) (res pollResult) {
	defer func() {
		if r := recover(); r != nil {
			res = pollResult{suites: suites, err: fmt.Errorf("poll panicked: %v", r)}
		}
	}()

	if suites != model.SuiteStateUnknown {
		list, err := m.api.ListCheckRuns(ctx, m.repoFullName, m.ref)
		return pollResult{list: list, suites: suites, err: err}
	}

	attempt := func(ctx context.Context) (pollResult, error) {
		list, err := m.api.ListCheckRuns(ctx, m.repoFullName, m.ref)
		if err != nil {
			return pollResult{}, err
		}
		if hasRuns(list) {
			return pollResult{list: list, suites: model.SuiteStatePresent}, nil
		}

		if suites == model.SuiteStateUnknown {
			suiteList, err := m.api.ListCheckSuites(ctx, m.repoFullName, m.ref)
			if err != nil {
				return pollResult{}, err
			}
			suites = model.SuiteStatePresent
			if suiteList == nil || suiteList.TotalCount == 0 {
				suites = model.SuiteStateAbsent
			}
		}
		return pollResult{list: list, suites: suites}, nil
	}

	done := func(r pollResult) bool {
		return hasRuns(r.list) || r.suites == model.SuiteStateAbsent
	}

	res, err := RetryUntil(ctx, m.clock, attempt, done, m.cfg.BootstrapAttempts, m.cfg.BootstrapDelay)
	if err != nil {
		return pollResult{suites: model.SuiteStateUnknown, err: err}
	}
	return res
}

// commit applies a poll result: records errors, aggregates, writes the cache,
// publishes, and either reschedules or enters a terminal state. It holds mu
// throughout so that Stop cannot return while a write is half done.
func (m *ChecksMonitor) commit(ctx context.Context, gen uint64, res pollResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		// Stopped or restarted while fetching.
		return
	}
	m.loading.Set(false)

	if res.err != nil {
		m.recordErrorLocked(ctx, res.err)
		m.scheduleLocked(ctx, gen)
		return
	}

	m.lastErr.Set(nil)
	m.suites = res.suites

	if res.suites == model.SuiteStateAbsent {
		m.last = nil
		m.lastRuns = nil
		m.removeCachedLocked(ctx)
		m.status.Set(model.ObservedStatus{Resolved: true})
		m.state = model.MonitorStateNoChecks
		m.metrics.PollCompleted(ctx, PollOutcomeNoChecks)
		m.metrics.SessionSettled(ctx, m.state)
		m.logger.Info("no checks configured for ref, polling stopped")
		return
	}

	var runs []model.CheckRun
	if res.list != nil {
		runs = res.list.Runs
	}
	status := AggregateCheckRuns(runs)
	m.last = status
	m.lastRuns = runs
	if status != nil && m.firstSeen.IsZero() {
		m.firstSeen = m.clock.Now()
	}

	if status == nil {
		m.removeCachedLocked(ctx)
	} else if err := m.cache.Set(ctx, m.key, status); err != nil {
		m.logger.Error("write cached status failed", "error", err)
	}
	m.status.Set(model.ObservedStatus{Status: status, Resolved: true})
	m.metrics.PollCompleted(ctx, PollOutcomeOK)

	if m.settledLocked() {
		m.state = model.MonitorStateSettled
		m.metrics.SessionSettled(ctx, m.state)
		m.logger.Info("checks settled, polling stopped",
			"ci_status", string(status.CIStatus()),
			"failed", len(status.FailedChecks),
		)
		return
	}

	m.scheduleLocked(ctx, gen)
}

// recordErrorLocked exposes a fetch error to observers. A missing ref is an
// expected race right after a push: it is logged but not surfaced.
func (m *ChecksMonitor) recordErrorLocked(ctx context.Context, err error) {
	if errors.Is(err, model.ErrRefNotFound) {
		m.lastErr.Set(nil)
		m.metrics.PollCompleted(ctx, PollOutcomeRefNotFound)
		m.logger.Info("ref not found on remote yet", "error", err)
		return
	}

	m.lastErr.Set(err)
	m.metrics.PollCompleted(ctx, PollOutcomeError)
	m.logger.Error("fetch checks failed", "error", err)
}

// settledLocked reports whether the last status is complete and old enough
// to trust.
func (m *ChecksMonitor) settledLocked() bool {
	if m.last == nil || !m.last.Completed {
		return false
	}
	age, ok := m.ageLocked()
	return ok && age > m.cfg.MinCompletedAge
}

// ageLocked returns the suite age: from the earliest run start when one is
// known, otherwise from when this session first saw the suite.
func (m *ChecksMonitor) ageLocked() (time.Duration, bool) {
	now := m.clock.Now()
	if age, ok := m.last.Age(now); ok {
		return age, true
	}
	if m.last == nil || m.firstSeen.IsZero() {
		return 0, false
	}
	return now.Sub(m.firstSeen), true
}

// scheduleLocked arms the timer for the next poll, replacing any pending one.
func (m *ChecksMonitor) scheduleLocked(ctx context.Context, gen uint64) {
	if ctx.Err() != nil {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}

	age, ok := m.ageLocked()
	if !ok {
		age = 0
	}
	delay := NextDelay(age, m.cfg.Backoff)

	m.tick++
	tick := m.tick
	m.timer = m.clock.AfterFunc(delay, func() {
		m.cycle(ctx, gen, tick)
	})

	m.metrics.PollScheduled(ctx, delay)
	m.logger.Debug("next poll scheduled",
		"delay", delay,
		"phase", ClassifyPhase(age, m.cfg.Backoff).String(),
	)
}

func (m *ChecksMonitor) removeCachedLocked(ctx context.Context) {
	if err := m.cache.Remove(ctx, m.key); err != nil {
		m.logger.Error("remove cached status failed", "error", err)
	}
}

// normalized fills unset fields with defaults.
func (c MonitorConfig) normalized() MonitorConfig {
	c.Backoff = c.Backoff.normalized()
	if c.MinCompletedAge <= 0 {
		c.MinCompletedAge = DefaultMinCompletedAge
	}
	if c.BootstrapAttempts <= 0 {
		c.BootstrapAttempts = DefaultBootstrapAttempts
	}
	if c.BootstrapDelay <= 0 {
		c.BootstrapDelay = DefaultBootstrapDelay
	}
	return c
}

func hasRuns(list *model.CheckRunList) bool {
	return list != nil && len(list.Runs) > 0
}
