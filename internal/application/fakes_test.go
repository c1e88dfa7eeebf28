package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ericfisherdev/checkpulse/internal/domain/model"
)

// --- Fake clock ---

// fakeClock is a virtual Clock. Timers fire synchronously from Advance and
// FireNext; Sleep moves virtual time forward without blocking.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	sleeps []time.Duration
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// NextDelay returns the time until the earliest pending timer.
func (c *fakeClock) NextDelay() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.nextLocked()
	if next == nil {
		return 0, false
	}
	return next.at.Sub(c.now), true
}

// FireNext advances to the earliest pending timer and runs it. It returns
// false if no timer is pending.
func (c *fakeClock) FireNext() bool {
	c.mu.Lock()
	next := c.nextLocked()
	if next == nil {
		c.mu.Unlock()
		return false
	}
	if next.at.After(c.now) {
		c.now = next.at
	}
	next.done = true
	c.mu.Unlock()

	next.f()
	return true
}

// Advance moves virtual time forward by d, firing every timer that falls due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextLocked()
		if next == nil || next.at.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.FireNext()
	}
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) nextLocked() *fakeTimer {
	var pending []*fakeTimer
	for _, t := range c.timers {
		if !t.done {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].at.Before(pending[j].at) })
	return pending[0]
}

// --- Fake ChecksAPI ---

// fakeChecksAPI returns scripted responses and counts calls. When runsFn or
// suitesFn is nil the corresponding static field is returned.
type fakeChecksAPI struct {
	mu          sync.Mutex
	runs        []model.CheckRun
	suiteCount  int
	runsErr     error
	suitesErr   error
	runsFn      func(call int) (*model.CheckRunList, error)
	suitesFn    func(call int) (*model.CheckSuiteList, error)
	runsCalls   int
	suitesCalls int
}

func (f *fakeChecksAPI) ListCheckRuns(_ context.Context, _ string, _ string) (*model.CheckRunList, error) {
	f.mu.Lock()
	f.runsCalls++
	call := f.runsCalls
	fn := f.runsFn
	runs := append([]model.CheckRun(nil), f.runs...)
	err := f.runsErr
	f.mu.Unlock()

	if fn != nil {
		return fn(call)
	}
	if err != nil {
		return nil, err
	}
	return &model.CheckRunList{TotalCount: len(runs), Runs: runs}, nil
}

func (f *fakeChecksAPI) ListCheckSuites(_ context.Context, _ string, _ string) (*model.CheckSuiteList, error) {
	f.mu.Lock()
	f.suitesCalls++
	call := f.suitesCalls
	fn := f.suitesFn
	count := f.suiteCount
	err := f.suitesErr
	f.mu.Unlock()

	if fn != nil {
		return fn(call)
	}
	if err != nil {
		return nil, err
	}
	return &model.CheckSuiteList{TotalCount: count}, nil
}

func (f *fakeChecksAPI) set(runs []model.CheckRun, suiteCount int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = runs
	f.suiteCount = suiteCount
	f.runsErr = nil
	f.runsFn = nil
}

func (f *fakeChecksAPI) calls() (runs, suites int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runsCalls, f.suitesCalls
}

// --- Fake StatusCache ---

type fakeStatusCache struct {
	mu      sync.Mutex
	entries map[string]*model.ChecksStatus
	corrupt map[string]bool
	getErr  error
	sets    int
	removes []string
}

func newFakeStatusCache() *fakeStatusCache {
	return &fakeStatusCache{
		entries: map[string]*model.ChecksStatus{},
		corrupt: map[string]bool{},
	}
}

func (c *fakeStatusCache) Get(_ context.Context, key string) (*model.ChecksStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	if c.corrupt[key] {
		return nil, model.ErrCorruptCacheEntry
	}
	return c.entries[key], nil
}

func (c *fakeStatusCache) Set(_ context.Context, key string, status *model.ChecksStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[key] = status
	return nil
}

func (c *fakeStatusCache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removes = append(c.removes, key)
	delete(c.entries, key)
	delete(c.corrupt, key)
	return nil
}

func (c *fakeStatusCache) entry(key string) *model.ChecksStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}

func (c *fakeStatusCache) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

// --- Recording metrics ---

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []PollOutcome
	delays   []time.Duration
	settled  []model.MonitorState
	open     int
}

func (r *recordingMetrics) PollCompleted(_ context.Context, o PollOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingMetrics) PollScheduled(_ context.Context, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
}

func (r *recordingMetrics) SessionSettled(_ context.Context, s model.MonitorState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, s)
}

func (r *recordingMetrics) SessionOpened(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open++
}

func (r *recordingMetrics) SessionClosed(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open--
}

func (r *recordingMetrics) openSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}
