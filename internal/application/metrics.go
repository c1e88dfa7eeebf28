package application

import (
	"context"
	"time"

	"github.com/ericfisherdev/checkpulse/internal/domain/model"
)

// PollOutcome labels the result of one poll cycle for metrics.
type PollOutcome string

const (
	PollOutcomeOK          PollOutcome = "ok"
	PollOutcomeError       PollOutcome = "error"
	PollOutcomeRefNotFound PollOutcome = "ref_not_found"
	PollOutcomeNoChecks    PollOutcome = "no_checks"
)

// MonitorMetrics receives polling telemetry. Implementations must be safe for
// concurrent use across sessions.
type MonitorMetrics interface {
	PollCompleted(ctx context.Context, outcome PollOutcome)
	PollScheduled(ctx context.Context, delay time.Duration)
	SessionSettled(ctx context.Context, state model.MonitorState)
	SessionOpened(ctx context.Context)
	SessionClosed(ctx context.Context)
}

// NoopMetrics discards all telemetry.
type NoopMetrics struct{}

func (NoopMetrics) PollCompleted(context.Context, PollOutcome) {}
func (NoopMetrics) PollScheduled(context.Context, time.Duration) {}
func (NoopMetrics) SessionSettled(context.Context, model.MonitorState) {}
func (NoopMetrics) SessionOpened(context.Context) {}
func (NoopMetrics) SessionClosed(context.Context) {}
