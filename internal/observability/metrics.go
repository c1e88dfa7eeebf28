// Package observability exports polling telemetry through OpenTelemetry.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ericfisherdev/checkpulse/internal/application"
	"github.com/ericfisherdev/checkpulse/internal/domain/model"
)

const (
	metricPolls     = "checkpulse.polls"
	metricPollDelay = "checkpulse.poll.delay"
	metricSessions  = "checkpulse.sessions"
	metricSettled   = "checkpulse.settled"

	attrOutcome = "outcome"
	attrState   = "state"
)

// delayBucketBoundaries spans the default backoff range of 10s to 10m.
var delayBucketBoundaries = []float64{10, 15, 30, 60, 120, 240, 300, 450, 600}

// Compile-time interface satisfaction check.
var _ application.MonitorMetrics = (*Metrics)(nil)

// Metrics implements application.MonitorMetrics with OTel instruments.
type Metrics struct {
	polls     metric.Int64Counter
	pollDelay metric.Float64Histogram
	sessions  metric.Int64UpDownCounter
	settled   metric.Int64Counter
}

// NewMetrics creates the polling instruments from the given meter.
func NewMetrics(mt metric.Meter) (*Metrics, error) {
	b := newMetricBuilder(mt)

	m := &Metrics{
		polls:     b.counter(metricPolls, "Completed poll cycles by outcome", "{poll}"),
		pollDelay: b.histogram(metricPollDelay, "Delay until the next scheduled poll", "s", delayBucketBoundaries...),
		sessions:  b.upDownCounter(metricSessions, "Live check monitoring sessions", "{session}"),
		settled:   b.counter(metricSettled, "Sessions that reached a terminal state", "{session}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return m, nil
}

func (m *Metrics) PollCompleted(ctx context.Context, outcome application.PollOutcome) {
	m.polls.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, string(outcome))))
}

func (m *Metrics) PollScheduled(ctx context.Context, delay time.Duration) {
	m.pollDelay.Record(ctx, delay.Seconds())
}

func (m *Metrics) SessionSettled(ctx context.Context, state model.MonitorState) {
	m.settled.Add(ctx, 1, metric.WithAttributes(attribute.String(attrState, string(state))))
}

func (m *Metrics) SessionOpened(ctx context.Context) { m.sessions.Add(ctx, 1) }

func (m *Metrics) SessionClosed(ctx context.Context) { m.sessions.Add(ctx, -1) }

// metricBuilder accumulates instrument creation errors so a set of
// instruments needs a single error check.
type metricBuilder struct {
	meter metric.Meter
	err   error
}

func newMetricBuilder(mt metric.Meter) *metricBuilder {
	return &metricBuilder{meter: mt}
}

func (b *metricBuilder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)
	return c
}

func (b *metricBuilder) histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit(unit),
		metric.WithExplicitBucketBoundaries(bounds...),
	)
	b.setErr(name, err)
	return h
}

func (b *metricBuilder) upDownCounter(name, desc, unit string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)
	return c
}

func (b *metricBuilder) setErr(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("create %s: %w", name, err)
	}
}
