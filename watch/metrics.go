package watch

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds watch loop metrics using OTEL semantic conventions
type Metrics struct {
	polls      metric.Int64Counter
	instanceUp metric.Int64Gauge
	logEvents  metric.Int64Counter
	pollErrors metric.Int64Counter
}

// NewMetrics creates the watch metrics
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("perusta.watch")

	polls, err := meter.Int64Counter(
		"perusta.watch.polls",
		metric.WithDescription("Number of watch polls"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, err
	}

	instanceUp, err := meter.Int64Gauge(
		"perusta.watch.instance_up",
		metric.WithDescription("Whether the stack instance is running"),
	)
	if err != nil {
		return nil, err
	}

	logEvents, err := meter.Int64Counter(
		"perusta.watch.log_events",
		metric.WithDescription("Number of log events tailed"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	pollErrors, err := meter.Int64Counter(
		"perusta.watch.poll_errors",
		metric.WithDescription("Number of failed watch polls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		polls:      polls,
		instanceUp: instanceUp,
		logEvents:  logEvents,
		pollErrors: pollErrors,
	}, nil
}

// RecordPoll counts one poll of a stack
func (m *Metrics) RecordPoll(ctx context.Context, stack string) {
	m.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("stack", stack)))
}

// RecordInstanceUp records whether the instance is running
func (m *Metrics) RecordInstanceUp(ctx context.Context, stack string, up bool) {
	value := int64(0)
	if up {
		value = 1
	}
	m.instanceUp.Record(ctx, value, metric.WithAttributes(attribute.String("stack", stack)))
}

// RecordLogEvents counts tailed log events
func (m *Metrics) RecordLogEvents(ctx context.Context, stack string, count int) {
	m.logEvents.Add(ctx, int64(count), metric.WithAttributes(attribute.String("stack", stack)))
}

// RecordPollError counts a failed poll
func (m *Metrics) RecordPollError(ctx context.Context, stack string) {
	m.pollErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stack", stack)))
}
