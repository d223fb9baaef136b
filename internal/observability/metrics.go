package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricCommandsTotal   = "chainstat.commands.total"
	metricCommandDuration = "chainstat.command.duration.seconds"
	metricErrorsTotal     = "chainstat.errors.total"

	attrCommand = "command"
	attrStatus  = "status"

	// StatusOK marks a successful command run.
	StatusOK = "ok"
	// StatusError marks a failed command run.
	StatusError = "error"
)

// durationBucketBoundaries covers 10ms to 30min, from inspecting one store to
// reconstructing a long multi-chain run.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800}

// CommandMetrics counts command runs, their failures, and their durations.
type CommandMetrics struct {
	commandsTotal   metric.Int64Counter
	commandDuration metric.Float64Histogram
	errorsTotal     metric.Int64Counter
}

// NewCommandMetrics creates command instruments from the given meter.
func NewCommandMetrics(mt metric.Meter) (*CommandMetrics, error) {
	b := newMetricBuilder(mt)

	cm := &CommandMetrics{
		commandsTotal:   b.counter(metricCommandsTotal, "Total number of command runs", "{run}"),
		commandDuration: b.seconds(metricCommandDuration, "Command duration in seconds"),
		errorsTotal:     b.counter(metricErrorsTotal, "Total number of failed command runs", "{error}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return cm, nil
}

// RecordCommand records one finished command run.
func (cm *CommandMetrics) RecordCommand(ctx context.Context, command, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrCommand, command),
		attribute.String(attrStatus, status),
	)

	cm.commandsTotal.Add(ctx, 1, attrs)
	cm.commandDuration.Record(ctx, duration.Seconds(), attrs)

	if status == StatusError {
		cm.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrCommand, command)))
	}
}
