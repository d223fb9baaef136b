package observability

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/chainstat/pkg/convergence"
)

const (
	metricSeriesTotal      = "chainstat.converge.series.total"
	metricRHat             = "chainstat.converge.rhat"
	metricAnalysisDuration = "chainstat.converge.duration.seconds"

	attrOutcome = "outcome"

	outcomeConverged = "converged"
	outcomeFlagged   = "flagged"
	outcomeUndefined = "undefined"
)

// rhatBucketBoundaries concentrate around the usual 1.01 to 1.1 thresholds.
var rhatBucketBoundaries = []float64{1, 1.01, 1.02, 1.05, 1.1, 1.2, 1.5, 2, 5}

// ConvergenceMetrics holds the instruments for convergence analysis.
type ConvergenceMetrics struct {
	series   metric.Int64Counter
	rhat     metric.Float64Histogram
	duration metric.Float64Histogram
}

// NewConvergenceMetrics creates convergence instruments from mt.
func NewConvergenceMetrics(mt metric.Meter) (*ConvergenceMetrics, error) {
	b := newMetricBuilder(mt)

	cm := &ConvergenceMetrics{
		series:   b.counter(metricSeriesTotal, "Series evaluated", "{series}"),
		rhat:     b.histogram(metricRHat, "Finite R-hat values", "1", rhatBucketBoundaries...),
		duration: b.seconds(metricAnalysisDuration, "Convergence analysis duration"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return cm, nil
}

// RecordSeries records one evaluated series.
func (cm *ConvergenceMetrics) RecordSeries(ctx context.Context, res convergence.Result) {
	outcome := outcomeConverged

	switch {
	case res.Undefined():
		outcome = outcomeUndefined
	case res.Flagged:
		outcome = outcomeFlagged
	}

	cm.series.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))

	if !res.Undefined() && !math.IsInf(res.RHat, 0) {
		cm.rhat.Record(ctx, res.RHat)
	}
}

// RecordAnalysis records a finished analysis.
func (cm *ConvergenceMetrics) RecordAnalysis(ctx context.Context, _ convergence.Summary, elapsed time.Duration) {
	cm.duration.Record(ctx, elapsed.Seconds())
}
