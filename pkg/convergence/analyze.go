package convergence

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/chainstat/pkg/rhat"
	"github.com/Sumatoshi-tech/chainstat/pkg/tensor"
)

// DefaultThreshold is the R-hat above which a series is flagged.
const DefaultThreshold = 1.05

const tracerName = "chainstat"

// Recorder receives per-series and per-analysis measurements.
type Recorder interface {
	RecordSeries(ctx context.Context, res Result)
	RecordAnalysis(ctx context.Context, sum Summary, elapsed time.Duration)
}

// Options configures Analyze.
type Options struct {
	// Threshold flags series whose statistic exceeds it; zero means DefaultThreshold.
	Threshold float64
	// Statistic defaults to rhat.GelmanRubin.
	Statistic rhat.Statistic
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Tracer defaults to the global provider.
	Tracer trace.Tracer
	// Metrics, when set, receives measurements.
	Metrics Recorder
}

func (o Options) withDefaults() Options {
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}

	if o.Statistic == nil {
		o.Statistic = rhat.GelmanRubin
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}

	return o
}

// Analyze evaluates the statistic for every series of every variable, in
// sorted variable order and ascending flat index. A variable of rank one is a
// single series named after it; higher ranks yield one series per position of
// the non-iteration axes, named "<variable>_<flat>".
func Analyze(ctx context.Context, e Ensemble, opts Options) (*Report, error) {
	opts = opts.withDefaults()

	err := e.Validate()
	if err != nil {
		return nil, err
	}

	ctx, span := opts.Tracer.Start(ctx, "chainstat.converge",
		trace.WithAttributes(
			attribute.Int("converge.chains", len(e.Chains)),
			attribute.Float64("converge.threshold", opts.Threshold),
		))
	defer span.End()

	began := time.Now()
	report := &Report{Threshold: opts.Threshold, Chains: e.IDs()}

	for _, name := range e.Variables() {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return nil, fmt.Errorf("analysis cancelled: %w", ctxErr)
		}

		results, varErr := analyzeVariable(ctx, e, name, opts)
		if varErr != nil {
			return nil, varErr
		}

		report.Results = append(report.Results, results...)
	}

	report.Elapsed = time.Since(began)
	sum := report.Summary()

	span.SetAttributes(
		attribute.Int("converge.series", sum.Series),
		attribute.Int("converge.flagged", sum.Flagged),
		attribute.Int("converge.undefined", sum.Undefined),
	)

	if opts.Metrics != nil {
		opts.Metrics.RecordAnalysis(ctx, sum, report.Elapsed)
	}

	opts.Logger.Info("convergence analysis complete",
		"chains", len(e.Chains),
		"series", sum.Series,
		"flagged", sum.Flagged,
		"undefined", sum.Undefined,
		"elapsed", report.Elapsed.Round(time.Millisecond),
	)

	return report, nil
}

func analyzeVariable(ctx context.Context, e Ensemble, name string, opts Options) ([]Result, error) {
	stack := make([]*tensor.Tensor, len(e.Chains))
	for i, c := range e.Chains {
		stack[i] = c.Vars[name]
	}

	series, err := tensor.Collapse(stack)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInconsistentEnsemble, name, err)
	}

	scalar := stack[0].Rank() == 1
	results := make([]Result, 0, len(series))

	for flat, rows := range series {
		res := Result{Name: seriesName(name, flat, scalar), Variable: name, Flat: flat}

		value, statErr := opts.Statistic(rows)
		switch {
		case statErr != nil:
			res.RHat = math.NaN()
			res.Err = statErr

			opts.Logger.Warn("convergence statistic undefined", "series", res.Name, "error", statErr)
		case math.IsNaN(value):
			res.RHat = value
			res.Err = ErrUndefinedStatistic
		default:
			res.RHat = value
			res.Flagged = value > opts.Threshold
		}

		if res.Flagged {
			opts.Logger.Warn("series has not converged",
				"series", res.Name, "rhat", res.RHat, "threshold", opts.Threshold)
		}

		if opts.Metrics != nil {
			opts.Metrics.RecordSeries(ctx, res)
		}

		results = append(results, res)
	}

	return results, nil
}

func seriesName(variable string, flat int, scalar bool) string {
	if scalar {
		return variable
	}

	return variable + "_" + strconv.Itoa(flat)
}
