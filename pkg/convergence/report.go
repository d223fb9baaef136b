package convergence

import (
	"errors"
	"math"
	"time"

	"github.com/Sumatoshi-tech/chainstat/pkg/alg/stats"
)

// ErrUndefinedStatistic marks a series whose statistic evaluated to NaN.
var ErrUndefinedStatistic = errors.New("convergence statistic is undefined")

// Result is the outcome for one series.
type Result struct {
	Name     string
	Variable string
	Flat     int
	RHat     float64
	Flagged  bool
	// Err is set when the statistic could not be computed for this series.
	Err error
}

// Undefined reports whether the statistic could not be computed.
func (r Result) Undefined() bool {
	return r.Err != nil
}

// Report collects the results of one analysis.
type Report struct {
	Threshold float64
	Chains    []string
	Results   []Result
	Elapsed   time.Duration
}

// Summary aggregates a report. MaxRHat is +Inf when any series is infinite.
// MedianRHat and MeanRHat cover finite statistics only. A value with nothing
// to aggregate is NaN.
type Summary struct {
	Series     int
	Flagged    int
	Undefined  int
	Infinite   int
	MaxRHat    float64
	MedianRHat float64
	MeanRHat   float64
}

// Flagged returns the series whose statistic exceeded the threshold.
func (r *Report) Flagged() []Result {
	return r.filter(func(res Result) bool { return res.Flagged })
}

// Undefined returns the series whose statistic could not be computed.
func (r *Report) Undefined() []Result {
	return r.filter(Result.Undefined)
}

// Converged reports whether no series was flagged.
func (r *Report) Converged() bool {
	return len(r.Flagged()) == 0
}

// Summary returns counts and aggregate statistics of the report.
func (r *Report) Summary() Summary {
	sum := Summary{Series: len(r.Results)}
	values := make([]float64, 0, len(r.Results))

	for _, res := range r.Results {
		if res.Flagged {
			sum.Flagged++
		}

		if res.Undefined() {
			sum.Undefined++

			continue
		}

		values = append(values, res.RHat)
	}

	finite := stats.Finite(values)
	sum.Infinite = len(values) - len(finite)
	sum.MaxRHat, sum.MedianRHat, sum.MeanRHat = math.NaN(), math.NaN(), math.NaN()

	if len(finite) > 0 {
		sum.MaxRHat = stats.Max(finite)
		sum.MedianRHat = stats.Median(finite)
		sum.MeanRHat = stats.Mean(finite)
	}

	if sum.Infinite > 0 {
		sum.MaxRHat = math.Inf(1)
	}

	return sum
}

func (r *Report) filter(keep func(Result) bool) []Result {
	var out []Result

	for _, res := range r.Results {
		if keep(res) {
			out = append(out, res)
		}
	}

	return out
}
