// Package rhat computes the Gelman-Rubin potential scale reduction factor.
package rhat

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	minChains     = 2
	minIterations = 2
)

// Sentinel errors.
var (
	ErrTooFewChains     = errors.New("at least two chains are required")
	ErrTooFewIterations = errors.New("at least two iterations are required")
	ErrRaggedSeries     = errors.New("chains have different lengths")
	ErrMissingValues    = errors.New("series contains missing values")
)

// Statistic reduces a (chains, iterations) series to a convergence score.
type Statistic func(series [][]float64) (float64, error)

// GelmanRubin returns R-hat for series, where each row is one chain.
//
// W is the mean of the unbiased within-chain variances and B is n times the
// unbiased variance of the chain means. R-hat is sqrt(V/W) with
// V = (n-1)/n * W + B/n. Constant series (W == 0, B == 0) score 1; chains that
// are individually constant but disagree (W == 0, B > 0) score +Inf.
func GelmanRubin(series [][]float64) (float64, error) {
	err := check(series)
	if err != nil {
		return math.NaN(), err
	}

	chains := len(series)
	n := float64(len(series[0]))

	means := make([]float64, chains)
	variances := make([]float64, chains)

	for i, row := range series {
		means[i], variances[i] = stat.MeanVariance(row, nil)
	}

	within := stat.Mean(variances, nil)
	between := n * stat.Variance(means, nil)

	if within == 0 {
		if between == 0 {
			return 1, nil
		}

		return math.Inf(1), nil
	}

	pooled := (n-1)/n*within + between/n

	return math.Sqrt(pooled / within), nil
}

func check(series [][]float64) error {
	if len(series) < minChains {
		return fmt.Errorf("%w: got %d", ErrTooFewChains, len(series))
	}

	n := len(series[0])
	if n < minIterations {
		return fmt.Errorf("%w: got %d", ErrTooFewIterations, n)
	}

	for i, row := range series {
		if len(row) != n {
			return fmt.Errorf("%w: chain %d has %d, chain 0 has %d", ErrRaggedSeries, i, len(row), n)
		}

		if floats.HasNaN(row) {
			return fmt.Errorf("%w: chain %d", ErrMissingValues, i)
		}
	}

	return nil
}
