package tensor

import (
	"fmt"
	"slices"
)

// Collapse stacks same-shaped tensors along a new leading chain axis and
// splits the result into one (chains, iterations) series per position of the
// non-iteration axes, in row-major order. A rank-1 shape yields exactly one
// series.
func Collapse(stack []*Tensor) ([][][]float64, error) {
	if len(stack) == 0 {
		return nil, nil
	}

	shape := stack[0].Shape

	for i, t := range stack[1:] {
		if !slices.Equal(t.Shape, shape) {
			return nil, fmt.Errorf("%w: tensor %d has %v, tensor 0 has %v", ErrShapeMismatch, i+1, t.Shape, shape)
		}
	}

	iterations := shape[len(shape)-1]
	positions := stack[0].Len() / iterations

	series := make([][][]float64, positions)

	for pos := range positions {
		rows := make([][]float64, len(stack))

		for chain, t := range stack {
			start := pos * iterations
			rows[chain] = t.Data[start : start+iterations]
		}

		series[pos] = rows
	}

	return series, nil
}
