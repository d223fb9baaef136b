// Package tensor provides dense row-major float64 arrays with an explicit
// fill bitmap, used to hold reconstructed chain variables.
package tensor

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"slices"
)

const (
	wordBits    = 64
	float64Size = 8
)

// MaxCells is the largest cell count whose float64 payload fits in an int.
const MaxCells = math.MaxInt / float64Size

// Sentinel errors.
var (
	ErrEmptyShape    = errors.New("tensor shape must have at least one axis")
	ErrBadDimension  = errors.New("tensor dimensions must be positive")
	ErrTooLarge      = errors.New("tensor shape exceeds the addressable cell count")
	ErrRank          = errors.New("index rank does not match tensor rank")
	ErrOutOfRange    = errors.New("index out of range")
	ErrDataLength    = errors.New("data length does not match shape")
	ErrShapeMismatch = errors.New("tensor shapes differ")
)

// Sentinel is the value stored in cells that have not been written.
var Sentinel = math.NaN()

// Tensor is a dense row-major float64 array. Every cell starts out holding
// the Sentinel value; the fill bitmap records which cells were written so
// that a legitimately stored NaN is still distinguishable from a gap.
type Tensor struct {
	Shape []int
	Data  []float64

	strides []int
	filled  []uint64
}

// New allocates a tensor of the given shape filled with the Sentinel value.
func New(shape ...int) (*Tensor, error) {
	size, err := Volume(shape...)
	if err != nil {
		return nil, err
	}

	data := make([]float64, size)
	for i := range data {
		data[i] = Sentinel
	}

	return &Tensor{
		Shape:   slices.Clone(shape),
		Data:    data,
		strides: strides(shape),
		filled:  make([]uint64, wordsFor(size)),
	}, nil
}

// FromData wraps existing data. filled is the packed fill bitmap; a nil
// bitmap marks every non-NaN cell as filled.
func FromData(shape []int, data []float64, filled []uint64) (*Tensor, error) {
	size, err := Volume(shape...)
	if err != nil {
		return nil, err
	}

	if len(data) != size {
		return nil, fmt.Errorf("%w: shape %v needs %d, got %d", ErrDataLength, shape, size, len(data))
	}

	t := &Tensor{
		Shape:   slices.Clone(shape),
		Data:    data,
		strides: strides(shape),
	}

	if filled == nil {
		t.filled = make([]uint64, wordsFor(size))

		for i, v := range data {
			if !math.IsNaN(v) {
				t.markFilled(i)
			}
		}

		return t, nil
	}

	if len(filled) != wordsFor(size) {
		return nil, fmt.Errorf("%w: bitmap has %d words, want %d", ErrDataLength, len(filled), wordsFor(size))
	}

	t.filled = filled

	return t, nil
}

// Allocate creates one Sentinel-filled tensor per variable.
func Allocate(shapes map[string][]int) (map[string]*Tensor, error) {
	tensors := make(map[string]*Tensor, len(shapes))

	for name, shape := range shapes {
		t, err := New(shape...)
		if err != nil {
			return nil, fmt.Errorf("allocate %s: %w", name, err)
		}

		tensors[name] = t
	}

	return tensors, nil
}

// Len returns the number of cells.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Iterations returns the size of the trailing (iteration) axis.
func (t *Tensor) Iterations() int {
	return t.Shape[len(t.Shape)-1]
}

// Offset converts a multi-index into a flat row-major offset.
func (t *Tensor) Offset(idx ...int) (int, error) {
	if len(idx) != len(t.Shape) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrRank, len(idx), len(t.Shape))
	}

	offset := 0

	for axis, i := range idx {
		if i < 0 || i >= t.Shape[axis] {
			return 0, fmt.Errorf("%w: axis %d index %d, size %d", ErrOutOfRange, axis, i, t.Shape[axis])
		}

		offset += i * t.strides[axis]
	}

	return offset, nil
}

// Set writes v at the multi-index.
func (t *Tensor) Set(v float64, idx ...int) error {
	offset, err := t.Offset(idx...)
	if err != nil {
		return err
	}

	t.SetFlat(offset, v)

	return nil
}

// At reads the value at the multi-index.
func (t *Tensor) At(idx ...int) (float64, error) {
	offset, err := t.Offset(idx...)
	if err != nil {
		return 0, err
	}

	return t.Data[offset], nil
}

// SetFlat writes v at a flat offset and marks the cell filled.
func (t *Tensor) SetFlat(offset int, v float64) {
	t.Data[offset] = v
	t.markFilled(offset)
}

// Filled reports whether the cell at a flat offset has been written.
func (t *Tensor) Filled(offset int) bool {
	return t.filled[offset/wordBits]&(1<<(uint(offset)%wordBits)) != 0
}

// Bitmap returns the packed fill bitmap.
func (t *Tensor) Bitmap() []uint64 {
	return t.filled
}

// Missing returns the number of cells never written.
func (t *Tensor) Missing() int {
	written := 0
	for _, word := range t.filled {
		written += bits.OnesCount64(word)
	}

	return len(t.Data) - written
}

func (t *Tensor) markFilled(offset int) {
	t.filled[offset/wordBits] |= 1 << (uint(offset) % wordBits)
}

// Volume returns the number of cells of a shape. Every dimension must be
// positive and the product must not exceed MaxCells.
func Volume(shape ...int) (int, error) {
	if len(shape) == 0 {
		return 0, ErrEmptyShape
	}

	size := uint64(1)

	for _, dim := range shape {
		if dim <= 0 {
			return 0, fmt.Errorf("%w: %v", ErrBadDimension, shape)
		}

		hi, lo := bits.Mul64(size, uint64(dim))
		if hi != 0 || lo > MaxCells {
			return 0, fmt.Errorf("%w: %v", ErrTooLarge, shape)
		}

		size = lo
	}

	return int(size), nil
}

// strides assumes shape already passed Volume.
func strides(shape []int) []int {
	out := make([]int, len(shape))
	step := 1

	for axis := len(shape) - 1; axis >= 0; axis-- {
		out[axis] = step
		step *= shape[axis]
	}

	return out
}

func wordsFor(size int) int {
	return (size + wordBits - 1) / wordBits
}
