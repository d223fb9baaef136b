package tensor_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/chainstat/pkg/tensor"
)

func TestNew_SentinelFilled(t *testing.T) {
	t.Parallel()

	tn, err := tensor.New(2, 1, 3)
	require.NoError(t, err)

	assert.Equal(t, 6, tn.Len())
	assert.Equal(t, 3, tn.Rank())
	assert.Equal(t, 3, tn.Iterations())
	assert.Equal(t, 6, tn.Missing())

	for i, v := range tn.Data {
		assert.True(t, math.IsNaN(v), "cell %d", i)
		assert.False(t, tn.Filled(i))
	}
}

func TestNew_InvalidShapes(t *testing.T) {
	t.Parallel()

	_, err := tensor.New()
	require.ErrorIs(t, err, tensor.ErrEmptyShape)

	_, err = tensor.New(2, 0)
	require.ErrorIs(t, err, tensor.ErrBadDimension)

	_, err = tensor.New(4294967296, 4294967296, 2)
	require.ErrorIs(t, err, tensor.ErrTooLarge)

	_, err = tensor.Allocate(map[string][]int{"x": {1 << 31, 1 << 31, 1 << 31}})
	require.ErrorIs(t, err, tensor.ErrTooLarge)
}

func TestVolume(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		shape   []int
		want    int
		wantErr error
	}{
		{name: "scalar chain", shape: []int{5}, want: 5},
		{name: "matrix", shape: []int{2, 3, 4}, want: 24},
		{name: "at limit", shape: []int{tensor.MaxCells}, want: tensor.MaxCells},
		{name: "past limit", shape: []int{tensor.MaxCells, 2}, wantErr: tensor.ErrTooLarge},
		{name: "wraps to zero", shape: []int{4294967296, 4294967296}, wantErr: tensor.ErrTooLarge},
		{name: "negative", shape: []int{-1}, wantErr: tensor.ErrBadDimension},
		{name: "empty", shape: nil, wantErr: tensor.ErrEmptyShape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tensor.Volume(tt.shape...)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetAt_RowMajor(t *testing.T) {
	t.Parallel()

	tn, err := tensor.New(2, 3, 4)
	require.NoError(t, err)

	offset, err := tn.Offset(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 1*12+2*4+3, offset)

	require.NoError(t, tn.Set(7.5, 1, 0, 2))

	got, err := tn.At(1, 0, 2)
	require.NoError(t, err)
	assert.InDelta(t, 7.5, got, 0)
	assert.Equal(t, 23, tn.Missing())

	_, err = tn.Offset(2, 0, 0)
	require.ErrorIs(t, err, tensor.ErrOutOfRange)

	_, err = tn.Offset(0, 0)
	require.ErrorIs(t, err, tensor.ErrRank)
}

func TestFilled_DistinguishesStoredNaN(t *testing.T) {
	t.Parallel()

	tn, err := tensor.New(3)
	require.NoError(t, err)

	tn.SetFlat(1, math.NaN())

	assert.True(t, tn.Filled(1))
	assert.False(t, tn.Filled(0))
	assert.Equal(t, 2, tn.Missing())
}

func TestFromData(t *testing.T) {
	t.Parallel()

	tn, err := tensor.FromData([]int{2, 2}, []float64{1, math.NaN(), 3, 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tn.Missing())

	withBitmap, err := tensor.FromData([]int{2, 2}, []float64{1, math.NaN(), 3, 4}, []uint64{0b1111})
	require.NoError(t, err)
	assert.Equal(t, 0, withBitmap.Missing())

	_, err = tensor.FromData([]int{3}, []float64{1, 2}, nil)
	require.ErrorIs(t, err, tensor.ErrDataLength)

	_, err = tensor.FromData([]int{3}, []float64{1, 2, 3}, []uint64{1, 2})
	require.ErrorIs(t, err, tensor.ErrDataLength)
}

func TestAllocate(t *testing.T) {
	t.Parallel()

	tensors, err := tensor.Allocate(map[string][]int{
		"alpha": {3},
		"beta":  {2, 1, 2},
	})
	require.NoError(t, err)

	require.Len(t, tensors, 2)
	assert.Equal(t, []int{3}, tensors["alpha"].Shape)
	assert.Equal(t, []int{2, 1, 2}, tensors["beta"].Shape)
	assert.Equal(t, 4, tensors["beta"].Missing())

	_, err = tensor.Allocate(map[string][]int{"bad": {}})
	require.ErrorIs(t, err, tensor.ErrEmptyShape)
}

func TestAllocate_LargeBitmap(t *testing.T) {
	t.Parallel()

	tn, err := tensor.New(130)
	require.NoError(t, err)

	for i := range 130 {
		tn.SetFlat(i, float64(i))
	}

	assert.Equal(t, 0, tn.Missing())
	assert.Len(t, tn.Bitmap(), 3)
}
