package chainstream_test

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/chainstat/pkg/chainindex"
	"github.com/Sumatoshi-tech/chainstat/pkg/chainstream"
	"github.com/Sumatoshi-tech/chainstat/pkg/tensor"
)

func exampleIndex(t *testing.T) *chainindex.Index {
	t.Helper()

	ix, err := chainindex.Build([]chainindex.Block{
		{Variable: "alpha", Start: 0, End: 2},
		{Variable: "beta", Index: []int{1, 1}, Start: 3, End: 4},
		{Variable: "beta", Index: []int{2, 1}, Start: 5, End: 6},
	})
	require.NoError(t, err)

	return ix
}

func chainText(values ...float64) string {
	var sb strings.Builder

	for i, v := range values {
		fmt.Fprintf(&sb, "%d %g\n", i+1, v)
	}

	return sb.String()
}

func allocate(t *testing.T, ix *chainindex.Index) map[string]*tensor.Tensor {
	t.Helper()

	tensors, err := tensor.Allocate(ix.Shapes)
	require.NoError(t, err)

	return tensors
}

func TestStream_RoundTripExample(t *testing.T) {
	t.Parallel()

	ix := exampleIndex(t)
	tensors := allocate(t, ix)

	st, err := chainstream.Stream(context.Background(),
		strings.NewReader(chainText(1, 2, 3, 4, 5, 6, 7)), ix.Blocks, tensors, chainstream.Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, st.Blocks)
	assert.Equal(t, 7, st.Lines)

	assert.Equal(t, []float64{1, 2, 3}, tensors["alpha"].Data)

	beta := tensors["beta"]
	assert.Equal(t, []int{2, 1, 2}, beta.Shape)

	first, err := beta.At(0, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 4, first, 0)

	second, err := beta.At(1, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 6, second, 0)

	last, err := beta.At(1, 0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 7, last, 0)

	for name, tn := range tensors {
		assert.Zero(t, tn.Missing(), name)
	}
}

func TestStream_ShorterRunsLeaveDetectableGaps(t *testing.T) {
	t.Parallel()

	ix, err := chainindex.Build([]chainindex.Block{
		{Variable: "theta", Index: []int{1}, Start: 0, End: 2},
		{Variable: "theta", Index: []int{2}, Start: 3, End: 4},
	})
	require.NoError(t, err)

	tensors := allocate(t, ix)

	_, err = chainstream.Stream(context.Background(),
		strings.NewReader(chainText(1, 2, 3, 4, 5)), ix.Blocks, tensors, chainstream.Options{})
	require.NoError(t, err)

	theta := tensors["theta"]
	assert.Equal(t, 1, theta.Missing())

	gap, err := theta.At(1, 2)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(gap))
}

func TestStream_PrematureEOF(t *testing.T) {
	t.Parallel()

	ix := exampleIndex(t)

	_, err := chainstream.Stream(context.Background(),
		strings.NewReader(chainText(1, 2, 3, 4, 5, 6)), ix.Blocks, allocate(t, ix), chainstream.Options{})
	require.ErrorIs(t, err, chainstream.ErrPrematureEOF)

	var consistency *chainstream.ConsistencyError
	require.ErrorAs(t, err, &consistency)
	assert.Equal(t, "beta", consistency.Block.Variable)
	assert.Equal(t, 7, consistency.Expected)
	assert.Equal(t, 6, consistency.Got)
}

func TestStream_TrailingLines(t *testing.T) {
	t.Parallel()

	ix := exampleIndex(t)

	_, err := chainstream.Stream(context.Background(),
		strings.NewReader(chainText(1, 2, 3, 4, 5, 6, 7, 8)), ix.Blocks, allocate(t, ix), chainstream.Options{})
	require.ErrorIs(t, err, chainstream.ErrTrailingLines)
}

func TestStream_TrailingBlankLinesAccepted(t *testing.T) {
	t.Parallel()

	ix := exampleIndex(t)

	_, err := chainstream.Stream(context.Background(),
		strings.NewReader(chainText(1, 2, 3, 4, 5, 6, 7)+"\n\n"), ix.Blocks, allocate(t, ix), chainstream.Options{})
	require.NoError(t, err)
}

func TestStream_NoFinalTerminator(t *testing.T) {
	t.Parallel()

	ix := exampleIndex(t)
	text := strings.TrimSuffix(chainText(1, 2, 3, 4, 5, 6, 7), "\n")

	tensors := allocate(t, ix)

	_, err := chainstream.Stream(context.Background(), strings.NewReader(text), ix.Blocks, tensors, chainstream.Options{})
	require.NoError(t, err)

	last, err := tensors["beta"].At(1, 0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 7, last, 0)
}

func TestStream_CursorMismatch(t *testing.T) {
	t.Parallel()

	blocks := []chainindex.Block{
		{Variable: "alpha", Start: 0, End: 2},
		{Variable: "mu", Start: 4, End: 5},
	}

	tensors, err := tensor.Allocate(map[string][]int{"alpha": {3}, "mu": {2}})
	require.NoError(t, err)

	_, err = chainstream.Stream(context.Background(),
		strings.NewReader(chainText(1, 2, 3, 4, 5, 6)), blocks, tensors, chainstream.Options{})
	require.ErrorIs(t, err, chainstream.ErrCursorMismatch)
}

func TestStream_BadValues(t *testing.T) {
	t.Parallel()

	ix := exampleIndex(t)

	_, err := chainstream.Stream(context.Background(),
		strings.NewReader("1 1\n2 oops\n"), ix.Blocks, allocate(t, ix), chainstream.Options{})
	require.ErrorIs(t, err, chainstream.ErrBadValue)

	var valueErr *chainstream.ValueError
	require.ErrorAs(t, err, &valueErr)
	assert.Equal(t, 1, valueErr.Line)
	assert.Equal(t, "2 oops", valueErr.Content)

	_, err = chainstream.Stream(context.Background(),
		strings.NewReader("1\n"), ix.Blocks, allocate(t, ix), chainstream.Options{})
	require.ErrorIs(t, err, chainstream.ErrMissingValueField)
}

func TestStream_UnknownVariable(t *testing.T) {
	t.Parallel()

	ix := exampleIndex(t)

	_, err := chainstream.Stream(context.Background(), strings.NewReader(""), ix.Blocks,
		map[string]*tensor.Tensor{}, chainstream.Options{})
	require.ErrorIs(t, err, chainstream.ErrUnknownVariable)
}

func TestStream_Cancelled(t *testing.T) {
	t.Parallel()

	ix := exampleIndex(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := chainstream.Stream(ctx, strings.NewReader(chainText(1, 2, 3, 4, 5, 6, 7)), ix.Blocks,
		allocate(t, ix), chainstream.Options{})
	require.ErrorIs(t, err, context.Canceled)
}

type recorder struct {
	lines  int
	blocks int
}

func (r *recorder) RecordBlock(_ context.Context, lines int, _ time.Duration) {
	r.blocks++
	r.lines += lines
}

func TestStream_ProgressAndRecorder(t *testing.T) {
	t.Parallel()

	ix := exampleIndex(t)
	rec := &recorder{}

	var progress []chainstream.Progress

	_, err := chainstream.Stream(context.Background(),
		strings.NewReader(chainText(1, 2, 3, 4, 5, 6, 7)), ix.Blocks, allocate(t, ix), chainstream.Options{
			ProgressEvery: 1,
			Recorder:      rec,
			OnProgress:    func(p chainstream.Progress) { progress = append(progress, p) },
		})
	require.NoError(t, err)

	assert.Equal(t, 3, rec.blocks)
	assert.Equal(t, 7, rec.lines)

	require.Len(t, progress, 3)
	assert.Equal(t, 1, progress[0].Done)
	assert.Equal(t, 3, progress[2].Total)
	assert.InDelta(t, 100, progress[2].Percent, 1e-9)
	assert.Equal(t, time.Duration(0), progress[2].Remaining)
}

func TestStreamFile(t *testing.T) {
	t.Parallel()

	ix := exampleIndex(t)
	path := filepath.Join(t.TempDir(), "CODAchain1.txt")
	require.NoError(t, os.WriteFile(path, []byte(chainText(1, 2, 3, 4, 5, 6, 7)), 0o600))

	st, err := chainstream.StreamFile(context.Background(), path, ix.Blocks, allocate(t, ix), chainstream.Options{})
	require.NoError(t, err)
	assert.Equal(t, 7, st.Lines)

	_, err = chainstream.StreamFile(context.Background(), path+".missing", ix.Blocks, allocate(t, ix), chainstream.Options{})
	require.ErrorIs(t, err, os.ErrNotExist)
}
