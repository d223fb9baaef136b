// Package chainstream fills pre-allocated variable tensors from a sampler
// chain file in a single sequential pass driven by the index blocks.
package chainstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Sumatoshi-tech/chainstat/pkg/alg/stats"
	"github.com/Sumatoshi-tech/chainstat/pkg/chainindex"
	"github.com/Sumatoshi-tech/chainstat/pkg/tensor"
)

const (
	readBufferSize = 256 * humanize.KiByte
	valueField     = 1
	etaSmoothing   = 0.1
	percentScale   = 100
)

// Recorder receives per-block timings. Implementations must tolerate being
// called once per block.
type Recorder interface {
	RecordBlock(ctx context.Context, lines int, elapsed time.Duration)
}

// Progress describes reconstruction progress after a block completes.
type Progress struct {
	Done      int
	Total     int
	Percent   float64
	Remaining time.Duration
	Block     chainindex.Block
}

// Options configures a Stream call.
type Options struct {
	// Logger receives progress lines; nil uses slog.Default().
	Logger *slog.Logger
	// ProgressEvery logs progress every N blocks; zero disables logging.
	ProgressEvery int
	// OnProgress, when set, is called after every block.
	OnProgress func(Progress)
	// Recorder, when set, receives per-block timings.
	Recorder Recorder
}

// Stats summarizes a completed stream.
type Stats struct {
	Blocks  int
	Lines   int
	Elapsed time.Duration
}

// StreamFile opens the chain file at path and streams it into tensors.
func StreamFile(
	ctx context.Context, path string, blocks []chainindex.Block, tensors map[string]*tensor.Tensor, opts Options,
) (Stats, error) {
	file, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open chain: %w", err)
	}

	defer file.Close()

	st, err := Stream(ctx, file, blocks, tensors, opts)
	if err != nil {
		return st, fmt.Errorf("%s: %w", path, err)
	}

	return st, nil
}

// Stream consumes r exactly once. Blocks must be in forward index order; each
// consumes RunLength lines whose second field is written along the trailing
// axis of the block's tensor slice.
func Stream(
	ctx context.Context, r io.Reader, blocks []chainindex.Block, tensors map[string]*tensor.Tensor, opts Options,
) (Stats, error) {
	for _, b := range blocks {
		if _, ok := tensors[b.Variable]; !ok {
			return Stats{}, fmt.Errorf("%w: %s", ErrUnknownVariable, b.Variable)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	src := &lineSource{reader: bufio.NewReaderSize(r, readBufferSize)}
	eta := stats.NewEMA(etaSmoothing)
	began := time.Now()
	cursor := 0

	for i, b := range blocks {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return Stats{Blocks: i, Lines: cursor, Elapsed: time.Since(began)}, fmt.Errorf("stream cancelled: %w", ctxErr)
		}

		blockStart := time.Now()

		next, err := fillBlock(src, cursor, b, tensors[b.Variable])
		if err != nil {
			return Stats{Blocks: i, Lines: cursor, Elapsed: time.Since(began)}, err
		}

		cursor = next
		elapsed := time.Since(blockStart)

		if opts.Recorder != nil {
			opts.Recorder.RecordBlock(ctx, b.RunLength(), elapsed)
		}

		eta.Update(elapsed.Seconds())

		report(logger, opts, Progress{
			Done:      i + 1,
			Total:     len(blocks),
			Percent:   float64(i+1) * percentScale / float64(len(blocks)),
			Remaining: eta.Remaining(len(blocks) - i - 1),
			Block:     b,
		})
	}

	err := src.expectEnd(cursor, blocks)
	if err != nil {
		return Stats{Blocks: len(blocks), Lines: cursor, Elapsed: time.Since(began)}, err
	}

	return Stats{Blocks: len(blocks), Lines: cursor, Elapsed: time.Since(began)}, nil
}

// fillBlock consumes one block starting at cursor and returns the cursor of
// the next expected line.
func fillBlock(src *lineSource, cursor int, b chainindex.Block, t *tensor.Tensor) (int, error) {
	if cursor != b.Start {
		return cursor, &ConsistencyError{Block: b, Expected: b.Start, Got: cursor, Err: ErrCursorMismatch}
	}

	base, err := sliceOffset(b, t)
	if err != nil {
		return cursor, &ConsistencyError{Block: b, Expected: b.Start, Got: cursor, Err: err}
	}

	for step := range b.RunLength() {
		line, readErr := src.next()
		if errors.Is(readErr, io.EOF) {
			return cursor, &ConsistencyError{Block: b, Expected: b.End + 1, Got: cursor, Err: ErrPrematureEOF}
		}

		if readErr != nil {
			return cursor, fmt.Errorf("read chain line %d: %w", cursor, readErr)
		}

		value, parseErr := parseValue(line)
		if parseErr != nil {
			return cursor, &ValueError{Line: cursor, Variable: b.Key(), Content: line, Err: parseErr}
		}

		t.SetFlat(base+step, value)
		cursor++
	}

	if cursor != b.End+1 {
		return cursor, &ConsistencyError{Block: b, Expected: b.End + 1, Got: cursor, Err: ErrCursorMismatch}
	}

	return cursor, nil
}

// sliceOffset returns the flat offset of the first iteration of the block's
// slice, converting 1-based bracket indices to 0-based positions.
func sliceOffset(b chainindex.Block, t *tensor.Tensor) (int, error) {
	idx := make([]int, 0, len(b.Index)+1)

	for _, i := range b.Index {
		idx = append(idx, i-1)
	}

	idx = append(idx, 0)

	offset, err := t.Offset(idx...)
	if err != nil {
		return 0, fmt.Errorf("slice of %s: %w", b.Key(), err)
	}

	if b.RunLength() > t.Iterations() {
		return 0, fmt.Errorf("slice of %s: %w: run %d exceeds %d iterations",
			b.Key(), tensor.ErrOutOfRange, b.RunLength(), t.Iterations())
	}

	return offset, nil
}

func parseValue(line string) (float64, error) {
	fields := strings.Fields(line)
	if len(fields) <= valueField {
		return 0, ErrMissingValueField
	}

	value, err := strconv.ParseFloat(fields[valueField], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadValue, fields[valueField])
	}

	return value, nil
}

func report(logger *slog.Logger, opts Options, p Progress) {
	if opts.OnProgress != nil {
		opts.OnProgress(p)
	}

	if opts.ProgressEvery <= 0 {
		return
	}

	if p.Done%opts.ProgressEvery != 0 && p.Done != p.Total {
		return
	}

	logger.Info("reconstructing",
		"complete", fmt.Sprintf("%.2f%%", p.Percent),
		"remaining", p.Remaining.Round(time.Millisecond),
		"block", p.Block.String(),
	)
}

// lineSource reads newline-terminated lines of any length.
type lineSource struct {
	reader *bufio.Reader
}

func (s *lineSource) next() (string, error) {
	line, err := s.reader.ReadString('\n')
	if errors.Is(err, io.EOF) {
		if line == "" {
			return "", io.EOF
		}

		return strings.TrimRight(line, "\r"), nil
	}

	if err != nil {
		return "", fmt.Errorf("read line: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// expectEnd verifies nothing but blank lines follow the last block.
func (s *lineSource) expectEnd(cursor int, blocks []chainindex.Block) error {
	line, err := s.next()

	for ; err == nil; line, err = s.next() {
		if strings.TrimSpace(line) != "" {
			last := chainindex.Block{}
			if len(blocks) > 0 {
				last = blocks[len(blocks)-1]
			}

			return &ConsistencyError{Block: last, Expected: cursor, Got: cursor + 1, Err: ErrTrailingLines}
		}
	}

	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}
