package chainindex

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/chainstat/pkg/revread"
	"github.com/Sumatoshi-tech/chainstat/pkg/tensor"
)

// Sentinel structural errors.
var (
	ErrEmptyIndex      = errors.New("index file has no entries")
	ErrRankMismatch    = errors.New("variable blocks disagree on rank")
	ErrDuplicateBlock  = errors.New("duplicate block for the same variable index")
	ErrCoverageGap     = errors.New("chain lines not covered by any block")
	ErrCoverageOverlap = errors.New("chain lines covered by more than one block")
)

// FormatError reports a malformed index line.
type FormatError struct {
	Path string
	// Line is the 1-based line number counted from the start of the file.
	Line    int
	Content string
	Err     error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s:%d: %q: %v", e.Path, e.Line, e.Content, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Shapes maps a variable name to its full tensor shape. The trailing axis is
// always the iteration axis.
type Shapes map[string][]int

// Index is a parsed index file.
type Index struct {
	// Blocks are in forward file order.
	Blocks []Block
	// Shapes holds the inferred shape of every variable.
	Shapes Shapes
	// Order lists variables by first appearance in the file.
	Order []string
}

// LastLine returns the largest 0-based chain-file line the index refers to,
// or -1 for an empty index.
func (ix *Index) LastLine() int {
	last := -1

	for _, b := range ix.Blocks {
		last = max(last, b.End)
	}

	return last
}

// ParseOptions configures Parse.
type ParseOptions struct {
	// BlockSize is the backward read chunk size; zero uses the reader default.
	BlockSize int
}

// Parse reads an index file and returns its blocks in forward order together
// with the inferred variable shapes. Any malformed line aborts the parse.
func Parse(path string, opts ParseOptions) (*Index, error) {
	var readerOpts []revread.Option
	if opts.BlockSize > 0 {
		readerOpts = append(readerOpts, revread.WithBlockSize(opts.BlockSize))
	}

	reader, err := revread.Open(path, readerOpts...)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	defer reader.Close()

	var (
		blocks  []Block
		bad     *FormatError
		fromEnd int
		badAt   int
	)

	// After a malformed line the scan only counts the lines above it, so the
	// error can carry a forward line number.
	for line, readErr := range reader.Lines() {
		if readErr != nil {
			return nil, fmt.Errorf("read index %s: %w", path, readErr)
		}

		fromEnd++

		if bad != nil || strings.TrimSpace(line) == "" {
			continue
		}

		block, parseErr := ParseLine(line)
		if parseErr != nil {
			bad = &FormatError{Path: path, Content: line, Err: parseErr}
			badAt = fromEnd

			continue
		}

		blocks = append(blocks, block)
	}

	if bad != nil {
		bad.Line = fromEnd - badAt + 1

		return nil, bad
	}

	if len(blocks) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyIndex)
	}

	slices.Reverse(blocks)

	ix, err := Build(blocks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return ix, nil
}

// Build assembles an Index from blocks already in forward file order,
// inferring shapes and validating line coverage.
func Build(blocks []Block) (*Index, error) {
	if len(blocks) == 0 {
		return nil, ErrEmptyIndex
	}

	shapes, err := InferShapes(blocks)
	if err != nil {
		return nil, err
	}

	err = ValidateCoverage(blocks)
	if err != nil {
		return nil, err
	}

	return &Index{
		Blocks: blocks,
		Shapes: shapes,
		Order:  variableOrder(blocks),
	}, nil
}

// InferShapes computes every variable's shape as the componentwise maximum of
// the defining tuples of its blocks. Blocks may appear in any order. All
// blocks of one variable must share a rank, which pins the iteration axis to
// the trailing position.
func InferShapes(blocks []Block) (Shapes, error) {
	shapes := make(Shapes)
	seen := make(map[string]struct{}, len(blocks))

	for _, b := range blocks {
		key := b.Key()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBlock, key)
		}

		seen[key] = struct{}{}

		dims := b.Dims()

		shape, ok := shapes[b.Variable]
		if !ok {
			shapes[b.Variable] = dims

			continue
		}

		if len(shape) != len(dims) {
			return nil, fmt.Errorf("%w: %s has rank %d, %s has rank %d",
				ErrRankMismatch, b.Variable, len(shape), key, len(dims))
		}

		for axis, size := range dims {
			shape[axis] = max(shape[axis], size)
		}
	}

	for name, shape := range shapes {
		_, err := tensor.Volume(shape...)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
	}

	return shapes, nil
}

// ValidateCoverage checks that blocks in forward order tile the chain file
// from line 0 with no gaps or overlaps.
func ValidateCoverage(blocks []Block) error {
	next := 0

	for _, b := range blocks {
		switch {
		case b.Start > next:
			return fmt.Errorf("%w: lines %d-%d before %s", ErrCoverageGap, next, b.Start-1, b.Key())
		case b.Start < next:
			return fmt.Errorf("%w: %s starts at line %d, expected %d", ErrCoverageOverlap, b.Key(), b.Start, next)
		}

		next = b.End + 1
	}

	return nil
}

func variableOrder(blocks []Block) []string {
	order := make([]string, 0)
	seen := make(map[string]struct{})

	for _, b := range blocks {
		if _, ok := seen[b.Variable]; ok {
			continue
		}

		seen[b.Variable] = struct{}{}
		order = append(order, b.Variable)
	}

	return order
}
