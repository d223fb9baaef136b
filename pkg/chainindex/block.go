// Package chainindex parses sampler index files into block descriptors and
// infers the full tensor shape of every variable they describe.
//
// An index line has the form
//
//	name            start end
//	name[i1,...,ik] start end
//
// with 1-based bracket indices and 1-based inclusive chain-file line numbers.
package chainindex

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/chainstat/pkg/tensor"
)

// Index line field count.
const indexFields = 3

// Sentinel parse errors.
var (
	ErrFieldCount   = errors.New("expected 3 whitespace-separated fields")
	ErrBracket      = errors.New("malformed bracket syntax")
	ErrEmptyName    = errors.New("empty variable name")
	ErrBadInteger   = errors.New("not an integer")
	ErrNonPositive  = errors.New("indices and line numbers are 1-based")
	ErrInvertedLine = errors.New("start line after end line")
)

// Block describes one contiguous run of chain-file lines belonging to a
// single (variable, fixed index) pair.
type Block struct {
	// Variable is the parameter name.
	Variable string
	// Index holds the 1-based bracket indices as written; empty for scalars.
	Index []int
	// Start and End are 0-based inclusive chain-file line numbers.
	Start int
	End   int
}

// RunLength is the number of chain-file lines the block occupies.
func (b Block) RunLength() int {
	return b.End - b.Start + 1
}

// Dims returns the defining tuple of the block: its bracket indices followed
// by its run length.
func (b Block) Dims() []int {
	dims := make([]int, 0, len(b.Index)+1)
	dims = append(dims, b.Index...)

	return append(dims, b.RunLength())
}

// Key renders the block's token the way it appears in the index file.
func (b Block) Key() string {
	if len(b.Index) == 0 {
		return b.Variable
	}

	parts := make([]string, len(b.Index))
	for i, idx := range b.Index {
		parts[i] = strconv.Itoa(idx)
	}

	return b.Variable + "[" + strings.Join(parts, ",") + "]"
}

// String implements fmt.Stringer.
func (b Block) String() string {
	return fmt.Sprintf("%s lines %d-%d", b.Key(), b.Start, b.End)
}

// Equal reports whether two blocks describe the same run.
func (b Block) Equal(other Block) bool {
	return b.Variable == other.Variable &&
		slices.Equal(b.Index, other.Index) &&
		b.Start == other.Start &&
		b.End == other.End
}

// ParseLine parses a single non-empty index line.
func ParseLine(line string) (Block, error) {
	fields := strings.Fields(line)
	if len(fields) != indexFields {
		return Block{}, fmt.Errorf("%w: got %d", ErrFieldCount, len(fields))
	}

	name, index, err := parseToken(fields[0])
	if err != nil {
		return Block{}, err
	}

	start, err := parsePositive(fields[1])
	if err != nil {
		return Block{}, fmt.Errorf("start line: %w", err)
	}

	end, err := parsePositive(fields[2])
	if err != nil {
		return Block{}, fmt.Errorf("end line: %w", err)
	}

	if start > end {
		return Block{}, fmt.Errorf("%w: %d > %d", ErrInvertedLine, start, end)
	}

	block := Block{
		Variable: name,
		Index:    index,
		Start:    start - 1,
		End:      end - 1,
	}

	_, err = tensor.Volume(block.Dims()...)
	if err != nil {
		return Block{}, fmt.Errorf("%s: %w", block.Key(), err)
	}

	return block, nil
}

func parseToken(token string) (string, []int, error) {
	open := strings.IndexByte(token, '[')
	if open < 0 {
		if strings.ContainsRune(token, ']') {
			return "", nil, fmt.Errorf("%w: unmatched ']' in %q", ErrBracket, token)
		}

		return token, nil, nil
	}

	name := token[:open]
	if name == "" {
		return "", nil, fmt.Errorf("%w: %q", ErrEmptyName, token)
	}

	inner, ok := strings.CutSuffix(token[open+1:], "]")
	if !ok || inner == "" || strings.ContainsAny(inner, "[]") {
		return "", nil, fmt.Errorf("%w: %q", ErrBracket, token)
	}

	var index []int

	for part := range strings.SplitSeq(inner, ",") {
		idx, err := parsePositive(strings.TrimSpace(part))
		if err != nil {
			return "", nil, fmt.Errorf("index in %q: %w", token, err)
		}

		index = append(index, idx)
	}

	return name, index, nil
}

func parsePositive(field string) (int, error) {
	value, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadInteger, field)
	}

	if value < 1 {
		return 0, fmt.Errorf("%w: %d", ErrNonPositive, value)
	}

	return value, nil
}
