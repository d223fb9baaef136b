package chainstream

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/chainstat/pkg/chainindex"
)

// Sentinel errors.
var (
	ErrCursorMismatch    = errors.New("line cursor does not match block boundary")
	ErrPrematureEOF      = errors.New("chain file ended inside a block")
	ErrTrailingLines     = errors.New("chain file has lines past the last block")
	ErrMissingValueField = errors.New("chain line has no value field")
	ErrBadValue          = errors.New("chain value is not a number")
	ErrUnknownVariable   = errors.New("no tensor allocated for variable")
)

// ConsistencyError reports that the chain file and the index disagree. It is
// fatal for the reconstruction: none of the partially filled tensors can be
// trusted.
type ConsistencyError struct {
	Block    chainindex.Block
	Expected int
	Got      int
	Err      error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("chain/index mismatch at %s: expected line %d, got %d: %v",
		e.Block, e.Expected, e.Got, e.Err)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

// ValueError reports an unparsable chain line.
type ValueError struct {
	// Line is the 0-based chain-file line number.
	Line     int
	Variable string
	Content  string
	Err      error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("chain line %d (%s) %q: %v", e.Line, e.Variable, e.Content, e.Err)
}

func (e *ValueError) Unwrap() error {
	return e.Err
}
