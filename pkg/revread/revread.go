// Package revread streams the lines of a text file from last to first without
// loading the file into memory.
package revread

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/dustin/go-humanize"
)

// DefaultBlockSize is the number of bytes read per backward seek.
const DefaultBlockSize = 64 * humanize.KiByte

// ErrInvalidBlockSize is returned when a non-positive block size is requested.
var ErrInvalidBlockSize = errors.New("revread: block size must be positive")

// Option configures a Reader.
type Option func(*Reader)

// WithBlockSize sets the backward read chunk size in bytes.
func WithBlockSize(size int) Option {
	return func(r *Reader) {
		r.blockSize = size
	}
}

// Reader yields lines in last-to-first order. Trailing "\n" and "\r\n"
// terminators are stripped. When the file ends with a terminator the first
// yielded line is empty. A Reader is not restartable.
type Reader struct {
	file      *os.File
	pos       int64
	pending   []byte
	blockSize int
	done      bool
}

// Open opens path for reverse line reading. The caller must Close the reader.
func Open(path string, opts ...Option) (*Reader, error) {
	r := &Reader{blockSize: DefaultBlockSize}

	for _, opt := range opts {
		opt(r)
	}

	if r.blockSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockSize, r.blockSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("revread open: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()

		return nil, fmt.Errorf("revread stat %s: %w", path, err)
	}

	r.file = file
	r.pos = info.Size()

	return r, nil
}

// Next returns the next line in reverse order, or io.EOF once the start of
// the file has been passed.
func (r *Reader) Next() (string, error) {
	for {
		if r.done {
			return "", io.EOF
		}

		cut := bytes.LastIndexByte(r.pending, '\n')
		if cut >= 0 {
			line := trimCR(r.pending[cut+1:])
			r.pending = r.pending[:cut]

			return string(line), nil
		}

		if r.pos == 0 {
			r.done = true
			line := trimCR(r.pending)
			r.pending = nil

			return string(line), nil
		}

		err := r.fill()
		if err != nil {
			return "", err
		}
	}
}

// fill prepends the previous block of the file to the pending buffer.
func (r *Reader) fill() error {
	size := int64(r.blockSize)
	if size > r.pos {
		size = r.pos
	}

	r.pos -= size

	joined := make([]byte, int(size)+len(r.pending))

	_, err := r.file.ReadAt(joined[:size], r.pos)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("revread read at %d: %w", r.pos, err)
	}

	copy(joined[size:], r.pending)
	r.pending = joined

	return nil
}

// Lines returns an iterator over the remaining lines in reverse order.
// Iteration stops at the first read error, which is yielded once.
func (r *Reader) Lines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			line, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}

			if err != nil {
				yield("", err)

				return
			}

			if !yield(line, nil) {
				return
			}
		}
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}

	err := r.file.Close()
	r.file = nil

	if err != nil {
		return fmt.Errorf("revread close: %w", err)
	}

	return nil
}

// ReadAll returns every line of path in reverse order.
func ReadAll(path string, opts ...Option) ([]string, error) {
	r, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}

	defer r.Close()

	var lines []string

	for line, lineErr := range r.Lines() {
		if lineErr != nil {
			return nil, lineErr
		}

		lines = append(lines, line)
	}

	return lines, nil
}

func trimCR(line []byte) []byte {
	return bytes.TrimSuffix(line, []byte{'\r'})
}
