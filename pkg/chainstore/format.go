// Package chainstore persists reconstructed chain variables in a single
// self-describing file per chain and reads them back for analysis.
//
// File layout:
//
//	header   magic "MCCS" + uint32 version
//	blocks   per variable: payload (float64 LE, lz4 or raw) + fill bitmap
//	footer   JSON document describing every variable
//	trailer  uint64 footer length + magic "MCCS"
package chainstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"
)

// Extension is the file suffix of committed chain stores.
const Extension = ".chain"

const (
	magic          = "MCCS"
	formatVersion  = uint32(1)
	headerSize     = len(magic) + 4
	trailerSize    = 8 + len(magic)
	float64Size    = 8
	uint64Size     = 8
	bitmapWordBits = 64
	tmpExtension   = ".tmp"
	dirPerm        = 0o750
	filePerm       = 0o600
)

// Sentinel errors.
var (
	ErrBadMagic         = errors.New("not a chain store")
	ErrBadVersion       = errors.New("unsupported chain store version")
	ErrTornWrite        = errors.New("torn write detected: chain store was not committed")
	ErrVariableNotFound = errors.New("variable not found in chain store")
	ErrCorrupt          = errors.New("chain store is corrupt")
	ErrWriterClosed     = errors.New("chain store writer is closed")
	ErrNoStores         = errors.New("no chain stores found")
)

// Meta describes where a chain store came from.
type Meta struct {
	ChainID   string    `json:"chain_id"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	ChainFile string    `json:"chain_file,omitempty"`
	IndexFile string    `json:"index_file,omitempty"`
}

// Entry locates one variable inside a chain store.
type Entry struct {
	Name             string `json:"name"`
	Shape            []int  `json:"shape"`
	Offset           int64  `json:"offset"`
	Length           int64  `json:"length"`
	RawLength        int64  `json:"raw_length"`
	Compressed       bool   `json:"compressed"`
	BitmapOffset     int64  `json:"bitmap_offset"`
	BitmapLength     int64  `json:"bitmap_length"`
	BitmapCompressed bool   `json:"bitmap_compressed"`
	Missing          int    `json:"missing"`
}

// footer is the JSON document written after the data blocks.
type footer struct {
	Meta    Meta    `json:"meta"`
	Entries []Entry `json:"entries"`
}

// ChainID derives a chain identifier from a chain file path: the base name
// up to its first dot, so "out/CODAchain1.txt" becomes "CODAchain1".
func ChainID(chainPath string) string {
	base := filepath.Base(chainPath)

	id, _, _ := strings.Cut(base, ".")

	return id
}

// PathFor returns the committed store path for chainID under dir.
func PathFor(dir, chainID string) string {
	return filepath.Join(dir, chainID+Extension)
}

// compress returns the lz4 block encoding of raw, or raw itself when it does
// not compress.
func compress(raw []byte) ([]byte, bool, error) {
	if len(raw) == 0 {
		return raw, false, nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))

	written, err := lz4.CompressBlock(raw, compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("lz4 compress: %w", err)
	}

	if written == 0 || written >= len(raw) {
		return raw, false, nil
	}

	return compressed[:written], true, nil
}

// decompress restores a block of rawLength bytes.
func decompress(data []byte, rawLength int64, compressed bool) ([]byte, error) {
	if !compressed {
		if int64(len(data)) != rawLength {
			return nil, fmt.Errorf("%w: raw block has %d bytes, want %d", ErrCorrupt, len(data), rawLength)
		}

		return data, nil
	}

	out := make([]byte, rawLength)

	n, err := lz4.UncompressBlock(data, out)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %w", ErrCorrupt, err)
	}

	if int64(n) != rawLength {
		return nil, fmt.Errorf("%w: block decompressed to %d bytes, want %d", ErrCorrupt, n, rawLength)
	}

	return out, nil
}

func encodeFloats(values []float64) []byte {
	out := make([]byte, len(values)*float64Size)

	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*float64Size:], math.Float64bits(v))
	}

	return out
}

func decodeFloats(raw []byte) []float64 {
	out := make([]float64, len(raw)/float64Size)

	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*float64Size:]))
	}

	return out
}

func encodeWords(words []uint64) []byte {
	out := make([]byte, len(words)*uint64Size)

	for i, w := range words {
		binary.LittleEndian.PutUint64(out[i*uint64Size:], w)
	}

	return out
}

func decodeWords(raw []byte) []uint64 {
	out := make([]uint64, len(raw)/uint64Size)

	for i := range out {
		out[i] = binary.LittleEndian.Uint64(raw[i*uint64Size:])
	}

	return out
}
