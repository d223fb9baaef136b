package chainstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"

	"github.com/Sumatoshi-tech/chainstat/pkg/persist"
	"github.com/Sumatoshi-tech/chainstat/pkg/safeconv"
	"github.com/Sumatoshi-tech/chainstat/pkg/tensor"
)

// Reader gives random access to the variables of a committed chain store.
// Load is safe for concurrent use.
type Reader struct {
	path    string
	file    *os.File
	size    int64
	meta    Meta
	entries map[string]Entry
	names   []string
}

// Open opens the store at path and reads its footer. The file handle stays
// open until Close.
func Open(path string) (*Reader, error) {
	_, statErr := os.Stat(path + tmpExtension)
	if statErr == nil {
		return nil, fmt.Errorf("%w: %s has uncommitted file %s", ErrTornWrite, path, path+tmpExtension)
	}

	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, fmt.Errorf("chain store open: %w", openErr)
	}

	r := &Reader{path: path, file: file}

	loadErr := r.loadFooter()
	if loadErr != nil {
		file.Close()

		return nil, fmt.Errorf("chain store %s: %w", path, loadErr)
	}

	return r, nil
}

func (r *Reader) loadFooter() error {
	info, statErr := r.file.Stat()
	if statErr != nil {
		return fmt.Errorf("stat: %w", statErr)
	}

	r.size = info.Size()

	if r.size < int64(headerSize+trailerSize) {
		return fmt.Errorf("%w: file has %d bytes", ErrBadMagic, r.size)
	}

	header := make([]byte, headerSize)

	_, readErr := r.file.ReadAt(header, 0)
	if readErr != nil {
		return fmt.Errorf("read header: %w", readErr)
	}

	if string(header[:len(magic)]) != magic {
		return ErrBadMagic
	}

	version := binary.LittleEndian.Uint32(header[len(magic):])
	if version != formatVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, version)
	}

	trailer := make([]byte, trailerSize)

	_, readErr = r.file.ReadAt(trailer, r.size-int64(trailerSize))
	if readErr != nil {
		return fmt.Errorf("read trailer: %w", readErr)
	}

	if string(trailer[uint64Size:]) != magic {
		return fmt.Errorf("%w: missing trailer", ErrCorrupt)
	}

	footerLength := binary.LittleEndian.Uint64(trailer)
	footerEnd := r.size - int64(trailerSize)

	if footerLength > safeconv.MustInt64ToUint64(footerEnd-int64(headerSize)) {
		return fmt.Errorf("%w: footer length %d exceeds file", ErrCorrupt, footerLength)
	}

	length := safeconv.MustUint64ToInt64(footerLength)
	footerStart := footerEnd - length

	var doc footer

	decodeErr := (&persist.JSONCodec{}).Decode(io.NewSectionReader(r.file, footerStart, length), &doc)
	if decodeErr != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, decodeErr)
	}

	r.meta = doc.Meta
	r.entries = make(map[string]Entry, len(doc.Entries))

	for _, e := range doc.Entries {
		boundsErr := checkBounds(e, footerStart)
		if boundsErr != nil {
			return boundsErr
		}

		r.entries[e.Name] = e
		r.names = append(r.names, e.Name)
	}

	sort.Strings(r.names)

	return nil
}

func checkBounds(e Entry, limit int64) error {
	inside := func(offset, length int64) bool {
		return offset >= int64(headerSize) && length >= 0 && offset+length <= limit
	}

	if !inside(e.Offset, e.Length) || !inside(e.BitmapOffset, e.BitmapLength) {
		return fmt.Errorf("%w: entry %s points outside the data section", ErrCorrupt, e.Name)
	}

	cells, err := tensor.Volume(e.Shape...)
	if err != nil {
		return fmt.Errorf("%w: entry %s: %w", ErrCorrupt, e.Name, err)
	}

	if e.RawLength != int64(cells)*float64Size {
		return fmt.Errorf("%w: entry %s has shape %v and %d raw bytes", ErrCorrupt, e.Name, e.Shape, e.RawLength)
	}

	return nil
}

// Path returns the store path.
func (r *Reader) Path() string {
	return r.path
}

// Size returns the store size in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// Meta returns the store metadata.
func (r *Reader) Meta() Meta {
	return r.meta
}

// Variables returns the stored variable names in sorted order.
func (r *Reader) Variables() []string {
	return slices.Clone(r.names)
}

// Entry returns the footer entry of a variable.
func (r *Reader) Entry(name string) (Entry, bool) {
	e, ok := r.entries[name]

	return e, ok
}

// Load decodes one variable.
func (r *Reader) Load(name string) (*tensor.Tensor, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrVariableNotFound, name, r.path)
	}

	raw, err := r.readBlock(e.Offset, e.Length, e.RawLength, e.Compressed)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	words := (e.RawLength/float64Size + bitmapWordBits - 1) / bitmapWordBits

	bitmap, err := r.readBlock(e.BitmapOffset, e.BitmapLength, words*uint64Size, e.BitmapCompressed)
	if err != nil {
		return nil, fmt.Errorf("load %s bitmap: %w", name, err)
	}

	t, err := tensor.FromData(e.Shape, decodeFloats(raw), decodeWords(bitmap))
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrCorrupt, name, err)
	}

	if t.Missing() != e.Missing {
		return nil, fmt.Errorf("%w: %s has %d missing cells, footer says %d", ErrCorrupt, name, t.Missing(), e.Missing)
	}

	return t, nil
}

// LoadAll decodes every variable.
func (r *Reader) LoadAll() (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor, len(r.names))

	for _, name := range r.names {
		t, err := r.Load(name)
		if err != nil {
			return nil, err
		}

		out[name] = t
	}

	return out, nil
}

// Close releases the file handle. Idempotent.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}

	err := r.file.Close()
	r.file = nil

	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("chain store close %s: %w", r.path, err)
	}

	return nil
}

func (r *Reader) readBlock(offset, length, rawLength int64, compressed bool) ([]byte, error) {
	if r.file == nil {
		return nil, fmt.Errorf("%w: reader closed", os.ErrClosed)
	}

	data := make([]byte, length)

	_, err := r.file.ReadAt(data, offset)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	return decompress(data, rawLength, compressed)
}
