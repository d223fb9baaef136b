package chainstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/chainstat/pkg/persist"
	"github.com/Sumatoshi-tech/chainstat/pkg/tensor"
)

// Writer appends variables to a temporary file and publishes it under its
// final name on Commit. Until then no partial store is visible.
type Writer struct {
	path    string
	tmpPath string
	file    *os.File
	offset  int64
	meta    Meta
	entries map[string]Entry
	order   []string
	closed  bool
}

// Create starts a new chain store for chainID under dir. Empty RunID and
// CreatedAt fields of meta are filled in.
func Create(dir, chainID string, meta Meta) (*Writer, error) {
	mkErr := os.MkdirAll(dir, dirPerm)
	if mkErr != nil {
		return nil, fmt.Errorf("chain store create dir: %w", mkErr)
	}

	path := PathFor(dir, chainID)
	tmpPath := path + tmpExtension

	file, openErr := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if openErr != nil {
		return nil, fmt.Errorf("chain store create: %w", openErr)
	}

	header := make([]byte, headerSize)
	copy(header, magic)
	binary.LittleEndian.PutUint32(header[len(magic):], formatVersion)

	_, writeErr := file.Write(header)
	if writeErr != nil {
		file.Close()
		os.Remove(tmpPath)

		return nil, fmt.Errorf("chain store write header: %w", writeErr)
	}

	meta.ChainID = chainID

	if meta.RunID == "" {
		meta.RunID = uuid.NewString()
	}

	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	return &Writer{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
		offset:  int64(headerSize),
		meta:    meta,
		entries: make(map[string]Entry),
	}, nil
}

// Path returns the final path the store is published under.
func (w *Writer) Path() string {
	return w.path
}

// Meta returns the store metadata.
func (w *Writer) Meta() Meta {
	return w.meta
}

// Save writes one variable. Saving a name twice replaces the earlier entry.
func (w *Writer) Save(name string, t *tensor.Tensor) error {
	if w.closed {
		return ErrWriterClosed
	}

	entry := Entry{
		Name:    name,
		Shape:   slices.Clone(t.Shape),
		Missing: t.Missing(),
	}

	payload, compressed, err := compress(encodeFloats(t.Data))
	if err != nil {
		return fmt.Errorf("chain store save %s: %w", name, err)
	}

	entry.RawLength = int64(len(t.Data) * float64Size)
	entry.Compressed = compressed

	entry.Offset, entry.Length, err = w.append(payload)
	if err != nil {
		return fmt.Errorf("chain store save %s: %w", name, err)
	}

	bitmap, bitmapCompressed, err := compress(encodeWords(t.Bitmap()))
	if err != nil {
		return fmt.Errorf("chain store save %s bitmap: %w", name, err)
	}

	entry.BitmapCompressed = bitmapCompressed

	entry.BitmapOffset, entry.BitmapLength, err = w.append(bitmap)
	if err != nil {
		return fmt.Errorf("chain store save %s bitmap: %w", name, err)
	}

	if _, ok := w.entries[name]; !ok {
		w.order = append(w.order, name)
	}

	w.entries[name] = entry

	return nil
}

// Commit writes the footer, syncs and atomically renames the store into
// place. The writer cannot be used afterwards.
func (w *Writer) Commit() error {
	if w.closed {
		return ErrWriterClosed
	}

	w.closed = true

	doc := footer{Meta: w.meta, Entries: make([]Entry, 0, len(w.order))}
	for _, name := range w.order {
		doc.Entries = append(doc.Entries, w.entries[name])
	}

	var buf bytes.Buffer

	encodeErr := (&persist.JSONCodec{}).Encode(&buf, doc)
	if encodeErr != nil {
		return w.fail(fmt.Errorf("chain store footer: %w", encodeErr))
	}

	footerLength := uint64(buf.Len())

	trailer := make([]byte, trailerSize)
	binary.LittleEndian.PutUint64(trailer, footerLength)
	copy(trailer[uint64Size:], magic)
	buf.Write(trailer)

	_, writeErr := w.file.Write(buf.Bytes())
	if writeErr != nil {
		return w.fail(fmt.Errorf("chain store write footer: %w", writeErr))
	}

	syncErr := w.file.Sync()
	if syncErr != nil {
		return w.fail(fmt.Errorf("chain store sync: %w", syncErr))
	}

	closeErr := w.file.Close()
	if closeErr != nil {
		os.Remove(w.tmpPath)

		return fmt.Errorf("chain store close: %w", closeErr)
	}

	renameErr := os.Rename(w.tmpPath, w.path)
	if renameErr != nil {
		os.Remove(w.tmpPath)

		return fmt.Errorf("chain store rename: %w", renameErr)
	}

	return nil
}

// Abort discards the temporary file. Idempotent; a no-op after Commit.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}

	w.closed = true

	closeErr := w.file.Close()
	removeErr := os.Remove(w.tmpPath)

	if errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}

	err := errors.Join(closeErr, removeErr)
	if err != nil {
		return fmt.Errorf("chain store abort: %w", err)
	}

	return nil
}

func (w *Writer) append(data []byte) (int64, int64, error) {
	offset := w.offset

	n, err := w.file.Write(data)
	w.offset += int64(n)

	if err != nil {
		return 0, 0, fmt.Errorf("write: %w", err)
	}

	return offset, int64(n), nil
}

func (w *Writer) fail(err error) error {
	w.file.Close()
	os.Remove(w.tmpPath)

	return err
}
