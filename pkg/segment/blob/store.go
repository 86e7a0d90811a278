package blob

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/mmap"

	"github.com/speedykv/speedykv/pkg/compression"
	"github.com/speedykv/speedykv/pkg/segment/footer"
)

const (
	// recordChecksumSize prefixes every record with the xxhash64 of its body
	recordChecksumSize = 8
	writeBufferSize    = 64 * 1024
)

// StoreWriter appends records to a blob store file.
//
// Record layout: checksum (8) | uvarint key length | key | encoded value.
// The file ends with a footer carrying the record count, the data size, the
// data checksum and the value codec.
type StoreWriter struct {
	w        *bufio.Writer
	codec    *compression.Manager
	digest   *xxhash.Digest
	offset   uint64
	count    uint64
	scratch  []byte
	finished bool
}

// NewStoreWriter creates a StoreWriter on w. Values are encoded with codec.
func NewStoreWriter(w io.Writer, codec *compression.Manager) *StoreWriter {
	return &StoreWriter{
		w:      bufio.NewWriterSize(w, writeBufferSize),
		codec:  codec,
		digest: xxhash.New(),
	}
}

// Write appends a record and returns its pointer.
func (s *StoreWriter) Write(key, value []byte) (Pointer, error) {
	if s.finished {
		return Pointer{}, ErrFinished
	}

	var checksum [recordChecksumSize]byte
	body := append(s.scratch[:0], checksum[:]...)
	body = binary.AppendUvarint(body, uint64(len(key)))
	body = append(body, key...)

	body, err := s.codec.Encode(body, value)
	if err != nil {
		return Pointer{}, fmt.Errorf("failed to encode value: %w", err)
	}
	s.scratch = body

	if uint64(len(body)) > math.MaxUint32 {
		return Pointer{}, fmt.Errorf("record too large: %d bytes", len(body))
	}
	binary.LittleEndian.PutUint64(body[:recordChecksumSize], xxhash.Sum64(body[recordChecksumSize:]))

	if _, err := s.w.Write(body); err != nil {
		return Pointer{}, fmt.Errorf("failed to write record: %w", err)
	}
	_, _ = s.digest.Write(body)

	ptr := Pointer{Offset: s.offset, Length: uint32(len(body))}
	s.offset += uint64(len(body))
	s.count++
	return ptr, nil
}

// Count returns the number of records written
func (s *StoreWriter) Count() uint64 {
	return s.count
}

// Finish writes the footer and flushes buffered data. The underlying writer
// is not closed.
func (s *StoreWriter) Finish() error {
	if s.finished {
		return ErrFinished
	}
	s.finished = true

	ft := footer.NewFooter(footer.KindStore, uint32(s.codec.Codec()), s.count, s.offset, s.digest.Sum64())
	if _, err := ft.WriteTo(s.w); err != nil {
		return fmt.Errorf("failed to write store footer: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush store: %w", err)
	}
	return nil
}

// Store is a read-only, memory-mapped blob store. Read is safe for
// concurrent use.
type Store struct {
	path   string
	r      *mmap.ReaderAt
	footer *footer.Footer
	codec  *compression.Manager
}

// OpenStore maps the store at path and validates its footer.
func OpenStore(path string) (*Store, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	ft, err := footer.ReadFrom(r, int64(r.Len()))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if ft.Kind != footer.KindStore {
		r.Close()
		return nil, fmt.Errorf("%w: %s: unexpected file kind %s", ErrCorrupt, path, ft.Kind)
	}
	if ft.DataSize+footer.FooterSize != uint64(r.Len()) {
		r.Close()
		return nil, fmt.Errorf("%w: %s: data size %d does not match file size %d", ErrCorrupt, path, ft.DataSize, r.Len())
	}

	codec := compression.Codec(ft.Codec)
	if !codec.Valid() {
		r.Close()
		return nil, fmt.Errorf("%w: %s: unknown codec %d", ErrCorrupt, path, ft.Codec)
	}
	manager, err := compression.NewManager(codec, 0)
	if err != nil {
		r.Close()
		return nil, err
	}

	return &Store{path: path, r: r, footer: ft, codec: manager}, nil
}

// Read returns the key and value stored at ptr.
func (s *Store) Read(ptr Pointer) ([]byte, []byte, error) {
	if ptr.Length < recordChecksumSize+1 || ptr.end() > s.footer.DataSize || ptr.end() < ptr.Offset {
		return nil, nil, fmt.Errorf("%w: %s in %d bytes", ErrPointerOutOfRange, ptr, s.footer.DataSize)
	}

	record := make([]byte, ptr.Length)
	if _, err := s.r.ReadAt(record, int64(ptr.Offset)); err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("failed to read record %s: %w", ptr, err)
	}

	body := record[recordChecksumSize:]
	if binary.LittleEndian.Uint64(record[:recordChecksumSize]) != xxhash.Sum64(body) {
		return nil, nil, fmt.Errorf("%w: record checksum mismatch at %s", ErrCorrupt, ptr)
	}

	keyLen, n := binary.Uvarint(body)
	if n <= 0 || uint64(len(body)-n) < keyLen {
		return nil, nil, fmt.Errorf("%w: bad key length at %s", ErrCorrupt, ptr)
	}
	key := body[n : n+int(keyLen)]

	value, err := s.codec.Decode(body[n+int(keyLen):])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: value at %s: %v", ErrCorrupt, ptr, err)
	}
	return key, value, nil
}

// Verify recomputes the data checksum of the whole store.
func (s *Store) Verify() error {
	digest := xxhash.New()
	if _, err := io.Copy(digest, io.NewSectionReader(s.r, 0, int64(s.footer.DataSize))); err != nil {
		return fmt.Errorf("failed to read store: %w", err)
	}
	if digest.Sum64() != s.footer.DataChecksum {
		return fmt.Errorf("%w: %s: data checksum mismatch", ErrCorrupt, s.path)
	}
	return nil
}

// Len returns the number of records in the store
func (s *Store) Len() uint64 {
	return s.footer.Count
}

// Size returns the file size in bytes
func (s *Store) Size() int64 {
	return int64(s.r.Len())
}

// Codec returns the value codec of the store
func (s *Store) Codec() compression.Codec {
	return s.codec.Codec()
}

// Path returns the file path the store was opened from
func (s *Store) Path() string {
	return s.path
}

// SetPath records a new location after the file has been renamed.
func (s *Store) SetPath(path string) {
	s.path = path
}

// Close unmaps the file
func (s *Store) Close() error {
	s.codec.Close()
	return s.r.Close()
}
