package blob

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/mmap"

	"github.com/speedykv/speedykv/pkg/segment/footer"
)

// IndexEntrySize is the on-disk size of one pointer: offset (8) | length (4)
const IndexEntrySize = 12

// IndexWriter appends pointers to a blob index file. The id of a pointer is
// its position.
type IndexWriter struct {
	w        *bufio.Writer
	digest   *xxhash.Digest
	count    uint64
	finished bool
}

// NewIndexWriter creates an IndexWriter on w
func NewIndexWriter(w io.Writer) *IndexWriter {
	return &IndexWriter{
		w:      bufio.NewWriterSize(w, writeBufferSize),
		digest: xxhash.New(),
	}
}

// Append stores ptr and returns its id
func (x *IndexWriter) Append(ptr Pointer) (uint64, error) {
	if x.finished {
		return 0, ErrFinished
	}

	var entry [IndexEntrySize]byte
	binary.LittleEndian.PutUint64(entry[0:8], ptr.Offset)
	binary.LittleEndian.PutUint32(entry[8:12], ptr.Length)

	if _, err := x.w.Write(entry[:]); err != nil {
		return 0, fmt.Errorf("failed to write blob index entry: %w", err)
	}
	_, _ = x.digest.Write(entry[:])

	id := x.count
	x.count++
	return id, nil
}

// Count returns the number of pointers appended
func (x *IndexWriter) Count() uint64 {
	return x.count
}

// Finish writes the footer and flushes buffered data
func (x *IndexWriter) Finish() error {
	if x.finished {
		return ErrFinished
	}
	x.finished = true

	ft := footer.NewFooter(footer.KindBlobIndex, 0, x.count, x.count*IndexEntrySize, x.digest.Sum64())
	if _, err := ft.WriteTo(x.w); err != nil {
		return fmt.Errorf("failed to write blob index footer: %w", err)
	}
	if err := x.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush blob index: %w", err)
	}
	return nil
}

// Index is a read-only, memory-mapped blob index.
type Index struct {
	path  string
	r     *mmap.ReaderAt
	count uint64
}

// OpenIndex maps the blob index at path and verifies its checksum.
func OpenIndex(path string) (*Index, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob index: %w", err)
	}

	idx, err := newIndex(path, r)
	if err != nil {
		r.Close()
		return nil, err
	}
	return idx, nil
}

func newIndex(path string, r *mmap.ReaderAt) (*Index, error) {
	ft, err := footer.ReadFrom(r, int64(r.Len()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if ft.Kind != footer.KindBlobIndex {
		return nil, fmt.Errorf("%w: %s: unexpected file kind %s", ErrCorrupt, path, ft.Kind)
	}
	if ft.DataSize != ft.Count*IndexEntrySize || ft.DataSize+footer.FooterSize != uint64(r.Len()) {
		return nil, fmt.Errorf("%w: %s: %d entries do not fit %d bytes", ErrCorrupt, path, ft.Count, r.Len())
	}

	digest := xxhash.New()
	if _, err := io.Copy(digest, io.NewSectionReader(r, 0, int64(ft.DataSize))); err != nil {
		return nil, fmt.Errorf("failed to read blob index: %w", err)
	}
	if digest.Sum64() != ft.DataChecksum {
		return nil, fmt.Errorf("%w: %s: data checksum mismatch", ErrCorrupt, path)
	}

	return &Index{path: path, r: r, count: ft.Count}, nil
}

// Get returns the pointer stored for id
func (x *Index) Get(id uint64) (Pointer, error) {
	if id >= x.count {
		return Pointer{}, fmt.Errorf("%w: %d of %d", ErrIDOutOfRange, id, x.count)
	}

	var entry [IndexEntrySize]byte
	if _, err := x.r.ReadAt(entry[:], int64(id*IndexEntrySize)); err != nil && err != io.EOF {
		return Pointer{}, fmt.Errorf("failed to read blob index entry %d: %w", id, err)
	}

	return Pointer{
		Offset: binary.LittleEndian.Uint64(entry[0:8]),
		Length: binary.LittleEndian.Uint32(entry[8:12]),
	}, nil
}

// Len returns the number of pointers in the index
func (x *Index) Len() uint64 {
	return x.count
}

// Size returns the file size in bytes
func (x *Index) Size() int64 {
	return int64(x.r.Len())
}

// Path returns the file path the index was opened from
func (x *Index) Path() string {
	return x.path
}

// SetPath records a new location after the file has been renamed.
func (x *Index) SetPath(path string) {
	x.path = path
}

// Close unmaps the file
func (x *Index) Close() error {
	return x.r.Close()
}
