// Package keyindex implements the sorted key index of a segment: an FST that
// maps every key to its dense id.
package keyindex

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/blevesearch/vellum"
	"github.com/cespare/xxhash/v2"

	"github.com/speedykv/speedykv/pkg/segment/footer"
)

var (
	// ErrCorrupt indicates a key index file that cannot be decoded
	ErrCorrupt = errors.New("keyindex: corrupt index")
	// ErrOutOfOrder is returned when keys are not inserted in strictly ascending order
	ErrOutOfOrder = errors.New("keyindex: keys not inserted in ascending order")
	// ErrFinished is returned when inserting after Finish
	ErrFinished = errors.New("keyindex: writer already finished")
)

// Writer builds a key index from keys supplied in ascending order. The FST
// is followed by a footer carrying the key count and a checksum of the FST
// bytes.
type Writer struct {
	out      *checksumWriter
	builder  *vellum.Builder
	last     []byte
	count    uint64
	finished bool
}

// checksumWriter counts and hashes everything written through it
type checksumWriter struct {
	w      io.Writer
	digest *xxhash.Digest
	n      uint64
}

func (c *checksumWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	_, _ = c.digest.Write(p[:n])
	c.n += uint64(n)
	return n, err
}

// NewWriter creates a Writer streaming the index to w
func NewWriter(w io.Writer) (*Writer, error) {
	out := &checksumWriter{w: w, digest: xxhash.New()}
	builder, err := vellum.New(out, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create key index builder: %w", err)
	}
	return &Writer{out: out, builder: builder}, nil
}

// Insert adds key with its id. Keys must be strictly ascending.
func (w *Writer) Insert(key []byte, id uint64) error {
	if w.finished {
		return ErrFinished
	}
	if w.count > 0 && bytes.Compare(key, w.last) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrOutOfOrder, key, w.last)
	}

	if err := w.builder.Insert(key, id); err != nil {
		if errors.Is(err, vellum.ErrOutOfOrder) {
			return fmt.Errorf("%w: %q", ErrOutOfOrder, key)
		}
		return fmt.Errorf("failed to insert key: %w", err)
	}

	w.last = append(w.last[:0], key...)
	w.count++
	return nil
}

// Count returns the number of keys inserted
func (w *Writer) Count() uint64 {
	return w.count
}

// Finish writes the remaining FST nodes and the footer. The underlying
// writer is not closed.
func (w *Writer) Finish() error {
	if w.finished {
		return ErrFinished
	}
	w.finished = true

	if err := w.builder.Close(); err != nil {
		return fmt.Errorf("failed to finish key index: %w", err)
	}

	ft := footer.NewFooter(footer.KindKeyIndex, 0, w.count, w.out.n, w.out.digest.Sum64())
	if _, err := ft.WriteTo(w.out.w); err != nil {
		return fmt.Errorf("failed to write key index footer: %w", err)
	}
	return nil
}

// Index is an opened, read-only key index. All methods are safe for
// concurrent use.
type Index struct {
	path string
	fst  *vellum.FST
	size int64
}

// Open loads the key index stored at path and verifies its checksum.
func Open(path string) (idx *Index, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key index: %w", err)
	}

	ft, err := footer.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if ft.Kind != footer.KindKeyIndex {
		return nil, fmt.Errorf("%w: %s: unexpected file kind %s", ErrCorrupt, path, ft.Kind)
	}
	if ft.DataSize+footer.FooterSize != uint64(len(data)) {
		return nil, fmt.Errorf("%w: %s: %d data bytes do not fit %d", ErrCorrupt, path, ft.DataSize, len(data))
	}
	body := data[:ft.DataSize]
	if xxhash.Sum64(body) != ft.DataChecksum {
		return nil, fmt.Errorf("%w: %s: data checksum mismatch", ErrCorrupt, path)
	}

	// The FST decoder indexes into the bytes directly and panics on
	// malformed input.
	defer func() {
		if r := recover(); r != nil {
			idx = nil
			err = fmt.Errorf("%w: %s: %v", ErrCorrupt, path, r)
		}
	}()

	fst, err := vellum.Load(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if uint64(fst.Len()) != ft.Count {
		return nil, fmt.Errorf("%w: %s: footer counts %d keys, index holds %d", ErrCorrupt, path, ft.Count, fst.Len())
	}

	return &Index{path: path, fst: fst, size: int64(len(data))}, nil
}

// recoverCorrupt turns a decoder panic into an ErrCorrupt error in *err
func recoverCorrupt(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s: %v", ErrCorrupt, op, r)
	}
}

// Get returns the id stored for key.
func (x *Index) Get(key []byte) (id uint64, ok bool, err error) {
	defer recoverCorrupt("lookup", &err)

	id, ok, err = x.fst.Get(key)
	if err != nil {
		return 0, false, fmt.Errorf("%w: lookup: %v", ErrCorrupt, err)
	}
	return id, ok, nil
}

// Range returns the keys within bounds in ascending order.
func (x *Index) Range(bounds Bounds) *Iterator {
	return x.Search(nil, bounds)
}

// Search returns the keys within bounds accepted by aut, in ascending order.
// A nil automaton matches every key.
func (x *Index) Search(aut Automaton, bounds Bounds) (result *Iterator) {
	start, end, ok := bounds.toHalfOpen()
	if !ok {
		return &Iterator{done: true}
	}

	var (
		itr *vellum.FSTIterator
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			result = &Iterator{done: true, err: fmt.Errorf("%w: seek: %v", ErrCorrupt, r)}
		}
	}()
	if aut == nil {
		itr, err = x.fst.Iterator(start, end)
	} else {
		itr, err = x.fst.Search(adapt(aut), start, end)
	}

	switch {
	case errors.Is(err, vellum.ErrIteratorDone):
		return &Iterator{done: true}
	case err != nil:
		return &Iterator{done: true, err: fmt.Errorf("%w: seek: %v", ErrCorrupt, err)}
	}
	return &Iterator{itr: itr}
}

// Len returns the number of keys in the index
func (x *Index) Len() int {
	return x.fst.Len()
}

// Size returns the file size in bytes
func (x *Index) Size() int64 {
	return x.size
}

// Path returns the file path the index was opened from
func (x *Index) Path() string {
	return x.path
}

// SetPath records a new location after the file has been renamed.
func (x *Index) SetPath(path string) {
	x.path = path
}

// Close releases the index
func (x *Index) Close() error {
	return x.fst.Close()
}

// Iterator walks (key, id) pairs in ascending key order. Call Next before
// the first access; Key is only valid until the following Next.
type Iterator struct {
	itr     *vellum.FSTIterator
	started bool
	done    bool
	key     []byte
	id      uint64
	err     error
}

// Next advances to the next key and reports whether one exists
func (it *Iterator) Next() (more bool) {
	if it.done {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			it.err = fmt.Errorf("%w: iterate: %v", ErrCorrupt, r)
			it.finish()
			more = false
		}
	}()

	if it.started {
		if err := it.itr.Next(); err != nil {
			if !errors.Is(err, vellum.ErrIteratorDone) {
				it.err = fmt.Errorf("%w: iterate: %v", ErrCorrupt, err)
			}
			it.finish()
			return false
		}
	}
	it.started = true

	key, id := it.itr.Current()
	it.key = append(it.key[:0], key...)
	it.id = id
	return true
}

func (it *Iterator) finish() {
	it.done = true
	it.key = nil
	it.id = 0
}

// Key returns the current key
func (it *Iterator) Key() []byte {
	return it.key
}

// ID returns the id of the current key
func (it *Iterator) ID() uint64 {
	return it.id
}

// Err returns the error that stopped iteration, if any
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator
func (it *Iterator) Close() error {
	it.finish()
	if it.itr == nil {
		return nil
	}
	err := it.itr.Close()
	it.itr = nil
	return err
}
