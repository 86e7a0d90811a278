package segment

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/speedykv/speedykv/pkg/common/log"
	"github.com/speedykv/speedykv/pkg/segment/blob"
	"github.com/speedykv/speedykv/pkg/segment/bloom"
	"github.com/speedykv/speedykv/pkg/segment/keyindex"
)

// Segment is an opened, immutable segment. Reads are safe for concurrent
// use. An iterator advanced after its segment was closed stops with
// ErrClosed.
type Segment struct {
	id        uuid.UUID
	bloom     *bloom.Filter
	bloomSize int64
	keys      *keyindex.Index
	index     *blob.Index
	store     *blob.Store

	opts   Options
	logger log.Logger

	mu     sync.RWMutex
	folder string
	closed bool
}

// Open opens the segment id stored in folder. A missing file yields
// ErrMissingFile, an undecodable one ErrCorruption.
func Open(id uuid.UUID, folder string, opts ...Option) (seg *Segment, err error) {
	o := buildOptions(opts)
	start := time.Now()
	defer func() {
		o.Metrics.RecordOpen(context.Background(), time.Since(start), err)
	}()

	files := FilesFor(folder, id)
	s := &Segment{
		id:     id,
		folder: folder,
		opts:   o,
		logger: o.Logger.WithField("segment", id.String()),
	}
	defer func() {
		if err != nil {
			s.closeFiles()
		}
	}()

	// The bloom file is published last; without it the segment was never created.
	if s.bloom, s.bloomSize, err = readBloom(files.Bloom); err != nil {
		return nil, err
	}

	if s.keys, err = keyindex.Open(files.KeyIndex); err != nil {
		return nil, classify(files.KeyIndex, err)
	}
	if s.index, err = blob.OpenIndex(files.BlobIndex); err != nil {
		return nil, classify(files.BlobIndex, err)
	}
	if s.store, err = blob.OpenStore(files.Store); err != nil {
		return nil, classify(files.Store, err)
	}

	if err := s.checkCounts(); err != nil {
		return nil, err
	}
	if o.VerifyOnOpen {
		if err := s.store.Verify(); err != nil {
			return nil, classify(files.Store, err)
		}
	}

	if o.Tracker != nil {
		o.Tracker.Acquire(id)
	}

	s.logger.Debug("Opened segment with %d items", s.index.Len())
	return s, nil
}

func readBloom(path string) (*bloom.Filter, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, classify(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	filter, err := bloom.ReadFrom(bufio.NewReader(f))
	if err != nil {
		return nil, 0, classify(path, err)
	}
	return filter, info.Size(), nil
}

// classify maps file errors onto ErrMissingFile and ErrCorruption
func classify(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrMissingFile, path)
	case errors.Is(err, bloom.ErrCorrupt), errors.Is(err, keyindex.ErrCorrupt), errors.Is(err, blob.ErrCorrupt):
		return fmt.Errorf("%w: %v", ErrCorruption, err)
	default:
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
}

func (s *Segment) checkCounts() error {
	keys, ids, records := uint64(s.keys.Len()), s.index.Len(), s.store.Len()
	if keys != ids || ids != records {
		return fmt.Errorf("%w: segment %s has %d keys, %d ids and %d records", ErrCorruption, s.id, keys, ids, records)
	}
	return nil
}

// Get returns the value stored for key.
func (s *Segment) Get(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	ctx := context.Background()
	if !s.bloom.Contains(key) {
		s.opts.Metrics.RecordGet(ctx, GetBloomNegative)
		return nil, false, nil
	}

	id, ok, err := s.keys.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	if !ok {
		s.opts.Metrics.RecordGet(ctx, GetFalsePositive)
		return nil, false, nil
	}

	_, value, err := s.resolve(id, key)
	if err != nil {
		return nil, false, err
	}
	s.opts.Metrics.RecordGet(ctx, GetHit)
	return value, true, nil
}

// resolve reads the record of id. When want is non-nil the stored key must
// match it.
func (s *Segment) resolve(id uint64, want []byte) ([]byte, []byte, error) {
	ptr, err := s.index.Get(id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	key, value, err := s.store.Read(ptr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	if want != nil && !bytes.Equal(key, want) {
		return nil, nil, fmt.Errorf("%w: id %d holds key %q, expected %q", ErrCorruption, id, key, want)
	}
	return key, value, nil
}

// Range returns the pairs within bounds in ascending key order.
func (s *Segment) Range(bounds keyindex.Bounds) *Iterator {
	return s.Search(nil, bounds)
}

// Search returns the pairs within bounds whose keys aut accepts, in
// ascending key order. A nil automaton accepts every key.
func (s *Segment) Search(aut keyindex.Automaton, bounds keyindex.Bounds) *Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &Iterator{done: true, err: ErrClosed}
	}
	return &Iterator{seg: s, keys: s.keys.Search(aut, bounds)}
}

// Iter returns every pair in id order, which is ascending key order.
func (s *Segment) Iter() *Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &Iterator{done: true, err: ErrClosed}
	}
	return &Iterator{seg: s, end: s.index.Len()}
}

// Len returns the number of pairs in the segment
func (s *Segment) Len() int {
	return int(s.index.Len())
}

// IsEmpty reports whether the segment holds no pairs
func (s *Segment) IsEmpty() bool {
	return s.Len() == 0
}

// UUID returns the segment id
func (s *Segment) UUID() uuid.UUID {
	return s.id
}

// Folder returns the folder holding the segment files
func (s *Segment) Folder() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.folder
}

// Files returns the paths of the segment files
func (s *Segment) Files() Files {
	return FilesFor(s.Folder(), s.id)
}

// Paths returns the four file paths, bloom last
func (s *Segment) Paths() []string {
	return s.Files().All()
}

// SizeBytes returns the combined size of the four files
func (s *Segment) SizeBytes() int64 {
	return s.keys.Size() + s.index.Size() + s.store.Size() + s.bloomSize
}

// BloomFilter returns the loaded bloom filter
func (s *Segment) BloomFilter() *bloom.Filter {
	return s.bloom
}

// Verify checks the blob store checksum, walks every key and checks that the
// key index, blob index, store and bloom filter agree on it.
func (s *Segment) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	if err := s.checkCounts(); err != nil {
		return err
	}
	if err := s.store.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruption, err)
	}

	it := s.keys.Range(keyindex.All())
	defer it.Close()

	var expected uint64
	for it.Next() {
		if it.ID() != expected {
			return fmt.Errorf("%w: key %q has id %d, expected %d", ErrCorruption, it.Key(), it.ID(), expected)
		}
		if !s.bloom.Contains(it.Key()) {
			return fmt.Errorf("%w: bloom filter is missing key %q", ErrCorruption, it.Key())
		}
		if _, _, err := s.resolve(it.ID(), it.Key()); err != nil {
			return err
		}
		expected++
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	return nil
}

// Close releases the segment files. Close is idempotent.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.closeFiles()
	if s.opts.Tracker != nil {
		if terr := s.opts.Tracker.Release(s.id); terr != nil && err == nil {
			err = terr
		}
	}
	return err
}

func (s *Segment) closeFiles() error {
	var errs []error
	if s.keys != nil {
		errs = append(errs, s.keys.Close())
	}
	if s.index != nil {
		errs = append(errs, s.index.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// MoveTo renames the four files into newFolder, keeping their names. The
// bloom file moves last. If a rename fails the files already moved are put
// back.
func (s *Segment) MoveTo(newFolder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if filepath.Clean(newFolder) == filepath.Clean(s.folder) {
		return nil
	}
	if err := os.MkdirAll(newFolder, 0755); err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}

	from := FilesFor(s.folder, s.id).All()
	to := FilesFor(newFolder, s.id).All()

	for i := range from {
		if err := os.Rename(from[i], to[i]); err != nil {
			for j := i - 1; j >= 0; j-- {
				if rerr := os.Rename(to[j], from[j]); rerr != nil {
					s.logger.Error("Failed to restore %s: %v", from[j], rerr)
				}
			}
			return fmt.Errorf("failed to move %s: %w", from[i], err)
		}
	}

	moved := FilesFor(newFolder, s.id)
	s.keys.SetPath(moved.KeyIndex)
	s.index.SetPath(moved.BlobIndex)
	s.store.SetPath(moved.Store)

	s.logger.Info("Moved segment from %s to %s", s.folder, newFolder)
	s.folder = newFolder
	return nil
}

// Iterator yields (key, value) pairs of one segment. It implements
// iterator.Iterator.
type Iterator struct {
	seg  *Segment
	keys *keyindex.Iterator

	// id scan state, used when keys is nil
	next uint64
	end  uint64

	id    uint64
	key   []byte
	value []byte
	err   error
	done  bool
}

// Next advances to the next pair
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}

	it.seg.mu.RLock()
	defer it.seg.mu.RUnlock()
	if it.seg.closed {
		it.fail(ErrClosed)
		return false
	}

	var (
		key []byte
		err error
	)
	if it.keys != nil {
		if !it.keys.Next() {
			if kerr := it.keys.Err(); kerr != nil {
				it.fail(fmt.Errorf("%w: %v", ErrCorruption, kerr))
			} else {
				it.finish()
			}
			return false
		}
		it.id = it.keys.ID()
		key, it.value, err = it.seg.resolve(it.id, it.keys.Key())
	} else {
		if it.next >= it.end {
			it.finish()
			return false
		}
		it.id = it.next
		it.next++
		key, it.value, err = it.seg.resolve(it.id, nil)
	}

	if err != nil {
		it.fail(err)
		return false
	}
	it.key = key
	return true
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.finish()
}

func (it *Iterator) finish() {
	it.done = true
	it.key, it.value = nil, nil
}

// Key returns the current key
func (it *Iterator) Key() []byte {
	return it.key
}

// Value returns the current value
func (it *Iterator) Value() []byte {
	return it.value
}

// ID returns the id of the current pair
func (it *Iterator) ID() uint64 {
	return it.id
}

// Err returns the error that stopped iteration
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator
func (it *Iterator) Close() error {
	it.finish()
	if it.keys != nil {
		err := it.keys.Close()
		it.keys = nil
		return err
	}
	return nil
}
