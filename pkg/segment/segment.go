// Package segment implements immutable, UUID-named segments and their
// compaction.
//
// A segment is four files sharing one UUID in a single folder:
//
//	<uuid>.kidx   sorted key index mapping key -> id
//	<uuid>.bidx   dense blob index mapping id -> blob pointer
//	<uuid>.store  blob store holding the (key, value) records
//	<uuid>.blm    bloom filter over the keys
//
// The bloom file is always published last, and a segment without it is
// treated as never created. Either all four files exist or the segment does
// not.
package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/google/uuid"
)

// File extensions of the four segment files
const (
	KeyIndexExt  = ".kidx"
	BlobIndexExt = ".bidx"
	StoreExt     = ".store"
	BloomExt     = ".blm"
)

var (
	// ErrMissingFile is returned by Open when one of the four files does not
	// exist. It matches fs.ErrNotExist.
	ErrMissingFile = fmt.Errorf("segment: missing file: %w", fs.ErrNotExist)
	// ErrCorruption is returned when a segment file fails to decode or the
	// files disagree with each other
	ErrCorruption = errors.New("segment: corruption")
	// ErrClosed is returned by operations on a closed segment
	ErrClosed = errors.New("segment: closed")
	// ErrWriterFinished is returned when a SegmentWriter is used twice
	ErrWriterFinished = errors.New("segment: writer already used")
	// ErrRetire is returned by Merge when the merged segment was created but
	// some input files could not be removed
	ErrRetire = errors.New("segment: failed to retire merge inputs")
)

// Files holds the paths of the four files of one segment.
type Files struct {
	KeyIndex  string
	BlobIndex string
	Store     string
	Bloom     string
}

// FilesFor returns the file paths of segment id inside folder
func FilesFor(folder string, id uuid.UUID) Files {
	base := filepath.Join(folder, id.String())
	return Files{
		KeyIndex:  base + KeyIndexExt,
		BlobIndex: base + BlobIndexExt,
		Store:     base + StoreExt,
		Bloom:     base + BloomExt,
	}
}

// All returns the paths in publication order, bloom last.
func (f Files) All() []string {
	return []string{f.KeyIndex, f.BlobIndex, f.Store, f.Bloom}
}

// removalOrder returns the paths bloom first, so that an interrupted removal
// leaves a segment that is no longer considered created.
func (f Files) removalOrder() []string {
	return []string{f.Bloom, f.KeyIndex, f.BlobIndex, f.Store}
}
