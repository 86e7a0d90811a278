package segment

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/speedykv/speedykv/pkg/common/iterator"
	"github.com/speedykv/speedykv/pkg/compression"
	"github.com/speedykv/speedykv/pkg/segment/blob"
	"github.com/speedykv/speedykv/pkg/segment/bloom"
	"github.com/speedykv/speedykv/pkg/segment/keyindex"
)

// Writers are the raw destinations of the four segment files.
type Writers struct {
	KeyIndex  io.Writer
	BlobIndex io.Writer
	Store     io.Writer
	Bloom     io.Writer
}

// SegmentWriter builds one segment from a sorted stream of pairs. It is
// single use.
type SegmentWriter struct {
	keys  *keyindex.Writer
	index *blob.IndexWriter
	store *blob.StoreWriter
	bloom *bloom.Filter
	codec *compression.Manager

	bloomOut io.Writer
	count    uint64
	used     bool
}

// NewSegmentWriter creates a writer whose bloom filter is sized for
// expectedItems.
func NewSegmentWriter(expectedItems uint64, w Writers, opts ...Option) (*SegmentWriter, error) {
	o := buildOptions(opts)

	codec, err := compression.NewManager(o.Codec, o.CompressionLevel)
	if err != nil {
		return nil, err
	}

	keys, err := keyindex.NewWriter(w.KeyIndex)
	if err != nil {
		codec.Close()
		return nil, err
	}

	return &SegmentWriter{
		keys:     keys,
		index:    blob.NewIndexWriter(w.BlobIndex),
		store:    blob.NewStoreWriter(w.Store, codec),
		bloom:    bloom.New(expectedItems, o.BloomFalsePositiveRate),
		codec:    codec,
		bloomOut: w.Bloom,
	}, nil
}

// WriteSorted consumes it and finishes all four files, the bloom filter
// last. Keys must be strictly ascending. The iterator is not closed.
func (sw *SegmentWriter) WriteSorted(it iterator.Iterator) error {
	if sw.used {
		return ErrWriterFinished
	}
	sw.used = true
	defer sw.codec.Close()

	for it.Next() {
		key, value := it.Key(), it.Value()

		ptr, err := sw.store.Write(key, value)
		if err != nil {
			return err
		}
		id, err := sw.index.Append(ptr)
		if err != nil {
			return err
		}
		if err := sw.keys.Insert(key, id); err != nil {
			return err
		}
		sw.bloom.Insert(key)
		sw.count++
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	if err := sw.keys.Finish(); err != nil {
		return err
	}
	if err := sw.index.Finish(); err != nil {
		return err
	}
	if err := sw.store.Finish(); err != nil {
		return err
	}
	if _, err := sw.bloom.WriteTo(sw.bloomOut); err != nil {
		return fmt.Errorf("failed to write bloom filter: %w", err)
	}

	return nil
}

// Count returns the number of pairs written
func (sw *SegmentWriter) Count() uint64 {
	return sw.count
}

// Build writes segment id into folder from the sorted pairs of it. The files
// are written under temporary names and renamed into place, bloom last. On
// failure nothing of the segment is left behind.
func Build(folder string, id uuid.UUID, expectedItems uint64, it iterator.Iterator, opts ...Option) (err error) {
	o := buildOptions(opts)
	start := time.Now()
	files := FilesFor(folder, id)
	logger := o.Logger.WithField("segment", id.String())

	var (
		managers []*FileManager
		count    uint64
	)
	defer func() {
		if err != nil {
			for _, fm := range managers {
				if cerr := fm.Cleanup(); cerr != nil {
					logger.Error("Failed to clean up %s: %v", fm.Path(), cerr)
				}
			}
			logger.Warn("Segment build failed: %v", err)
		}
		o.Metrics.RecordBuild(context.Background(), time.Since(start), count, sizeOf(files), err)
	}()

	if err := os.MkdirAll(folder, 0755); err != nil {
		return fmt.Errorf("failed to create segment folder: %w", err)
	}

	for _, path := range files.All() {
		fm, err := NewFileManager(path)
		if err != nil {
			return err
		}
		managers = append(managers, fm)
	}

	sw, err := NewSegmentWriter(expectedItems, Writers{
		KeyIndex:  managers[0],
		BlobIndex: managers[1],
		Store:     managers[2],
		Bloom:     managers[3],
	}, opts...)
	if err != nil {
		return err
	}

	if err := sw.WriteSorted(it); err != nil {
		return fmt.Errorf("failed to write segment %s: %w", id, err)
	}
	count = sw.Count()

	// managers follow files.All(), so the bloom file is renamed last
	for _, fm := range managers {
		if err := fm.FinalizeFile(o.SyncOnFinish); err != nil {
			return fmt.Errorf("failed to publish %s: %w", fm.Path(), err)
		}
	}

	logger.Debug("Built segment with %d items in %s", count, time.Since(start))
	return nil
}

// Create builds a segment under a fresh UUID and opens it.
func Create(folder string, expectedItems uint64, it iterator.Iterator, opts ...Option) (*Segment, error) {
	id := uuid.New()
	if err := Build(folder, id, expectedItems, it, opts...); err != nil {
		return nil, err
	}
	return Open(id, folder, opts...)
}

// sizeOf sums the sizes of the files that exist
func sizeOf(files Files) int64 {
	var total int64
	for _, path := range files.All() {
		if info, err := os.Stat(path); err == nil {
			total += info.Size()
		}
	}
	return total
}
