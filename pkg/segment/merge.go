package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/speedykv/speedykv/pkg/common/iterator"
	"github.com/speedykv/speedykv/pkg/common/iterator/composite"
	"github.com/speedykv/speedykv/pkg/telemetry"
)

// Merge compacts segments into a single new segment in folder.
//
// On equal keys the segment earlier in the slice wins. With no segments
// Merge returns nil, and a single segment is returned as is. Otherwise the
// inputs are closed and their files retired once the new segment is built.
// If the output was built but some inputs could not be removed, the new
// segment is returned together with an error wrapping ErrRetire.
func Merge(segments []*Segment, folder string, opts ...Option) (merged *Segment, err error) {
	switch len(segments) {
	case 0:
		return nil, nil
	case 1:
		return segments[0], nil
	}

	o := buildOptions(opts)
	logger := o.Logger.WithField("component", telemetry.ComponentMerge)
	id := uuid.New()

	ctx, span := o.Telemetry.StartSpan(context.Background(), "speedykv.segment.merge",
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeMerge),
		attribute.String(telemetry.AttrSegmentID, id.String()),
		attribute.Int("inputs", len(segments)),
	)
	defer span.End()

	var (
		expected   uint64
		inputBytes int64
	)
	for _, seg := range segments {
		expected += uint64(seg.Len())
		inputBytes += seg.SizeBytes()
	}
	o.Metrics.RecordMergeStart(ctx, len(segments), expected, inputBytes)

	start := time.Now()
	defer func() {
		var (
			items uint64
			size  int64
		)
		if merged != nil {
			items, size = uint64(merged.Len()), merged.SizeBytes()
		}
		o.Metrics.RecordMergeComplete(ctx, time.Since(start), items, size, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	sources := make([]iterator.Iterator, len(segments))
	for i, seg := range segments {
		sources[i] = seg.Iter()
	}
	merge := composite.NewMergeIterator(sources)
	berr := Build(folder, id, expected, merge, opts...)
	if cerr := merge.Close(); cerr != nil && berr == nil {
		berr = cerr
	}
	if berr != nil {
		return nil, fmt.Errorf("failed to merge %d segments: %w", len(segments), berr)
	}

	// inputs are retired only once the output is fully published
	var retireErrs []error
	for _, seg := range segments {
		files := seg.Files()
		if cerr := seg.Close(); cerr != nil {
			logger.Warn("Failed to close segment %s: %v", seg.UUID(), cerr)
		}
		if rerr := retire(ctx, o, seg.UUID(), files); rerr != nil {
			retireErrs = append(retireErrs, rerr)
		}
	}

	merged, err = Open(id, folder, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open merged segment %s: %w", id, err)
	}

	logger.Info("Merged %d segments into %s with %d items", len(segments), id, merged.Len())
	if len(retireErrs) > 0 {
		return merged, fmt.Errorf("%w: %w", ErrRetire, errors.Join(retireErrs...))
	}
	return merged, nil
}

func retire(ctx context.Context, o Options, id uuid.UUID, files Files) error {
	if o.Tracker == nil {
		if err := removeFiles(files); err != nil {
			return err
		}
		o.Metrics.RecordFileDeletion(ctx, len(files.All()), false)
		return nil
	}

	deferred, err := o.Tracker.Retire(id, files)
	if err != nil {
		return err
	}
	o.Metrics.RecordFileDeletion(ctx, len(files.All()), deferred)
	return nil
}
