package stats

import (
	"context"
	"time"

	"github.com/speedykv/speedykv/pkg/segment"
)

// segmentMetrics feeds segment events into a Collector
type segmentMetrics struct {
	c Collector
}

// NewSegmentMetrics returns segment.Metrics that record into c
func NewSegmentMetrics(c Collector) segment.Metrics {
	return &segmentMetrics{c: c}
}

func (m *segmentMetrics) RecordBuild(ctx context.Context, duration time.Duration, items uint64, bytes int64, err error) {
	m.c.TrackOperationWithLatency(OpBuild, uint64(duration.Nanoseconds()))
	if err != nil {
		m.c.TrackError(string(OpBuild))
		return
	}
	m.c.TrackItems(OpBuild, items)
	m.c.TrackBytes(true, uint64(bytes))
}

func (m *segmentMetrics) RecordOpen(ctx context.Context, duration time.Duration, err error) {
	m.c.TrackOperationWithLatency(OpOpen, uint64(duration.Nanoseconds()))
	if err != nil {
		m.c.TrackError(string(OpOpen))
	}
}

func (m *segmentMetrics) RecordGet(ctx context.Context, result string) {
	m.c.TrackLookup(result)
}

func (m *segmentMetrics) RecordMergeStart(ctx context.Context, inputs int, inputItems uint64, inputBytes int64) {
	m.c.TrackBytes(false, uint64(inputBytes))
}

func (m *segmentMetrics) RecordMergeComplete(ctx context.Context, duration time.Duration, outputItems uint64, outputBytes int64, err error) {
	m.c.TrackOperationWithLatency(OpMerge, uint64(duration.Nanoseconds()))
	if err != nil {
		m.c.TrackError(string(OpMerge))
		return
	}
	m.c.TrackItems(OpMerge, outputItems)
}

func (m *segmentMetrics) RecordFileDeletion(ctx context.Context, files int, deferred bool) {
	m.c.TrackOperation(OpRetire)
	m.c.TrackItems(OpRetire, uint64(files))
}

func (m *segmentMetrics) Close() error {
	return nil
}
