// ABOUTME: Telemetry metrics for segment builds, opens, lookups, merges and file retirement
// ABOUTME: Provides a telemetry-backed implementation and a no-op one for disabled scenarios

package segment

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/speedykv/speedykv/pkg/telemetry"
)

// Lookup results recorded by RecordGet
const (
	GetBloomNegative = "bloom_negative"
	GetHit           = "hit"
	GetFalsePositive = "false_positive"
)

// Metrics defines telemetry methods for segment operations
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordBuild records a finished or failed segment build
	RecordBuild(ctx context.Context, duration time.Duration, items uint64, bytes int64, err error)

	// RecordOpen records a segment open
	RecordOpen(ctx context.Context, duration time.Duration, err error)

	// RecordGet records the outcome of a point lookup
	RecordGet(ctx context.Context, result string)

	// RecordMergeStart records the inputs of a merge
	RecordMergeStart(ctx context.Context, inputs int, inputItems uint64, inputBytes int64)

	// RecordMergeComplete records the output of a merge
	RecordMergeComplete(ctx context.Context, duration time.Duration, outputItems uint64, outputBytes int64, err error)

	// RecordFileDeletion records segment files removed or handed to a tracker
	RecordFileDeletion(ctx context.Context, files int, deferred bool)
}

// segmentMetrics implements Metrics using the telemetry package
type segmentMetrics struct {
	tel telemetry.Telemetry
}

// NewMetrics creates a Metrics implementation recording through tel
func NewMetrics(tel telemetry.Telemetry) Metrics {
	return &segmentMetrics{tel: tel}
}

// NewNoopMetrics creates a Metrics implementation that records nothing
func NewNoopMetrics() Metrics {
	return &noopMetrics{}
}

func (m *segmentMetrics) RecordBuild(ctx context.Context, duration time.Duration, items uint64, bytes int64, err error) {
	status := attribute.String(telemetry.AttrStatus, telemetry.StatusFor(err))
	component := attribute.String(telemetry.AttrComponent, telemetry.ComponentSegment)

	m.tel.RecordHistogram(ctx, "speedykv.segment.build.duration", duration.Seconds(), component, status)
	m.tel.RecordCounter(ctx, "speedykv.segment.build.count", 1, component, status)
	if err == nil {
		m.tel.RecordCounter(ctx, "speedykv.segment.build.items", int64(items), component)
		telemetry.RecordBytes(ctx, m.tel, "speedykv.segment.build.bytes", bytes, component)
	}
}

func (m *segmentMetrics) RecordOpen(ctx context.Context, duration time.Duration, err error) {
	m.tel.RecordHistogram(ctx, "speedykv.segment.open.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentSegment),
		attribute.String(telemetry.AttrStatus, telemetry.StatusFor(err)),
	)
}

func (m *segmentMetrics) RecordGet(ctx context.Context, result string) {
	m.tel.RecordCounter(ctx, "speedykv.segment.get.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBloom),
		attribute.String(telemetry.AttrResult, result),
	)
}

func (m *segmentMetrics) RecordMergeStart(ctx context.Context, inputs int, inputItems uint64, inputBytes int64) {
	component := attribute.String(telemetry.AttrComponent, telemetry.ComponentMerge)

	m.tel.RecordCounter(ctx, "speedykv.merge.start.count", 1, component)
	m.tel.RecordCounter(ctx, "speedykv.merge.input.segments", int64(inputs), component)
	m.tel.RecordCounter(ctx, "speedykv.merge.input.items", int64(inputItems), component)
	telemetry.RecordBytes(ctx, m.tel, "speedykv.merge.input.bytes", inputBytes, component)
}

func (m *segmentMetrics) RecordMergeComplete(ctx context.Context, duration time.Duration, outputItems uint64, outputBytes int64, err error) {
	component := attribute.String(telemetry.AttrComponent, telemetry.ComponentMerge)
	status := attribute.String(telemetry.AttrStatus, telemetry.StatusFor(err))

	m.tel.RecordHistogram(ctx, "speedykv.merge.duration", duration.Seconds(), component, status)
	if err == nil {
		m.tel.RecordCounter(ctx, "speedykv.merge.output.items", int64(outputItems), component)
		telemetry.RecordBytes(ctx, m.tel, "speedykv.merge.output.bytes", outputBytes, component)
	}
}

func (m *segmentMetrics) RecordFileDeletion(ctx context.Context, files int, deferred bool) {
	m.tel.RecordCounter(ctx, "speedykv.segment.files.retired", int64(files),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMerge),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeDelete),
		attribute.Bool("deferred", deferred),
	)
}

func (m *segmentMetrics) Close() error {
	return nil
}

// multiMetrics fans every event out to several Metrics
type multiMetrics []Metrics

func (m multiMetrics) RecordBuild(ctx context.Context, duration time.Duration, items uint64, bytes int64, err error) {
	for _, mm := range m {
		mm.RecordBuild(ctx, duration, items, bytes, err)
	}
}

func (m multiMetrics) RecordOpen(ctx context.Context, duration time.Duration, err error) {
	for _, mm := range m {
		mm.RecordOpen(ctx, duration, err)
	}
}

func (m multiMetrics) RecordGet(ctx context.Context, result string) {
	for _, mm := range m {
		mm.RecordGet(ctx, result)
	}
}

func (m multiMetrics) RecordMergeStart(ctx context.Context, inputs int, inputItems uint64, inputBytes int64) {
	for _, mm := range m {
		mm.RecordMergeStart(ctx, inputs, inputItems, inputBytes)
	}
}

func (m multiMetrics) RecordMergeComplete(ctx context.Context, duration time.Duration, outputItems uint64, outputBytes int64, err error) {
	for _, mm := range m {
		mm.RecordMergeComplete(ctx, duration, outputItems, outputBytes, err)
	}
}

func (m multiMetrics) RecordFileDeletion(ctx context.Context, files int, deferred bool) {
	for _, mm := range m {
		mm.RecordFileDeletion(ctx, files, deferred)
	}
}

func (m multiMetrics) Close() error {
	var errs []error
	for _, mm := range m {
		errs = append(errs, mm.Close())
	}
	return errors.Join(errs...)
}

// noopMetrics provides a no-op implementation for testing/disabled scenarios
type noopMetrics struct{}

func (n *noopMetrics) RecordBuild(ctx context.Context, duration time.Duration, items uint64, bytes int64, err error) {
}
func (n *noopMetrics) RecordOpen(ctx context.Context, duration time.Duration, err error) {
}
func (n *noopMetrics) RecordGet(ctx context.Context, result string) {
}
func (n *noopMetrics) RecordMergeStart(ctx context.Context, inputs int, inputItems uint64, inputBytes int64) {
}
func (n *noopMetrics) RecordMergeComplete(ctx context.Context, duration time.Duration, outputItems uint64, outputBytes int64, err error) {
}
func (n *noopMetrics) RecordFileDeletion(ctx context.Context, files int, deferred bool) {
}
func (n *noopMetrics) Close() error { return nil }
