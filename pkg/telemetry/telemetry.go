// ABOUTME: Core telemetry abstraction over OpenTelemetry for speedykv segment instrumentation
// ABOUTME: Provides metric recording, tracing and lifecycle management with a no-op implementation

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides the core abstraction over OpenTelemetry for speedykv components.
// Components use this interface to record metrics and spans without depending directly on OpenTelemetry.
type Telemetry interface {
	// RecordHistogram records a histogram value with optional attributes.
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)

	// RecordCounter records a counter increment with optional attributes.
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)

	// StartSpan creates a new tracing span with the given name and attributes.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// Shutdown flushes and stops all providers.
	Shutdown(ctx context.Context) error
}

// ComponentMetrics is a marker interface for component-specific metrics interfaces.
type ComponentMetrics interface {
	// Close releases any resources held by the metrics implementation.
	Close() error
}

// NoopTelemetry discards everything.
type NoopTelemetry struct{}

// NewNoop creates a new no-operation telemetry instance.
func NewNoop() Telemetry {
	return &NoopTelemetry{}
}

// RecordHistogram is a no-op.
func (n *NoopTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
}

// RecordCounter is a no-op.
func (n *NoopTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
}

// StartSpan returns the original context and the span already in it.
func (n *NoopTelemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

// Shutdown is a no-op.
func (n *NoopTelemetry) Shutdown(ctx context.Context) error {
	return nil
}

// RecordBytes records a byte count in a counter.
func RecordBytes(ctx context.Context, tel Telemetry, name string, bytes int64, attrs ...attribute.KeyValue) {
	tel.RecordCounter(ctx, name, bytes, attrs...)
}

// StatusFor maps an operation error to a status attribute value
func StatusFor(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// Common attribute keys for consistent naming across components
const (
	AttrOperationType = "operation.type"
	AttrComponent     = "component"
	AttrStatus        = "status"
	AttrErrorType     = "error.type"
	AttrSegmentID     = "segment.id"
	AttrCodec         = "codec"
	AttrResult        = "result"
)

// Common attribute values
const (
	OpTypeBuild  = "build"
	OpTypeOpen   = "open"
	OpTypeGet    = "get"
	OpTypeScan   = "scan"
	OpTypeSearch = "search"
	OpTypeMerge  = "merge"
	OpTypeMove   = "move"
	OpTypeDelete = "delete"

	StatusSuccess = "success"
	StatusError   = "error"

	ComponentSegment = "segment"
	ComponentMerge   = "merge"
	ComponentBloom   = "bloom"
)
