// ABOUTME: Segment telemetry metrics tests with a mock telemetry server and real segment operations
// ABOUTME: Checks that builds, opens, lookups and merges record the expected metrics

package segment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/speedykv/speedykv/pkg/common/iterator"
	"github.com/speedykv/speedykv/pkg/telemetry"
)

// mockTelemetryServer captures metrics for testing segment telemetry (infrastructure mocking only)
type mockTelemetryServer struct {
	mu         sync.Mutex
	histograms map[string][]float64
	counters   map[string][]mockCounterValue
	spans      []string
}

type mockCounterValue struct {
	value      int64
	attributes []attribute.KeyValue
}

func newMockTelemetryServer() *mockTelemetryServer {
	return &mockTelemetryServer{
		histograms: make(map[string][]float64),
		counters:   make(map[string][]mockCounterValue),
	}
}

func (m *mockTelemetryServer) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = append(m.histograms[name], value)
}

func (m *mockTelemetryServer) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] = append(m.counters[name], mockCounterValue{
		value:      value,
		attributes: attrs,
	})
}

func (m *mockTelemetryServer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = append(m.spans, name)
	return ctx, trace.SpanFromContext(ctx)
}

func (m *mockTelemetryServer) Shutdown(ctx context.Context) error {
	return nil
}

func (m *mockTelemetryServer) histogramCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.histograms[name])
}

func (m *mockTelemetryServer) counterSum(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, v := range m.counters[name] {
		sum += v.value
	}
	return sum
}

// counterSumWith sums the values of name recorded with the attribute key=value
func (m *mockTelemetryServer) counterSumWith(name string, key attribute.Key, value string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, v := range m.counters[name] {
		for _, attr := range v.attributes {
			if attr.Key == key && attr.Value.Emit() == value {
				sum += v.value
			}
		}
	}
	return sum
}

func TestMetricsInterface(t *testing.T) {
	var _ Metrics = NewMetrics(newMockTelemetryServer())
	var _ Metrics = NewNoopMetrics()

	noop := NewNoopMetrics()
	ctx := context.Background()
	noop.RecordBuild(ctx, time.Millisecond, 1, 1, nil)
	noop.RecordOpen(ctx, time.Millisecond, nil)
	noop.RecordGet(ctx, GetHit)
	noop.RecordMergeStart(ctx, 2, 2, 2)
	noop.RecordMergeComplete(ctx, time.Millisecond, 1, 1, nil)
	noop.RecordFileDeletion(ctx, 4, false)
	if err := noop.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestBuildMetricsRecordFailure(t *testing.T) {
	mock := newMockTelemetryServer()
	m := NewMetrics(mock)

	m.RecordBuild(context.Background(), time.Millisecond, 0, 0, errors.New("disk full"))

	if got := mock.histogramCount("speedykv.segment.build.duration"); got != 1 {
		t.Errorf("build duration count = %d, want 1", got)
	}
	if got := mock.counterSumWith("speedykv.segment.build.count", telemetry.AttrStatus, telemetry.StatusError); got != 1 {
		t.Errorf("failed build count = %d, want 1", got)
	}
	if got := mock.counterSum("speedykv.segment.build.items"); got != 0 {
		t.Errorf("items recorded for a failed build: %d", got)
	}
}

func TestSegmentOperationsRecordMetrics(t *testing.T) {
	mock := newMockTelemetryServer()
	dir := t.TempDir()
	opts := []Option{WithTelemetry(mock), WithSync(false)}

	a, err := Create(dir, 10, iterator.NewSliceIterator(sortedPairs(10, "a")), opts...)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	b, err := Create(dir, 5, iterator.NewSliceIterator(sortedPairs(5, "b")), opts...)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if got := mock.histogramCount("speedykv.segment.build.duration"); got != 2 {
		t.Errorf("build duration count = %d, want 2", got)
	}
	if got := mock.counterSum("speedykv.segment.build.items"); got != 15 {
		t.Errorf("built items = %d, want 15", got)
	}
	if got := mock.histogramCount("speedykv.segment.open.duration"); got != 2 {
		t.Errorf("open duration count = %d, want 2", got)
	}

	if _, ok, err := a.Get([]byte("key0003")); err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if got := mock.counterSumWith("speedykv.segment.get.count", telemetry.AttrResult, GetHit); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}

	merged, err := Merge([]*Segment{a, b}, dir, opts...)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	defer merged.Close()

	if got := mock.counterSum("speedykv.merge.input.segments"); got != 2 {
		t.Errorf("merge inputs = %d, want 2", got)
	}
	if got := mock.counterSum("speedykv.merge.input.items"); got != 15 {
		t.Errorf("merge input items = %d, want 15", got)
	}
	if got := mock.counterSum("speedykv.merge.output.items"); got != 10 {
		t.Errorf("merge output items = %d, want 10", got)
	}
	if got := mock.counterSum("speedykv.segment.files.retired"); got != 8 {
		t.Errorf("retired files = %d, want 8", got)
	}
	if got := mock.histogramCount("speedykv.merge.duration"); got != 1 {
		t.Errorf("merge duration count = %d, want 1", got)
	}

	mock.mu.Lock()
	spans := append([]string(nil), mock.spans...)
	mock.mu.Unlock()
	if len(spans) != 1 || spans[0] != "speedykv.segment.merge" {
		t.Errorf("spans = %v", spans)
	}
}
