package stats

import (
	"fmt"
	"testing"

	"github.com/speedykv/speedykv/pkg/common/iterator"
	"github.com/speedykv/speedykv/pkg/segment"
)

func TestSegmentMetricsFeedCollector(t *testing.T) {
	collector := NewAtomicCollector()
	dir := t.TempDir()
	opts := []segment.Option{segment.WithSync(false), segment.WithMetrics(NewSegmentMetrics(collector))}

	build := func(n int) *segment.Segment {
		pairs := make([]iterator.Pair, n)
		for i := range pairs {
			pairs[i] = iterator.Pair{Key: []byte(fmt.Sprintf("k%03d", i)), Value: []byte("v")}
		}
		seg, err := segment.Create(dir, uint64(n), iterator.NewSliceIterator(pairs), opts...)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		return seg
	}

	a, b := build(4), build(6)
	if _, ok, err := a.Get([]byte("k001")); err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}

	merged, err := segment.Merge([]*segment.Segment{a, b}, dir, opts...)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	defer merged.Close()

	stats := collector.GetStats()
	if ops := stats["build_ops"].(uint64); ops != 3 {
		t.Errorf("Expected 3 builds, got %d", ops)
	}
	if items := stats["build_items"].(uint64); items != 16 {
		t.Errorf("Expected 16 built items, got %d", items)
	}
	if items := stats["merge_items"].(uint64); items != 6 {
		t.Errorf("Expected 6 merged items, got %d", items)
	}
	if hits := stats["lookup_hit"].(uint64); hits != 1 {
		t.Errorf("Expected 1 hit, got %d", hits)
	}
	if ops := stats["retire_ops"].(uint64); ops != 2 {
		t.Errorf("Expected 2 retirements, got %d", ops)
	}
	if stats["total_bytes_written"].(uint64) == 0 {
		t.Error("Expected written bytes")
	}
}
