package stats

import (
	"sync"
	"testing"
)

func TestCollector_TrackOperation(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperation(OpScan)
	collector.TrackOperation(OpScan)
	collector.TrackOperation(OpGet)

	stats := collector.GetStats()

	if stats["scan_ops"].(uint64) != 2 {
		t.Errorf("Expected 2 scan operations, got %v", stats["scan_ops"])
	}

	if stats["get_ops"].(uint64) != 1 {
		t.Errorf("Expected 1 get operation, got %v", stats["get_ops"])
	}

	if _, exists := stats["last_scan_time"]; !exists {
		t.Errorf("Expected last_scan_time to exist in stats")
	}
}

func TestCollector_TrackOperationWithLatency(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperationWithLatency(OpGet, 200)
	collector.TrackOperationWithLatency(OpGet, 100)
	collector.TrackOperationWithLatency(OpGet, 300)

	stats := collector.GetStats()

	latencyStats, ok := stats["get_latency"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected get_latency to be a map, got %T", stats["get_latency"])
	}

	if count := latencyStats["count"].(uint64); count != 3 {
		t.Errorf("Expected 3 latency records, got %v", count)
	}

	if avg := latencyStats["avg_ns"].(uint64); avg != 200 {
		t.Errorf("Expected average latency 200ns, got %v", avg)
	}

	if min := latencyStats["min_ns"].(uint64); min != 100 {
		t.Errorf("Expected min latency 100ns, got %v", min)
	}

	if max := latencyStats["max_ns"].(uint64); max != 300 {
		t.Errorf("Expected max latency 300ns, got %v", max)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	collector := NewAtomicCollector()
	const numGoroutines = 10
	const opsPerGoroutine = 999

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()

			for j := 0; j < opsPerGoroutine; j++ {
				switch j % 3 {
				case 0:
					collector.TrackOperation(OpScan)
				case 1:
					collector.TrackLookup("hit")
				case 2:
					collector.TrackOperationWithLatency(OpSearch, uint64(j))
				}
			}
		}()
	}

	wg.Wait()

	stats := collector.GetStats()
	expected := uint64(numGoroutines * opsPerGoroutine / 3)

	if ops := stats["scan_ops"].(uint64); ops != expected {
		t.Errorf("Expected %d scan operations, got %d", expected, ops)
	}
	if hits := stats["lookup_hit"].(uint64); hits != expected {
		t.Errorf("Expected %d lookup hits, got %d", expected, hits)
	}
	if ops := stats["search_ops"].(uint64); ops != expected {
		t.Errorf("Expected %d search operations, got %d", expected, ops)
	}
}

func TestCollector_GetStatsFiltered(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperation(OpScan)
	collector.TrackOperation(OpGet)
	collector.TrackLookup("bloom_negative")
	collector.TrackError("io_error")

	getStats := collector.GetStatsFiltered("get")
	if _, exists := getStats["get_ops"]; !exists {
		t.Errorf("Expected get_ops in filtered stats")
	}
	if _, exists := getStats["scan_ops"]; exists {
		t.Errorf("Did not expect scan_ops in get-filtered stats")
	}

	lookupStats := collector.GetStatsFiltered("lookup_")
	if len(lookupStats) != 1 {
		t.Errorf("Expected one lookup stat, got %v", lookupStats)
	}

	errorStats := collector.GetStatsFiltered("error")
	if errs, ok := errorStats["errors"].(map[string]uint64); !ok || errs["io_error"] != 1 {
		t.Errorf("Expected one io_error, got %v", errorStats["errors"])
	}
}

func TestCollector_TrackBytesAndItems(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackBytes(true, 1000)
	collector.TrackBytes(false, 500)
	collector.TrackItems(OpBuild, 7)
	collector.TrackItems(OpBuild, 3)

	stats := collector.GetStats()

	if bytesWritten := stats["total_bytes_written"].(uint64); bytesWritten != 1000 {
		t.Errorf("Expected 1000 bytes written, got %v", bytesWritten)
	}
	if bytesRead := stats["total_bytes_read"].(uint64); bytesRead != 500 {
		t.Errorf("Expected 500 bytes read, got %v", bytesRead)
	}
	if items := stats["build_items"].(uint64); items != 10 {
		t.Errorf("Expected 10 built items, got %v", items)
	}
}
