package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Segment operation types
const (
	OpGet    OperationType = "get"
	OpScan   OperationType = "scan"
	OpSearch OperationType = "search"
	OpBuild  OperationType = "build"
	OpOpen   OperationType = "open"
	OpMerge  OperationType = "merge"
	OpMove   OperationType = "move"
	OpVerify OperationType = "verify"
	OpRetire OperationType = "retire"
)

// AtomicCollector provides centralized statistics collection with minimal contention
// using atomic operations for thread safety
type AtomicCollector struct {
	// Operation counters using atomic values
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex // Only used when creating new counter entries

	// Timing measurements for last operation timestamps
	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex

	// Usage metrics
	totalBytesRead    atomic.Uint64
	totalBytesWritten atomic.Uint64

	// Items written per operation (build, merge)
	items   map[OperationType]*atomic.Uint64
	itemsMu sync.RWMutex

	// Point lookup outcomes keyed by result
	lookups   map[string]*atomic.Uint64
	lookupsMu sync.RWMutex

	// Error tracking
	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex

	// Latency tracking
	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // sum in nanoseconds
	max   atomic.Uint64 // max in nanoseconds
	min   atomic.Uint64 // min in nanoseconds, 0 until the first value
}

// NewAtomicCollector creates a new atomic statistics collector
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:     make(map[OperationType]*atomic.Uint64),
		lastOpTime: make(map[OperationType]time.Time),
		items:      make(map[OperationType]*atomic.Uint64),
		lookups:    make(map[string]*atomic.Uint64),
		errors:     make(map[string]*atomic.Uint64),
		latencies:  make(map[OperationType]*LatencyTracker),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	getOrCreate(&c.countsMu, c.counts, op).Add(1)

	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	c.TrackOperation(op)

	tracker := c.getOrCreateLatencyTracker(op)
	tracker.count.Add(1)
	tracker.sum.Add(latencyNs)

	// Update max (using compare-and-swap pattern)
	for {
		current := tracker.max.Load()
		if latencyNs <= current {
			break
		}
		if tracker.max.CompareAndSwap(current, latencyNs) {
			break
		}
	}

	// Update min (using compare-and-swap pattern)
	for {
		current := tracker.min.Load()
		if current != 0 && latencyNs >= current {
			break
		}
		if tracker.min.CompareAndSwap(current, latencyNs) {
			break
		}
	}
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	getOrCreate(&c.errorsMu, c.errors, errorType).Add(1)
}

// TrackBytes adds the specified number of bytes to the read or write counter
func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.totalBytesWritten.Add(bytes)
	} else {
		c.totalBytesRead.Add(bytes)
	}
}

// TrackLookup records the outcome of a point lookup
func (c *AtomicCollector) TrackLookup(result string) {
	getOrCreate(&c.lookupsMu, c.lookups, result).Add(1)
}

// TrackItems adds to the item counter of op
func (c *AtomicCollector) TrackItems(op OperationType, items uint64) {
	getOrCreate(&c.itemsMu, c.items, op).Add(items)
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	c.countsMu.RLock()
	for op, counter := range c.counts {
		stats[string(op)+"_ops"] = counter.Load()
	}
	c.countsMu.RUnlock()

	c.lastOpTimeMu.RLock()
	for op, timestamp := range c.lastOpTime {
		stats["last_"+string(op)+"_time"] = timestamp.UnixNano()
	}
	c.lastOpTimeMu.RUnlock()

	c.itemsMu.RLock()
	for op, counter := range c.items {
		stats[string(op)+"_items"] = counter.Load()
	}
	c.itemsMu.RUnlock()

	c.lookupsMu.RLock()
	for result, counter := range c.lookups {
		stats["lookup_"+result] = counter.Load()
	}
	c.lookupsMu.RUnlock()

	stats["total_bytes_read"] = c.totalBytesRead.Load()
	stats["total_bytes_written"] = c.totalBytesWritten.Load()

	c.errorsMu.RLock()
	errorStats := make(map[string]uint64)
	for errType, counter := range c.errors {
		errorStats[errType] = counter.Load()
	}
	c.errorsMu.RUnlock()
	stats["errors"] = errorStats

	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		if count == 0 {
			continue
		}

		latencyStats := map[string]interface{}{
			"count":  count,
			"avg_ns": tracker.sum.Load() / count,
		}
		if min := tracker.min.Load(); min != 0 {
			latencyStats["min_ns"] = min
		}
		if max := tracker.max.Load(); max != 0 {
			latencyStats["max_ns"] = max
		}

		stats[string(op)+"_latency"] = latencyStats
	}
	c.latenciesMu.RUnlock()

	return stats
}

// GetStatsFiltered returns statistics filtered by prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	filtered := make(map[string]interface{})
	for key, value := range c.GetStats() {
		if strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}
	return filtered
}

// getOrCreate returns the counter for key, creating it under the write lock
// when missing.
func getOrCreate[K comparable](mu *sync.RWMutex, m map[K]*atomic.Uint64, key K) *atomic.Uint64 {
	mu.RLock()
	counter, exists := m[key]
	mu.RUnlock()
	if exists {
		return counter
	}

	mu.Lock()
	defer mu.Unlock()
	if counter, exists = m[key]; !exists {
		counter = &atomic.Uint64{}
		m[key] = counter
	}
	return counter
}

// getOrCreateLatencyTracker gets or creates a latency tracker for the operation
func (c *AtomicCollector) getOrCreateLatencyTracker(op OperationType) *LatencyTracker {
	c.latenciesMu.RLock()
	tracker, exists := c.latencies[op]
	c.latenciesMu.RUnlock()
	if exists {
		return tracker
	}

	c.latenciesMu.Lock()
	defer c.latenciesMu.Unlock()
	if tracker, exists = c.latencies[op]; !exists {
		tracker = &LatencyTracker{}
		c.latencies[op] = tracker
	}
	return tracker
}
