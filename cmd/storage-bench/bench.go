package main

import (
	"bytes"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/speedykv/speedykv/pkg/common/iterator"
	"github.com/speedykv/speedykv/pkg/compression"
	"github.com/speedykv/speedykv/pkg/segment"
	"github.com/speedykv/speedykv/pkg/segment/keyindex"
)

// bench holds the parameters shared by every benchmark
type bench struct {
	dir       string
	keys      int
	valueSize int
	duration  time.Duration
	scanSize  int
	codec     compression.Codec
	rng       *rand.Rand
}

func (b *bench) result(typ string, ops int, elapsed time.Duration) BenchmarkResult {
	r := BenchmarkResult{
		BenchmarkType: typ,
		NumKeys:       b.keys,
		ValueSize:     b.valueSize,
		Mode:          keyMode(),
		Codec:         b.codec.String(),
		Operations:    ops,
		Duration:      elapsed.Seconds(),
		Timestamp:     time.Now(),
	}
	if elapsed > 0 && ops > 0 {
		r.Throughput = float64(ops) / elapsed.Seconds()
		r.Latency = 1000000.0 / r.Throughput
	}
	return r
}

// generateKey returns the key of the n-th pair
func generateKey(n int) []byte {
	if *sequential {
		return []byte(fmt.Sprintf("key-%010d", n))
	}
	// stable pseudo random spread over the key space
	return []byte(fmt.Sprintf("%08x-%010d", uint32(n)*2654435761, n))
}

// generatePairs returns n sorted pairs with values of the configured size
func (b *bench) generatePairs(n int, tag byte) []iterator.Pair {
	pairs := make([]iterator.Pair, n)
	for i := range pairs {
		value := make([]byte, b.valueSize)
		for j := range value {
			value[j] = tag + byte((i+j)%26)
		}
		pairs[i] = iterator.Pair{Key: generateKey(i), Value: value}
	}
	slices.SortFunc(pairs, func(x, y iterator.Pair) int {
		return bytes.Compare(x.Key, y.Key)
	})
	return pairs
}

func (b *bench) create(pairs []iterator.Pair) (*segment.Segment, error) {
	return segment.Create(b.dir, uint64(len(pairs)), iterator.NewSliceIterator(pairs), b.options()...)
}

func (b *bench) runBuild() (BenchmarkResult, error) {
	fmt.Println("Running Build Benchmark...")
	pairs := b.generatePairs(b.keys, 'a')

	start := time.Now()
	id := uuid.New()
	err := segment.Build(b.dir, id, uint64(len(pairs)), iterator.NewSliceIterator(pairs), b.options()...)
	elapsed := time.Since(start)
	if err != nil {
		return b.result("Build", 0, 0), err
	}

	r := b.result("Build", len(pairs), elapsed)
	r.EntriesPerSec = r.Throughput
	return r, segment.Remove(id, b.dir)
}

func (b *bench) runRead() (BenchmarkResult, error) {
	fmt.Println("Preparing data for Read Benchmark...")
	pairs := b.generatePairs(b.keys, 'a')
	seg, err := b.create(pairs)
	if err != nil {
		return b.result("Read", 0, 0), err
	}
	defer cleanup(seg)

	fmt.Println("Running Read Benchmark...")
	var opsCount, hitCount int
	start := time.Now()
	deadline := start.Add(b.duration)
	for time.Now().Before(deadline) {
		for i := 0; i < 100; i++ {
			// one lookup in four misses
			var key []byte
			if b.rng.Intn(4) == 0 {
				key = []byte(fmt.Sprintf("missing-%d", b.rng.Int()))
			} else {
				key = pairs[b.rng.Intn(len(pairs))].Key
			}
			_, ok, err := seg.Get(key)
			if err != nil {
				return b.result("Read", opsCount, time.Since(start)), err
			}
			if ok {
				hitCount++
			}
			opsCount++
		}
	}

	r := b.result("Read", opsCount, time.Since(start))
	if opsCount > 0 {
		r.HitRate = float64(hitCount) / float64(opsCount) * 100
	}
	return r, nil
}

func (b *bench) runScan() (BenchmarkResult, error) {
	fmt.Println("Running Scan Benchmark...")
	seg, err := b.create(b.generatePairs(b.keys, 'a'))
	if err != nil {
		return b.result("Scan", 0, 0), err
	}
	defer cleanup(seg)

	return b.timedIterations("Scan", func() *segment.Iterator {
		return seg.Iter()
	})
}

func (b *bench) runRangeScan() (BenchmarkResult, error) {
	fmt.Println("Running Range Scan Benchmark...")
	pairs := b.generatePairs(b.keys, 'a')
	seg, err := b.create(pairs)
	if err != nil {
		return b.result("RangeScan", 0, 0), err
	}
	defer cleanup(seg)

	return b.timedIterations("RangeScan", func() *segment.Iterator {
		lo := b.rng.Intn(len(pairs))
		hi := min(lo+b.scanSize, len(pairs)-1)
		return seg.Range(keyindex.Between(pairs[lo].Key, pairs[hi].Key))
	})
}

func (b *bench) runPrefix() (BenchmarkResult, error) {
	fmt.Println("Running Prefix Search Benchmark...")
	pairs := b.generatePairs(b.keys, 'a')
	seg, err := b.create(pairs)
	if err != nil {
		return b.result("Prefix", 0, 0), err
	}
	defer cleanup(seg)

	return b.timedIterations("Prefix", func() *segment.Iterator {
		key := pairs[b.rng.Intn(len(pairs))].Key
		return seg.Search(keyindex.Prefix(key[:min(len(key), 4)]), keyindex.All())
	})
}

func (b *bench) runFuzzy() (BenchmarkResult, error) {
	fmt.Println("Running Fuzzy Search Benchmark...")
	pairs := b.generatePairs(b.keys, 'a')
	seg, err := b.create(pairs)
	if err != nil {
		return b.result("Fuzzy", 0, 0), err
	}
	defer cleanup(seg)

	return b.timedIterations("Fuzzy", func() *segment.Iterator {
		aut, err := keyindex.Fuzzy(string(pairs[b.rng.Intn(len(pairs))].Key), 1)
		if err != nil {
			return seg.Search(keyindex.Exact(nil), keyindex.All())
		}
		return seg.Search(aut, keyindex.All())
	})
}

// timedIterations drains iterators from next until the duration elapses
func (b *bench) timedIterations(typ string, next func() *segment.Iterator) (BenchmarkResult, error) {
	var opsCount, entries int
	start := time.Now()
	deadline := start.Add(b.duration)
	for time.Now().Before(deadline) {
		it := next()
		for it.Next() {
			entries++
		}
		err := it.Err()
		it.Close()
		if err != nil {
			return b.result(typ, opsCount, time.Since(start)), err
		}
		opsCount++
	}

	elapsed := time.Since(start)
	r := b.result(typ, opsCount, elapsed)
	r.EntriesPerSec = float64(entries) / elapsed.Seconds()
	return r, nil
}

func (b *bench) runMerge(inputs int) (BenchmarkResult, error) {
	fmt.Printf("Preparing %d segments for Merge Benchmark...\n", inputs)
	segments := make([]*segment.Segment, 0, inputs)
	total := 0
	for i := 0; i < inputs; i++ {
		seg, err := b.create(b.generatePairs(b.keys, byte('a'+i%26)))
		if err != nil {
			for _, s := range segments {
				cleanup(s)
			}
			return b.result("Merge", 0, 0), err
		}
		total += seg.Len()
		segments = append(segments, seg)
	}

	fmt.Println("Running Merge Benchmark...")
	start := time.Now()
	merged, err := segment.Merge(segments, b.dir, b.options()...)
	elapsed := time.Since(start)
	if err != nil {
		return b.result("Merge", 0, 0), err
	}
	defer cleanup(merged)

	r := b.result("Merge", total, elapsed)
	r.EntriesPerSec = float64(total) / elapsed.Seconds()
	return r, nil
}

// runCodecs repeats the build and read benchmarks for every codec
func (b *bench) runCodecs() ([]BenchmarkResult, error) {
	original := b.codec
	defer func() { b.codec = original }()

	var results []BenchmarkResult
	for _, codec := range []compression.Codec{compression.None, compression.Snappy, compression.Zstd, compression.LZ4} {
		b.codec = codec
		fmt.Printf("Benchmarking codec %s...\n", codec)

		build, err := b.runBuild()
		if err != nil {
			return results, err
		}
		read, err := b.runRead()
		if err != nil {
			return results, err
		}
		results = append(results, build, read)
	}
	return results, nil
}

// cleanup closes seg and removes its files
func cleanup(seg *segment.Segment) {
	id, folder := seg.UUID(), seg.Folder()
	seg.Close()
	segment.Remove(id, folder)
}
