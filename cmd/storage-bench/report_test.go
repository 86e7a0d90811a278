package main

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.csv")
	now := time.Now().Truncate(time.Second)

	results := []BenchmarkResult{
		{BenchmarkType: "Read", NumKeys: 1000, ValueSize: 64, Mode: "random", Codec: "zstd",
			Operations: 500, Duration: 1.5, Throughput: 333.33, Latency: 3000, HitRate: 75, Timestamp: now},
		{BenchmarkType: "Merge", NumKeys: 1000, ValueSize: 64, Mode: "sequential", Codec: "none",
			Operations: 4000, Duration: 0.25, EntriesPerSec: 16000, Timestamp: now},
	}
	require.NoError(t, SaveResultCSV(results, path))

	loaded, err := LoadResultCSV(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, "Read", loaded[0].BenchmarkType)
	assert.Equal(t, "zstd", loaded[0].Codec)
	assert.Equal(t, 500, loaded[0].Operations)
	assert.InDelta(t, 75.0, loaded[0].HitRate, 0.001)
	assert.True(t, now.Equal(loaded[0].Timestamp))

	assert.Equal(t, "sequential", loaded[1].Mode)
	assert.InDelta(t, 16000.0, loaded[1].EntriesPerSec, 0.001)
}

func TestBenchRuns(t *testing.T) {
	b := &bench{
		dir:       t.TempDir(),
		keys:      200,
		valueSize: 16,
		duration:  20 * time.Millisecond,
		scanSize:  10,
	}
	b.rng = rand.New(rand.NewSource(1))

	build, err := b.runBuild()
	require.NoError(t, err)
	assert.Equal(t, 200, build.Operations)

	read, err := b.runRead()
	require.NoError(t, err)
	assert.Greater(t, read.Operations, 0)
	assert.Greater(t, read.HitRate, 0.0)

	scan, err := b.runRangeScan()
	require.NoError(t, err)
	assert.Greater(t, scan.Operations, 0)

	merge, err := b.runMerge(3)
	require.NoError(t, err)
	assert.Equal(t, 600, merge.Operations)
}
