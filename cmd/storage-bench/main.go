package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/speedykv/speedykv/pkg/compression"
	"github.com/speedykv/speedykv/pkg/segment"
)

const (
	defaultValueSize = 100
	defaultKeyCount  = 100000
)

var (
	// Command line flags
	benchmarkType = flag.String("type", "all", "Type of benchmark to run (build, read, scan, range-scan, prefix, fuzzy, merge, codecs, or all)")
	duration      = flag.Duration("duration", 5*time.Second, "Duration of each timed benchmark")
	numKeys       = flag.Int("keys", defaultKeyCount, "Number of keys per segment")
	valueSize     = flag.Int("value-size", defaultValueSize, "Size of values in bytes")
	dataDir       = flag.String("data-dir", "./benchmark-data", "Directory to store benchmark segments")
	sequential    = flag.Bool("sequential", false, "Use sequential keys instead of random")
	scanSize      = flag.Int("scan-size", 100, "Number of entries to scan in range scan benchmarks")
	codecName     = flag.String("codec", "none", "Value compression (none, snappy, zstd, lz4)")
	mergeInputs   = flag.Int("merge-inputs", 4, "Number of segments merged by the merge benchmark")
	cpuProfile    = flag.String("cpu-profile", "", "Write CPU profile to file")
	memProfile    = flag.String("mem-profile", "", "Write memory profile to file")
	resultsFile   = flag.String("results", "", "CSV file to write results to (in addition to stdout)")
)

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	codec, err := compression.ParseCodec(*codecName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid codec: %v\n", err)
		os.Exit(1)
	}

	// Remove any existing benchmark data before starting
	if _, err := os.Stat(*dataDir); err == nil {
		fmt.Println("Cleaning previous benchmark data...")
		if err := os.RemoveAll(*dataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clean benchmark directory: %v\n", err)
		}
	}
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create benchmark directory: %v\n", err)
		os.Exit(1)
	}

	b := &bench{
		dir:       *dataDir,
		keys:      *numKeys,
		valueSize: *valueSize,
		duration:  *duration,
		scanSize:  *scanSize,
		codec:     codec,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	fmt.Printf("Benchmark Report (%s)\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Keys: %d, Value Size: %d bytes, Duration: %s, Mode: %s, Codec: %s\n",
		b.keys, b.valueSize, b.duration, keyMode(), codec)

	var results []BenchmarkResult
	run := func(r BenchmarkResult, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s benchmark failed: %v\n", r.BenchmarkType, err)
			return
		}
		results = append(results, r)
	}

	types := strings.Split(*benchmarkType, ",")
	if len(types) == 1 && types[0] == "all" {
		types = []string{"build", "read", "scan", "range-scan", "prefix", "fuzzy", "merge"}
	}
	for _, typ := range types {
		switch strings.ToLower(typ) {
		case "build":
			run(b.runBuild())
		case "read":
			run(b.runRead())
		case "scan":
			run(b.runScan())
		case "range-scan":
			run(b.runRangeScan())
		case "prefix":
			run(b.runPrefix())
		case "fuzzy":
			run(b.runFuzzy())
		case "merge":
			run(b.runMerge(*mergeInputs))
		case "codecs":
			codecResults, err := b.runCodecs()
			if err != nil {
				fmt.Fprintf(os.Stderr, "codec benchmark failed: %v\n", err)
				continue
			}
			results = append(results, codecResults...)
		default:
			fmt.Fprintf(os.Stderr, "Unknown benchmark type: %s\n", typ)
		}
	}

	PrintResultTable(results)

	if *resultsFile != "" {
		if err := SaveResultCSV(results, *resultsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results: %v\n", err)
		} else {
			fmt.Printf("Results written to %s\n", *resultsFile)
		}
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
		}
	}
}

func keyMode() string {
	if *sequential {
		return "sequential"
	}
	return "random"
}

func (b *bench) options() []segment.Option {
	return []segment.Option{
		segment.WithCompression(b.codec, 0),
		segment.WithSync(false),
	}
}
