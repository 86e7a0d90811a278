package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/speedykv/speedykv/pkg/common/iterator"
	"github.com/speedykv/speedykv/pkg/config"
	"github.com/speedykv/speedykv/pkg/segment"
	"github.com/speedykv/speedykv/pkg/segment/keyindex"
	"github.com/speedykv/speedykv/pkg/stats"
)

const helpText = `
skv - speedykv segment shell

Commands:
  .help                     - Show this help message
  .open UUID [FOLDER]       - Open a segment (FOLDER defaults to the segment dir)
  .close                    - Close the current segment
  .list                     - List the complete segments in the segment dir
  .build UUID|new FILE      - Build a segment from a tab separated key/value file
  .merge UUID UUID...       - Merge segments, earlier ones win on equal keys
  .move FOLDER              - Move the current segment to FOLDER
  .verify                   - Check the current segment for corruption
  .stats                    - Show session statistics and the current segment
  .gc                       - Remove leftovers of interrupted builds
  .exit                     - Exit the program

  GET key                   - Retrieve a value by key
  SCAN [from] [to]          - Scan pairs in range [from, to)
  PREFIX prefix             - Scan pairs whose key starts with prefix
  FUZZY term distance       - Scan pairs within an edit distance of term
  REGEX expr                - Scan pairs whose key matches expr
`

var errExit = errors.New("exit")

// shell holds the state of an interactive session.
type shell struct {
	out   io.Writer
	dir   string
	opts  []segment.Option
	stats *stats.AtomicCollector

	current *segment.Segment
}

func newShell(out io.Writer, cfg *config.Config, opts ...segment.Option) *shell {
	collector := stats.NewAtomicCollector()
	return &shell{
		out:   out,
		dir:   cfg.SegmentDir,
		opts:  append(slices.Clone(opts), segment.WithMetrics(stats.NewSegmentMetrics(collector))),
		stats: collector,
	}
}

// track records op and its latency, counting failures as errors
func (s *shell) track(op stats.OperationType, start time.Time, err error) {
	s.stats.TrackOperationWithLatency(op, uint64(time.Since(start).Nanoseconds()))
	if err != nil {
		s.stats.TrackError(string(op))
	}
}

func (s *shell) prompt() string {
	if s.current == nil {
		return "skv> "
	}
	return fmt.Sprintf("skv:%s> ", s.current.UUID().String()[:8])
}

// exec runs one command line
func (s *shell) exec(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd, args := parts[0], parts[1:]

	if strings.HasPrefix(cmd, ".") {
		switch strings.ToLower(cmd) {
		case ".help":
			fmt.Fprint(s.out, helpText)
			return nil
		case ".open":
			return s.open(args)
		case ".close":
			return s.closeCurrent()
		case ".list":
			return s.list()
		case ".build":
			return s.build(args)
		case ".merge":
			return s.merge(args)
		case ".move":
			return s.move(args)
		case ".verify":
			return s.verify()
		case ".stats":
			return s.printStats()
		case ".gc":
			return s.gc()
		case ".exit":
			return errExit
		}
		return fmt.Errorf("unknown command %q", cmd)
	}

	switch strings.ToUpper(cmd) {
	case "GET":
		return s.get(args)
	case "SCAN":
		return s.scan(args)
	case "PREFIX":
		return s.prefix(args)
	case "FUZZY":
		return s.fuzzy(args)
	case "REGEX":
		return s.regex(args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (s *shell) close() {
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
}

func (s *shell) require() (*segment.Segment, error) {
	if s.current == nil {
		return nil, errors.New("no segment open")
	}
	return s.current, nil
}

func (s *shell) setCurrent(seg *segment.Segment) {
	s.close()
	s.current = seg
}

func (s *shell) open(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: .open UUID [FOLDER]")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid segment id: %w", err)
	}
	folder := s.dir
	if len(args) == 2 {
		folder = args[1]
	}

	seg, err := segment.Open(id, folder, s.opts...)
	if err != nil {
		return err
	}
	s.setCurrent(seg)
	fmt.Fprintf(s.out, "Opened segment %s with %d pairs\n", id, seg.Len())
	return nil
}

func (s *shell) closeCurrent() error {
	seg, err := s.require()
	if err != nil {
		return err
	}
	id := seg.UUID()
	s.close()
	fmt.Fprintf(s.out, "Segment %s closed\n", id)
	return nil
}

func (s *shell) list() error {
	ids, err := segment.List(s.dir)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(s.out, id)
	}
	fmt.Fprintf(s.out, "%d segments\n", len(ids))
	return nil
}

func (s *shell) build(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: .build UUID|new FILE")
	}

	id := uuid.New()
	if args[0] != "new" {
		parsed, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid segment id: %w", err)
		}
		id = parsed
	}

	pairs, err := readPairs(args[1])
	if err != nil {
		return err
	}
	if err := segment.Build(s.dir, id, uint64(len(pairs)), iterator.NewSliceIterator(pairs), s.opts...); err != nil {
		return err
	}

	seg, err := segment.Open(id, s.dir, s.opts...)
	if err != nil {
		return err
	}
	s.setCurrent(seg)
	fmt.Fprintf(s.out, "Built segment %s with %d pairs\n", id, seg.Len())
	return nil
}

// readPairs reads "key<TAB>value" lines, sorted by key. When a key repeats
// the last line wins.
func readPairs(path string) ([]iterator.Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	latest := make(map[string][]byte)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("%s:%d: missing tab separator", path, lineNo)
		}
		latest[key] = []byte(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	pairs := make([]iterator.Pair, 0, len(latest))
	for k, v := range latest {
		pairs = append(pairs, iterator.Pair{Key: []byte(k), Value: v})
	}
	slices.SortFunc(pairs, func(a, b iterator.Pair) int {
		return bytes.Compare(a.Key, b.Key)
	})
	return pairs, nil
}

func (s *shell) merge(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: .merge UUID UUID...")
	}

	ids := make([]uuid.UUID, len(args))
	for i, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return fmt.Errorf("invalid segment id %q: %w", arg, err)
		}
		ids[i] = id
	}

	// the inputs are retired by the merge, the current handle must not outlive them
	if s.current != nil && slices.Contains(ids, s.current.UUID()) {
		s.close()
	}

	inputs := make([]*segment.Segment, 0, len(ids))
	for _, id := range ids {
		seg, err := segment.Open(id, s.dir, s.opts...)
		if err != nil {
			for _, in := range inputs {
				in.Close()
			}
			return err
		}
		inputs = append(inputs, seg)
	}

	merged, err := segment.Merge(inputs, s.dir, s.opts...)
	if merged == nil {
		for _, in := range inputs {
			in.Close()
		}
		return err
	}
	s.setCurrent(merged)
	fmt.Fprintf(s.out, "Merged %d segments into %s with %d pairs\n", len(inputs), merged.UUID(), merged.Len())
	return err
}

func (s *shell) move(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: .move FOLDER")
	}
	seg, err := s.require()
	if err != nil {
		return err
	}
	start := time.Now()
	err = seg.MoveTo(args[0])
	s.track(stats.OpMove, start, err)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Moved segment %s to %s\n", seg.UUID(), seg.Folder())
	return nil
}

func (s *shell) verify() error {
	seg, err := s.require()
	if err != nil {
		return err
	}
	start := time.Now()
	err = seg.Verify()
	s.track(stats.OpVerify, start, err)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Segment %s is consistent\n", seg.UUID())
	return nil
}

func (s *shell) printStats() error {
	s.printSession()

	seg := s.current
	if seg == nil {
		return nil
	}
	filter := seg.BloomFilter()

	fmt.Fprintf(s.out, "Segment: %s\n", seg.UUID())
	fmt.Fprintf(s.out, "  Folder: %s\n", seg.Folder())
	fmt.Fprintf(s.out, "  Pairs: %d\n", seg.Len())
	fmt.Fprintf(s.out, "  Size: %d bytes\n", seg.SizeBytes())
	fmt.Fprintf(s.out, "  Bloom: %d bits, %d hashes, %.2f%% full, target fp %.4f\n",
		filter.Cap(), filter.K(), filter.FillRatio()*100, filter.FalsePositiveRate())
	for _, path := range seg.Paths() {
		fmt.Fprintf(s.out, "  File: %s\n", path)
	}
	return nil
}

func (s *shell) gc() error {
	var live []uuid.UUID
	if s.current != nil {
		live = append(live, s.current.UUID())
	}
	removed, err := segment.RemoveOrphans(s.dir, live)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Removed %d files\n", removed)
	return nil
}

func (s *shell) get(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: GET key")
	}
	seg, err := s.require()
	if err != nil {
		return err
	}
	start := time.Now()
	value, ok, err := seg.Get([]byte(args[0]))
	s.track(stats.OpGet, start, err)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(s.out, "Key not found")
		return nil
	}
	fmt.Fprintln(s.out, printable(value))
	return nil
}

func (s *shell) scan(args []string) error {
	if len(args) > 2 {
		return errors.New("usage: SCAN [from] [to]")
	}
	seg, err := s.require()
	if err != nil {
		return err
	}

	bounds := keyindex.All()
	if len(args) > 0 {
		bounds.Lower = []byte(args[0])
	}
	if len(args) > 1 {
		bounds.Upper = []byte(args[1])
	}
	return s.printAll(stats.OpScan, seg.Range(bounds))
}

func (s *shell) prefix(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: PREFIX prefix")
	}
	seg, err := s.require()
	if err != nil {
		return err
	}
	return s.printAll(stats.OpSearch, seg.Search(keyindex.Prefix([]byte(args[0])), keyindex.All()))
}

func (s *shell) fuzzy(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: FUZZY term distance")
	}
	seg, err := s.require()
	if err != nil {
		return err
	}
	distance, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid distance: %w", err)
	}
	aut, err := keyindex.Fuzzy(args[0], uint8(distance))
	if err != nil {
		return err
	}
	return s.printAll(stats.OpSearch, seg.Search(aut, keyindex.All()))
}

func (s *shell) regex(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: REGEX expr")
	}
	seg, err := s.require()
	if err != nil {
		return err
	}
	aut, err := keyindex.Regexp(args[0])
	if err != nil {
		return err
	}
	return s.printAll(stats.OpSearch, seg.Search(aut, keyindex.All()))
}

func (s *shell) printAll(op stats.OperationType, it *segment.Iterator) error {
	defer it.Close()

	start := time.Now()
	count := 0
	for it.Next() {
		fmt.Fprintf(s.out, "%s: %s\n", printable(it.Key()), printable(it.Value()))
		count++
	}
	err := it.Err()
	s.track(op, start, err)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d pairs\n", count)
	return nil
}

// printSession prints the statistics collected since the shell started
func (s *shell) printSession() {
	all := s.stats.GetStats()
	count := func(key string) uint64 {
		if v, ok := all[key].(uint64); ok {
			return v
		}
		return 0
	}

	fmt.Fprintln(s.out, "Session:")
	fmt.Fprintf(s.out, "  Gets: %d (hits %d, bloom negatives %d, false positives %d)\n",
		count("get_ops"), count("lookup_"+segment.GetHit),
		count("lookup_"+segment.GetBloomNegative), count("lookup_"+segment.GetFalsePositive))
	fmt.Fprintf(s.out, "  Scans: %d, searches: %d\n", count("scan_ops"), count("search_ops"))
	fmt.Fprintf(s.out, "  Builds: %d (%d pairs), merges: %d (%d pairs)\n",
		count("build_ops"), count("build_items"), count("merge_ops"), count("merge_items"))
	fmt.Fprintf(s.out, "  Bytes written: %d, bytes merged: %d\n",
		count("total_bytes_written"), count("total_bytes_read"))

	for _, op := range []stats.OperationType{stats.OpGet, stats.OpBuild, stats.OpMerge} {
		if latency, ok := all[string(op)+"_latency"].(map[string]interface{}); ok {
			if avg, ok := latency["avg_ns"].(uint64); ok {
				fmt.Fprintf(s.out, "  %s avg: %.3f ms\n", op, float64(avg)/1e6)
			}
		}
	}
}

// printable renders data as text, quoting it when it is not valid UTF-8
func printable(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strconv.Quote(string(data))
}
