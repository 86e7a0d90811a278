package segment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedykv/speedykv/pkg/common/iterator"
)

func pairsOf(kv ...string) []iterator.Pair {
	pairs := make([]iterator.Pair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, iterator.Pair{Key: []byte(kv[i]), Value: []byte(kv[i+1])})
	}
	return pairs
}

func TestMergeNoSegments(t *testing.T) {
	merged, err := Merge(nil, t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, merged)
}

func TestMergeSingleSegmentIsIdentity(t *testing.T) {
	dir := t.TempDir()
	seg := createSegment(t, dir, sortedPairs(5, "v"))
	defer seg.Close()

	merged, err := Merge([]*Segment{seg}, t.TempDir())
	require.NoError(t, err)
	assert.Same(t, seg, merged)

	ids, err := List(dir)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestMergeEarlierSegmentWins(t *testing.T) {
	dir := t.TempDir()
	newer := createSegment(t, dir, pairsOf("b", "new-b", "d", "new-d"))
	older := createSegment(t, dir, pairsOf("a", "old-a", "b", "old-b", "c", "old-c", "d", "old-d"))
	oldIDs := []string{newer.UUID().String(), older.UUID().String()}

	merged, err := Merge([]*Segment{newer, older}, dir)
	require.NoError(t, err)
	defer merged.Close()

	got := collect(t, merged.Iter())
	assert.Equal(t, pairsOf("a", "old-a", "b", "new-b", "c", "old-c", "d", "new-d"), got)
	assert.Equal(t, 4, merged.Len())
	assert.NoError(t, merged.Verify())

	// inputs are closed and their files removed
	_, _, err = newer.Get([]byte("b"))
	assert.ErrorIs(t, err, ErrClosed)

	ids, err := List(dir)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, merged.UUID(), ids[0])
	assert.NotContains(t, oldIDs, ids[0].String())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestMergeIntoOtherFolder(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	a := createSegment(t, src, sortedPairs(10, "a"))
	b := createSegment(t, src, sortedPairs(20, "b"))

	merged, err := Merge([]*Segment{a, b}, dst)
	require.NoError(t, err)
	defer merged.Close()

	assert.Equal(t, dst, merged.Folder())
	assert.Equal(t, 20, merged.Len())

	value, ok, err := merged.Get([]byte("key0005"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a5", string(value))

	value, ok, err = merged.Get([]byte("key0015"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b15", string(value))

	ids, err := List(src)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// afterBuild runs fn once a build has published its files
type afterBuild struct {
	Metrics
	fn func()
}

func (a afterBuild) RecordBuild(ctx context.Context, duration time.Duration, items uint64, bytes int64, err error) {
	if err == nil {
		a.fn()
	}
}

func TestMergeNamesUnopenableOutput(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	a := createSegment(t, src, sortedPairs(10, "a"))
	b := createSegment(t, src, sortedPairs(20, "b"))

	dropBloom := afterBuild{Metrics: NewNoopMetrics(), fn: func() {
		blooms, _ := filepath.Glob(filepath.Join(dst, "*"+BloomExt))
		for _, path := range blooms {
			os.Remove(path)
		}
	}}

	merged, err := Merge([]*Segment{a, b}, dst, WithMetrics(dropBloom))
	require.Error(t, err)
	assert.Nil(t, merged)
	assert.ErrorIs(t, err, ErrMissingFile)

	// the remaining files of the new segment carry the id named by the error
	indexes, globErr := filepath.Glob(filepath.Join(dst, "*"+KeyIndexExt))
	require.NoError(t, globErr)
	require.Len(t, indexes, 1)
	id := strings.TrimSuffix(filepath.Base(indexes[0]), KeyIndexExt)
	assert.Contains(t, err.Error(), "failed to open merged segment "+id)
}

func TestMergeEmptySegments(t *testing.T) {
	dir := t.TempDir()
	a := createSegment(t, dir, nil)
	b := createSegment(t, dir, nil)

	merged, err := Merge([]*Segment{a, b}, dir)
	require.NoError(t, err)
	defer merged.Close()

	assert.True(t, merged.IsEmpty())
}

func TestMergeDefersDeletionWithTracker(t *testing.T) {
	dir := t.TempDir()
	tracker := NewTracker()

	a := createSegment(t, dir, sortedPairs(5, "a"), WithTracker(tracker))
	b := createSegment(t, dir, sortedPairs(5, "b"), WithTracker(tracker))

	// a reader still holds b
	reader, err := Open(b.UUID(), dir, WithTracker(tracker))
	require.NoError(t, err)
	assert.Equal(t, 2, tracker.Refs(b.UUID()))

	merged, err := Merge([]*Segment{a, b}, dir, WithTracker(tracker))
	require.NoError(t, err)
	defer merged.Close()

	assert.Equal(t, 1, tracker.Pending())
	for _, path := range FilesFor(dir, a.UUID()).All() {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "%s should be removed", path)
	}

	value, ok, err := reader.Get([]byte("key0003"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b3", string(value))

	require.NoError(t, reader.Close())
	assert.Equal(t, 0, tracker.Pending())
	for _, path := range FilesFor(dir, b.UUID()).All() {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "%s should be removed", path)
	}
}

func TestMergeFailureKeepsInputs(t *testing.T) {
	dir := t.TempDir()
	a := createSegment(t, dir, sortedPairs(5, "a"))
	b := createSegment(t, dir, sortedPairs(5, "b"))
	defer a.Close()
	defer b.Close()

	// a regular file in place of the destination folder makes the build fail
	blocked := dir + "/blocked"
	require.NoError(t, os.WriteFile(blocked, nil, 0644))

	merged, err := Merge([]*Segment{a, b}, blocked)
	require.Error(t, err)
	assert.Nil(t, merged)

	value, ok, err := a.Get([]byte("key0001"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a1", string(value))

	ids, err := List(dir)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

// TestMergeMatchesModel merges random segments and compares the result with a
// map where the first segment to define a key owns it.
func TestMergeMatchesModel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("merge keeps the earliest value of every key", prop.ForAll(
		func(inputs [][]uint8) bool {
			dir := t.TempDir()
			model := make(map[string]string)
			segments := make([]*Segment, 0, len(inputs))

			for idx, raw := range inputs {
				uniq := make(map[string]bool)
				var keys []string
				for _, k := range raw {
					key := fmt.Sprintf("k%03d", k)
					if !uniq[key] {
						uniq[key] = true
						keys = append(keys, key)
					}
				}
				sort.Strings(keys)

				pairs := make([]iterator.Pair, len(keys))
				for i, key := range keys {
					value := fmt.Sprintf("seg%d", idx)
					pairs[i] = iterator.Pair{Key: []byte(key), Value: []byte(value)}
					if _, ok := model[key]; !ok {
						model[key] = value
					}
				}

				seg, err := Create(dir, uint64(len(pairs)), iterator.NewSliceIterator(pairs), WithSync(false))
				if err != nil {
					return false
				}
				segments = append(segments, seg)
			}

			merged, err := Merge(segments, dir, WithSync(false))
			if err != nil {
				return false
			}
			defer merged.Close()

			got, err := iterator.Collect(merged.Iter())
			if err != nil || len(got) != len(model) {
				return false
			}
			for i, p := range got {
				if i > 0 && string(got[i-1].Key) >= string(p.Key) {
					return false
				}
				if model[string(p.Key)] != string(p.Value) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(3, gen.SliceOf(gen.UInt8())),
	))

	properties.TestingRun(t)
}
