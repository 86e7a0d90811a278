package blob

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIndex(t *testing.T, ptrs []Pointer) string {
	t.Helper()

	var buf bytes.Buffer
	w := NewIndexWriter(&buf)
	for i, ptr := range ptrs {
		id, err := w.Append(ptr)
		require.NoError(t, err)
		require.Equal(t, uint64(i), id, "ids are positions")
	}
	require.NoError(t, w.Finish())

	path := filepath.Join(t.TempDir(), "test.bidx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestIndexRoundTrip(t *testing.T) {
	ptrs := []Pointer{
		{Offset: 0, Length: 17},
		{Offset: 17, Length: 4096},
		{Offset: 1 << 40, Length: 1<<32 - 1},
	}
	idx, err := OpenIndex(writeIndex(t, ptrs))
	require.NoError(t, err)
	defer idx.Close()

	assert.Equal(t, uint64(len(ptrs)), idx.Len())
	for i, want := range ptrs {
		got, err := idx.Get(uint64(i))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = idx.Get(uint64(len(ptrs)))
	assert.ErrorIs(t, err, ErrIDOutOfRange)
}

func TestIndexEmpty(t *testing.T) {
	idx, err := OpenIndex(writeIndex(t, nil))
	require.NoError(t, err)
	defer idx.Close()

	assert.Zero(t, idx.Len())
	_, err = idx.Get(0)
	assert.ErrorIs(t, err, ErrIDOutOfRange)
}

func TestIndexDetectsCorruption(t *testing.T) {
	path := writeIndex(t, []Pointer{{Offset: 0, Length: 10}, {Offset: 10, Length: 20}})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[IndexEntrySize] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = OpenIndex(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenIndexMissingFile(t *testing.T) {
	_, err := OpenIndex(filepath.Join(t.TempDir(), "missing.bidx"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIndexWriterFinishOnce(t *testing.T) {
	w := NewIndexWriter(discard{})
	require.NoError(t, w.Finish())
	assert.ErrorIs(t, w.Finish(), ErrFinished)

	_, err := w.Append(Pointer{})
	assert.ErrorIs(t, err, ErrFinished)
}
