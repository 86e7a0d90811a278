package codec

import (
	"bytes"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/speedykv/speedykv/pkg/segment"
)

func TestFixedWidthCodecs(t *testing.T) {
	u, err := Uint64{}.Encode(0x0102030405060708)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, u)

	for _, v := range []int64{math.MinInt64, -1, 0, 1, math.MaxInt64} {
		data, err := Int64{}.Encode(v)
		require.NoError(t, err)
		got, err := Int64{}.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	_, err = Uint64{}.Decode([]byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidLength)
	_, err = Int64{}.Decode(nil)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestIntegerCodecsPreserveOrder(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("int64 encoding sorts like the numbers", prop.ForAll(
		func(a, b int64) bool {
			ea, _ := Int64{}.Encode(a)
			eb, _ := Int64{}.Encode(b)
			switch {
			case a < b:
				return bytes.Compare(ea, eb) < 0
			case a > b:
				return bytes.Compare(ea, eb) > 0
			default:
				return bytes.Equal(ea, eb)
			}
		},
		gen.Int64(), gen.Int64(),
	))

	properties.Property("uint64 encoding sorts like the numbers", prop.ForAll(
		func(a, b uint64) bool {
			ea, _ := Uint64{}.Encode(a)
			eb, _ := Uint64{}.Encode(b)
			return (a < b) == (bytes.Compare(ea, eb) < 0)
		},
		gen.UInt64(), gen.UInt64(),
	))

	properties.TestingRun(t)
}

type user struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestValueCodecs(t *testing.T) {
	c := JSON[user]{}
	data, err := c.Encode(user{Name: "ada", Age: 36})
	require.NoError(t, err)
	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, user{Name: "ada", Age: 36}, got)

	_, err = c.Decode([]byte("{"))
	assert.Error(t, err)

	p := Proto[*wrapperspb.StringValue]{New: func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }}
	data, err = p.Encode(wrapperspb.String("hello"))
	require.NoError(t, err)
	msg, err := p.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.GetValue())

	raw := []byte("abc")
	copied, err := Bytes{}.Decode(raw)
	require.NoError(t, err)
	raw[0] = 'z'
	assert.Equal(t, "abc", string(copied))
}

func TestTypedSegment(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	pairs := []Pair[int64, user]{
		{Key: -5, Value: user{Name: "minus five"}},
		{Key: 0, Value: user{Name: "zero"}},
		{Key: 7, Value: user{Name: "seven", Age: 7}},
		{Key: 42, Value: user{Name: "answer", Age: 42}},
	}
	require.NoError(t, BuildSorted(dir, id, pairs, Int64{}, JSON[user]{}))

	seg, err := segment.Open(id, dir)
	require.NoError(t, err)
	defer seg.Close()

	view := NewTyped[int64, user](seg, Int64{}, JSON[user]{})
	assert.Same(t, seg, view.Segment())

	got, ok, err := view.Get(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "seven", got.Name)

	_, ok, err = view.Get(8)
	require.NoError(t, err)
	assert.False(t, ok)

	it, err := view.Range(-10, 8)
	require.NoError(t, err)
	var keys []int64
	for it.Next() {
		keys = append(keys, it.Key())
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	assert.Equal(t, []int64{-5, 0, 7}, keys)

	all := view.Iter()
	var names []string
	for all.Next() {
		names = append(names, all.Value().Name)
	}
	require.NoError(t, all.Err())
	require.NoError(t, all.Close())
	assert.Equal(t, []string{"minus five", "zero", "seven", "answer"}, names)
}

func TestTypedIteratorStopsOnDecodeError(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	pairs := []Pair[string, string]{{Key: "a", Value: "not json"}}
	require.NoError(t, BuildSorted(dir, id, pairs, String{}, String{}))

	seg, err := segment.Open(id, dir)
	require.NoError(t, err)
	defer seg.Close()

	view := NewTyped[string, user](seg, String{}, JSON[user]{})
	it := view.Iter()
	defer it.Close()
	assert.False(t, it.Next())
	assert.Error(t, it.Err())

	_, _, err = view.Get("a")
	assert.Error(t, err)
}

func TestBuildSortedRejectsUnsortedKeys(t *testing.T) {
	pairs := []Pair[uint64, string]{{Key: 2, Value: "b"}, {Key: 1, Value: "a"}}
	err := BuildSorted(t.TempDir(), uuid.New(), pairs, Uint64{}, String{})
	assert.Error(t, err)
}
