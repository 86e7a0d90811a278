package codec

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/speedykv/speedykv/pkg/common/iterator"
	"github.com/speedykv/speedykv/pkg/segment"
	"github.com/speedykv/speedykv/pkg/segment/keyindex"
)

// Typed is a typed view over a segment.
type Typed[K, V any] struct {
	seg    *segment.Segment
	keys   Codec[K]
	values Codec[V]
}

// NewTyped wraps seg with the given key and value codecs
func NewTyped[K, V any](seg *segment.Segment, keys Codec[K], values Codec[V]) *Typed[K, V] {
	return &Typed[K, V]{seg: seg, keys: keys, values: values}
}

// Segment returns the underlying segment
func (t *Typed[K, V]) Segment() *segment.Segment {
	return t.seg
}

// Get returns the value stored for key
func (t *Typed[K, V]) Get(key K) (V, bool, error) {
	var zero V
	raw, err := t.keys.Encode(key)
	if err != nil {
		return zero, false, err
	}
	data, ok, err := t.seg.Get(raw)
	if err != nil || !ok {
		return zero, ok, err
	}
	v, err := t.values.Decode(data)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Range returns the pairs with lower <= key < upper
func (t *Typed[K, V]) Range(lower, upper K) (*Iterator[K, V], error) {
	lo, err := t.keys.Encode(lower)
	if err != nil {
		return nil, err
	}
	hi, err := t.keys.Encode(upper)
	if err != nil {
		return nil, err
	}
	return t.newIterator(t.seg.Range(keyindex.Between(lo, hi))), nil
}

// Iter returns every pair in key order
func (t *Typed[K, V]) Iter() *Iterator[K, V] {
	return t.newIterator(t.seg.Iter())
}

func (t *Typed[K, V]) newIterator(it *segment.Iterator) *Iterator[K, V] {
	return &Iterator[K, V]{it: it, keys: t.keys, values: t.values}
}

// Iterator decodes the pairs of a segment iterator.
type Iterator[K, V any] struct {
	it     *segment.Iterator
	keys   Codec[K]
	values Codec[V]

	key   K
	value V
	err   error
}

// Next advances to the next pair. It stops at the first pair that fails to
// decode.
func (i *Iterator[K, V]) Next() bool {
	if i.err != nil || !i.it.Next() {
		return false
	}
	if i.key, i.err = i.keys.Decode(i.it.Key()); i.err != nil {
		return false
	}
	if i.value, i.err = i.values.Decode(i.it.Value()); i.err != nil {
		return false
	}
	return true
}

// Key returns the current key
func (i *Iterator[K, V]) Key() K { return i.key }

// Value returns the current value
func (i *Iterator[K, V]) Value() V { return i.value }

// Err returns the first decode or read error
func (i *Iterator[K, V]) Err() error {
	if i.err != nil {
		return i.err
	}
	return i.it.Err()
}

// Close releases the iterator
func (i *Iterator[K, V]) Close() error {
	return i.it.Close()
}

// Pair is a typed key-value entry.
type Pair[K, V any] struct {
	Key   K
	Value V
}

// BuildSorted encodes pairs, which must already be in ascending encoded key
// order, and writes them as segment id in folder.
func BuildSorted[K, V any](folder string, id uuid.UUID, pairs []Pair[K, V], keys Codec[K], values Codec[V], opts ...segment.Option) error {
	raw := make([]iterator.Pair, len(pairs))
	for n, p := range pairs {
		k, err := keys.Encode(p.Key)
		if err != nil {
			return fmt.Errorf("failed to encode key %d: %w", n, err)
		}
		v, err := values.Encode(p.Value)
		if err != nil {
			return fmt.Errorf("failed to encode value %d: %w", n, err)
		}
		raw[n] = iterator.Pair{Key: k, Value: v}
	}
	return segment.Build(folder, id, uint64(len(raw)), iterator.NewSliceIterator(raw), opts...)
}
