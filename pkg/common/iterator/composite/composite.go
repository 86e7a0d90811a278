package composite

import (
	"bytes"

	"github.com/speedykv/speedykv/pkg/common/iterator"
)

// CompositeIterator is an interface for iterators that combine multiple source iterators
// into a single logical view.
type CompositeIterator interface {
	iterator.Iterator

	// NumSources returns the number of source iterators
	NumSources() int
}

// MergeIterator is a deduplicating k-way merge over sorted sources.
//
// Sources are given in priority order: when several sources hold the same
// key, the one at the lowest index wins and the equal heads of every other
// source are consumed and dropped. Each source must itself be strictly
// ascending.
type MergeIterator struct {
	sources []*iterator.Peekable

	key   []byte
	value []byte
	err   error
	done  bool
}

// NewMergeIterator creates a merge over sources, highest priority first.
func NewMergeIterator(sources []iterator.Iterator) *MergeIterator {
	peekables := make([]*iterator.Peekable, len(sources))
	for i, src := range sources {
		peekables[i] = iterator.NewPeekable(src)
	}
	return &MergeIterator{sources: peekables}
}

// Next advances to the next unique key across all sources
func (m *MergeIterator) Next() bool {
	if m.done {
		return false
	}

	// Pick the smallest head; strict comparison keeps the earliest source on ties.
	minIdx := -1
	var minKey []byte
	for i, src := range m.sources {
		if !src.Peek() {
			if err := src.Err(); err != nil {
				m.fail(err)
				return false
			}
			continue
		}
		if minIdx == -1 || bytes.Compare(src.Key(), minKey) < 0 {
			minIdx = i
			minKey = src.Key()
		}
	}

	if minIdx == -1 {
		m.done = true
		m.key, m.value = nil, nil
		return false
	}

	winner := m.sources[minIdx]
	m.key = append(m.key[:0], winner.Key()...)
	m.value = append(m.value[:0], winner.Value()...)

	// Consume the emitted key from every source that currently holds it.
	for _, src := range m.sources {
		if src.Peek() && bytes.Equal(src.Key(), m.key) {
			src.Advance()
		}
	}

	return true
}

func (m *MergeIterator) fail(err error) {
	m.err = err
	m.done = true
	m.key, m.value = nil, nil
}

// Key returns the current key
func (m *MergeIterator) Key() []byte {
	return m.key
}

// Value returns the value chosen for the current key
func (m *MergeIterator) Value() []byte {
	return m.value
}

// Err returns the first source error
func (m *MergeIterator) Err() error {
	return m.err
}

// Close closes every source and returns the first close error
func (m *MergeIterator) Close() error {
	var first error
	for _, src := range m.sources {
		if err := src.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NumSources returns the number of source iterators
func (m *MergeIterator) NumSources() int {
	return len(m.sources)
}
