package iterator

// Iterator is a forward-only cursor over key-value pairs in ascending key order.
// This is the contract shared by segment scans, merge inputs and writer inputs.
//
// Call Next before the first access. Key and Value are only valid until the
// following call to Next; callers that retain them must copy.
type Iterator interface {
	// Next advances to the next pair and reports whether one exists
	Next() bool

	// Key returns the current key
	Key() []byte

	// Value returns the current value
	Value() []byte

	// Err returns the first error encountered, if any. A false Next with a
	// nil Err means the iterator was exhausted normally.
	Err() error

	// Close releases any resources held by the iterator
	Close() error
}

// Pair is a single key-value entry.
type Pair struct {
	Key   []byte
	Value []byte
}

// SliceIterator iterates over an in-memory slice of pairs. The slice must
// already be sorted by key when fed to a segment writer.
type SliceIterator struct {
	pairs []Pair
	pos   int
}

// NewSliceIterator creates an iterator over pairs
func NewSliceIterator(pairs []Pair) *SliceIterator {
	return &SliceIterator{pairs: pairs, pos: -1}
}

// Next advances the iterator to the next pair
func (s *SliceIterator) Next() bool {
	if s.pos < len(s.pairs) {
		s.pos++
	}
	return s.pos < len(s.pairs)
}

// Key returns the current key
func (s *SliceIterator) Key() []byte {
	if s.pos < 0 || s.pos >= len(s.pairs) {
		return nil
	}
	return s.pairs[s.pos].Key
}

// Value returns the current value
func (s *SliceIterator) Value() []byte {
	if s.pos < 0 || s.pos >= len(s.pairs) {
		return nil
	}
	return s.pairs[s.pos].Value
}

// Err always returns nil
func (s *SliceIterator) Err() error { return nil }

// Close is a no-op
func (s *SliceIterator) Close() error { return nil }

// Collect drains it into a slice of copied pairs and closes it.
func Collect(it Iterator) ([]Pair, error) {
	defer it.Close()

	var out []Pair
	for it.Next() {
		out = append(out, Pair{
			Key:   append([]byte(nil), it.Key()...),
			Value: append([]byte(nil), it.Value()...),
		})
	}
	return out, it.Err()
}

// Peekable wraps an Iterator with one item of lookahead.
type Peekable struct {
	it     Iterator
	primed bool
	has    bool
}

// NewPeekable creates a lookahead adapter over it
func NewPeekable(it Iterator) *Peekable {
	return &Peekable{it: it}
}

// Peek reports whether a head item exists without consuming it.
func (p *Peekable) Peek() bool {
	if !p.primed {
		p.has = p.it.Next()
		p.primed = true
	}
	return p.has
}

// Key returns the head key. Only valid after Peek returned true.
func (p *Peekable) Key() []byte {
	if !p.Peek() {
		return nil
	}
	return p.it.Key()
}

// Value returns the head value. Only valid after Peek returned true.
func (p *Peekable) Value() []byte {
	if !p.Peek() {
		return nil
	}
	return p.it.Value()
}

// Advance consumes the head item.
func (p *Peekable) Advance() {
	if !p.Peek() {
		return
	}
	p.primed = false
}

// Err returns the error of the wrapped iterator
func (p *Peekable) Err() error {
	return p.it.Err()
}

// Close closes the wrapped iterator
func (p *Peekable) Close() error {
	return p.it.Close()
}
