package keyindex

import "bytes"

// Bounds restricts a scan to a key interval. A nil Lower or Upper leaves that
// side unbounded. The zero value covers every key, and the default shape of
// a bounded scan is [Lower, Upper).
type Bounds struct {
	Lower          []byte
	Upper          []byte
	LowerExclusive bool
	UpperInclusive bool
}

// All covers every key
func All() Bounds {
	return Bounds{}
}

// Between covers [lower, upper)
func Between(lower, upper []byte) Bounds {
	return Bounds{Lower: lower, Upper: upper}
}

// From covers every key >= lower
func From(lower []byte) Bounds {
	return Bounds{Lower: lower}
}

// Until covers every key < upper
func Until(upper []byte) Bounds {
	return Bounds{Upper: upper}
}

// Contains reports whether key falls within the bounds.
func (b Bounds) Contains(key []byte) bool {
	if b.Lower != nil {
		c := bytes.Compare(key, b.Lower)
		if c < 0 || (c == 0 && b.LowerExclusive) {
			return false
		}
	}
	if b.Upper != nil {
		c := bytes.Compare(key, b.Upper)
		if c > 0 || (c == 0 && !b.UpperInclusive) {
			return false
		}
	}
	return true
}

// toHalfOpen converts the bounds to an inclusive start and an exclusive end.
// The smallest key greater than k is k followed by a zero byte. ok is false
// when the interval is empty.
func (b Bounds) toHalfOpen() (start, end []byte, ok bool) {
	if b.Lower != nil {
		start = b.Lower
		if b.LowerExclusive {
			start = successor(b.Lower)
		}
	}
	if b.Upper != nil {
		end = b.Upper
		if b.UpperInclusive {
			end = successor(b.Upper)
		}
	}
	if end != nil && bytes.Compare(start, end) >= 0 {
		return nil, nil, false
	}
	return start, end, true
}

func successor(k []byte) []byte {
	out := make([]byte, len(k)+1)
	copy(out, k)
	return out
}
