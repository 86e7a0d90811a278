// Package bloom implements the segment bloom filter and its ".blm" file format.
//
// The filter never reports a false negative: after Insert(k), Contains(k) is
// always true. Contains may report true for keys never inserted with a
// probability close to the configured false-positive rate.
//
// On disk the filter is a single record:
//
//	magic "SKVB" (4) | version (4) | fp rate float64 (8) | expected items (8)
//	bloom payload (bits-and-blooms WriteTo: m, k, bitset words)
//	xxhash64 of everything above (8)
package bloom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultFalsePositiveRate is the target rate used when none is configured
	DefaultFalsePositiveRate = 0.01

	fileMagic   = uint32(0x534B5642) // "SKVB"
	fileVersion = uint32(1)
	headerSize  = 24
	trailerSize = 8
)

// ErrCorrupt indicates an undecodable bloom filter file
var ErrCorrupt = errors.New("bloom: corrupt filter data")

// Filter is a fixed-size bloom filter over raw key bytes.
type Filter struct {
	filter   *bloom.BloomFilter
	fpRate   float64
	expected uint64
}

// New creates a filter sized for expectedItems at the given false-positive rate.
func New(expectedItems uint64, fpRate float64) *Filter {
	if expectedItems < 1 {
		expectedItems = 1
	}
	if fpRate <= 0 || fpRate >= 1 || math.IsNaN(fpRate) {
		fpRate = DefaultFalsePositiveRate
	}

	return &Filter{
		filter:   bloom.NewWithEstimates(uint(expectedItems), fpRate),
		fpRate:   fpRate,
		expected: expectedItems,
	}
}

// Insert adds key to the filter
func (f *Filter) Insert(key []byte) {
	f.filter.Add(key)
}

// Contains reports whether key may have been inserted. False is definitive.
func (f *Filter) Contains(key []byte) bool {
	return f.filter.Test(key)
}

// FalsePositiveRate returns the target rate the filter was sized for
func (f *Filter) FalsePositiveRate() float64 {
	return f.fpRate
}

// ExpectedItems returns the item count the filter was sized for
func (f *Filter) ExpectedItems() uint64 {
	return f.expected
}

// Cap returns the number of bits in the filter
func (f *Filter) Cap() uint {
	return f.filter.Cap()
}

// K returns the number of hash functions
func (f *Filter) K() uint {
	return f.filter.K()
}

// Bits exposes the underlying bit buffer
func (f *Filter) Bits() *bitset.BitSet {
	return f.filter.BitSet()
}

// FillRatio returns the fraction of bits set
func (f *Filter) FillRatio() float64 {
	if f.Cap() == 0 {
		return 0
	}
	return float64(f.Bits().Count()) / float64(f.Cap())
}

// WriteTo serializes the filter as one checksummed record.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	digest := xxhash.New()
	mw := io.MultiWriter(w, digest)

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], fileMagic)
	binary.LittleEndian.PutUint32(header[4:8], fileVersion)
	binary.LittleEndian.PutUint64(header[8:16], math.Float64bits(f.fpRate))
	binary.LittleEndian.PutUint64(header[16:24], f.expected)

	n, err := mw.Write(header)
	written := int64(n)
	if err != nil {
		return written, fmt.Errorf("failed to write bloom header: %w", err)
	}

	m, err := f.filter.WriteTo(mw)
	written += m
	if err != nil {
		return written, fmt.Errorf("failed to write bloom bits: %w", err)
	}

	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint64(trailer[:], digest.Sum64())
	n, err = w.Write(trailer[:])
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("failed to write bloom checksum: %w", err)
	}

	return written, nil
}

// ReadFrom decodes a filter previously written with WriteTo.
func ReadFrom(r io.Reader) (*Filter, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read bloom filter: %w", err)
	}
	return Decode(data)
}

// Decode parses a serialized filter.
func Decode(data []byte) (*Filter, error) {
	if len(data) < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}

	body := data[:len(data)-trailerSize]
	want := binary.LittleEndian.Uint64(data[len(data)-trailerSize:])
	if got := xxhash.Sum64(body); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	if magic := binary.LittleEndian.Uint32(body[0:4]); magic != fileMagic {
		return nil, fmt.Errorf("%w: bad magic %x", ErrCorrupt, magic)
	}
	if version := binary.LittleEndian.Uint32(body[4:8]); version != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}

	f := &Filter{
		fpRate:   math.Float64frombits(binary.LittleEndian.Uint64(body[8:16])),
		expected: binary.LittleEndian.Uint64(body[16:24]),
		filter:   &bloom.BloomFilter{},
	}

	if _, err := f.filter.ReadFrom(bytes.NewReader(body[headerSize:])); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if f.filter.Cap() == 0 || f.filter.K() == 0 {
		return nil, fmt.Errorf("%w: empty filter parameters", ErrCorrupt)
	}

	return f, nil
}
