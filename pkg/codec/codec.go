// Package codec converts typed keys and values to and from the raw bytes
// stored in segments.
//
// Key codecs must preserve order: for any a < b, Encode(a) must sort before
// Encode(b) in byte order, so that range scans over encoded keys follow the
// natural order of the type.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ErrInvalidLength is returned when fixed-width input has the wrong size
var ErrInvalidLength = errors.New("codec: invalid length")

// Codec encodes values of type T.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// Bytes passes byte slices through unchanged.
type Bytes struct{}

func (Bytes) Encode(v []byte) ([]byte, error) { return v, nil }

func (Bytes) Decode(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

// String encodes strings as their UTF-8 bytes.
type String struct{}

func (String) Encode(v string) ([]byte, error) { return []byte(v), nil }

func (String) Decode(data []byte) (string, error) { return string(data), nil }

// Uint64 encodes integers as 8 big-endian bytes.
type Uint64 struct{}

func (Uint64) Encode(v uint64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, v), nil
}

func (Uint64) Decode(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: uint64 needs 8 bytes, got %d", ErrInvalidLength, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// Int64 encodes signed integers as 8 big-endian bytes with the sign bit
// flipped, so negative numbers sort first.
type Int64 struct{}

func (Int64) Encode(v int64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, uint64(v)^(1<<63)), nil
}

func (Int64) Decode(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: int64 needs 8 bytes, got %d", ErrInvalidLength, len(data))
	}
	return int64(binary.BigEndian.Uint64(data) ^ (1 << 63)), nil
}

// JSON encodes values as JSON. It does not preserve order and is meant for
// values only.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: failed to encode json: %w", err)
	}
	return data, nil
}

func (JSON[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("codec: failed to decode json: %w", err)
	}
	return v, nil
}

// Proto encodes protobuf messages. New must return an empty message to
// decode into.
type Proto[T proto.Message] struct {
	New func() T
}

func (p Proto[T]) Encode(v T) ([]byte, error) {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: failed to encode proto: %w", err)
	}
	return data, nil
}

func (p Proto[T]) Decode(data []byte) (T, error) {
	v := p.New()
	if err := proto.Unmarshal(data, v); err != nil {
		return v, fmt.Errorf("codec: failed to decode proto: %w", err)
	}
	return v, nil
}
