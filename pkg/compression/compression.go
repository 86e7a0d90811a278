// Package compression encodes blob store values with a per-segment codec.
package compression

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var (
	// ErrUnknownCodec is returned when an unsupported compression codec is specified
	ErrUnknownCodec = errors.New("unknown compression codec")

	// ErrInvalidCompressedData is returned when compressed data cannot be decompressed
	ErrInvalidCompressedData = errors.New("invalid compressed data")
)

// Codec identifies a compression algorithm. The numeric value is persisted in
// the store footer and must never be reassigned.
type Codec uint32

const (
	None   Codec = 0
	Snappy Codec = 1
	Zstd   Codec = 2
	LZ4    Codec = 3
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint32(c))
	}
}

// ParseCodec maps a config name to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Valid reports whether c is a known codec
func (c Codec) Valid() bool {
	return c <= LZ4
}

// Manager compresses and decompresses values for one codec. Encode and
// Decode are safe for concurrent use.
type Manager struct {
	codec       Codec
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

// NewManager creates a Manager for codec. level is only used by zstd, where
// it follows the zstd command line levels (1-22); zero selects the default.
func NewManager(codec Codec, level int) (*Manager, error) {
	m := &Manager{codec: codec}

	switch codec {
	case None, Snappy, LZ4:
		return m, nil

	case Zstd:
		encLevel := zstd.SpeedDefault
		if level > 0 {
			encLevel = zstd.EncoderLevelFromZstd(level)
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
		if err != nil {
			return nil, fmt.Errorf("failed to create ZSTD encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			enc.Close()
			return nil, fmt.Errorf("failed to create ZSTD decoder: %w", err)
		}
		m.zstdEncoder = enc
		m.zstdDecoder = dec
		return m, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

// Codec returns the codec this manager encodes with
func (m *Manager) Codec() Codec {
	return m.codec
}

// Encode appends the encoded form of src to dst.
func (m *Manager) Encode(dst, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return dst, nil
	}

	switch m.codec {
	case None:
		return append(dst, src...), nil

	case Snappy:
		return append(dst, snappy.Encode(nil, src)...), nil

	case Zstd:
		return m.zstdEncoder.EncodeAll(src, dst), nil

	case LZ4:
		return encodeLZ4(dst, src)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, m.codec)
	}
}

// Decode returns the decoded form of src.
func (m *Manager) Decode(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}

	switch m.codec {
	case None:
		return src, nil

	case Snappy:
		out, err := snappy.Decode(nil, src)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		return out, nil

	case Zstd:
		out, err := m.zstdDecoder.DecodeAll(src, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		return out, nil

	case LZ4:
		return decodeLZ4(src)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, m.codec)
	}
}

// Close releases resources used by the codec
func (m *Manager) Close() error {
	if m.zstdEncoder != nil {
		m.zstdEncoder.Close()
		m.zstdEncoder = nil
	}
	if m.zstdDecoder != nil {
		m.zstdDecoder.Close()
		m.zstdDecoder = nil
	}
	return nil
}

// lz4 blocks carry the raw length as a uvarint and a mode byte. Mode 0 stores
// the input verbatim because lz4 reports incompressible input with n == 0.
const (
	lz4Stored     = 0
	lz4Compressed = 1
)

func encodeLZ4(dst, src []byte) ([]byte, error) {
	dst = binary.AppendUvarint(dst, uint64(len(src)))

	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, buf, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	if n == 0 || n >= len(src) {
		dst = append(dst, lz4Stored)
		return append(dst, src...), nil
	}

	dst = append(dst, lz4Compressed)
	return append(dst, buf[:n]...), nil
}

func decodeLZ4(src []byte) ([]byte, error) {
	rawLen, n := binary.Uvarint(src)
	if n <= 0 || len(src) < n+1 {
		return nil, fmt.Errorf("%w: bad lz4 header", ErrInvalidCompressedData)
	}
	mode := src[n]
	body := src[n+1:]

	switch mode {
	case lz4Stored:
		if uint64(len(body)) != rawLen {
			return nil, fmt.Errorf("%w: stored length mismatch", ErrInvalidCompressedData)
		}
		return body, nil

	case lz4Compressed:
		out := make([]byte, rawLen)
		written, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		if uint64(written) != rawLen {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrInvalidCompressedData)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown lz4 mode %d", ErrInvalidCompressedData, mode)
	}
}
