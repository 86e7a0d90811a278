package footer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// FooterSize is the fixed size of the footer in bytes
	FooterSize = 64
	// FooterMagic is a magic number to verify we're reading a valid footer
	FooterMagic = uint64(0x53504545444B5631) // "SPEEDKV1"
	// CurrentVersion is the current file format version
	CurrentVersion = uint32(1)
)

// Kind identifies which segment file a footer terminates.
type Kind uint32

const (
	KindStore     Kind = 1
	KindBlobIndex Kind = 2
	KindKeyIndex  Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindStore:
		return "store"
	case KindBlobIndex:
		return "blob-index"
	case KindKeyIndex:
		return "key-index"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

var (
	ErrTooSmall     = errors.New("footer: data too small")
	ErrInvalidMagic = errors.New("footer: invalid magic")
	ErrChecksum     = errors.New("footer: checksum mismatch")
	ErrVersion      = errors.New("footer: unsupported version")
)

// Footer trails the data section of the store, blob index and key index files.
type Footer struct {
	Magic   uint64
	Version uint32
	Kind    Kind
	// Codec is the compression codec id of the store; zero for other files
	Codec uint32
	// Timestamp of when the file was finished
	Timestamp int64
	// Count is the number of records in the data section
	Count uint64
	// DataSize is the length in bytes of the data section preceding the footer
	DataSize uint64
	// DataChecksum is the xxhash64 of the data section
	DataChecksum uint64
	// Checksum of all footer fields excluding the checksum itself
	Checksum uint64
}

// NewFooter creates a new footer with the given parameters
func NewFooter(kind Kind, codec uint32, count, dataSize, dataChecksum uint64) *Footer {
	return &Footer{
		Magic:        FooterMagic,
		Version:      CurrentVersion,
		Kind:         kind,
		Codec:        codec,
		Timestamp:    time.Now().UnixNano(),
		Count:        count,
		DataSize:     dataSize,
		DataChecksum: dataChecksum,
	}
}

// Encode serializes the footer to a byte slice
func (f *Footer) Encode() []byte {
	result := make([]byte, FooterSize)

	binary.LittleEndian.PutUint64(result[0:8], f.Magic)
	binary.LittleEndian.PutUint32(result[8:12], f.Version)
	binary.LittleEndian.PutUint32(result[12:16], uint32(f.Kind))
	binary.LittleEndian.PutUint32(result[16:20], f.Codec)
	// 20:24 reserved
	binary.LittleEndian.PutUint64(result[24:32], uint64(f.Timestamp))
	binary.LittleEndian.PutUint64(result[32:40], f.Count)
	binary.LittleEndian.PutUint64(result[40:48], f.DataSize)
	binary.LittleEndian.PutUint64(result[48:56], f.DataChecksum)

	f.Checksum = xxhash.Sum64(result[:56])
	binary.LittleEndian.PutUint64(result[56:], f.Checksum)

	return result
}

// WriteTo writes the footer to an io.Writer
func (f *Footer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.Encode())
	return int64(n), err
}

// Decode parses a footer from a byte slice
func Decode(data []byte) (*Footer, error) {
	if len(data) < FooterSize {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrTooSmall, len(data), FooterSize)
	}
	data = data[len(data)-FooterSize:]

	f := &Footer{
		Magic:        binary.LittleEndian.Uint64(data[0:8]),
		Version:      binary.LittleEndian.Uint32(data[8:12]),
		Kind:         Kind(binary.LittleEndian.Uint32(data[12:16])),
		Codec:        binary.LittleEndian.Uint32(data[16:20]),
		Timestamp:    int64(binary.LittleEndian.Uint64(data[24:32])),
		Count:        binary.LittleEndian.Uint64(data[32:40]),
		DataSize:     binary.LittleEndian.Uint64(data[40:48]),
		DataChecksum: binary.LittleEndian.Uint64(data[48:56]),
		Checksum:     binary.LittleEndian.Uint64(data[56:]),
	}

	if f.Magic != FooterMagic {
		return nil, fmt.Errorf("%w: %x, expected %x", ErrInvalidMagic, f.Magic, FooterMagic)
	}

	if expected := xxhash.Sum64(data[:56]); f.Checksum != expected {
		return nil, fmt.Errorf("%w: file has %d, calculated %d", ErrChecksum, f.Checksum, expected)
	}

	if f.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, f.Version)
	}

	return f, nil
}

// ReadFrom reads and decodes the footer at the end of r, whose total length is size.
func ReadFrom(r io.ReaderAt, size int64) (*Footer, error) {
	if size < FooterSize {
		return nil, fmt.Errorf("%w: file is %d bytes", ErrTooSmall, size)
	}
	buf := make([]byte, FooterSize)
	if _, err := r.ReadAt(buf, size-FooterSize); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read footer: %w", err)
	}
	return Decode(buf)
}
