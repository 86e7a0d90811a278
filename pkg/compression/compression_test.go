package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("x"),
		[]byte("short value"),
		[]byte(strings.Repeat("highly compressible ", 200)),
		bytes.Repeat([]byte{0x00, 0xFF, 0x13}, 1000),
	}

	for _, codec := range []Codec{None, Snappy, Zstd, LZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			m, err := NewManager(codec, 0)
			require.NoError(t, err)
			defer m.Close()

			for _, in := range inputs {
				encoded, err := m.Encode(nil, in)
				require.NoError(t, err)

				decoded, err := m.Decode(encoded)
				require.NoError(t, err)
				assert.Equal(t, len(in), len(decoded))
				assert.True(t, bytes.Equal(in, decoded))
			}
		})
	}
}

func TestEncodeAppendsToDst(t *testing.T) {
	m, err := NewManager(LZ4, 0)
	require.NoError(t, err)

	prefix := []byte("hdr")
	out, err := m.Encode(prefix, []byte(strings.Repeat("abc", 100)))
	require.NoError(t, err)
	assert.Equal(t, "hdr", string(out[:3]))

	decoded, err := m.Decode(out[3:])
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("abc", 100), string(decoded))
}

func TestParseCodec(t *testing.T) {
	for name, want := range map[string]Codec{"": None, "none": None, "Snappy": Snappy, "zstd": Zstd, "lz4": LZ4} {
		got, err := ParseCodec(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseCodec("brotli")
	assert.ErrorIs(t, err, ErrUnknownCodec)

	_, err = NewManager(Codec(42), 0)
	assert.ErrorIs(t, err, ErrUnknownCodec)
	assert.False(t, Codec(42).Valid())
}

func TestDecodeInvalidData(t *testing.T) {
	for _, codec := range []Codec{Snappy, Zstd, LZ4} {
		m, err := NewManager(codec, 0)
		require.NoError(t, err)

		_, err = m.Decode([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x09})
		assert.ErrorIs(t, err, ErrInvalidCompressedData, codec.String())
		m.Close()
	}
}
