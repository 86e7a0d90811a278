package footer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFooterEncodeDecode(t *testing.T) {
	f := NewFooter(KindStore, 2, 1234, 98765, 0xdeadbeef)

	encoded := f.Encode()
	require.Len(t, encoded, FooterSize)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, FooterMagic, decoded.Magic)
	assert.Equal(t, CurrentVersion, decoded.Version)
	assert.Equal(t, KindStore, decoded.Kind)
	assert.Equal(t, uint32(2), decoded.Codec)
	assert.Equal(t, f.Timestamp, decoded.Timestamp)
	assert.Equal(t, uint64(1234), decoded.Count)
	assert.Equal(t, uint64(98765), decoded.DataSize)
	assert.Equal(t, uint64(0xdeadbeef), decoded.DataChecksum)
	assert.Equal(t, f.Checksum, decoded.Checksum)
}

func TestFooterDecodeUsesTrailingBytes(t *testing.T) {
	f := NewFooter(KindBlobIndex, 0, 3, 36, 7)

	var buf bytes.Buffer
	buf.WriteString("data section")
	n, err := f.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(FooterSize), n)

	decoded, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, KindBlobIndex, decoded.Kind)

	decoded, err = ReadFrom(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), decoded.Count)
}

func TestFooterCorruption(t *testing.T) {
	encoded := NewFooter(KindStore, 0, 1, 1, 1).Encode()

	_, err := Decode(encoded[:FooterSize-1])
	assert.ErrorIs(t, err, ErrTooSmall)

	badMagic := append([]byte(nil), encoded...)
	badMagic[0] ^= 0xFF
	_, err = Decode(badMagic)
	assert.ErrorIs(t, err, ErrInvalidMagic)

	badCount := append([]byte(nil), encoded...)
	badCount[33] ^= 0x01
	_, err = Decode(badCount)
	assert.ErrorIs(t, err, ErrChecksum)
}
