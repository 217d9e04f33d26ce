package asn1codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadHeaderShortForm(t *testing.T) {
	data := []byte{TagOctetString, 0x03, 0xAA, 0xBB, 0xCC}
	h, err := ReadHeader(data, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(TagOctetString), h.Tag)
	assert.Equal(t, 3, h.Length)
	assert.Equal(t, 2, h.ContentOffset)
	assert.Equal(t, 5, h.End())
}

func TestReadHeaderLongForm(t *testing.T) {
	// 1 length byte: 0x81 0x80 means 128 bytes of content.
	content := make([]byte, 128)
	data := append([]byte{TagOctetString, 0x81, 0x80}, content...)
	h, err := ReadHeader(data, 0)
	require.NoError(t, err)
	assert.Equal(t, 128, h.Length)
	assert.Equal(t, 3, h.ContentOffset)
}

func TestReadHeaderLongForm2Bytes(t *testing.T) {
	content := make([]byte, 300)
	data := append([]byte{TagOctetString, 0x82, 0x01, 0x2C}, content...)
	h, err := ReadHeader(data, 0)
	require.NoError(t, err)
	assert.Equal(t, 300, h.Length)
	assert.Equal(t, 4, h.ContentOffset)
}

func TestReadHeaderRejects5ByteLength(t *testing.T) {
	data := []byte{TagOctetString, 0x85, 0, 0, 0, 0, 1, 0xAA}
	_, err := ReadHeader(data, 0)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestReadHeaderRejectsIndefiniteLength(t *testing.T) {
	data := []byte{TagSequence, 0x80, 0x02, 0x00, 0x00}
	_, err := ReadHeader(data, 0)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestOIDRoundTrip(t *testing.T) {
	const dotted = "1.3.14.3.2.26" // sha1
	enc, err := EncodeOID(dotted)
	require.NoError(t, err)
	assert.Equal(t, dotted, decodeOID(enc))
}

func TestExpectTagMismatch(t *testing.T) {
	data := []byte{TagInteger, 0x01, 0x05}
	_, _, err := ExpectTag(data, 0, TagOctetString)
	assert.ErrorIs(t, err, ErrDecode)
}
