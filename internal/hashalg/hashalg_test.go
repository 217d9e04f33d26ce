package hashalg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumSHA256(t *testing.T) {
	sum, err := Sum(SHA256, []byte("hello"))
	require.NoError(t, err)
	assert.Len(t, sum, Length(SHA256))
}

func TestSM3Unsupported(t *testing.T) {
	_, err := New(SM3)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, 32, Length(SM3))
}

func TestByOIDRoundTrip(t *testing.T) {
	alg, ok := ByOID(OID(SHA3_256))
	require.True(t, ok)
	assert.Equal(t, SHA3_256, alg)
}

func TestByOIDUnknown(t *testing.T) {
	_, ok := ByOID("9.9.9")
	assert.False(t, ok)
}
