package signerpool

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFactory(t *testing.T) Factory {
	return func() (crypto.Signer, error) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		return key, nil
	}
}

func TestPoolSizeAndBorrowReturn(t *testing.T) {
	p, err := New(context.Background(), "test-key", 3, testFactory(t))
	require.NoError(t, err)
	assert.Equal(t, 3, p.Size())

	s1, err := p.Borrow(context.Background(), 0)
	require.NoError(t, err)
	s2, err := p.Borrow(context.Background(), 0)
	require.NoError(t, err)
	s3, err := p.Borrow(context.Background(), 0)
	require.NoError(t, err)

	_, err = p.Borrow(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNoIdleSigner)

	p.Return(s1)
	s4, err := p.Borrow(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, s4)

	p.Return(s2)
	p.Return(s3)
	p.Return(s4)
}

func TestPoolBorrowBlocksUntilDeadline(t *testing.T) {
	p, err := New(context.Background(), "test-key", 1, testFactory(t))
	require.NoError(t, err)

	s, err := p.Borrow(context.Background(), 0)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Borrow(context.Background(), 50*time.Millisecond)
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, ErrNoIdleSigner)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)

	p.Return(s)
}

func TestPoolBorrowSucceedsOnReturnDuringWait(t *testing.T) {
	p, err := New(context.Background(), "test-key", 1, testFactory(t))
	require.NoError(t, err)

	s, err := p.Borrow(context.Background(), 0)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Return(s)
	}()

	got, err := p.Borrow(context.Background(), 500*time.Millisecond)
	require.NoError(t, err)
	assert.NotNil(t, got)
	p.Return(got)
}

func TestWithSignerAlwaysReturns(t *testing.T) {
	p, err := New(context.Background(), "test-key", 1, testFactory(t))
	require.NoError(t, err)

	callErr := p.WithSigner(context.Background(), 0, func(s crypto.Signer) error {
		_, signErr := s.Sign(rand.Reader, make([]byte, 32), crypto.SHA256)
		return signErr
	})
	assert.NoError(t, callErr)

	// The instance must have been returned; a further borrow succeeds.
	s, err := p.Borrow(context.Background(), 0)
	require.NoError(t, err)
	p.Return(s)
}

func TestNewMACRecordsDigest(t *testing.T) {
	key := []byte("a shared symmetric key of some length")
	p, err := NewMAC(context.Background(), "mac-key", key, 2, testFactory(t))
	require.NoError(t, err)
	assert.Len(t, p.MACDigest(), 20) // SHA-1 length
}
