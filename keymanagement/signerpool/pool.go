// Package signerpool implements the bounded signer pool of spec.md §4.2:
// N independently initialized crypto.Signer instances for one CA key or
// MAC key, borrowed and returned by callers, with a deadline-bounded wait
// (or immediate failure) when all instances are busy.
package signerpool

import (
	"context"
	"crypto"
	"crypto/sha1"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DBatOWL/xipki/internal/errs"
)

// ErrNoIdleSigner is returned by Borrow when the deadline elapses (or,
// with a zero deadline, immediately) while every instance is checked out.
var ErrNoIdleSigner = errs.New(errs.KindNoIdleSigner, "signerpool.Borrow", nil)

// Factory builds one independently initialized signer instance for the
// pool's key. It is called N times during warm-up and must be safe to
// call concurrently (spec.md §4.2: "N independently initialized signer
// instances for the same key and algorithm").
type Factory func() (crypto.Signer, error)

// Pool is a fixed-size, concurrency-safe bag of signer instances for one
// key. At any instant borrowed+idle == N (spec.md §3's Signer invariant).
type Pool struct {
	keyLabel  string
	size      int
	idle      chan crypto.Signer
	macDigest []byte // non-nil for MAC (symmetric) pools
}

// New builds a pool of n signer instances using factory, warming them up
// concurrently (bounded by errgroup, spec.md §4.2's construction step).
// Returns an error if any instance fails to build; instances already
// built are discarded (the pool either starts whole or not at all).
func New(ctx context.Context, keyLabel string, n int, factory Factory) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("signerpool: size must be positive, got %d", n)
	}

	signers := make([]crypto.Signer, n)
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			s, err := factory()
			if err != nil {
				return fmt.Errorf("signerpool: build instance %d: %w", i, err)
			}
			signers[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idle := make(chan crypto.Signer, n)
	for _, s := range signers {
		idle <- s
	}

	return &Pool{keyLabel: keyLabel, size: n, idle: idle}, nil
}

// NewMAC builds a pool for a symmetric (MAC) key, recording the SHA-1
// digest of the raw key bytes for use in subject-key-identifier
// extensions (spec.md §4.2: "MAC signers additionally carry the SHA-1
// digest of the key bytes").
func NewMAC(ctx context.Context, keyLabel string, rawKey []byte, n int, factory Factory) (*Pool, error) {
	p, err := New(ctx, keyLabel, n, factory)
	if err != nil {
		return nil, err
	}
	digest := sha1.Sum(rawKey)
	p.macDigest = digest[:]
	return p, nil
}

// KeyLabel returns the label this pool was built for.
func (p *Pool) KeyLabel() string { return p.keyLabel }

// Size returns N, the pool's fixed capacity.
func (p *Pool) Size() int { return p.size }

// MACDigest returns the SHA-1 digest of the symmetric key, or nil for an
// asymmetric pool.
func (p *Pool) MACDigest() []byte { return p.macDigest }

// Borrow removes one idle instance. With a zero deadline it fails
// immediately if none is idle; with a positive deadline it waits up to
// that long. ctx cancellation also ends the wait early.
func (p *Pool) Borrow(ctx context.Context, deadline time.Duration) (crypto.Signer, error) {
	if deadline <= 0 {
		select {
		case s := <-p.idle:
			return s, nil
		default:
			return nil, ErrNoIdleSigner
		}
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case s := <-p.idle:
		return s, nil
	case <-timer.C:
		return nil, ErrNoIdleSigner
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Return replaces a previously borrowed instance. Callers must return on
// every exit path (spec.md §7's "scoped acquisition with guaranteed
// release" discipline); returning a signer not obtained from this pool,
// or returning more than once, overfills the channel and is a caller bug.
func (p *Pool) Return(s crypto.Signer) {
	p.idle <- s
}

// WithSigner borrows, runs fn, and always returns the instance, even if
// fn panics or errors — the idiomatic scoped-acquisition wrapper spec.md
// §7 calls for around every borrow/return pair.
func (p *Pool) WithSigner(ctx context.Context, deadline time.Duration, fn func(crypto.Signer) error) error {
	s, err := p.Borrow(ctx, deadline)
	if err != nil {
		return err
	}
	defer p.Return(s)
	return fn(s)
}
