// Package service is the keymanagement facade the rest of the core calls:
// key-pair metadata lookup and signer-pool acquisition (spec.md §4.2).
package service

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DBatOWL/xipki/keymanagement/model"
	"github.com/DBatOWL/xipki/keymanagement/repository"
	"github.com/DBatOWL/xipki/keymanagement/signerpool"
)

// KeyManagementService is the contract ca/issuance, ca/crl and
// ocsp/responder borrow signers through; none of them talk to the HSM
// repository directly.
type KeyManagementService interface {
	GenerateKeyPair(id string) (model.KeyPair, error)
	GetKeyPair(id string) (model.KeyPair, error)
	// Pool returns the signer pool for keyLabel, building it (size
	// instances, warmed up concurrently) on first use and caching it for
	// subsequent callers -- a CA's pool is built once when the CA is
	// loaded and reused for its lifetime (spec.md §3: "built when CA is
	// loaded").
	Pool(ctx context.Context, keyLabel string, size int) (*signerpool.Pool, error)
	// Borrow is the common scoped-acquisition shortcut: get the pool for
	// keyLabel (building it with the given size if not yet cached), then
	// borrow-run-return within deadline.
	Borrow(ctx context.Context, keyLabel string, size int, deadline time.Duration, fn func(crypto.Signer) error) error
}

type keyManagementService struct {
	repo repository.KeyPairRepository

	mu    sync.Mutex
	pools map[string]*signerpool.Pool
}

func NewKeyManagementService(repo repository.KeyPairRepository) KeyManagementService {
	return &keyManagementService{repo: repo, pools: make(map[string]*signerpool.Pool)}
}

func (s *keyManagementService) GenerateKeyPair(id string) (model.KeyPair, error) {
	keyPairData, err := s.repo.GenerateKeyPair(id)
	if err != nil {
		return model.KeyPair{}, err
	}
	pubKey, err := decodePublicKey(keyPairData.PublicKey)
	if err != nil {
		return model.KeyPair{}, err
	}
	log.Info().Str("key_id", id).Msg("key pair generated")
	return model.KeyPair{ID: id, PublicKey: pubKey}, nil
}

func (s *keyManagementService) GetKeyPair(id string) (model.KeyPair, error) {
	keyPairData, err := s.repo.FindByID(id)
	if err != nil {
		return model.KeyPair{}, err
	}
	pubKey, err := decodePublicKey(keyPairData.PublicKey)
	if err != nil {
		return model.KeyPair{}, err
	}
	// PrivateKey is never materialized outside the token; callers obtain
	// a crypto.Signer through Pool/Borrow instead.
	return model.KeyPair{ID: id, PublicKey: pubKey}, nil
}

func (s *keyManagementService) Pool(ctx context.Context, keyLabel string, size int) (*signerpool.Pool, error) {
	s.mu.Lock()
	if p, ok := s.pools[keyLabel]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	p, err := signerpool.New(ctx, keyLabel, size, func() (crypto.Signer, error) {
		return s.repo.GetSigner(keyLabel)
	})
	if err != nil {
		return nil, fmt.Errorf("keymanagement: build pool for %q: %w", keyLabel, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.pools[keyLabel]; ok {
		// Lost the race with a concurrent caller; keep the first winner
		// so every caller observes the same pool instance.
		return existing, nil
	}
	s.pools[keyLabel] = p
	log.Info().Str("key_label", keyLabel).Int("size", size).Msg("signer pool warmed up")
	return p, nil
}

func (s *keyManagementService) Borrow(ctx context.Context, keyLabel string, size int, deadline time.Duration, fn func(crypto.Signer) error) error {
	p, err := s.Pool(ctx, keyLabel, size)
	if err != nil {
		return err
	}
	return p.WithSigner(ctx, deadline, fn)
}

func decodePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("keymanagement: failed to decode PEM block")
	}
	pubKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keymanagement: parse public key: %w", err)
	}
	return pubKey, nil
}
