// Package repository implements the PKCS#11 token driver behind
// keymanagement/service's signing-capability abstraction. spec.md places
// the token driver itself out of scope ("interfaces only"); this file is
// the thin, swappable adapter that satisfies KeyPairRepository so
// keymanagement/service.Pool can build a signerpool.Pool from it without
// the rest of the core ever importing github.com/miekg/pkcs11 directly.
package repository

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/miekg/pkcs11"

	"github.com/DBatOWL/xipki/keymanagement/model"
)

// KeyPairRepository is the token-facing contract keymanagement/service
// drives: metadata lookup plus a crypto.Signer factory for
// signerpool.Pool. Nothing outside this package sees a pkcs11.Ctx.
type KeyPairRepository interface {
	GenerateKeyPair(id string) (model.KeyPairData, error)
	FindByID(id string) (model.KeyPairData, error)
	GetSigner(keyLabel string) (crypto.Signer, error)
	Finalize()
}

// pkcs11KeyPairRepository drives one open PKCS#11 session against a
// SoftHSM (or compatible) token. Every method call is single-session and
// unsynchronized: keymanagement/service serializes access to it through
// signerpool.Pool's channel-of-instances discipline rather than locking
// here.
type pkcs11KeyPairRepository struct {
	ctx     *pkcs11.Ctx
	slot    uint
	session pkcs11.SessionHandle
}

// pkcs11Signer wraps one token-resident private key handle as a
// crypto.Signer, hashing on the caller's side (crypto.Signer's contract)
// but leaving the RSA padding operation itself to the token via
// CKM_RSA_PKCS.
type pkcs11Signer struct {
	ctx        *pkcs11.Ctx
	session    pkcs11.SessionHandle
	privHandle pkcs11.ObjectHandle
	publicKey  *rsa.PublicKey
}

func (s *pkcs11Signer) Public() crypto.PublicKey {
	return s.publicKey
}

// rsaDigestInfoPrefixes are the DER-encoded DigestInfo headers RFC 3447
// §9.2 prepends before RSASSA-PKCS1-v1_5 padding, keyed by the hash
// crypto.SignerOpts reports. CKM_RSA_PKCS on the token performs only the
// padding and modular exponentiation, not the hash-algorithm framing, so
// the caller (this signer) must attach it before handing the token a
// digest to sign.
var rsaDigestInfoPrefixes = map[crypto.Hash][]byte{
	crypto.SHA1:   {0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14},
	crypto.SHA224: {0x30, 0x2d, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x04, 0x05, 0x00, 0x04, 0x1c},
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

// Sign hands the token a DigestInfo-framed digest and returns the raw
// PKCS#1 v1.5 signature. opts.HashFunc() of 0 (already-framed or
// unhashed input, e.g. some CA templates precompute the full DigestInfo)
// passes digest through unmodified.
func (s *pkcs11Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	toSign := digest
	if h := opts.HashFunc(); h != 0 {
		prefix, ok := rsaDigestInfoPrefixes[h]
		if !ok {
			return nil, fmt.Errorf("pkcs11: unsupported hash algorithm %v for RSA signing", h)
		}
		toSign = append(append([]byte{}, prefix...), digest...)
	}

	mechanism := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)}
	if err := s.ctx.SignInit(s.session, mechanism, s.privHandle); err != nil {
		return nil, fmt.Errorf("pkcs11: init sign: %w", err)
	}
	signature, err := s.ctx.Sign(s.session, toSign)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: sign: %w", err)
	}
	return signature, nil
}

// NewSoftHsmKeyPairRepository opens a session against the PKCS#11 module
// at modulePath, logs in with pin, and returns a repository bound to
// slot. Callers must call Finalize when done.
func NewSoftHsmKeyPairRepository(modulePath, slot, pin string) (KeyPairRepository, error) {
	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, fmt.Errorf("pkcs11: failed to load module %q", modulePath)
	}
	if err := ctx.Initialize(); err != nil {
		return nil, fmt.Errorf("pkcs11: initialize: %w", err)
	}

	slotID, err := strconv.ParseUint(slot, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: parse slot %q: %w", slot, err)
	}
	targetSlot, err := resolveSlot(ctx, uint(slotID))
	if err != nil {
		return nil, err
	}

	session, err := ctx.OpenSession(targetSlot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: open session: %w", err)
	}
	if err := ctx.Login(session, pkcs11.CKU_USER, pin); err != nil {
		return nil, fmt.Errorf("pkcs11: login: %w", err)
	}

	return &pkcs11KeyPairRepository{ctx: ctx, slot: targetSlot, session: session}, nil
}

func resolveSlot(ctx *pkcs11.Ctx, slotID uint) (uint, error) {
	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("pkcs11: list slots: %w", err)
	}
	for _, s := range slots {
		if uint(s) == slotID {
			return s, nil
		}
	}
	return 0, fmt.Errorf("pkcs11: slot %d not found among token slots", slotID)
}

// findOne runs a FindObjects search that must return exactly the first
// match, wrapping the init/find/final triple the PKCS#11 C API requires
// around every lookup this driver does (private key by label, public key
// by matching ID).
func (r *pkcs11KeyPairRepository) findOne(template []*pkcs11.Attribute) (pkcs11.ObjectHandle, error) {
	if err := r.ctx.FindObjectsInit(r.session, template); err != nil {
		return 0, fmt.Errorf("pkcs11: init object search: %w", err)
	}
	defer r.ctx.FindObjectsFinal(r.session)

	objs, _, err := r.ctx.FindObjects(r.session, 1)
	if err != nil {
		return 0, fmt.Errorf("pkcs11: object search: %w", err)
	}
	if len(objs) == 0 {
		return 0, errors.New("pkcs11: no matching object")
	}
	return objs[0], nil
}

// rsaPublicKey reads CKA_MODULUS/CKA_PUBLIC_EXPONENT off handle and
// reconstructs the Go-side rsa.PublicKey.
func (r *pkcs11KeyPairRepository) rsaPublicKey(handle pkcs11.ObjectHandle) (*rsa.PublicKey, error) {
	attrs, err := r.ctx.GetAttributeValue(r.session, handle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("pkcs11: read public key attributes: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(attrs[0].Value),
		E: int(new(big.Int).SetBytes(attrs[1].Value).Int64()),
	}, nil
}

func encodePublicKeyPEM(pub *rsa.PublicKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(pub),
	}))
}

// GenerateKeyPair asks the token to generate a 2048-bit RSA key pair
// on-token (private key non-extractable) labeled and IDed by id.
func (r *pkcs11KeyPairRepository) GenerateKeyPair(id string) (model.KeyPairData, error) {
	pubTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS_BITS, 2048),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, []byte{1, 0, 1}),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, id),
		pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(id)),
	}
	privTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, id),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
		pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(id)),
	}

	pubHandle, _, err := r.ctx.GenerateKeyPair(r.session,
		[]*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_KEY_PAIR_GEN, nil)},
		pubTemplate, privTemplate)
	if err != nil {
		return model.KeyPairData{}, fmt.Errorf("pkcs11: generate key pair: %w", err)
	}

	pubKey, err := r.rsaPublicKey(pubHandle)
	if err != nil {
		return model.KeyPairData{}, err
	}
	return model.KeyPairData{ID: id, PublicKey: encodePublicKeyPEM(pubKey), KeyLabel: id}, nil
}

// FindByID looks up the public key stored under id and returns its
// metadata. The private half never leaves the token.
func (r *pkcs11KeyPairRepository) FindByID(id string) (model.KeyPairData, error) {
	handle, err := r.findOne([]*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(id)),
	})
	if err != nil {
		return model.KeyPairData{}, fmt.Errorf("pkcs11: find key %q: %w", id, err)
	}
	pubKey, err := r.rsaPublicKey(handle)
	if err != nil {
		return model.KeyPairData{}, err
	}
	return model.KeyPairData{ID: id, PublicKey: encodePublicKeyPEM(pubKey), KeyLabel: id}, nil
}

// GetSigner is the signerpool.Factory this repository backs: it resolves
// the private key by label, the matching public key by CKA_ID, and
// returns a crypto.Signer good for the lifetime of this session.
func (r *pkcs11KeyPairRepository) GetSigner(keyLabel string) (crypto.Signer, error) {
	privHandle, err := r.findOne([]*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, keyLabel),
	})
	if err != nil {
		return nil, fmt.Errorf("pkcs11: find private key %q: %w", keyLabel, err)
	}

	idAttrs, err := r.ctx.GetAttributeValue(r.session, privHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("pkcs11: read private key id: %w", err)
	}
	keyID := idAttrs[0].Value

	pubHandle, err := r.findOne([]*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_ID, keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("pkcs11: find matching public key for %q: %w", keyLabel, err)
	}
	pubKey, err := r.rsaPublicKey(pubHandle)
	if err != nil {
		return nil, err
	}

	return &pkcs11Signer{ctx: r.ctx, session: r.session, privHandle: privHandle, publicKey: pubKey}, nil
}

// Finalize logs out, closes the session, and releases the module.
func (r *pkcs11KeyPairRepository) Finalize() {
	_ = r.ctx.Logout(r.session)
	_ = r.ctx.CloseSession(r.session)
	_ = r.ctx.Finalize()
	r.ctx.Destroy()
}
