package issuance

import (
	"context"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"fmt"
	"math/big"

	"github.com/DBatOWL/xipki/internal/asn1codec"
	"github.com/DBatOWL/xipki/internal/errs"
)

// spkiPublicKeyBits extracts the raw public-key bits (the
// SubjectPublicKeyInfo BIT STRING content, no tag/length/unused-bits
// octet) from a CSR, mirroring ocsp/issueridentity's extraction for
// certificates.
func spkiPublicKeyBits(csr *x509.CertificateRequest) ([]byte, error) {
	seq, _, err := asn1codec.ExpectTag(csr.RawSubjectPublicKeyInfo, 0, asn1codec.TagSequence)
	if err != nil {
		return nil, fmt.Errorf("spkiPublicKeyBits: %w", err)
	}
	algHeader, err := asn1codec.ReadHeader(seq, 0)
	if err != nil {
		return nil, fmt.Errorf("spkiPublicKeyBits: skip algorithm: %w", err)
	}
	bitString, _, err := asn1codec.ExpectTag(seq, algHeader.End(), 0x03) // BIT STRING
	if err != nil {
		return nil, fmt.Errorf("spkiPublicKeyBits: bit string: %w", err)
	}
	if len(bitString) == 0 {
		return nil, fmt.Errorf("spkiPublicKeyBits: empty BIT STRING")
	}
	return bitString[1:], nil
}

// Diffie-Hellman POP algorithm identifiers, per spec.md §4.7 step 2.
const (
	AlgX25519SHA256 = "x25519-sha256"
	AlgX448SHA512   = "x448-sha512"
)

// DHStaticPOP is the decoded content of a CSR's DhSigStatic attribute: a
// reference to the already-issued certificate holding the requester's
// static key-agreement counterpart, plus the MAC proving possession.
type DHStaticPOP struct {
	Algorithm  string
	IssuerCAID int
	Serial     *big.Int
	MAC        []byte
}

// DHKeyAgreement resolves the CA-held side of a static Diffie-Hellman key
// pair referenced by (issuerCAID, serial) and computes the ECDH shared
// secret against peerPublic (the raw public key bytes from the CSR's
// SubjectPublicKeyInfo).
type DHKeyAgreement interface {
	SharedSecret(ctx context.Context, alg string, issuerCAID int, serial *big.Int, peerPublic []byte) ([]byte, error)
}

// verifyStandardPOP checks the CSR's self-signature against its embedded
// public key (spec.md §4.7 step 2, standard-algorithm branch).
func verifyStandardPOP(csr *x509.CertificateRequest) error {
	if err := csr.CheckSignature(); err != nil {
		return errs.New(errs.KindBadPOP, "issuance.verifyPOP", fmt.Errorf("CSR signature invalid: %w", err))
	}
	return nil
}

// verifyDHStaticPOP checks a DH-POP CSR's proof: the requester's public
// key (peerPublicBits, the raw SPKI bit-string content) forms a shared
// secret with the CA-held key pair pop references; the MAC over tbsCSR
// under that secret must match pop.MAC.
func verifyDHStaticPOP(ctx context.Context, dh DHKeyAgreement, tbsCSR, peerPublicBits []byte, pop DHStaticPOP) error {
	if dh == nil {
		return errs.New(errs.KindBadPOP, "issuance.verifyDHStaticPOP", fmt.Errorf("DH-POP not configured for this CA"))
	}

	secret, err := dh.SharedSecret(ctx, pop.Algorithm, pop.IssuerCAID, pop.Serial, peerPublicBits)
	if err != nil {
		return errs.New(errs.KindBadPOP, "issuance.verifyDHStaticPOP", fmt.Errorf("resolve static DH key: %w", err))
	}

	var mac []byte
	switch pop.Algorithm {
	case AlgX25519SHA256:
		h := hmac.New(sha256.New, secret)
		h.Write(tbsCSR)
		mac = h.Sum(nil)
	case AlgX448SHA512:
		h := hmac.New(sha512.New, secret)
		h.Write(tbsCSR)
		mac = h.Sum(nil)
	default:
		return errs.New(errs.KindBadPOP, "issuance.verifyDHStaticPOP", fmt.Errorf("unrecognized DH-POP algorithm %q", pop.Algorithm))
	}

	if !hmac.Equal(mac, pop.MAC) {
		return errs.New(errs.KindBadPOP, "issuance.verifyDHStaticPOP", fmt.Errorf("static DH MAC mismatch"))
	}
	return nil
}

// SoftwareDHKeyAgreement resolves static key-agreement private keys held
// directly in memory, keyed by "issuerCAID:serialHex". It implements
// x25519-sha256 via the standard library's crypto/ecdh; x448-sha512 has
// no curve implementation in crypto/ecdh or anywhere else in the
// retrieved pack, so it is reported unsupported rather than guessed at
// (the same policy internal/hashalg applies to SM3).
type SoftwareDHKeyAgreement struct {
	keys map[string]*ecdh.PrivateKey
}

// NewSoftwareDHKeyAgreement builds an empty key store.
func NewSoftwareDHKeyAgreement() *SoftwareDHKeyAgreement {
	return &SoftwareDHKeyAgreement{keys: make(map[string]*ecdh.PrivateKey)}
}

// Register installs the CA-held private key for (issuerCAID, serial).
func (s *SoftwareDHKeyAgreement) Register(issuerCAID int, serial *big.Int, priv *ecdh.PrivateKey) {
	s.keys[dhKey(issuerCAID, serial)] = priv
}

func (s *SoftwareDHKeyAgreement) SharedSecret(ctx context.Context, alg string, issuerCAID int, serial *big.Int, peerPublic []byte) ([]byte, error) {
	if alg != AlgX25519SHA256 {
		return nil, fmt.Errorf("issuance: %q has no key-agreement implementation in this build", alg)
	}
	priv, ok := s.keys[dhKey(issuerCAID, serial)]
	if !ok {
		return nil, fmt.Errorf("issuance: no static DH key registered for CA %d serial %s", issuerCAID, serial.Text(16))
	}
	peerKey, err := ecdh.X25519().NewPublicKey(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("issuance: invalid X25519 peer public key: %w", err)
	}
	return priv.ECDH(peerKey)
}

func dhKey(issuerCAID int, serial *big.Int) string {
	return fmt.Sprintf("%d:%s", issuerCAID, serial.Text(16))
}
