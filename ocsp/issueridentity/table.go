// Package issueridentity builds and queries the in-memory issuer-identity
// table of spec.md §4.5: for each CA, a pre-computed
// OCTET_STRING(H(subject)) || OCTET_STRING(H(spkiBits)) for every
// supported hash algorithm, used to match an OCSP CertID's declared
// issuerNameHash/issuerKeyHash without touching the certificate store.
package issueridentity

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"sync"

	caModel "github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/internal/asn1codec"
	"github.com/DBatOWL/xipki/internal/hashalg"
	"github.com/DBatOWL/xipki/ocsp/model"
)

// supportedAlgs is the set this table pre-computes entries for. SM3 is not
// in it (no hash implementation -- see internal/hashalg), so an entry never
// holds an SM3 hash and MatchHash reports false for SM3.
var supportedAlgs = []hashalg.Algorithm{
	hashalg.SHA1, hashalg.SHA224, hashalg.SHA256, hashalg.SHA384, hashalg.SHA512,
	hashalg.SHA3_224, hashalg.SHA3_256, hashalg.SHA3_384, hashalg.SHA3_512,
	hashalg.SHAKE128, hashalg.SHAKE256,
}

// Build computes the IssuerIdentity for a CA from its loaded certificate.
func Build(ca caModel.CA) (model.IssuerIdentity, error) {
	cert, err := x509.ParseCertificate(ca.CertDER)
	if err != nil {
		return model.IssuerIdentity{}, fmt.Errorf("issueridentity.Build: parse CA cert: %w", err)
	}

	spkiBits, err := spkiBitString(cert)
	if err != nil {
		return model.IssuerIdentity{}, fmt.Errorf("issueridentity.Build: %w", err)
	}

	entries := make(map[hashalg.Algorithm][]byte, len(supportedAlgs))
	for _, alg := range supportedAlgs {
		nameHash, err := hashalg.Sum(alg, cert.RawSubject)
		if err != nil {
			continue // unsupported in this build (e.g. SM3); simply absent
		}
		keyHash, err := hashalg.Sum(alg, spkiBits)
		if err != nil {
			continue
		}
		entries[alg] = encodeHashPair(nameHash, keyHash)
	}

	return model.IssuerIdentity{
		CAID:        ca.ID,
		Cert:        ca.CertDER,
		NotBefore:   cert.NotBefore,
		HashEntries: entries,
	}, nil
}

// spkiBitString extracts the raw bytes of the SubjectPublicKeyInfo's BIT
// STRING content (i.e. the public key bits, not the BIT STRING's tag,
// length or unused-bits octet).
func spkiBitString(cert *x509.Certificate) ([]byte, error) {
	// crypto/x509 doesn't expose the raw BIT STRING content directly; the
	// certificate's RawSubjectPublicKeyInfo is the full SubjectPublicKeyInfo
	// SEQUENCE. We strip the outer SEQUENCE, the AlgorithmIdentifier
	// SEQUENCE, and the BIT STRING header (tag + length + unused-bits byte)
	// to get exactly H(subjectPublicKey) as RFC 6960/5280 define it, reusing
	// the hand-rolled DER reader rather than a second implementation.
	seq, _, err := asn1codec.ExpectTag(cert.RawSubjectPublicKeyInfo, 0, asn1codec.TagSequence)
	if err != nil {
		return nil, fmt.Errorf("spkiBitString: %w", err)
	}
	// Skip the AlgorithmIdentifier SEQUENCE.
	algHeader, err := asn1codec.ReadHeader(seq, 0)
	if err != nil {
		return nil, fmt.Errorf("spkiBitString: skip algorithm: %w", err)
	}
	bitString, _, err := asn1codec.ExpectTag(seq, algHeader.End(), 0x03) // BIT STRING
	if err != nil {
		return nil, fmt.Errorf("spkiBitString: bit string: %w", err)
	}
	if len(bitString) == 0 {
		return nil, fmt.Errorf("spkiBitString: empty BIT STRING")
	}
	// First content byte is the count of unused trailing bits (0 for keys).
	return bitString[1:], nil
}

// encodeHashPair renders OCTET_STRING(nameHash) || OCTET_STRING(keyHash):
// each prefixed with tag 0x04 and a one-byte length (hash lengths here
// never exceed 64 bytes, so the length always fits in the short form).
func encodeHashPair(nameHash, keyHash []byte) []byte {
	out := make([]byte, 0, 2+len(nameHash)+2+len(keyHash))
	out = append(out, 0x04, byte(len(nameHash)))
	out = append(out, nameHash...)
	out = append(out, 0x04, byte(len(keyHash)))
	out = append(out, keyHash...)
	return out
}

// MatchHash compares a request's raw combined (issuerNameHash-prefixed,
// issuerKeyHash-prefixed) bytes against the stored entry for alg. Mismatch
// (including unsupported algorithm for this issuer) returns false, never
// an error, per spec.md §4.5.
func MatchHash(id model.IssuerIdentity, alg hashalg.Algorithm, requestNameHash, requestKeyHash []byte) bool {
	stored, ok := id.HashEntries[alg]
	if !ok {
		return false
	}
	candidate := encodeHashPair(requestNameHash, requestKeyHash)
	return bytes.Equal(stored, candidate)
}

// Table is the concurrency-safe, read-mostly map the OCSP responder
// consults: caID -> IssuerIdentity. It is shared read-only once built
// except when a CA certificate is rotated (spec.md §3: "immutable until
// CA cert changes").
type Table struct {
	mu   sync.RWMutex
	byCA map[int]model.IssuerIdentity
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{byCA: make(map[int]model.IssuerIdentity)}
}

// Put installs or replaces the entry for a CA.
func (t *Table) Put(entry model.IssuerIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byCA[entry.CAID] = entry
}

// Lookup finds the issuer whose stored hash for alg matches the request's
// nameHash/keyHash, scanning every known CA (the CertID does not name a
// CA directly — that's the point of the match).
func (t *Table) Lookup(alg hashalg.Algorithm, nameHash, keyHash []byte) (model.IssuerIdentity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.byCA {
		if MatchHash(id, alg, nameHash, keyHash) {
			return id, true
		}
	}
	return model.IssuerIdentity{}, false
}

