package responder

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	camodel "github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/ca/repository"
	"github.com/DBatOWL/xipki/internal/asn1codec"
	"github.com/DBatOWL/xipki/internal/hashalg"
	keysvc "github.com/DBatOWL/xipki/keymanagement/service"
	"github.com/DBatOWL/xipki/ocsp/issueridentity"
	"github.com/DBatOWL/xipki/ocsp/issuerfilter"
)

// fakeRepo answers GetCA/GetCertWithRevInfo from in-memory state; the
// rest of repository.Repository's (large) surface is never called by
// Responder and is satisfied by the embedded nil interface.
type fakeRepo struct {
	repository.Repository
	ca    camodel.CA
	certs map[string]camodel.Certificate // serial hex -> row
}

func (r *fakeRepo) GetCA(ctx context.Context, id int) (camodel.CA, bool, error) {
	if id != r.ca.ID {
		return camodel.CA{}, false, nil
	}
	return r.ca, true, nil
}

func (r *fakeRepo) GetCertWithRevInfo(ctx context.Context, caID int, serial *big.Int) (camodel.Certificate, bool, error) {
	cert, ok := r.certs[serial.Text(16)]
	return cert, ok, nil
}

// fakeKeySvc signs with one fixed key, ignoring the requested label.
type fakeKeySvc struct {
	keysvc.KeyManagementService
	signer crypto.Signer
}

func (f *fakeKeySvc) Borrow(ctx context.Context, keyLabel string, size int, deadline time.Duration, fn func(crypto.Signer) error) error {
	return fn(f.signer)
}

func testCA(t *testing.T, signer crypto.Signer) camodel.CA {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Responder CA"},
		NotBefore:             time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Date(2036, 1, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	require.NoError(t, err)
	return camodel.CA{ID: 1, Name: "root", SigningKeyLabel: "root-key", CertDER: der}
}

// buildRequest assembles a minimal OCSPRequest DER with one CertID built
// against issuerCert, plus an optional nonce extension.
func buildRequest(t *testing.T, issuerCert *x509.Certificate, serial *big.Int, nonce []byte) []byte {
	t.Helper()

	nameHash, err := hashalg.Sum(hashalg.SHA1, issuerCert.RawSubject)
	require.NoError(t, err)
	keyHash, err := hashalg.Sum(hashalg.SHA1, spkiBits(t, issuerCert))
	require.NoError(t, err)

	serialDER := encodeInteger(serial)
	certIDBuf := make([]byte, asn1codec.SizeTLV(256))
	n, err := asn1codec.EncodeCertID(certIDBuf, 0, hashalg.OID(hashalg.SHA1), nameHash, keyHash, serialDER)
	require.NoError(t, err)
	certIDTLV := certIDBuf[:n]

	reqBuf := make([]byte, asn1codec.SizeTLV(len(certIDTLV)))
	n, err = asn1codec.WriteTLV(reqBuf, 0, asn1codec.TagSequence, certIDTLV) // Request ::= SEQUENCE { reqCert CertID }
	require.NoError(t, err)
	requestTLV := reqBuf[:n]

	listBuf := make([]byte, asn1codec.SizeTLV(len(requestTLV)))
	n, err = asn1codec.WriteTLV(listBuf, 0, asn1codec.TagSequence, requestTLV)
	require.NoError(t, err)
	requestListTLV := listBuf[:n]

	tbsBody := append([]byte{}, requestListTLV...)
	if nonce != nil {
		extBuf := make([]byte, asn1codec.SizeTLV(len(nonce))+64)
		n, err := asn1codec.EncodeExtension(extBuf, 0, oidNonce, false, nonce)
		require.NoError(t, err)
		oneExt := extBuf[:n]
		seqBuf := make([]byte, asn1codec.SizeTLV(len(oneExt)))
		n, err = asn1codec.WriteTLV(seqBuf, 0, asn1codec.TagSequence, oneExt)
		require.NoError(t, err)
		extsSeq := seqBuf[:n]
		outerBuf := make([]byte, asn1codec.SizeTLV(len(extsSeq)))
		n, err = asn1codec.WriteTLV(outerBuf, 0, asn1codec.TagContext2, extsSeq)
		require.NoError(t, err)
		tbsBody = append(tbsBody, outerBuf[:n]...)
	}

	tbsBuf := make([]byte, asn1codec.SizeTLV(len(tbsBody)))
	n, err = asn1codec.WriteTLV(tbsBuf, 0, asn1codec.TagSequence, tbsBody)
	require.NoError(t, err)
	tbsTLV := tbsBuf[:n]

	outBuf := make([]byte, asn1codec.SizeTLV(len(tbsTLV)))
	n, err = asn1codec.WriteTLV(outBuf, 0, asn1codec.TagSequence, tbsTLV)
	require.NoError(t, err)
	return outBuf[:n]
}

func spkiBits(t *testing.T, cert *x509.Certificate) []byte {
	t.Helper()
	seq, _, err := asn1codec.ExpectTag(cert.RawSubjectPublicKeyInfo, 0, asn1codec.TagSequence)
	require.NoError(t, err)
	algHeader, err := asn1codec.ReadHeader(seq, 0)
	require.NoError(t, err)
	bitString, _, err := asn1codec.ExpectTag(seq, algHeader.End(), 0x03)
	require.NoError(t, err)
	return bitString[1:]
}

func encodeInteger(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	if b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	return b
}

func newResponder(t *testing.T, ca camodel.CA, signer crypto.Signer, certs map[string]camodel.Certificate, filter *issuerfilter.Filter) (*Responder, *x509.Certificate) {
	t.Helper()
	issuerCert, err := x509.ParseCertificate(ca.CertDER)
	require.NoError(t, err)

	table := issueridentity.NewTable()
	id, err := issueridentity.Build(ca)
	require.NoError(t, err)
	table.Put(id)

	repo := &fakeRepo{ca: ca, certs: certs}
	cfg := DefaultConfig()
	r := New(cfg, table, filter, repo, &fakeKeySvc{signer: signer})
	return r, issuerCert
}

func decodeStatus(t *testing.T, der []byte) byte {
	t.Helper()
	content, _, err := asn1codec.ExpectTag(der, 0, asn1codec.TagSequence)
	require.NoError(t, err)
	status, _, err := asn1codec.ExpectTag(content, 0, asn1codec.TagEnumerated)
	require.NoError(t, err)
	require.Len(t, status, 1)
	return status[0]
}

func TestHandleGoodCertificate(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)
	serial := big.NewInt(42)

	certs := map[string]camodel.Certificate{
		serial.Text(16): {CAID: ca.ID, Serial: serial, Revocation: camodel.RevocationInfo{Revoked: false}},
	}
	r, issuerCert := newResponder(t, ca, signer, certs, nil)

	body := buildRequest(t, issuerCert, serial, nil)
	der := r.Handle(context.Background(), body)
	assert.Equal(t, byte(0), decodeStatus(t, der)) // successful
}

func TestHandleRevokedCertificate(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)
	serial := big.NewInt(7)

	certs := map[string]camodel.Certificate{
		serial.Text(16): {
			CAID: ca.ID, Serial: serial,
			Revocation: camodel.RevocationInfo{Revoked: true, Time: time.Now().UTC(), Reason: camodel.ReasonKeyCompromise},
		},
	}
	r, issuerCert := newResponder(t, ca, signer, certs, nil)

	body := buildRequest(t, issuerCert, serial, nil)
	der := r.Handle(context.Background(), body)
	assert.Equal(t, byte(0), decodeStatus(t, der))
	assert.NotNil(t, der)
}

func TestHandleUnknownCertificateDefaultsUnknown(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)

	r, issuerCert := newResponder(t, ca, signer, map[string]camodel.Certificate{}, nil)

	body := buildRequest(t, issuerCert, big.NewInt(999), nil)
	der := r.Handle(context.Background(), body)
	assert.Equal(t, byte(0), decodeStatus(t, der)) // a response is still produced; status is "unknown" inside
}

func TestHandleUnknownIssuerUnauthorizedPolicy(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherCA := testCA(t, other)
	otherCert, err := x509.ParseCertificate(otherCA.CertDER)
	require.NoError(t, err)

	r, _ := newResponder(t, ca, signer, nil, nil)
	r.cfg.UnauthorizedUnknownIssuer = true

	body := buildRequest(t, otherCert, big.NewInt(1), nil)
	der := r.Handle(context.Background(), body)
	assert.Equal(t, byte(6), decodeStatus(t, der)) // unauthorized
}

func TestHandleIssuerFilterRejection(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)
	serial := big.NewInt(1)
	certs := map[string]camodel.Certificate{
		serial.Text(16): {CAID: ca.ID, Serial: serial},
	}

	filter := issuerfilter.New([]string{"does-not-match-this-ca"}, nil)
	r, issuerCert := newResponder(t, ca, signer, certs, filter)

	body := buildRequest(t, issuerCert, serial, nil)
	der := r.Handle(context.Background(), body)
	assert.Equal(t, byte(6), decodeStatus(t, der)) // unauthorized
}

func TestHandleEchoesNonce(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)
	serial := big.NewInt(5)
	certs := map[string]camodel.Certificate{serial.Text(16): {CAID: ca.ID, Serial: serial}}
	r, issuerCert := newResponder(t, ca, signer, certs, nil)

	nonce := []byte("0123456789abcdef")
	body := buildRequest(t, issuerCert, serial, nonce)
	der := r.Handle(context.Background(), body)
	require.Equal(t, byte(0), decodeStatus(t, der))
}

func TestHandleRejectsOversizedNonce(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)
	serial := big.NewInt(5)
	certs := map[string]camodel.Certificate{serial.Text(16): {CAID: ca.ID, Serial: serial}}
	r, issuerCert := newResponder(t, ca, signer, certs, nil)
	r.cfg.NonceMaxLen = 8

	nonce := make([]byte, 64)
	body := buildRequest(t, issuerCert, serial, nonce)
	der := r.Handle(context.Background(), body)
	assert.Equal(t, byte(1), decodeStatus(t, der)) // malformedRequest
}

func TestHandleRejectsOversizedRequestBody(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)
	r, issuerCert := newResponder(t, ca, signer, nil, nil)
	r.cfg.MaxRequestSize = 4

	body := buildRequest(t, issuerCert, big.NewInt(1), nil)
	der := r.Handle(context.Background(), body)
	assert.Equal(t, byte(1), decodeStatus(t, der))
}

func TestHandleAcceptsCertIDListAtBound(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)
	r, issuerCert := newResponder(t, ca, signer, nil, nil)
	r.cfg.MaxRequestListCount = 1 // buildRequest emits exactly one CertID

	body := buildRequest(t, issuerCert, big.NewInt(1), nil)
	der := r.Handle(context.Background(), body)
	assert.Equal(t, byte(0), decodeStatus(t, der))
}

func TestHandleSignatureRequiredAlwaysFailsClosed(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)
	r, issuerCert := newResponder(t, ca, signer, nil, nil)
	r.cfg.SignatureRequired = true

	body := buildRequest(t, issuerCert, big.NewInt(1), nil)
	der := r.Handle(context.Background(), body)
	assert.Equal(t, byte(5), decodeStatus(t, der)) // sigRequired
}

// decodeSignedResponse walks a successful OCSPResponse down to the exact
// tbsResponseData TLV bytes and the raw signature bytes, so a test can
// verify the signature actually covers what was transmitted rather than
// trusting the responseStatus byte alone.
func decodeSignedResponse(t *testing.T, der []byte) (tbsTLV, sig []byte) {
	t.Helper()
	top, _, err := asn1codec.ExpectTag(der, 0, asn1codec.TagSequence)
	require.NoError(t, err)

	_, _, next := mustReadTLV(t, top, 0) // responseStatus ENUMERATED
	_, rbOuter, _ := mustReadTLV(t, top, next) // responseBytes [0] EXPLICIT

	rbSeqContent, _, err := asn1codec.ExpectTag(rbOuter, 0, asn1codec.TagSequence)
	require.NoError(t, err)
	_, _, afterOID := mustReadTLV(t, rbSeqContent, 0)        // responseType OID
	_, octetContent, _ := mustReadTLV(t, rbSeqContent, afterOID) // response OCTET STRING

	basicSeqContent, _, err := asn1codec.ExpectTag(octetContent, 0, asn1codec.TagSequence)
	require.NoError(t, err)

	_, _, afterTBS := mustReadTLV(t, basicSeqContent, 0) // tbsResponseData
	tbsTLV = basicSeqContent[:afterTBS]
	_, _, afterSigAlg := mustReadTLV(t, basicSeqContent, afterTBS) // signatureAlgorithm
	_, sigBits, _ := mustReadTLV(t, basicSeqContent, afterSigAlg)  // signature BIT STRING
	require.NotEmpty(t, sigBits)
	return tbsTLV, sigBits[1:] // drop the unused-bits count byte
}

func mustReadTLV(t *testing.T, data []byte, offset int) (tag byte, content []byte, next int) {
	t.Helper()
	tag, content, next, err := asn1codec.ReadTLV(data, offset)
	require.NoError(t, err)
	return tag, content, next
}

func TestHandleSignatureCoversTransmittedTBSResponseData(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)
	serial := big.NewInt(11)
	certs := map[string]camodel.Certificate{
		serial.Text(16): {CAID: ca.ID, Serial: serial, Revocation: camodel.RevocationInfo{Revoked: false}},
	}
	r, issuerCert := newResponder(t, ca, signer, certs, nil)

	body := buildRequest(t, issuerCert, serial, nil)
	der := r.Handle(context.Background(), body)
	require.Equal(t, byte(0), decodeStatus(t, der))

	tbsTLV, sig := decodeSignedResponse(t, der)
	digest := sha256.Sum256(tbsTLV)
	assert.True(t, ecdsa.VerifyASN1(&signer.PublicKey, digest[:], sig),
		"signature must verify against the exact tbsResponseData bytes transmitted in the response")
}

func TestHandleCachesResponseForIdenticalRequest(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)
	serial := big.NewInt(3)
	certs := map[string]camodel.Certificate{serial.Text(16): {CAID: ca.ID, Serial: serial}}
	r, issuerCert := newResponder(t, ca, signer, certs, nil)

	body := buildRequest(t, issuerCert, serial, nil)
	first := r.Handle(context.Background(), body)
	second := r.Handle(context.Background(), body)
	assert.Equal(t, first, second)

	key := fingerprintRequest(body)
	_, ok := r.cache.Get(key)
	assert.True(t, ok)
}
