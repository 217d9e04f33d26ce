package issuance

import (
	"context"
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/ca/repository"
	"github.com/DBatOWL/xipki/internal/errs"
	"github.com/DBatOWL/xipki/internal/idgen"
	keysvc "github.com/DBatOWL/xipki/keymanagement/service"
)

// fakeRepo implements repository.Repository over in-memory state; only
// the methods Issue/IssueSelfSignedRoot exercise are overridden.
type fakeRepo struct {
	repository.Repository

	added   []model.Certificate
	queued  []model.PublishQueueEntry
	failAdd bool
}

func (r *fakeRepo) AddCert(ctx context.Context, cert model.Certificate) error {
	if r.failAdd {
		return errs.New(errs.KindDatabaseFailure, "fakeRepo.AddCert", errors.New("simulated failure"))
	}
	r.added = append(r.added, cert)
	return nil
}

func (r *fakeRepo) AddToPublishQueue(ctx context.Context, entry model.PublishQueueEntry) error {
	r.queued = append(r.queued, entry)
	return nil
}

// fakeKeySvc signs with one fixed key and records the label it was asked for.
type fakeKeySvc struct {
	keysvc.KeyManagementService
	signer      crypto.Signer
	borrowedFor string
}

func (f *fakeKeySvc) Borrow(ctx context.Context, keyLabel string, size int, deadline time.Duration, fn func(crypto.Signer) error) error {
	f.borrowedFor = keyLabel
	return fn(f.signer)
}

func testCA(t *testing.T, signer crypto.Signer) model.CA {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root CA"},
		NotBefore:             time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Date(2036, 1, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	require.NoError(t, err)
	return model.CA{ID: 1, Name: "root", SigningKeyLabel: "root-key", CertDER: der}
}

func testCSR(t *testing.T, key crypto.Signer, cn string) []byte {
	t.Helper()
	template := &x509.CertificateRequest{Subject: pkix.Name{CommonName: cn}}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	require.NoError(t, err)
	return der
}

func endEntityProfile() model.Profile {
	return model.Profile{
		ID:        7,
		Name:      "tls",
		Type:      "tls",
		Validity:  365 * 24 * time.Hour,
		EndEntity: true,
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}
}

func TestIssueEndEntityCertificate(t *testing.T) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, caKey)

	eeKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	csrDER := testCSR(t, eeKey, "www.example.com")

	repo := &fakeRepo{}
	ids, err := idgen.New(0, 0)
	require.NoError(t, err)
	p := NewPipeline(repo, &fakeKeySvc{signer: caKey}, ids, nil)
	p.PublisherIDs = []int{1, 2}

	cert, err := p.Issue(context.Background(), ca, endEntityProfile(), Request{
		CSRDER:      csrDER,
		RequestorID: 3,
		RequestType: model.RequestTypeREST,
	})
	require.NoError(t, err)

	require.Len(t, repo.added, 1)
	assert.Equal(t, cert.ID, repo.added[0].ID)
	require.Len(t, repo.queued, 2)
	assert.Equal(t, cert.ID, repo.queued[0].CertID)
	assert.NotEmpty(t, cert.TransactionID)

	parsed, err := x509.ParseCertificate(cert.DER)
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", parsed.Subject.CommonName)
	assert.False(t, parsed.IsCA)
}

func TestIssueRejectsBadPOP(t *testing.T) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, caKey)

	eeKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	csrDER := testCSR(t, eeKey, "www.example.com")
	// Corrupt the signature bytes so CheckSignature fails.
	csrDER[len(csrDER)-1] ^= 0xFF

	repo := &fakeRepo{}
	ids, err := idgen.New(0, 0)
	require.NoError(t, err)
	p := NewPipeline(repo, &fakeKeySvc{signer: caKey}, ids, nil)

	_, err = p.Issue(context.Background(), ca, endEntityProfile(), Request{CSRDER: csrDER})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindBadPOP))
	assert.Empty(t, repo.added)
}

func TestIssueRejectsUndersizedRSAKey(t *testing.T) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, caKey)

	weakKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	csrDER := testCSR(t, weakKey, "weak.example.com")

	repo := &fakeRepo{}
	ids, err := idgen.New(0, 0)
	require.NoError(t, err)
	p := NewPipeline(repo, &fakeKeySvc{signer: caKey}, ids, nil)

	_, err = p.Issue(context.Background(), ca, endEntityProfile(), Request{CSRDER: csrDER})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindBadCertTemplate))
}

func TestIssueRejectsDisallowedSubject(t *testing.T) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, caKey)

	eeKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	csrDER := testCSR(t, eeKey, "www.example.com")

	prof := endEntityProfile()
	prof.MaxSubjectLen = 5 // "CN=www.example.com" exceeds this

	repo := &fakeRepo{}
	ids, err := idgen.New(0, 0)
	require.NoError(t, err)
	p := NewPipeline(repo, &fakeKeySvc{signer: caKey}, ids, nil)

	_, err = p.Issue(context.Background(), ca, prof, Request{CSRDER: csrDER})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindBadCertTemplate))
}

func TestIssuePropagatesDatabaseFailure(t *testing.T) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, caKey)

	eeKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	csrDER := testCSR(t, eeKey, "www.example.com")

	repo := &fakeRepo{failAdd: true}
	ids, err := idgen.New(0, 0)
	require.NoError(t, err)
	p := NewPipeline(repo, &fakeKeySvc{signer: caKey}, ids, nil)

	_, err = p.Issue(context.Background(), ca, endEntityProfile(), Request{CSRDER: csrDER})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDatabaseFailure))
}

func TestIssueSelfSignedRootRequiresMatchingKey(t *testing.T) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	// CSR signed by a different key than the CA's signer.
	csrDER := testCSR(t, otherKey, "Mismatched Root")

	repo := &fakeRepo{}
	ids, err := idgen.New(0, 0)
	require.NoError(t, err)
	p := NewPipeline(repo, &fakeKeySvc{signer: rootKey}, ids, nil)

	ca := model.CA{ID: 1, SigningKeyLabel: "root-key"}
	prof := model.Profile{ID: 1, Name: "root", Validity: 10 * 365 * 24 * time.Hour, KeyUsage: x509.KeyUsageCertSign}

	_, err = p.IssueSelfSignedRoot(context.Background(), ca, prof, Request{CSRDER: csrDER})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindBadRequest))
}

func TestIssueSelfSignedRootSucceeds(t *testing.T) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	csrDER := testCSR(t, rootKey, "My Root CA")

	repo := &fakeRepo{}
	ids, err := idgen.New(0, 0)
	require.NoError(t, err)
	p := NewPipeline(repo, &fakeKeySvc{signer: rootKey}, ids, nil)

	ca := model.CA{ID: 1, SigningKeyLabel: "root-key"}
	prof := model.Profile{ID: 1, Name: "root", Validity: 10 * 365 * 24 * time.Hour, KeyUsage: x509.KeyUsageCertSign}

	cert, err := p.IssueSelfSignedRoot(context.Background(), ca, prof, Request{CSRDER: csrDER})
	require.NoError(t, err)

	parsed, err := x509.ParseCertificate(cert.DER)
	require.NoError(t, err)
	assert.Equal(t, parsed.Issuer.String(), parsed.Subject.String())
	assert.True(t, parsed.IsCA)
}

func TestVerifyDHStaticPOPRoundTrip(t *testing.T) {
	caKeyPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	peerPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)

	dh := NewSoftwareDHKeyAgreement()
	serial := big.NewInt(99)
	dh.Register(1, serial, caKeyPriv)

	secret, err := caKeyPriv.ECDH(peerPriv.PublicKey())
	require.NoError(t, err)

	tbs := []byte("some tbsCertificationRequest bytes")
	h := hmac.New(sha256.New, secret)
	h.Write(tbs)
	mac := h.Sum(nil)

	pop := DHStaticPOP{Algorithm: AlgX25519SHA256, IssuerCAID: 1, Serial: serial, MAC: mac}
	err = verifyDHStaticPOP(context.Background(), dh, tbs, peerPriv.PublicKey().Bytes(), pop)
	assert.NoError(t, err)

	// Tampered tbs bytes must fail verification.
	err = verifyDHStaticPOP(context.Background(), dh, []byte("tampered"), peerPriv.PublicKey().Bytes(), pop)
	assert.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindBadPOP))
}

func TestVerifyDHStaticPOPRejectsX448(t *testing.T) {
	dh := NewSoftwareDHKeyAgreement()
	pop := DHStaticPOP{Algorithm: AlgX448SHA512, IssuerCAID: 1, Serial: big.NewInt(1), MAC: []byte("x")}
	err := verifyDHStaticPOP(context.Background(), dh, []byte("tbs"), []byte("peer"), pop)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindBadPOP))
}
