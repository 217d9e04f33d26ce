package crl

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/ca/repository"
	"github.com/DBatOWL/xipki/internal/idgen"
	keysvc "github.com/DBatOWL/xipki/keymanagement/service"
)

// fakeRepo implements repository.Repository over in-memory state, just
// enough of the surface GenerateFull/GenerateDelta exercise. Embedding
// the nil interface satisfies the rest of the (large) method set; tests
// never call those.
type fakeRepo struct {
	repository.Repository

	nextCRLNo int64
	revoked   map[string]model.RevokedCertificate // serial hex -> row
	crls      map[int64][]byte                    // crl number -> DER
	cleanedTo int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{revoked: make(map[string]model.RevokedCertificate), crls: make(map[int64][]byte)}
}

func (r *fakeRepo) IncrementNextCRLNumber(ctx context.Context, caID int) (int64, error) {
	r.nextCRLNo++
	return r.nextCRLNo, nil
}

func (r *fakeRepo) GetRevokedCerts(ctx context.Context, caID int, notExpiredAt time.Time, fromID int64, limit int) ([]model.RevokedCertificate, error) {
	var out []model.RevokedCertificate
	for _, rc := range r.revoked {
		if rc.ID > fromID && rc.NotAfter.After(notExpiredAt) {
			out = append(out, rc)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetRevokedCertsSince(ctx context.Context, caID int, since, notExpiredAt time.Time, fromID int64, limit int) ([]model.RevokedCertificate, error) {
	var out []model.RevokedCertificate
	for _, rc := range r.revoked {
		if rc.ID > fromID && rc.NotAfter.After(notExpiredAt) {
			out = append(out, rc)
		}
	}
	return out, nil
}

func (r *fakeRepo) IsCurrentlyRevoked(ctx context.Context, caID int, serial *big.Int) (bool, error) {
	_, ok := r.revoked[serial.Text(16)]
	return ok, nil
}

func (r *fakeRepo) AddCRL(ctx context.Context, crl model.CRL) error {
	r.crls[crl.CRLNumber] = crl.DER
	return nil
}

func (r *fakeRepo) GetEncodedCRL(ctx context.Context, caID int, crlNumber *int64) ([]byte, bool, error) {
	der, ok := r.crls[*crlNumber]
	return der, ok, nil
}

func (r *fakeRepo) CleanupCRLs(ctx context.Context, caID int, keep int) error {
	r.cleanedTo = keep
	return nil
}

// fakeKeySvc signs everything with one fixed ECDSA key.
type fakeKeySvc struct {
	keysvc.KeyManagementService
	signer crypto.Signer
}

func (f *fakeKeySvc) Borrow(ctx context.Context, keyLabel string, size int, deadline time.Duration, fn func(crypto.Signer) error) error {
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

func TestGenerateFullCRLEmpty(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)

	repo := newFakeRepo()
	ids, err := idgen.New(0, 0)
	require.NoError(t, err)
	gen := NewGenerator(repo, &fakeKeySvc{signer: signer}, ids)

	thisUpdate := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	crlRow, err := gen.GenerateFull(context.Background(), ca, thisUpdate, nil, 5)
	require.NoError(t, err)

	require.Equal(t, int64(1), crlRow.CRLNumber)
	require.Equal(t, 5, repo.cleanedTo)

	parsed, err := x509.ParseRevocationList(crlRow.DER)
	require.NoError(t, err)
	require.Empty(t, parsed.RevokedCertificateEntries)
	require.Equal(t, int64(1), parsed.Number.Int64())
}

func TestGenerateFullCRLWithRevocations(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)

	repo := newFakeRepo()
	serial := big.NewInt(42)
	repo.revoked[serial.Text(16)] = model.RevokedCertificate{
		ID: 1, Serial: serial, RevocationDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Reason: model.ReasonKeyCompromise, NotAfter: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	ids, err := idgen.New(1, 0)
	require.NoError(t, err)
	gen := NewGenerator(repo, &fakeKeySvc{signer: signer}, ids)

	thisUpdate := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	crlRow, err := gen.GenerateFull(context.Background(), ca, thisUpdate, nil, 5)
	require.NoError(t, err)

	parsed, err := x509.ParseRevocationList(crlRow.DER)
	require.NoError(t, err)
	require.Len(t, parsed.RevokedCertificateEntries, 1)
	require.Equal(t, serial.Text(16), parsed.RevokedCertificateEntries[0].SerialNumber.Text(16))
	require.Equal(t, 1, parsed.RevokedCertificateEntries[0].ReasonCode)
}

func TestGenerateDeltaDropsUnrevokedAndAddsNew(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ca := testCA(t, signer)

	repo := newFakeRepo()
	ids, err := idgen.New(2, 0)
	require.NoError(t, err)
	gen := NewGenerator(repo, &fakeKeySvc{signer: signer}, ids)

	// Base full CRL revokes serial 7.
	baseSerial := big.NewInt(7)
	repo.revoked[baseSerial.Text(16)] = model.RevokedCertificate{
		ID: 1, Serial: baseSerial, RevocationDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Reason: model.ReasonKeyCompromise, NotAfter: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	base, err := gen.GenerateFull(context.Background(), ca, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), nil, 5)
	require.NoError(t, err)

	// Serial 7 gets unrevoked; serial 9 gets newly revoked.
	delete(repo.revoked, baseSerial.Text(16))
	newSerial := big.NewInt(9)
	repo.revoked[newSerial.Text(16)] = model.RevokedCertificate{
		ID: 2, Serial: newSerial, RevocationDate: time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
		Reason: model.ReasonSuperseded, NotAfter: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	delta, err := gen.GenerateDelta(context.Background(), ca, base.CRLNumber, time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	require.True(t, delta.Delta)
	require.Equal(t, base.CRLNumber, *delta.BaseCRLNumber)

	parsed, err := x509.ParseRevocationList(delta.DER)
	require.NoError(t, err)
	require.Len(t, parsed.RevokedCertificateEntries, 2)

	bySerial := make(map[string]x509.RevocationListEntry)
	for _, e := range parsed.RevokedCertificateEntries {
		bySerial[e.SerialNumber.Text(16)] = e
	}
	require.Equal(t, 8, bySerial[baseSerial.Text(16)].ReasonCode) // removeFromCRL
	require.Equal(t, 4, bySerial[newSerial.Text(16)].ReasonCode)  // superseded
}
