// Package service is the CA management facade: creating and revoking
// CAs, issuing and revoking end-entity certificates, and generating
// CRLs, the way the teacher's CaService exposes one flat surface over
// certificate storage and key management but generalized onto the
// current ca/model, ca/issuance and ca/crl packages instead of the
// teacher's hardcoded RSA/SHA256 constants.
package service

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/DBatOWL/xipki/ca/config"
	"github.com/DBatOWL/xipki/ca/crl"
	"github.com/DBatOWL/xipki/ca/issuance"
	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/ca/profile"
	"github.com/DBatOWL/xipki/ca/repository"
	"github.com/DBatOWL/xipki/ca/revocation"
	"github.com/DBatOWL/xipki/internal/errs"
	"github.com/DBatOWL/xipki/internal/metrics"
)

// CreateCARequest describes a new CA to bring up: either a self-signed
// root (ParentCAID nil) or a subordinate whose own certificate is signed
// by an already-active parent.
type CreateCARequest struct {
	Name            string
	ParentCAID      *int
	ProfileName     string // profile governing the CA's own certificate
	CSRPEM          string // PKCS#10 request for the CA's own key pair
	SigningKeyLabel string
	CRLSignerLabel  string // defaults to SigningKeyLabel when empty
}

// CaService is the surface ca/transport (REST, CLI, CMP/EST/SCEP
// frontends) drives; every method is safe for concurrent use.
type CaService interface {
	CreateCA(ctx context.Context, req CreateCARequest) (model.CA, error)
	GetCA(ctx context.Context, caID int) (model.CA, bool, error)
	GetCAChain(ctx context.Context, caID int) ([]model.CA, error)
	GetAllCAs(ctx context.Context) ([]model.CA, error)
	GetChildCAs(ctx context.Context, parentCAID int) ([]model.CA, error)
	RevokeCA(ctx context.Context, caID int, reason model.RevocationReason) error

	IssueCertificate(ctx context.Context, caID int, profileName string, csrPEM string, req issuance.Request) (model.Certificate, error)
	RevokeCertificate(ctx context.Context, caID int, serial *big.Int, reason model.RevocationReason) (model.Certificate, error)
	UnsuspendCertificate(ctx context.Context, caID int, serial *big.Int) (model.Certificate, error)
	GenerateCRL(ctx context.Context, caID int) (model.CRL, error)
	GetLatestCRL(ctx context.Context, caID int) ([]byte, bool, error)
}

type caService struct {
	repo     repository.Repository
	issuance *issuance.Pipeline
	crlGen   *crl.Generator
	profiles *profile.Store
	cfg      *config.Config
}

// NewCaService wires the CA facade over an already-constructed issuance
// pipeline, CRL generator and profile registry.
func NewCaService(repo repository.Repository, issuancePipeline *issuance.Pipeline, crlGen *crl.Generator, profiles *profile.Store, cfg *config.Config) CaService {
	return &caService{repo: repo, issuance: issuancePipeline, crlGen: crlGen, profiles: profiles, cfg: cfg}
}

func (s *caService) GetCA(ctx context.Context, caID int) (model.CA, bool, error) {
	return s.repo.GetCA(ctx, caID)
}

func (s *caService) GetCAChain(ctx context.Context, caID int) ([]model.CA, error) {
	return s.repo.GetCAChain(ctx, caID)
}

func (s *caService) GetAllCAs(ctx context.Context) ([]model.CA, error) {
	return s.repo.GetAllCAs(ctx)
}

func (s *caService) GetChildCAs(ctx context.Context, parentCAID int) ([]model.CA, error) {
	return s.repo.GetChildCAs(ctx, parentCAID)
}

// CreateCA issues the new CA's own certificate -- self-signed for a root,
// signed by the parent for a subordinate -- and persists the CA row with
// the resulting certificate attached.
func (s *caService) CreateCA(ctx context.Context, req CreateCARequest) (model.CA, error) {
	start := time.Now()
	ca, err := s.createCA(ctx, req)
	metrics.RecordCAOperation(metrics.OpCreateCA, err, time.Since(start).Seconds())
	return ca, err
}

func (s *caService) createCA(ctx context.Context, req CreateCARequest) (model.CA, error) {
	prof, ok := s.profiles.Get(req.ProfileName)
	if !ok {
		return model.CA{}, errs.New(errs.KindBadRequest, "ca.CreateCA", fmt.Errorf("unknown profile %q", req.ProfileName))
	}

	csrBlock, _ := pem.Decode([]byte(req.CSRPEM))
	if csrBlock == nil || csrBlock.Type != "CERTIFICATE REQUEST" {
		return model.CA{}, errs.New(errs.KindBadRequest, "ca.CreateCA", fmt.Errorf("invalid CSR PEM"))
	}

	ca := model.CA{
		Name:            req.Name,
		SigningKeyLabel: req.SigningKeyLabel,
		CRLSignerLabel:  req.CRLSignerLabel,
		Status:          model.CAStatusActive,
		ParentCAID:      req.ParentCAID,
	}

	issuanceReq := issuance.Request{CSRDER: csrBlock.Bytes, RequestType: model.RequestTypeCLI}

	var issued model.Certificate
	var err error
	if req.ParentCAID == nil {
		ca.Type = model.RootCAType
		issued, err = s.issuance.IssueSelfSignedRoot(ctx, ca, prof, issuanceReq)
	} else {
		parent, found, ferr := s.repo.GetCA(ctx, *req.ParentCAID)
		if ferr != nil {
			return model.CA{}, ferr
		}
		if !found {
			return model.CA{}, errs.New(errs.KindBadRequest, "ca.CreateCA", fmt.Errorf("parent CA %d not found", *req.ParentCAID))
		}
		if parent.Status != model.CAStatusActive || parent.IsRevoked() {
			return model.CA{}, errs.New(errs.KindNotPermitted, "ca.CreateCA", fmt.Errorf("parent CA %d is not active", *req.ParentCAID))
		}
		ca.Type = model.SubordinateCAType
		issued, err = s.issuance.Issue(ctx, parent, prof, issuanceReq)
	}
	if err != nil {
		return model.CA{}, err
	}

	ca.Subject = issued.Subject
	ca.CertDER = issued.DER
	ca.CertPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: issued.DER}))

	id, err := s.repo.CreateCA(ctx, ca)
	if err != nil {
		return model.CA{}, err
	}
	ca.ID = id
	return ca, nil
}

// RevokeCA marks caID revoked, taking it out of service (spec.md §3's
// invariant that a revoked CA's certificate is never issued from again).
// When caID is a subordinate, the corresponding Certificate row under its
// parent is revoked with the same reason so the parent's CRL reflects it.
func (s *caService) RevokeCA(ctx context.Context, caID int, reason model.RevocationReason) error {
	start := time.Now()
	err := s.revokeCA(ctx, caID, reason)
	metrics.RecordCAOperation(metrics.OpRevokeCA, err, time.Since(start).Seconds())
	return err
}

func (s *caService) revokeCA(ctx context.Context, caID int, reason model.RevocationReason) error {
	ca, found, err := s.repo.GetCA(ctx, caID)
	if err != nil {
		return err
	}
	if !found {
		return errs.New(errs.KindBadRequest, "ca.RevokeCA", fmt.Errorf("CA %d not found", caID))
	}
	if ca.IsRevoked() {
		return errs.New(errs.KindCertRevoked, "ca.RevokeCA", fmt.Errorf("CA %d already revoked", caID))
	}

	now := time.Now()
	rev := &model.RevocationInfo{Revoked: true, Time: now, Reason: reason}
	if err := s.repo.UpdateCARevocation(ctx, caID, rev); err != nil {
		return err
	}

	if ca.ParentCAID != nil {
		issuerCert, err := certSerial(ca.CertDER)
		if err != nil {
			return err
		}
		revInfo := model.RevocationInfo{Revoked: true, Time: now, Reason: reason}
		if _, err := s.repo.UpdateRevocation(ctx, *ca.ParentCAID, issuerCert, revInfo); err != nil {
			return err
		}
	}
	return nil
}

func (s *caService) IssueCertificate(ctx context.Context, caID int, profileName string, csrPEM string, req issuance.Request) (model.Certificate, error) {
	start := time.Now()
	cert, err := s.issueCertificate(ctx, caID, profileName, csrPEM, req)
	metrics.RecordCAOperation(metrics.OpIssueCertificate, err, time.Since(start).Seconds())
	if err == nil {
		metrics.CertificatesIssuedTotal.WithLabelValues(strconv.Itoa(caID)).Inc()
	}
	return cert, err
}

func (s *caService) issueCertificate(ctx context.Context, caID int, profileName string, csrPEM string, req issuance.Request) (model.Certificate, error) {
	ca, found, err := s.repo.GetCA(ctx, caID)
	if err != nil {
		return model.Certificate{}, err
	}
	if !found {
		return model.Certificate{}, errs.New(errs.KindBadRequest, "ca.IssueCertificate", fmt.Errorf("CA %d not found", caID))
	}
	if ca.Status != model.CAStatusActive || ca.IsRevoked() {
		return model.Certificate{}, errs.New(errs.KindNotPermitted, "ca.IssueCertificate", fmt.Errorf("CA %d is not active", caID))
	}

	prof, ok := s.profiles.Get(profileName)
	if !ok {
		return model.Certificate{}, errs.New(errs.KindBadRequest, "ca.IssueCertificate", fmt.Errorf("unknown profile %q", profileName))
	}

	csrBlock, _ := pem.Decode([]byte(csrPEM))
	if csrBlock == nil || csrBlock.Type != "CERTIFICATE REQUEST" {
		return model.Certificate{}, errs.New(errs.KindBadRequest, "ca.IssueCertificate", fmt.Errorf("invalid CSR PEM"))
	}
	req.CSRDER = csrBlock.Bytes

	return s.issuance.Issue(ctx, ca, prof, req)
}

// RevokeCertificate transitions the certificate identified by (caID,
// serial) into the revoked (or held) state, per ca/revocation's state
// machine: a non-hold revocation cannot be revoked again.
func (s *caService) RevokeCertificate(ctx context.Context, caID int, serial *big.Int, reason model.RevocationReason) (model.Certificate, error) {
	start := time.Now()
	cert, err := s.revokeCertificate(ctx, caID, serial, reason)
	metrics.RecordCAOperation(metrics.OpRevokeCert, err, time.Since(start).Seconds())
	if err == nil {
		metrics.CertificatesRevokedTotal.WithLabelValues(strconv.Itoa(caID)).Inc()
	}
	return cert, err
}

func (s *caService) revokeCertificate(ctx context.Context, caID int, serial *big.Int, reason model.RevocationReason) (model.Certificate, error) {
	existing, found, err := s.repo.GetCertWithRevInfo(ctx, caID, serial)
	if err != nil {
		return model.Certificate{}, err
	}
	if !found {
		return model.Certificate{}, errs.New(errs.KindBadRequest, "ca.RevokeCertificate", fmt.Errorf("certificate not found"))
	}

	rev, err := revocation.Revoke(existing.Revocation, reason, nil, false, time.Now())
	if err != nil {
		return model.Certificate{}, err
	}
	return s.repo.UpdateRevocation(ctx, caID, serial, rev)
}

// UnsuspendCertificate reverses a Hold back to Good (spec.md §4.6: the
// only reversible transition); any other current state is rejected.
func (s *caService) UnsuspendCertificate(ctx context.Context, caID int, serial *big.Int) (model.Certificate, error) {
	start := time.Now()
	cert, err := s.unsuspendCertificate(ctx, caID, serial)
	metrics.RecordCAOperation(metrics.OpUnsuspendCert, err, time.Since(start).Seconds())
	return cert, err
}

func (s *caService) unsuspendCertificate(ctx context.Context, caID int, serial *big.Int) (model.Certificate, error) {
	existing, found, err := s.repo.GetCertWithRevInfo(ctx, caID, serial)
	if err != nil {
		return model.Certificate{}, err
	}
	if !found {
		return model.Certificate{}, errs.New(errs.KindBadRequest, "ca.UnsuspendCertificate", fmt.Errorf("certificate not found"))
	}

	rev, err := revocation.Unrevoke(existing.Revocation, false)
	if err != nil {
		return model.Certificate{}, err
	}
	return s.repo.UpdateRevocation(ctx, caID, serial, rev)
}

// GenerateCRL builds and persists a new full CRL for caID using the
// core's configured next-update interval and retention count.
func (s *caService) GenerateCRL(ctx context.Context, caID int) (model.CRL, error) {
	start := time.Now()
	row, err := s.generateCRL(ctx, caID)
	metrics.RecordCAOperation(metrics.OpGenerateCRL, err, time.Since(start).Seconds())
	if err == nil {
		metrics.CRLsGeneratedTotal.WithLabelValues(strconv.Itoa(caID)).Inc()
	}
	return row, err
}

// GetLatestCRL returns the most recently generated full CRL's DER
// encoding for caID without generating a new one, backing the CLI's
// "crl" command as distinct from "new-crl".
func (s *caService) GetLatestCRL(ctx context.Context, caID int) ([]byte, bool, error) {
	return s.repo.GetEncodedCRL(ctx, caID, nil)
}

func (s *caService) generateCRL(ctx context.Context, caID int) (model.CRL, error) {
	ca, found, err := s.repo.GetCA(ctx, caID)
	if err != nil {
		return model.CRL{}, err
	}
	if !found {
		return model.CRL{}, errs.New(errs.KindBadRequest, "ca.GenerateCRL", fmt.Errorf("CA %d not found", caID))
	}

	thisUpdate := time.Now()
	nextUpdate := thisUpdate.Add(s.cfg.CRL.NextUpdateInterval)
	return s.crlGen.GenerateFull(ctx, ca, thisUpdate, &nextUpdate, s.cfg.CRL.Keep)
}

func certSerial(der []byte) (*big.Int, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errs.New(errs.KindSystemFailure, "ca.certSerial", err)
	}
	return cert.SerialNumber, nil
}
