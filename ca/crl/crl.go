// Package crl implements the CRL generator of spec.md §4.8: full CRLs
// built by paging get_revoked_certs the way the teacher's
// ca_service.GetCRL builds one CRL in memory, and delta CRLs computed
// against a stored base full CRL.
package crl

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/ca/repository"
	"github.com/DBatOWL/xipki/internal/errs"
	"github.com/DBatOWL/xipki/internal/idgen"
	keysvc "github.com/DBatOWL/xipki/keymanagement/service"
)

const pageSize = 500

var oidDeltaCRLIndicator = []int{2, 5, 29, 27}

// Generator builds and persists CRLs for one CA store, borrowing the
// CA's CRL signer from the key-management service for each generation.
type Generator struct {
	repo   repository.Repository
	keySvc keysvc.KeyManagementService
	ids    *idgen.Generator
	// SignerPoolSize is how many warm signer instances the CRL signer's
	// pool keeps; CRL generation is low-frequency so a small pool suffices.
	SignerPoolSize int
	BorrowDeadline time.Duration
}

// NewGenerator builds a Generator with sane defaults for pool size and
// borrow deadline.
func NewGenerator(repo repository.Repository, keySvc keysvc.KeyManagementService, ids *idgen.Generator) *Generator {
	return &Generator{repo: repo, keySvc: keySvc, ids: ids, SignerPoolSize: 2, BorrowDeadline: 5 * time.Second}
}

func (g *Generator) crlSignerLabel(ca model.CA) string {
	if ca.CRLSignerLabel != "" {
		return ca.CRLSignerLabel
	}
	return ca.SigningKeyLabel
}

// GenerateFull builds and persists a full CRL for ca as of thisUpdate,
// per spec.md §4.8 steps 1-5.
func (g *Generator) GenerateFull(ctx context.Context, ca model.CA, thisUpdate time.Time, nextUpdate *time.Time, keep int) (model.CRL, error) {
	crlNo, err := g.repo.IncrementNextCRLNumber(ctx, ca.ID)
	if err != nil {
		return model.CRL{}, errs.New(errs.KindCRLFailure, "crl.GenerateFull", err)
	}

	var entries []x509.RevocationListEntry
	var fromID int64
	for {
		page, err := g.repo.GetRevokedCerts(ctx, ca.ID, thisUpdate, fromID, pageSize)
		if err != nil {
			return model.CRL{}, errs.New(errs.KindCRLFailure, "crl.GenerateFull", err)
		}
		if len(page) == 0 {
			break
		}
		for _, rc := range page {
			entries = append(entries, revokedEntry(rc))
			fromID = rc.ID
		}
		if len(page) < pageSize {
			break
		}
	}

	der, err := g.sign(ctx, ca, crlNo, thisUpdate, nextUpdate, entries, nil)
	if err != nil {
		return model.CRL{}, err
	}

	id, err := g.ids.Next()
	if err != nil {
		return model.CRL{}, errs.New(errs.KindSystemFailure, "crl.GenerateFull", err)
	}
	row := model.CRL{ID: id, CAID: ca.ID, CRLNumber: crlNo, ThisUpdate: thisUpdate, NextUpdate: nextUpdate, DER: der}
	if err := g.repo.AddCRL(ctx, row); err != nil {
		return model.CRL{}, errs.New(errs.KindCRLFailure, "crl.GenerateFull", err)
	}
	if err := g.repo.CleanupCRLs(ctx, ca.ID, keep); err != nil {
		return model.CRL{}, errs.New(errs.KindCRLFailure, "crl.GenerateFull", err)
	}

	log.Info().Int("ca_id", ca.ID).Int64("crl_no", crlNo).Int("entries", len(entries)).Msg("full CRL generated")
	return row, nil
}

// GenerateDelta builds and persists a delta CRL relative to baseCRLNumber,
// per spec.md §4.8's delta algorithm.
func (g *Generator) GenerateDelta(ctx context.Context, ca model.CA, baseCRLNumber int64, thisUpdate time.Time, nextUpdate *time.Time) (model.CRL, error) {
	baseDER, found, err := g.repo.GetEncodedCRL(ctx, ca.ID, &baseCRLNumber)
	if err != nil {
		return model.CRL{}, errs.New(errs.KindCRLFailure, "crl.GenerateDelta", err)
	}
	if !found {
		return model.CRL{}, errs.New(errs.KindCRLFailure, "crl.GenerateDelta", fmt.Errorf("base CRL %d not found", baseCRLNumber))
	}
	baseList, err := x509.ParseRevocationList(baseDER)
	if err != nil {
		return model.CRL{}, errs.New(errs.KindCRLFailure, "crl.GenerateDelta", fmt.Errorf("parse base CRL: %w", err))
	}

	inBase := make(map[string]struct{}, len(baseList.RevokedCertificateEntries))
	var entries []x509.RevocationListEntry
	for _, e := range baseList.RevokedCertificateEntries {
		inBase[e.SerialNumber.Text(16)] = struct{}{}
		stillRevoked, err := g.repo.IsCurrentlyRevoked(ctx, ca.ID, e.SerialNumber)
		if err != nil {
			return model.CRL{}, errs.New(errs.KindCRLFailure, "crl.GenerateDelta", err)
		}
		if !stillRevoked {
			entries = append(entries, x509.RevocationListEntry{
				SerialNumber:   e.SerialNumber,
				RevocationTime: thisUpdate,
				ReasonCode:     8, // removeFromCRL
			})
		}
	}

	since := baseList.ThisUpdate.Add(-time.Second)
	var fromID int64
	for {
		page, err := g.repo.GetRevokedCertsSince(ctx, ca.ID, since, thisUpdate, fromID, pageSize)
		if err != nil {
			return model.CRL{}, errs.New(errs.KindCRLFailure, "crl.GenerateDelta", err)
		}
		if len(page) == 0 {
			break
		}
		for _, rc := range page {
			if _, already := inBase[rc.Serial.Text(16)]; !already {
				entries = append(entries, revokedEntry(rc))
			}
			fromID = rc.ID
		}
		if len(page) < pageSize {
			break
		}
	}

	crlNo, err := g.repo.IncrementNextCRLNumber(ctx, ca.ID)
	if err != nil {
		return model.CRL{}, errs.New(errs.KindCRLFailure, "crl.GenerateDelta", err)
	}

	der, err := g.sign(ctx, ca, crlNo, thisUpdate, nextUpdate, entries, &baseCRLNumber)
	if err != nil {
		return model.CRL{}, err
	}

	id, err := g.ids.Next()
	if err != nil {
		return model.CRL{}, errs.New(errs.KindSystemFailure, "crl.GenerateDelta", err)
	}
	row := model.CRL{
		ID: id, CAID: ca.ID, CRLNumber: crlNo, ThisUpdate: thisUpdate, NextUpdate: nextUpdate,
		Delta: true, BaseCRLNumber: &baseCRLNumber, DER: der,
	}
	if err := g.repo.AddCRL(ctx, row); err != nil {
		return model.CRL{}, errs.New(errs.KindCRLFailure, "crl.GenerateDelta", err)
	}

	log.Info().Int("ca_id", ca.ID).Int64("crl_no", crlNo).Int64("base_crl_no", baseCRLNumber).
		Int("entries", len(entries)).Msg("delta CRL generated")
	return row, nil
}

func revokedEntry(rc model.RevokedCertificate) x509.RevocationListEntry {
	entry := x509.RevocationListEntry{
		SerialNumber:   rc.Serial,
		RevocationTime: rc.RevocationDate,
	}
	if code, ok := rc.Reason.IntCode(); ok && code != 0 {
		entry.ReasonCode = code
	}
	if rc.InvalidityDate != nil {
		if der, err := asn1.MarshalWithParams(*rc.InvalidityDate, "generalized"); err == nil {
			entry.ExtraExtensions = append(entry.ExtraExtensions, pkix.Extension{
				Id:    []int{2, 5, 29, 24}, // invalidityDate
				Value: der,
			})
		}
	}
	return entry
}

func (g *Generator) sign(ctx context.Context, ca model.CA, crlNo int64, thisUpdate time.Time, nextUpdate *time.Time, entries []x509.RevocationListEntry, baseCRLNo *int64) ([]byte, error) {
	issuerCert, err := x509.ParseCertificate(ca.CertDER)
	if err != nil {
		return nil, errs.New(errs.KindCRLFailure, "crl.sign", fmt.Errorf("parse CA certificate: %w", err))
	}

	extraExts := []pkix.Extension{}
	if baseCRLNo != nil {
		der, err := asn1.Marshal(big.NewInt(*baseCRLNo))
		if err != nil {
			return nil, errs.New(errs.KindCRLFailure, "crl.sign", err)
		}
		extraExts = append(extraExts, pkix.Extension{Id: oidDeltaCRLIndicator, Critical: true, Value: der})
	}

	template := &x509.RevocationList{
		Number:                    big.NewInt(crlNo),
		RevokedCertificateEntries: entries,
		ThisUpdate:                thisUpdate,
		ExtraExtensions:           extraExts,
	}
	if nextUpdate != nil {
		template.NextUpdate = *nextUpdate
	} else {
		// crypto/x509 always encodes nextUpdate and rejects one before
		// thisUpdate, so without a caller-supplied value the encoded CRL
		// carries nextUpdate equal to thisUpdate.
		template.NextUpdate = thisUpdate
	}

	var der []byte
	label := g.crlSignerLabel(ca)
	err = g.keySvc.Borrow(ctx, label, g.SignerPoolSize, g.BorrowDeadline, func(signer crypto.Signer) error {
		var signErr error
		der, signErr = x509.CreateRevocationList(rand.Reader, template, issuerCert, signer)
		return signErr
	})
	if err != nil {
		return nil, errs.New(errs.KindCRLFailure, "crl.sign", err)
	}
	return der, nil
}
