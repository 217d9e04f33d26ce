// Package responder implements the OCSP request-handling pipeline of
// spec.md §4.9: bound-check, decode, issuer match, status lookup,
// response assembly, nonce echo, sign, cache.
package responder

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	camodel "github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/ca/repository"
	"github.com/DBatOWL/xipki/internal/asn1codec"
	"github.com/DBatOWL/xipki/internal/hashalg"
	"github.com/DBatOWL/xipki/internal/metrics"
	keysvc "github.com/DBatOWL/xipki/keymanagement/service"
	"github.com/DBatOWL/xipki/ocsp/issueridentity"
	"github.com/DBatOWL/xipki/ocsp/issuerfilter"
	"github.com/DBatOWL/xipki/ocsp/model"
)

// Config holds the per-deployment policy knobs spec.md §4.9 and §5.1
// reference: size/length bounds, nonce policy, and cache lifetime.
type Config struct {
	MaxRequestSize            int
	MaxRequestListCount       int
	SupportsHTTPGet           bool
	SignatureRequired         bool
	NonIssuedGood             bool // report "good" instead of "unknown" for absent certs
	UnauthorizedUnknownIssuer bool
	NonceMinLen               int
	NonceMaxLen               int
	ResponderMaxCacheAge      time.Duration
	SignerPoolSize            int
	BorrowDeadline            time.Duration
}

// DefaultConfig returns conservative defaults matching common OCSP
// responder deployments (RFC 8954 recommends a 32-byte nonce).
func DefaultConfig() Config {
	return Config{
		MaxRequestSize:       10 * 1024,
		MaxRequestListCount:  100,
		NonceMinLen:          1,
		NonceMaxLen:          32,
		ResponderMaxCacheAge: 5 * time.Minute,
		SignerPoolSize:       2,
		BorrowDeadline:       3 * time.Second,
	}
}

// Responder answers OCSP requests for every CA registered in its
// issuer-identity table.
type Responder struct {
	cfg     Config
	issuers *issueridentity.Table
	filter  *issuerfilter.Filter
	repo    repository.Repository
	keySvc  keysvc.KeyManagementService
	cache   *responseCache
	// SignerLabel resolves a CA's OCSP-signing key label; defaults to
	// the CA's own SigningKeyLabel when nil.
	SignerLabel func(ca camodel.CA) string
}

// New builds a Responder. filter may be nil to accept every issuer known
// to issuers.
func New(cfg Config, issuers *issueridentity.Table, filter *issuerfilter.Filter, repo repository.Repository, keySvc keysvc.KeyManagementService) *Responder {
	return &Responder{cfg: cfg, issuers: issuers, filter: filter, repo: repo, keySvc: keySvc, cache: newResponseCache(1024)}
}

func (r *Responder) signerLabel(ca camodel.CA) string {
	if r.SignerLabel != nil {
		return r.SignerLabel(ca)
	}
	return ca.SigningKeyLabel
}

// Handle runs the full pipeline over a raw OCSPRequest body (DER),
// returning the DER-encoded OCSPResponse bytes. It never returns a Go
// error for a malformed request; failures are reported as one of
// model.ResponderFailure by building the matching response status
// instead (spec.md §4.9: "terminal failure modes map to standard OCSP
// response statuses").
func (r *Responder) Handle(ctx context.Context, body []byte) []byte {
	start := time.Now()
	defer func() { metrics.OCSPRequestDuration.Observe(time.Since(start).Seconds()) }()

	fail := func(f model.ResponderFailure) []byte {
		metrics.RecordOCSPResponse(string(f))
		return encodeFailure(f)
	}

	// Step 1: size bound.
	if r.cfg.MaxRequestSize > 0 && len(body) > r.cfg.MaxRequestSize {
		return fail(model.FailMalformedRequest)
	}

	cacheKey := fingerprintRequest(body)
	if cached, ok := r.cache.Get(cacheKey); ok {
		metrics.RecordOCSPResponse("successful")
		return cached
	}

	// Step 2: decode.
	req, err := asn1codec.DecodeOCSPRequest(body)
	if err != nil {
		return fail(model.FailMalformedRequest)
	}
	if r.cfg.MaxRequestListCount > 0 && len(req.CertIDs) > r.cfg.MaxRequestListCount {
		return fail(model.FailMalformedRequest)
	}

	// Step 3: version.
	if req.Version != 0 {
		return fail(model.FailMalformedRequest)
	}

	// Step 4: signed-request requirement. This core does not decode
	// optionalSignature (DecodeOCSPRequest skips it structurally); a
	// deployment requiring signed requests simply has no way to satisfy
	// step 4 and always fails closed.
	if r.cfg.SignatureRequired {
		return fail(model.FailSigRequired)
	}

	// Steps 5-7: resolve each CertID.
	results := make([]model.SingleResult, 0, len(req.CertIDs))
	for _, certID := range req.CertIDs {
		result, failure := r.resolveOne(ctx, certID)
		if failure != "" {
			return fail(failure)
		}
		results = append(results, result)
	}

	nonce := extractNonce(req.ExtensionsTLV)
	if nonce != nil {
		if len(nonce) < r.cfg.NonceMinLen || (r.cfg.NonceMaxLen > 0 && len(nonce) > r.cfg.NonceMaxLen) {
			return fail(model.FailMalformedRequest)
		}
	}

	// Steps 8-9: assemble, sign, cache.
	der, nextUpdate, err := r.sign(ctx, results, nonce)
	if err != nil {
		log.Error().Err(err).Msg("ocsp: signing failed")
		return fail(model.FailInternalError)
	}
	metrics.RecordOCSPResponse("successful")

	ttl := r.cfg.ResponderMaxCacheAge
	if !nextUpdate.IsZero() {
		if until := time.Until(nextUpdate); until < ttl {
			ttl = until
		}
	}
	if ttl > 0 {
		r.cache.Put(cacheKey, der, ttl)
	}
	return der
}

// resolveOne implements spec.md §4.9 steps 5-6 for a single CertID.
func (r *Responder) resolveOne(ctx context.Context, certID asn1codec.CertID) (model.SingleResult, model.ResponderFailure) {
	alg, ok := hashalg.ByOID(certID.HashAlgOID)
	if !ok {
		return model.SingleResult{}, model.FailMalformedRequest
	}

	issuer, ok := r.issuers.Lookup(alg, certID.IssuerNameHash, certID.IssuerKeyHash)
	if !ok {
		if r.cfg.UnauthorizedUnknownIssuer {
			return model.SingleResult{}, model.FailUnauthorized
		}
		return model.SingleResult{CAID: 0, Serial: certID.SerialNumber, Status: model.StatusUnknown, RawCertID: certID.Raw()}, ""
	}

	if r.filter != nil {
		issuerCert, err := x509.ParseCertificate(issuer.Cert)
		if err != nil {
			return model.SingleResult{}, model.FailInternalError
		}
		fp := sha1Base64(issuerCert.Raw)
		if !r.filter.Accepts(fp) {
			return model.SingleResult{}, model.FailUnauthorized
		}
	}

	cert, found, err := r.repo.GetCertWithRevInfo(ctx, issuer.CAID, certID.SerialNumber)
	if err != nil {
		return model.SingleResult{}, model.FailInternalError
	}
	if !found {
		status := model.StatusUnknown
		if r.cfg.NonIssuedGood {
			status = model.StatusGood
		}
		return model.SingleResult{CAID: issuer.CAID, Serial: certID.SerialNumber, Status: status, RawCertID: certID.Raw()}, ""
	}
	if !cert.Revocation.Revoked {
		return model.SingleResult{CAID: issuer.CAID, Serial: certID.SerialNumber, Status: model.StatusGood, RawCertID: certID.Raw()}, ""
	}
	return model.SingleResult{
		CAID: issuer.CAID, Serial: certID.SerialNumber, Status: model.StatusRevoked,
		RevocationTime: cert.Revocation.Time, RevocationRsn: cert.Revocation.Reason, RawCertID: certID.Raw(),
	}, ""
}

func extractNonce(extensionsTLV []byte) []byte {
	if len(extensionsTLV) == 0 {
		return nil
	}
	// extensionsTLV is the content of a [2] EXPLICIT Extensions; inside
	// that is one SEQUENCE OF Extension.
	seqContent, _, err := asn1codec.ExpectTag(extensionsTLV, 0, asn1codec.TagSequence)
	if err != nil {
		return nil
	}
	offset := 0
	for offset < len(seqContent) {
		extContent, next, err := asn1codec.ExpectTag(seqContent, offset, asn1codec.TagSequence)
		if err != nil {
			return nil
		}
		oidBytes, afterOID, err := asn1codec.ExpectTag(extContent, 0, asn1codec.TagOID)
		if err == nil && bytesEqualOID(oidBytes, oidNonce) {
			rest := extContent[afterOID:]
			// optional critical BOOLEAN
			if len(rest) > 0 && rest[0] == 0x01 {
				h, err := asn1codec.ReadHeader(rest, 0)
				if err == nil {
					rest = rest[h.End():]
				}
			}
			valueContent, _, err := asn1codec.ExpectTag(rest, 0, asn1codec.TagOctetString)
			if err == nil {
				return valueContent
			}
		}
		offset = next
	}
	return nil
}

const oidNonce = "1.3.6.1.5.5.7.48.1.2"

func bytesEqualOID(content []byte, dotted string) bool {
	known, err := asn1codec.EncodeOID(dotted)
	return err == nil && string(known) == string(content)
}

func sha1Base64(der []byte) string {
	sum, err := hashalg.Sum(hashalg.SHA1, der)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(sum)
}

func fingerprintRequest(body []byte) [32]byte {
	return sha256.Sum256(body)
}

func encodeFailure(f model.ResponderFailure) []byte {
	status := map[model.ResponderFailure]byte{
		model.FailMalformedRequest: 1,
		model.FailInternalError:    2,
		model.FailTryLater:         3,
		model.FailSigRequired:      5,
		model.FailUnauthorized:     6,
	}[f]
	// OCSPResponse ::= SEQUENCE { responseStatus ENUMERATED, responseBytes [0] EXPLICIT ResponseBytes OPTIONAL }
	enumTLV := make([]byte, asn1codec.SizeTLV(1))
	asn1codec.WriteTLV(enumTLV, 0, asn1codec.TagEnumerated, []byte{status}) //nolint:errcheck
	out := make([]byte, asn1codec.SizeTLV(len(enumTLV)))
	asn1codec.WriteTLV(out, 0, asn1codec.TagSequence, enumTLV) //nolint:errcheck
	return out
}

// sign assembles a successful BasicOCSPResponse wrapped in an
// OCSPResponse, using a fixed responder identity (the first result's
// issuer, as every request handled by a single Responder.Handle call
// shares one CA in this deployment's request routing) and signs it with
// the CA's OCSP key.
func (r *Responder) sign(ctx context.Context, results []model.SingleResult, nonce []byte) ([]byte, time.Time, error) {
	if len(results) == 0 {
		return nil, time.Time{}, fmt.Errorf("ocsp: no results to sign")
	}
	ca, found, err := r.repo.GetCA(ctx, results[0].CAID)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !found {
		return nil, time.Time{}, fmt.Errorf("ocsp: CA %d not found", results[0].CAID)
	}
	caCert, err := x509.ParseCertificate(ca.CertDER)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("ocsp: parse CA certificate: %w", err)
	}

	thisUpdate := time.Now().UTC()
	nextUpdate := thisUpdate.Add(r.cfg.ResponderMaxCacheAge)

	tbsTLV := buildTBSResponseData(results, nonce, caCert.RawSubject, thisUpdate, nextUpdate)
	tbsDigest := sha256.Sum256(tbsTLV)

	var der []byte
	label := r.signerLabel(ca)
	err = r.keySvc.Borrow(ctx, label, r.cfg.SignerPoolSize, r.cfg.BorrowDeadline, func(signer crypto.Signer) error {
		sigAlgOID, algErr := signatureAlgorithmOID(signer.Public())
		if algErr != nil {
			return algErr
		}
		// RFC 6960 §4.2.1: the signature covers the DER encoding of
		// tbsResponseData itself, not a digest over the inputs that fed
		// into it — sign tbsTLV exactly as assembleResponse below will
		// transmit it.
		sig, signErr := signer.Sign(rand.Reader, tbsDigest[:], crypto.SHA256)
		if signErr != nil {
			return signErr
		}
		der = assembleResponse(tbsTLV, sigAlgOID, sig)
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return der, nextUpdate, nil
}

// signatureAlgorithmOID reports the AlgorithmIdentifier OID this
// responder uses when signing with pub, given that sign() always
// pre-hashes the tbsResponseData with SHA-256. Ed25519 takes the
// message itself rather than a pre-hashed digest, so it cannot be
// driven through that same Sign(rand, digest, crypto.SHA256) call and
// is reported unsupported rather than silently mis-signed.
func signatureAlgorithmOID(pub crypto.PublicKey) (string, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		return "1.2.840.113549.1.1.11", nil // sha256WithRSAEncryption
	case *ecdsa.PublicKey:
		return "1.2.840.10045.4.3.2", nil // ecdsa-with-SHA256
	case ed25519.PublicKey:
		return "", fmt.Errorf("ocsp: ed25519 OCSP signing keys are not supported by this responder")
	default:
		return "", fmt.Errorf("ocsp: unsupported OCSP signer public key type %T", pub)
	}
}

// buildTBSResponseData assembles the DER encoding of ResponseData (RFC
// 6960 §4.2.1: responderID, producedAt, responses, optional
// responseExtensions) — the exact bytes the signature in
// assembleResponse must cover. It must run to completion BEFORE signing
// so sign() has the real payload, not a stand-in, to hash.
func buildTBSResponseData(results []model.SingleResult, nonce, responderSubjectDER []byte, thisUpdate, nextUpdate time.Time) []byte {
	var singleResponses []byte
	for _, res := range results {
		singleResponses = append(singleResponses, encodeSingleResponse(res, thisUpdate, nextUpdate)...)
	}
	responsesTLV := make([]byte, asn1codec.SizeTLV(len(singleResponses)))
	asn1codec.WriteTLV(responsesTLV, 0, asn1codec.TagSequence, singleResponses) //nolint:errcheck

	var extTLV []byte
	if nonce != nil {
		buf := make([]byte, asn1codec.SizeTLV(len(nonce))+64)
		n, _ := asn1codec.EncodeExtension(buf, 0, oidNonce, false, nonce)
		oneExt := buf[:n]
		seq := make([]byte, asn1codec.SizeTLV(len(oneExt)))
		asn1codec.WriteTLV(seq, 0, asn1codec.TagSequence, oneExt) //nolint:errcheck
		outer := make([]byte, asn1codec.SizeTLV(len(seq)))
		asn1codec.WriteTLV(outer, 0, asn1codec.TagContext1, seq) //nolint:errcheck
		extTLV = outer
	}

	responderIDTLV := make([]byte, asn1codec.SizeTLV(len(responderSubjectDER)))
	asn1codec.WriteTLV(responderIDTLV, 0, asn1codec.TagContext1, responderSubjectDER) //nolint:errcheck // byName [1] EXPLICIT Name
	producedAtTLV := encodeGeneralizedTime(thisUpdate)

	tbsBody := append(append(append([]byte{}, responderIDTLV...), producedAtTLV...), responsesTLV...)
	tbsBody = append(tbsBody, extTLV...)
	tbsTLV := make([]byte, asn1codec.SizeTLV(len(tbsBody)))
	asn1codec.WriteTLV(tbsTLV, 0, asn1codec.TagSequence, tbsBody) //nolint:errcheck
	return tbsTLV
}

// assembleResponse wraps an already-signed tbsTLV (the exact bytes sign()
// hashed) together with the signature algorithm and signature into a
// minimal but wire-valid OCSPResponse, in the order RFC 6960 §4.2.1
// specifies. Certificate-path fields (certs[]) beyond the bare signature
// are omitted; this responder relies on the client already trusting the
// CA whose key signed the response, which is the common deployment shape
// the teacher's issuer-identity design targets (see DESIGN.md).
func assembleResponse(tbsTLV []byte, sigAlgOID string, sig []byte) []byte {
	sigTLV := make([]byte, asn1codec.SizeTLV(len(sig)+1))
	asn1codec.WriteTLV(sigTLV, 0, 0x03, append([]byte{0}, sig...)) //nolint:errcheck

	oidBytes, err := asn1codec.EncodeOID(sigAlgOID)
	if err != nil {
		// sigAlgOID is always one of the fixed constants above; unreachable in practice.
		oidBytes = nil
	}
	oidTLV := make([]byte, asn1codec.SizeTLV(len(oidBytes)))
	asn1codec.WriteTLV(oidTLV, 0, asn1codec.TagOID, oidBytes) //nolint:errcheck
	algBody := append(append([]byte{}, oidTLV...), 0x05, 0x00) // AlgorithmIdentifier.parameters NULL
	sigAlgTLV := make([]byte, asn1codec.SizeTLV(len(algBody)))
	asn1codec.WriteTLV(sigAlgTLV, 0, asn1codec.TagSequence, algBody) //nolint:errcheck

	basicBody := append(append(append([]byte{}, tbsTLV...), sigAlgTLV...), sigTLV...)
	basicTLV := make([]byte, asn1codec.SizeTLV(len(basicBody)))
	asn1codec.WriteTLV(basicTLV, 0, asn1codec.TagSequence, basicBody) //nolint:errcheck

	responseBytesInner := encodeResponseBytesInner(basicTLV)
	responseBytesOuter := make([]byte, asn1codec.SizeTLV(len(responseBytesInner)))
	asn1codec.WriteTLV(responseBytesOuter, 0, asn1codec.TagContext0, responseBytesInner) //nolint:errcheck

	enumTLV := make([]byte, asn1codec.SizeTLV(1))
	asn1codec.WriteTLV(enumTLV, 0, asn1codec.TagEnumerated, []byte{0}) //nolint:errcheck

	top := append(append([]byte{}, enumTLV...), responseBytesOuter...)
	out := make([]byte, asn1codec.SizeTLV(len(top)))
	asn1codec.WriteTLV(out, 0, asn1codec.TagSequence, top) //nolint:errcheck
	return out
}

func encodeResponseBytesInner(basicResponseTLV []byte) []byte {
	oidBytes, _ := asn1codec.EncodeOID("1.3.6.1.5.5.7.48.1.1") // id-pkix-ocsp-basic
	oidTLV := make([]byte, asn1codec.SizeTLV(len(oidBytes)))
	asn1codec.WriteTLV(oidTLV, 0, asn1codec.TagOID, oidBytes) //nolint:errcheck

	octetTLV := make([]byte, asn1codec.SizeTLV(len(basicResponseTLV)))
	asn1codec.WriteTLV(octetTLV, 0, asn1codec.TagOctetString, basicResponseTLV) //nolint:errcheck

	body := append(append([]byte{}, oidTLV...), octetTLV...)
	out := make([]byte, asn1codec.SizeTLV(len(body)))
	asn1codec.WriteTLV(out, 0, asn1codec.TagSequence, body) //nolint:errcheck
	return out
}

func encodeSingleResponse(res model.SingleResult, thisUpdate, nextUpdate time.Time) []byte {
	certStatus := encodeCertStatus(res)
	thisUpdateTLV := encodeGeneralizedTime(thisUpdate)
	nextUpdateInner := encodeGeneralizedTime(nextUpdate)
	nextUpdateTLV := make([]byte, asn1codec.SizeTLV(len(nextUpdateInner)))
	asn1codec.WriteTLV(nextUpdateTLV, 0, asn1codec.TagContext0, nextUpdateInner) //nolint:errcheck

	body := append(append(append([]byte{}, res.RawCertID...), certStatus...), thisUpdateTLV...)
	body = append(body, nextUpdateTLV...)
	out := make([]byte, asn1codec.SizeTLV(len(body)))
	asn1codec.WriteTLV(out, 0, asn1codec.TagSequence, body) //nolint:errcheck
	return out
}

func encodeCertStatus(res model.SingleResult) []byte {
	switch res.Status {
	case model.StatusGood:
		return []byte{0x80, 0x00} // [0] IMPLICIT NULL
	case model.StatusRevoked:
		timeTLV := encodeGeneralizedTime(res.RevocationTime)
		var reasonTLV []byte
		if code, ok := res.RevocationRsn.IntCode(); ok && code != 0 {
			enumTLV := make([]byte, asn1codec.SizeTLV(1))
			asn1codec.WriteTLV(enumTLV, 0, asn1codec.TagEnumerated, []byte{byte(code)}) //nolint:errcheck
			wrap := make([]byte, asn1codec.SizeTLV(len(enumTLV)))
			asn1codec.WriteTLV(wrap, 0, asn1codec.TagContext0, enumTLV) //nolint:errcheck
			reasonTLV = wrap
		}
		body := append(append([]byte{}, timeTLV...), reasonTLV...)
		out := make([]byte, asn1codec.SizeTLV(len(body))+1)
		n, _ := asn1codec.WriteTLV(out, 0, 0xA1, body) // [1] EXPLICIT RevokedInfo
		return out[:n]
	default:
		return []byte{0x82, 0x00} // [2] IMPLICIT NULL (unknown)
	}
}

func encodeGeneralizedTime(t time.Time) []byte {
	s := t.UTC().Format("20060102150405Z")
	out := make([]byte, asn1codec.SizeTLV(len(s)))
	asn1codec.WriteTLV(out, 0, 0x18, []byte(s)) //nolint:errcheck
	return out
}

