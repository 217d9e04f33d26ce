// Package model holds the OCSP responder's domain types: the per-CA
// issuer-identity entry (spec.md §3 "Issuer identity"), decoded request
// context, and the per-entry response the responder assembles.
package model

import (
	"math/big"
	"time"

	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/internal/hashalg"
)

// IssuerIdentity is the pre-computed (nameHash||keyHash) table for one CA,
// one entry per supported hash algorithm, built at CA-load time per
// spec.md §4.5.
type IssuerIdentity struct {
	CAID      int
	Cert      []byte // DER
	NotBefore time.Time
	// HashEntries[alg] = OCTET_STRING(H(subject)) || OCTET_STRING(H(spkiBits)),
	// stored verbatim as it would appear concatenated in a CertID match.
	HashEntries map[hashalg.Algorithm][]byte
}

// CertStatus is the per-CertID outcome the responder resolves before
// assembling a SingleResponse.
type CertStatus int

const (
	StatusGood CertStatus = iota
	StatusRevoked
	StatusUnknown
)

// SingleResult is the responder's resolved answer for one request CertID,
// in request order.
type SingleResult struct {
	CAID           int
	Serial         *big.Int
	Status         CertStatus
	RevocationTime time.Time
	RevocationRsn  model.RevocationReason
	RawCertID      []byte // exact bytes to echo back from the request
}

// ResponderFailure enumerates the terminal OCSPResponseStatus values this
// core can return instead of a successful response (spec.md §4.9 step
// list + §7 "Terminal failure modes").
type ResponderFailure string

const (
	FailMalformedRequest ResponderFailure = "malformedRequest"
	FailInternalError    ResponderFailure = "internalError"
	FailTryLater         ResponderFailure = "tryLater"
	FailSigRequired      ResponderFailure = "sigRequired"
	FailUnauthorized     ResponderFailure = "unauthorized"
)
