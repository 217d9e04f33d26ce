package model

import (
	"math/big"
	"time"
)

// Certificate is one CERT row: an issued certificate plus its revocation
// state, addressed by the monotonic ID allocated at issuance (see
// internal/idgen) and unique per (CAID, Serial).
type Certificate struct {
	ID                 int64
	CAID               int
	Serial             *big.Int
	Subject            string
	SubjectFingerprint uint64
	RequestedSubjectFP *uint64 // nil when equal to SubjectFingerprint
	NotBefore          time.Time
	NotAfter           time.Time
	EndEntity          bool
	ProfileID          int
	RequestorID        int
	UserID             *int
	RequestType        RequestType
	TransactionID      string
	DER                []byte
	SHA1Fingerprint    [20]byte
	LastUpdate         time.Time
	Revocation         RevocationInfo
}

// RevocationInfo is the mutable revocation state carried on a Certificate
// row. Revoked=false represents the Good state (spec.md §4.6).
type RevocationInfo struct {
	Revoked        bool
	Time           time.Time
	InvalidityTime *time.Time
	Reason         RevocationReason
}

// IsHold reports whether this revocation state is the reversible Hold
// state (reason == certificateHold).
func (r RevocationInfo) IsHold() bool {
	return r.Revoked && r.Reason == ReasonCertificateHold
}

// CertificateData is the presentation-layer shape returned to REST/CLI
// callers: PEM text and human-facing fields rather than raw DER and a
// database row id.
type CertificateData struct {
	SerialNumber string
	Subject      string
	NotBefore    time.Time
	NotAfter     time.Time
	CertPEM      string // PEM-encoded certificate
}
