package model

import (
	"crypto/x509/pkix"
	"time"
)

// TBSCertList mirrors RFC 5280 §5.1 for documentation/reference; the CRL
// generator (ca/crl) builds its TBSCertList through crypto/x509's
// RevocationList/CreateRevocationList rather than marshaling this type
// directly, but keeps it as the canonical field list extensions are
// checked against.
type TBSCertList struct {
	Version             int `asn1:"optional,default:1"`
	Signature           pkix.AlgorithmIdentifier
	Issuer              pkix.RDNSequence
	ThisUpdate          time.Time
	NextUpdate          time.Time                 `asn1:"optional"`
	RevokedCertificates []pkix.RevokedCertificate `asn1:"optional"`
	Extensions          []pkix.Extension          `asn1:"tag:0,optional,explicit"`
}

// CRL is one CRL row: either a full CRL or a delta CRL relative to a base
// full CRL (spec.md §3 CRL entity; delta iff BaseCRLNumber != nil).
type CRL struct {
	ID            int64
	CAID          int
	CRLNumber     int64
	ThisUpdate    time.Time
	NextUpdate    *time.Time
	Delta         bool
	BaseCRLNumber *int64
	DER           []byte
}
