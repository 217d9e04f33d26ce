package model

import (
	"math/big"
	"time"
)

// RevokedCertificate is a lightweight projection of a Certificate row
// used by the CRL generator and GetRevokedCertificates-style reads that
// only need the revocation facts, not the full DER.
type RevokedCertificate struct {
	ID             int64
	Serial         *big.Int
	RevocationDate time.Time
	InvalidityDate *time.Time
	Reason         RevocationReason
	NotAfter       time.Time
	IsCA           bool
}
