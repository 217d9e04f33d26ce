package model

import "time"

// CertificateStatus is the response shape for status queries over the
// CLI/REST surface (distinct from the OCSP wire response, which the
// ocsp package assembles directly from Certificate/RevocationInfo).
type CertificateStatus struct {
	SerialNumber   string           `json:"serial_number"`
	Status         CertStatusValue  `json:"status"`
	Revoked        bool             `json:"revoked"`
	RevocationDate time.Time        `json:"revocation_date,omitempty"`
	Reason         RevocationReason `json:"reason,omitempty"`
	IsCA           bool             `json:"is_ca"`
}
