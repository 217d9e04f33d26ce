package model

import "time"

// CA is one certificate authority: its own issuance identity, signing-key
// reference, and CRL sequence counter (spec.md §3 CA entity).
type CA struct {
	ID              int        `json:"id"`
	Name            string     `json:"name"` // unique, e.g. "RootCA"
	Type            CAType     `json:"type"`
	Subject         string     `json:"subject"`
	SigningKeyLabel string     `json:"signing_key_label"`
	CRLSignerLabel  string     `json:"crl_signer_label,omitempty"` // defaults to SigningKeyLabel when empty
	ParentCAID      *int       `json:"parent_ca_id,omitempty"`
	CreateAt        time.Time  `json:"created_at"`
	Status          CAStatus   `json:"status"`
	NextCRLNumber   int64      `json:"next_crl_number"`
	RevInfo         *RevocationInfo `json:"rev_info,omitempty"`
	CertDER         []byte     `json:"-"`
	CertPEM         string     `json:"cert_pem"`
	CertChainPEM    []string   `json:"cert_chain_pem,omitempty"`
}

// IsRevoked reports whether this CA's own certificate has been revoked,
// in which case spec.md §3's invariant requires Status == inactive.
func (c CA) IsRevoked() bool {
	return c.RevInfo != nil && c.RevInfo.Revoked
}
