package model

import (
	"crypto/x509"
	"time"
)

// Profile is the admin-managed issuance policy spec.md §3 describes:
// subject-DN shape, validity rules, and which signature algorithms and
// extensions an issued certificate may carry. Extension production and
// subject-derivation logic live in ca/profile as functions that take a
// Profile value; this struct carries only the declarative, storable part.
type Profile struct {
	ID                    int
	Name                  string // lower-cased, unique
	Type                  string // "tls", "root", "subca", ...
	Validity              time.Duration
	SubjectRDNOrder       []string // RDN attribute order enforced on the granted subject
	MaxSubjectLen         int      // 0 means use X500NAME_MAXLEN default
	AllowedSignatureAlgs  []x509.SignatureAlgorithm
	NotBeforeOffset       time.Duration // minimum offset from "now"; may be negative down to -600s
	NotBeforeMidnightTZ   string        // IANA zone name; empty disables midnight rounding
	ValidityMode          ValidityMode
	EndEntity             bool
	KeyUsage              x509.KeyUsage
	ExtKeyUsage           []x509.ExtKeyUsage
	CarryCSRExtensions    bool // whether extensionRequest attribute extensions may pass through
}
