package model

// RevocationReason names a CRLReason value the way profiles, the REST API
// and CLI surface refer to it. IntCode maps it to the RFC 5280 §5.3.1
// integer used on the wire (CRLReason ::= ENUMERATED).
type RevocationReason string

const (
	ReasonUnspecified          RevocationReason = "unspecified"
	ReasonKeyCompromise        RevocationReason = "keyCompromise"
	ReasonCACompromise         RevocationReason = "caCompromise"
	ReasonAffiliationChanged   RevocationReason = "affiliationChanged"
	ReasonSuperseded           RevocationReason = "superseded"
	ReasonCessationOfOperation RevocationReason = "cessationOfOperation"
	ReasonCertificateHold      RevocationReason = "certificateHold"
	ReasonRemoveFromCRL        RevocationReason = "removeFromCRL"
	ReasonPrivilegeWithdrawn   RevocationReason = "privilegeWithdrawn"
	ReasonAACompromise         RevocationReason = "aaCompromise"
)

var reasonCodes = map[RevocationReason]int{
	ReasonUnspecified:          0,
	ReasonKeyCompromise:        1,
	ReasonCACompromise:         2,
	ReasonAffiliationChanged:   3,
	ReasonSuperseded:           4,
	ReasonCessationOfOperation: 5,
	ReasonCertificateHold:      6,
	ReasonRemoveFromCRL:        8,
	ReasonPrivilegeWithdrawn:   9,
	ReasonAACompromise:         10,
}

// IntCode returns the RFC 5280 CRLReason integer for r, and false if r is
// not a recognized reason.
func (r RevocationReason) IntCode() (int, bool) {
	code, ok := reasonCodes[r]
	return code, ok
}

// CertStatusValue is the coarse status reported by the OCSP responder and
// the CLI surface.
type CertStatusValue string

const (
	StatusGood    CertStatusValue = "good"
	StatusRevoked CertStatusValue = "revoked"
	StatusUnknown CertStatusValue = "unknown"
	StatusExpired CertStatusValue = "expired"
)

// CAType distinguishes self-signed roots from subordinate CAs.
type CAType string

const (
	RootCAType        CAType = "root"
	SubordinateCAType CAType = "sub"
)

// CAStatus is the lifecycle state of a CA row.
type CAStatus string

const (
	CAStatusActive   CAStatus = "active"
	CAStatusInactive CAStatus = "inactive"
)

// ValidityMode controls how a requested notAfter beyond the CA's own
// notAfter (or beyond a profile's maximum validity) is resolved.
type ValidityMode string

const (
	ValidityStrict ValidityMode = "STRICT" // reject the request
	ValidityLax    ValidityMode = "LAX"    // honor the requested value verbatim
	ValidityCutoff ValidityMode = "CUTOFF" // clamp to the CA's own notAfter
)

// RequestType distinguishes where a CSR entered the pipeline from, carried
// through to the CERT row's RTYPE column for audit purposes.
type RequestType string

const (
	RequestTypeCMP  RequestType = "cmp"
	RequestTypeSCEP RequestType = "scep"
	RequestTypeEST  RequestType = "est"
	RequestTypeACME RequestType = "acme"
	RequestTypeREST RequestType = "rest"
	RequestTypeCLI  RequestType = "cli"
)
