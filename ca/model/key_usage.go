package model

// KeyUsage names what a crypto key handle is permitted to do. A signer's
// algorithm and the CA's key-usage extension are checked against this at
// load time; certSign/crlSign/ocspSign back the three signer roles a CA
// needs (issuance signer, CRL signer, OCSP responder signer — which may
// all resolve to the same key handle or to distinct ones).
type KeyUsage string

const (
	KeyUsageCertSign KeyUsage = "certSign"
	KeyUsageCRLSign  KeyUsage = "crlSign"
	KeyUsageOCSPSign KeyUsage = "ocspSign"
	KeyUsageEncrypt  KeyUsage = "encrypt"
	KeyUsageSign     KeyUsage = "sign"
)

// KeyUsageData associates a crypto key with one of its declared usages.
type KeyUsageData struct {
	KeyID int      `json:"key_id"`
	Usage KeyUsage `json:"usage"`
}
