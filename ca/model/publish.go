package model

// PublishQueueEntry is one row of PUBLISHQUEUE: a certificate awaiting
// delivery to one publisher. (Publisher, CertID) is unique; the
// republisher (ca/publish) processes entries at-least-once and deletes
// them on success (spec.md §5 "Publish queue is processed at-least-once").
type PublishQueueEntry struct {
	PublisherID int
	CAID        int
	CertID      int64
}

// Requestor identifies the entity (gateway, operator, service account)
// on whose behalf a CSR was submitted, referenced by Certificate.RequestorID.
type Requestor struct {
	ID   int
	Name string
}

// Publisher is an enabled downstream sink (LDAP, OCSP store, CRL mirror)
// interested in issued and/or revoked certificates for a CA.
type Publisher struct {
	ID               int
	Name             string
	PublishGood      bool
	PublishRevoked   bool
}
