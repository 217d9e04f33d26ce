// Package profile implements the Profile entity's behavior (spec.md §3,
// §4.7): subject derivation, validity-window computation, and extension
// assembly for one named issuance policy. Profile row storage itself is
// ca/model.Profile; this package holds the functions keyed by that row's
// declarative fields.
package profile

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/internal/errs"
)

const defaultX500NameMaxLen = 350

// GrantedSubject derives the subject a certificate will carry from the
// CSR's requested subject, sorting RDNs into the profile's declared order
// and truncating to its max length (spec.md §4.7 step 5).
func GrantedSubject(p model.Profile, requested pkix.Name) (pkix.Name, error) {
	granted := requested
	if len(p.SubjectRDNOrder) > 0 {
		// pkix.Name encodes its typed fields and ExtraNames, never Names;
		// typed fields whose type appears in ExtraNames are left out.
		granted.ExtraNames = sortRDNs(requested.ToRDNSequence(), p.SubjectRDNOrder)
	}

	maxLen := p.MaxSubjectLen
	if maxLen == 0 {
		maxLen = defaultX500NameMaxLen
	}
	s := granted.String()
	if len(s) > maxLen {
		return pkix.Name{}, errs.New(errs.KindBadCertTemplate, "profile.GrantedSubject",
			fmt.Errorf("subject %d bytes exceeds max length %d", len(s), maxLen))
	}
	return granted, nil
}

func sortRDNs(seq pkix.RDNSequence, order []string) []pkix.AttributeTypeAndValue {
	rank := make(map[string]int, len(order))
	for i, attr := range order {
		rank[strings.ToUpper(attr)] = i
	}

	var atvs []pkix.AttributeTypeAndValue
	for _, rdn := range seq {
		atvs = append(atvs, rdn...)
	}
	sort.SliceStable(atvs, func(i, j int) bool {
		ri, oki := rank[oidName(atvs[i].Type)]
		rj, okj := rank[oidName(atvs[j].Type)]
		if !oki {
			ri = len(order)
		}
		if !okj {
			rj = len(order)
		}
		return ri < rj
	})
	return atvs
}

func oidName(oid []int) string {
	// Minimal mapping for the common RDN attributes profiles order by;
	// unmapped OIDs sort after every named attribute.
	switch fmt.Sprint(oid) {
	case fmt.Sprint([]int{2, 5, 4, 3}):
		return "CN"
	case fmt.Sprint([]int{2, 5, 4, 10}):
		return "O"
	case fmt.Sprint([]int{2, 5, 4, 11}):
		return "OU"
	case fmt.Sprint([]int{2, 5, 4, 6}):
		return "C"
	case fmt.Sprint([]int{2, 5, 4, 7}):
		return "L"
	case fmt.Sprint([]int{2, 5, 4, 8}):
		return "ST"
	default:
		return ""
	}
}

// ValidityWindow computes notBefore/notAfter per spec.md §4.7 step 6.
// requestedNotBefore/requestedNotAfter are nil when the caller did not
// request a specific bound. caNotAfter is the issuing CA's own
// certificate expiry, used by the CUTOFF validity mode.
func ValidityWindow(p model.Profile, requestedNotBefore, requestedNotAfter *time.Time, caNotAfter time.Time, now time.Time) (time.Time, time.Time, error) {
	notBefore := now
	if requestedNotBefore != nil {
		notBefore = *requestedNotBefore
	}
	if p.NotBeforeOffset != 0 {
		floor := now.Add(p.NotBeforeOffset)
		if notBefore.Before(floor) {
			notBefore = floor
		}
	}
	if p.NotBeforeMidnightTZ != "" {
		loc, err := timeLoadLocation(p.NotBeforeMidnightTZ)
		if err != nil {
			return time.Time{}, time.Time{}, errs.New(errs.KindSystemFailure, "profile.ValidityWindow", err)
		}
		local := notBefore.In(loc)
		notBefore = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	}

	defaultNotAfter := notBefore.Add(p.Validity)
	notAfter := defaultNotAfter
	if requestedNotAfter != nil {
		notAfter = *requestedNotAfter
	}

	if notAfter.After(caNotAfter) || (requestedNotAfter != nil && requestedNotAfter.After(defaultNotAfter)) {
		switch p.ValidityMode {
		case model.ValidityStrict:
			return time.Time{}, time.Time{}, errs.New(errs.KindBadCertTemplate, "profile.ValidityWindow",
				fmt.Errorf("requested notAfter %s exceeds policy", notAfter))
		case model.ValidityCutoff:
			if notAfter.After(caNotAfter) {
				notAfter = caNotAfter
			} else {
				notAfter = defaultNotAfter
			}
		case model.ValidityLax:
			// honor the requested value verbatim
		}
	}

	return notBefore, notAfter, nil
}

func timeLoadLocation(name string) (*time.Location, error) {
	return time.LoadLocation(name)
}

// ExtensionProducer builds one pkix.Extension from request context; a
// Profile's extension set is a list of these, applied in order.
type ExtensionProducer func(req Request) (pkix.Extension, bool, error)

// Request is the context extension producers and AllowsSignatureAlg see.
type Request struct {
	Subject       pkix.Name
	PublicKey     any
	CSRExtensions []pkix.Extension
	CarryCSRExts  bool
}

// AllowsSignatureAlg reports whether alg is in the profile's allowed set;
// an empty AllowedSignatureAlgs means no restriction.
func AllowsSignatureAlg(p model.Profile, alg x509.SignatureAlgorithm) bool {
	if len(p.AllowedSignatureAlgs) == 0 {
		return true
	}
	for _, a := range p.AllowedSignatureAlgs {
		if a == alg {
			return true
		}
	}
	return false
}

// StandardExtensions returns the basicConstraints/keyUsage/extKeyUsage
// extensions every profile produces from its declarative fields, plus
// any CSR-carried extensionRequest extensions when CarryCSRExtensions
// permits it (spec.md §4.7 step 7).
func StandardExtensions(p model.Profile, csrExtensions []pkix.Extension) ([]pkix.Extension, error) {
	var exts []pkix.Extension

	bc, err := basicConstraintsExtension(!p.EndEntity)
	if err != nil {
		return nil, err
	}
	exts = append(exts, bc)

	if p.KeyUsage != 0 {
		ku, err := keyUsageExtension(p.KeyUsage)
		if err != nil {
			return nil, err
		}
		exts = append(exts, ku)
	}

	if p.CarryCSRExtensions {
		exts = append(exts, csrExtensions...)
	}

	return exts, nil
}
