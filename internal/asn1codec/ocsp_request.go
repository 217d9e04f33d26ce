package asn1codec

import (
	"fmt"
	"math/big"
)

// CertID is the decoded form of an OCSP CertID structure. IssuerNameHash
// and IssuerKeyHash are views into the original request buffer (no copy);
// HashAlgOID is the dotted-string form of the decoded algorithm OID.
type CertID struct {
	HashAlgOID     string
	IssuerNameHash []byte
	IssuerKeyHash  []byte
	SerialNumber   *big.Int

	// raw is the exact encoded bytes of this CertID TLV (tag+length+content).
	raw []byte
}

// Raw returns the exact DER encoding of this CertID as it appeared in the
// request, used to build a cache-key fingerprint.
func (c CertID) Raw() []byte { return c.raw }

// OCSPRequest is the decoded form of an OCSP Request structure (RFC 6960
// §4.1.1), restricted to what the responder pipeline needs: version,
// the list of CertIDs, and the raw bytes of the optional [2] extensions
// (left undecoded here; the Nonce extension is pulled out separately by
// the responder since it is the only one this core interprets).
type OCSPRequest struct {
	Version        int // decoded version, 0 (v1) when absent; not range-checked by DecodeOCSPRequest
	CertIDs        []CertID
	ExtensionsTLV  []byte // raw [2] EXPLICIT Extensions content, or nil
}

// DecodeOCSPRequest parses an OCSPRequest ::= SEQUENCE { tbsRequest
// TBSRequest, optionalSignature [0] EXPLICIT Signature OPTIONAL }. Only
// tbsRequest is decoded; a signed request's Signature TLV is skipped and
// left for the caller to verify separately (component 4.9 step 4) since
// this package's job is structural decoding, not validation.
func DecodeOCSPRequest(data []byte) (*OCSPRequest, error) {
	outer, _, err := ExpectTag(data, 0, TagSequence)
	if err != nil {
		return nil, fmt.Errorf("OCSPRequest: %w", err)
	}
	tbs, _, err := ExpectTag(outer, 0, TagSequence)
	if err != nil {
		return nil, fmt.Errorf("OCSPRequest.tbsRequest: %w", err)
	}
	return decodeTBSRequest(tbs)
}

// decodeTBSRequest parses TBSRequest ::= SEQUENCE { version [0] EXPLICIT
// Version DEFAULT v1, requestorName [1] EXPLICIT GeneralName OPTIONAL,
// requestList SEQUENCE OF Request, requestExtensions [2] EXPLICIT
// Extensions OPTIONAL }.
func decodeTBSRequest(tbs []byte) (*OCSPRequest, error) {
	req := &OCSPRequest{Version: 0}
	offset := 0

	if offset < len(tbs) && tbs[offset] == TagContext0 {
		h, err := ReadHeader(tbs, offset)
		if err != nil {
			return nil, fmt.Errorf("TBSRequest.version: %w", err)
		}
		inner := tbs[h.ContentOffset:h.End()]
		vContent, _, err := ExpectTag(inner, 0, TagInteger)
		if err != nil {
			return nil, fmt.Errorf("TBSRequest.version: %w", err)
		}
		if len(vContent) > 1 {
			return nil, fmt.Errorf("%w: TBSRequest.version encodes more than 1 byte", ErrDecode)
		}
		v := 0
		for _, b := range vContent {
			v = (v << 8) | int(b)
		}
		req.Version = v
		offset = h.End()
	}

	if offset < len(tbs) && tbs[offset] == TagContext1 {
		h, err := ReadHeader(tbs, offset)
		if err != nil {
			return nil, fmt.Errorf("TBSRequest.requestorName: %w", err)
		}
		offset = h.End() // requestorName is not consumed by this responder
	}

	if offset >= len(tbs) {
		return nil, fmt.Errorf("%w: TBSRequest missing requestList", ErrDecode)
	}
	listContent, next, err := ExpectTag(tbs, offset, TagSequence)
	if err != nil {
		return nil, fmt.Errorf("TBSRequest.requestList: %w", err)
	}
	offset = next

	ids, err := decodeRequestList(listContent)
	if err != nil {
		return nil, err
	}
	req.CertIDs = ids

	if offset < len(tbs) && tbs[offset] == TagContext2 {
		h, err := ReadHeader(tbs, offset)
		if err != nil {
			return nil, fmt.Errorf("TBSRequest.requestExtensions: %w", err)
		}
		req.ExtensionsTLV = tbs[h.ContentOffset:h.End()]
	}

	return req, nil
}

// decodeRequestList parses requestList's content: a sequence of Request
// ::= SEQUENCE { reqCert CertID, singleRequestExtensions [0] EXPLICIT
// Extensions OPTIONAL }.
func decodeRequestList(content []byte) ([]CertID, error) {
	var ids []CertID
	offset := 0
	for offset < len(content) {
		reqContent, next, err := ExpectTag(content, offset, TagSequence)
		if err != nil {
			return nil, fmt.Errorf("Request[%d]: %w", len(ids), err)
		}
		id, err := DecodeCertID(reqContent, 0)
		if err != nil {
			return nil, fmt.Errorf("Request[%d].reqCert: %w", len(ids), err)
		}
		ids = append(ids, id)
		offset = next
	}
	return ids, nil
}

// DecodeCertID parses CertID ::= SEQUENCE { hashAlgorithm
// AlgorithmIdentifier, issuerNameHash OCTET STRING, issuerKeyHash OCTET
// STRING, serialNumber CertificateSerialNumber } starting at offset in
// data. Only the CertID is returned; callers that need the next offset
// compute it as offset + len(id.Raw()).
func DecodeCertID(data []byte, offset int) (CertID, error) {
	h, err := ReadHeader(data, offset)
	if err != nil {
		return CertID{}, fmt.Errorf("CertID: %w", err)
	}
	if h.Tag != TagSequence {
		return CertID{}, fmt.Errorf("%w: CertID expected SEQUENCE, got 0x%02x", ErrDecode, h.Tag)
	}
	body := data[h.ContentOffset:h.End()]
	raw := data[offset:h.End()]

	algContent, next, err := ExpectTag(body, 0, TagSequence)
	if err != nil {
		return CertID{}, fmt.Errorf("CertID.hashAlgorithm: %w", err)
	}
	oidBytes, _, err := ExpectTag(algContent, 0, TagOID)
	if err != nil {
		return CertID{}, fmt.Errorf("CertID.hashAlgorithm.algorithm: %w", err)
	}
	oid := decodeOID(oidBytes)

	nameHash, next, err := ExpectTag(body, next, TagOctetString)
	if err != nil {
		return CertID{}, fmt.Errorf("CertID.issuerNameHash: %w", err)
	}
	keyHash, next, err := ExpectTag(body, next, TagOctetString)
	if err != nil {
		return CertID{}, fmt.Errorf("CertID.issuerKeyHash: %w", err)
	}
	serialBytes, _, err := ExpectTag(body, next, TagInteger)
	if err != nil {
		return CertID{}, fmt.Errorf("CertID.serialNumber: %w", err)
	}

	return CertID{
		HashAlgOID:     oid,
		IssuerNameHash: nameHash,
		IssuerKeyHash:  keyHash,
		SerialNumber:   new(big.Int).SetBytes(serialBytes),
		raw:            raw,
	}, nil
}

// decodeOID decodes a BER/DER OBJECT IDENTIFIER content (excluding
// tag/length) into its dotted string form.
func decodeOID(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	out := make([]int, 0, len(content)+1)
	first := int(content[0])
	out = append(out, first/40, first%40)

	value := 0
	for _, b := range content[1:] {
		value = (value << 7) | int(b&0x7F)
		if b&0x80 == 0 {
			out = append(out, value)
			value = 0
		}
	}

	s := ""
	for i, v := range out {
		if i > 0 {
			s += "."
		}
		s += itoa(v)
	}
	return s
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := v < 0
	if neg {
		v = -v
	}
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
