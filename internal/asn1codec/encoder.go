package asn1codec

import "fmt"

// encodeLength returns the DER length-octet encoding of n.
func encodeLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var tmp [4]byte
	i := 4
	for n > 0 {
		i--
		tmp[i] = byte(n)
		n >>= 8
	}
	out := make([]byte, 0, 5-i)
	out = append(out, byte(0x80|(4-i)))
	out = append(out, tmp[i:]...)
	return out
}

// SizeTLV returns the number of bytes WriteTLV would write for a TLV
// wrapping contentLen bytes, letting callers size a destination buffer
// upfront (spec.md §4.3: "the encoder ... returns bytes written, used for
// OCSP responses sized upfront").
func SizeTLV(contentLen int) int {
	return 1 + len(encodeLength(contentLen)) + contentLen
}

// WriteTLV writes tag, the DER length of content, and content itself into
// buf starting at offset, returning the number of bytes written. buf must
// have at least SizeTLV(len(content)) bytes available past offset.
func WriteTLV(buf []byte, offset int, tag byte, content []byte) (int, error) {
	lenBytes := encodeLength(len(content))
	need := 1 + len(lenBytes) + len(content)
	if offset+need > len(buf) {
		return 0, fmt.Errorf("asn1codec: destination buffer too small (need %d more bytes)", offset+need-len(buf))
	}
	buf[offset] = tag
	offset++
	copy(buf[offset:], lenBytes)
	offset += len(lenBytes)
	copy(buf[offset:], content)
	return need, nil
}

// EncodeOID encodes a dotted OID string ("1.2.840...") into its DER
// content bytes (excluding tag/length).
func EncodeOID(dotted string) ([]byte, error) {
	parts, err := splitOID(dotted)
	if err != nil {
		return nil, err
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("asn1codec: OID %q needs at least two arcs", dotted)
	}
	out := []byte{byte(parts[0]*40 + parts[1])}
	for _, v := range parts[2:] {
		out = append(out, encodeBase128(v)...)
	}
	return out, nil
}

func encodeBase128(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	var tmp []byte
	for v > 0 {
		tmp = append([]byte{byte(v & 0x7F)}, tmp...)
		v >>= 7
	}
	for i := 0; i < len(tmp)-1; i++ {
		tmp[i] |= 0x80
	}
	return tmp
}

func splitOID(dotted string) ([]int, error) {
	var parts []int
	cur := 0
	started := false
	for _, r := range dotted {
		if r == '.' {
			parts = append(parts, cur)
			cur = 0
			started = false
			continue
		}
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("asn1codec: invalid OID %q", dotted)
		}
		cur = cur*10 + int(r-'0')
		started = true
	}
	if started {
		parts = append(parts, cur)
	}
	return parts, nil
}

// EncodeExtension writes a pkix-style Extension ::= SEQUENCE { extnID
// OBJECT IDENTIFIER, critical BOOLEAN DEFAULT FALSE, extnValue OCTET
// STRING } into buf at offset, returning bytes written. Used for the
// Nonce, CRLNumber and deltaCRLIndicator extensions this core emits.
func EncodeExtension(buf []byte, offset int, oid string, critical bool, value []byte) (int, error) {
	oidBytes, err := EncodeOID(oid)
	if err != nil {
		return 0, err
	}
	valueTLV := make([]byte, SizeTLV(len(value)))
	if _, err := WriteTLV(valueTLV, 0, TagOctetString, value); err != nil {
		return 0, err
	}

	var body []byte
	oidTLV := make([]byte, SizeTLV(len(oidBytes)))
	if _, err := WriteTLV(oidTLV, 0, TagOID, oidBytes); err != nil {
		return 0, err
	}
	body = append(body, oidTLV...)
	if critical {
		body = append(body, 0x01, 0x01, 0xFF) // BOOLEAN TRUE
	}
	body = append(body, valueTLV...)

	return WriteTLV(buf, offset, TagSequence, body)
}

// EncodeCertID writes a CertID ::= SEQUENCE { hashAlgorithm
// AlgorithmIdentifier, issuerNameHash OCTET STRING, issuerKeyHash OCTET
// STRING, serialNumber INTEGER } into buf at offset, returning bytes
// written. Used to echo the request's CertID verbatim in each
// SingleResponse.
func EncodeCertID(buf []byte, offset int, hashAlgOID string, nameHash, keyHash, serialDER []byte) (int, error) {
	oidBytes, err := EncodeOID(hashAlgOID)
	if err != nil {
		return 0, err
	}
	oidTLV := make([]byte, SizeTLV(len(oidBytes)))
	if _, err := WriteTLV(oidTLV, 0, TagOID, oidBytes); err != nil {
		return 0, err
	}
	// AlgorithmIdentifier ::= SEQUENCE { algorithm OID, parameters NULL }
	algBody := append(append([]byte{}, oidTLV...), 0x05, 0x00)
	algTLV := make([]byte, SizeTLV(len(algBody)))
	if _, err := WriteTLV(algTLV, 0, TagSequence, algBody); err != nil {
		return 0, err
	}

	nameHashTLV := make([]byte, SizeTLV(len(nameHash)))
	WriteTLV(nameHashTLV, 0, TagOctetString, nameHash) //nolint:errcheck // size matches exactly

	keyHashTLV := make([]byte, SizeTLV(len(keyHash)))
	WriteTLV(keyHashTLV, 0, TagOctetString, keyHash) //nolint:errcheck

	serialTLV := make([]byte, SizeTLV(len(serialDER)))
	WriteTLV(serialTLV, 0, TagInteger, serialDER) //nolint:errcheck

	var body []byte
	body = append(body, algTLV...)
	body = append(body, nameHashTLV...)
	body = append(body, keyHashTLV...)
	body = append(body, serialTLV...)

	return WriteTLV(buf, offset, TagSequence, body)
}
