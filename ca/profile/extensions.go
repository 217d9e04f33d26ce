package profile

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
)

var (
	oidBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}
	oidKeyUsage         = asn1.ObjectIdentifier{2, 5, 29, 15}
)

type basicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

func basicConstraintsExtension(isCA bool) (pkix.Extension, error) {
	der, err := asn1.Marshal(basicConstraints{IsCA: isCA, MaxPathLen: -1})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("profile: marshal basicConstraints: %w", err)
	}
	return pkix.Extension{Id: oidBasicConstraints, Critical: true, Value: der}, nil
}

func keyUsageExtension(ku x509.KeyUsage) (pkix.Extension, error) {
	// RFC 5280 §4.2.1.3: KeyUsage ::= BIT STRING, with digitalSignature as
	// bit 0 (the MSB of the first octet). crypto/x509.KeyUsage numbers its
	// bits the same way from the LSB of the Go int, so bit i here lands at
	// octet i/8, bit position (7 - i%8) counting from that octet's MSB.
	octets := make([]byte, 2)
	for i := 0; i < 9; i++ {
		if ku&(1<<uint(i)) != 0 {
			octets[i/8] |= 1 << uint(7-i%8)
		}
	}
	bitString := asn1.BitString{Bytes: octets, BitLength: 9}
	der, err := asn1.Marshal(bitString)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("profile: marshal keyUsage: %w", err)
	}
	return pkix.Extension{Id: oidKeyUsage, Critical: true, Value: der}, nil
}
