package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKeyRequestValidate(t *testing.T) {
	assert.NoError(t, generateKeyRequest{ID: "key-1"}.Validate())
	assert.ErrorIs(t, generateKeyRequest{}.Validate(), errInvalidRequest)
}

func TestIssueCertificateRequestValidate(t *testing.T) {
	assert.NoError(t, issueCertificateRequest{Profile: "tls-server", CSRPEM: "-----BEGIN CERTIFICATE REQUEST-----"}.Validate())
	assert.ErrorIs(t, issueCertificateRequest{CSRPEM: "-----BEGIN CERTIFICATE REQUEST-----"}.Validate(), errInvalidRequest)
	assert.ErrorIs(t, issueCertificateRequest{Profile: "tls-server"}.Validate(), errInvalidRequest)
}

func TestRevokeCertificateRequestValidate(t *testing.T) {
	assert.NoError(t, revokeCertificateRequest{SerialHex: "deadbeef", Reason: "keyCompromise"}.Validate())
	assert.ErrorIs(t, revokeCertificateRequest{SerialHex: "not-hex", Reason: "keyCompromise"}.Validate(), errInvalidRequest)
	assert.ErrorIs(t, revokeCertificateRequest{SerialHex: "deadbeef"}.Validate(), errInvalidRequest)
}

func TestUnsuspendCertificateRequestValidate(t *testing.T) {
	assert.NoError(t, unsuspendCertificateRequest{SerialHex: "deadbeef"}.Validate())
	assert.ErrorIs(t, unsuspendCertificateRequest{SerialHex: "zz"}.Validate(), errInvalidRequest)
	assert.ErrorIs(t, unsuspendCertificateRequest{}.Validate(), errInvalidRequest)
}
