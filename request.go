package main

import (
	"errors"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var errInvalidRequest = errors.New("invalid request")

var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// generateKeyRequest is the body of POST /keymanagement/generate.
type generateKeyRequest struct {
	ID string `json:"id"`
}

func (req generateKeyRequest) Validate() error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.ID, validation.Required),
	); err != nil {
		return fmt.Errorf("%w: %s", errInvalidRequest, err.Error())
	}
	return nil
}

// issueCertificateRequest is the body of POST /ca/{caID}/issue.
type issueCertificateRequest struct {
	Profile string `json:"profile"`
	CSRPEM  string `json:"csr"`
}

func (req issueCertificateRequest) Validate() error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Profile, validation.Required),
		validation.Field(&req.CSRPEM, validation.Required),
	); err != nil {
		return fmt.Errorf("%w: %s", errInvalidRequest, err.Error())
	}
	return nil
}

// revokeCertificateRequest is the body of POST /ca/{caID}/revoke.
type revokeCertificateRequest struct {
	SerialHex string `json:"serial"`
	Reason    string `json:"reason"`
}

func (req revokeCertificateRequest) Validate() error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.SerialHex, validation.Required, validation.Match(hexPattern)),
		validation.Field(&req.Reason, validation.Required),
	); err != nil {
		return fmt.Errorf("%w: %s", errInvalidRequest, err.Error())
	}
	return nil
}

// unsuspendCertificateRequest is the body of POST /ca/{caID}/unsuspend.
type unsuspendCertificateRequest struct {
	SerialHex string `json:"serial"`
}

func (req unsuspendCertificateRequest) Validate() error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.SerialHex, validation.Required, validation.Match(hexPattern)),
	); err != nil {
		return fmt.Errorf("%w: %s", errInvalidRequest, err.Error())
	}
	return nil
}
