package revocation

import "errors"

var (
	errAlreadyRevokedSameReason = errors.New("already revoked with same reason")
	errAlreadyRevoked           = errors.New("certificate already revoked")
	errNotOnHold                = errors.New("current reason is not certificateHold")
	errUnknownState             = errors.New("unrecognized revocation state")
)
