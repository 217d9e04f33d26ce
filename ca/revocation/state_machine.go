// Package revocation implements the certificate revocation state machine
// of spec.md §4.6 as pure functions over {Good, Hold, Revoked, Removed,
// Expired}: no I/O here, only transition guards. ca/repository performs
// the actual row update once a transition is accepted.
package revocation

import (
	"time"

	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/internal/errs"
)

// State names the coarse position in the machine; Expired is
// observational only (derived from notAfter, never a stored transition
// target).
type State string

const (
	Good    State = "good"
	Hold    State = "hold"
	Revoked State = "revoked"
	Removed State = "removed"
	Expired State = "expired"
)

// CurrentState classifies a certificate's revocation row into one of the
// four stored states (Removed is not observable from a RevocationInfo
// alone -- it means the row no longer exists -- so it is never returned
// here; callers that already know the row was removed report it
// themselves).
func CurrentState(rev model.RevocationInfo) State {
	if !rev.Revoked {
		return Good
	}
	if rev.Reason == model.ReasonCertificateHold {
		return Hold
	}
	return Revoked
}

// Revoke validates a Good/Hold -> Hold/Revoked transition per spec.md
// §4.6's guard table and returns the RevocationInfo to persist. now is
// passed in rather than read from time.Now so the decision is testable.
func Revoke(current model.RevocationInfo, reason model.RevocationReason, invalidityTime *time.Time, force bool, now time.Time) (model.RevocationInfo, error) {
	state := CurrentState(current)

	switch state {
	case Good:
		return model.RevocationInfo{
			Revoked:        true,
			Time:           now,
			InvalidityTime: invalidityTime,
			Reason:         reason,
		}, nil

	case Hold:
		if reason == model.ReasonCertificateHold {
			if !force {
				return model.RevocationInfo{}, errs.New(errs.KindCertRevoked, "revocation.Revoke",
					errAlreadyRevokedSameReason)
			}
			return model.RevocationInfo{
				Revoked:        true,
				Time:           now,
				InvalidityTime: invalidityTime,
				Reason:         reason,
			}, nil
		}
		// Hold -> Revoked(reason != hold): revocationTime and
		// invalidityTime are inherited from the Hold entry.
		return model.RevocationInfo{
			Revoked:        true,
			Time:           current.Time,
			InvalidityTime: current.InvalidityTime,
			Reason:         reason,
		}, nil

	case Revoked:
		if !force {
			return model.RevocationInfo{}, errs.New(errs.KindCertRevoked, "revocation.Revoke", errAlreadyRevoked)
		}
		return model.RevocationInfo{
			Revoked:        true,
			Time:           now,
			InvalidityTime: invalidityTime,
			Reason:         reason,
		}, nil
	}

	return model.RevocationInfo{}, errs.New(errs.KindSystemFailure, "revocation.Revoke", errUnknownState)
}

// Unrevoke validates the Hold -> Good transition (spec.md §4.6: "the only
// unrevocation path without force"). force bypasses the guard requiring
// the current reason to be certificateHold.
func Unrevoke(current model.RevocationInfo, force bool) (model.RevocationInfo, error) {
	state := CurrentState(current)
	if state != Hold && !force {
		return model.RevocationInfo{}, errs.New(errs.KindNotPermitted, "revocation.Unrevoke", errNotOnHold)
	}
	return model.RevocationInfo{Revoked: false}, nil
}

// RevokeSuspended atomically advances a Hold entry to Revoked(reason),
// rejecting if the current state is not Hold (spec.md §4.6
// "revoke_suspended").
func RevokeSuspended(current model.RevocationInfo, reason model.RevocationReason, now time.Time) (model.RevocationInfo, error) {
	if CurrentState(current) != Hold {
		return model.RevocationInfo{}, errs.New(errs.KindNotPermitted, "revocation.RevokeSuspended", errNotOnHold)
	}
	return model.RevocationInfo{
		Revoked:        true,
		Time:           current.Time,
		InvalidityTime: current.InvalidityTime,
		Reason:         reason,
	}, nil
}

// IsExpired reports the observational Expired state; it never blocks a
// transition (spec.md §4.6: "no transition, observational only").
func IsExpired(notAfter time.Time, now time.Time) bool {
	return now.After(notAfter)
}
