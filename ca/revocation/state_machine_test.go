package revocation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/internal/errs"
)

func TestRevocationRoundTrip(t *testing.T) {
	// property 2: Good -> Hold -> Revoked(keyCompromise), revocationTime
	// preserved from the hold step.
	good := model.RevocationInfo{}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	hold, err := Revoke(good, model.ReasonCertificateHold, nil, false, t0)
	require.NoError(t, err)
	assert.Equal(t, Hold, CurrentState(hold))
	assert.Equal(t, t0, hold.Time)

	t1 := t0.Add(time.Hour)
	revoked, err := Revoke(hold, model.ReasonKeyCompromise, nil, false, t1)
	require.NoError(t, err)
	assert.Equal(t, Revoked, CurrentState(revoked))
	assert.Equal(t, model.ReasonKeyCompromise, revoked.Reason)
	assert.Equal(t, t0, revoked.Time, "revocationTime must be inherited from the hold step")
}

func TestUnrevokeGuard(t *testing.T) {
	// property 3: unrevoke on a non-hold cert fails without force,
	// succeeds with force.
	revoked := model.RevocationInfo{Revoked: true, Reason: model.ReasonKeyCompromise}

	_, err := Unrevoke(revoked, false)
	assert.True(t, errs.Is(err, errs.KindNotPermitted))

	good, err := Unrevoke(revoked, true)
	require.NoError(t, err)
	assert.Equal(t, Good, CurrentState(good))
}

func TestUnrevokeFromHoldSucceedsWithoutForce(t *testing.T) {
	hold := model.RevocationInfo{Revoked: true, Reason: model.ReasonCertificateHold}
	good, err := Unrevoke(hold, false)
	require.NoError(t, err)
	assert.Equal(t, Good, CurrentState(good))
}

func TestDoubleHoldRejected(t *testing.T) {
	// scenario S5: cert in Hold, reason=certificateHold, force=false -> cert_revoked.
	hold := model.RevocationInfo{Revoked: true, Reason: model.ReasonCertificateHold, Time: time.Now()}
	_, err := Revoke(hold, model.ReasonCertificateHold, nil, false, time.Now())
	assert.True(t, errs.Is(err, errs.KindCertRevoked))
}

func TestDoubleHoldAllowedWithForce(t *testing.T) {
	hold := model.RevocationInfo{Revoked: true, Reason: model.ReasonCertificateHold, Time: time.Now()}
	now := time.Now().Add(time.Minute)
	updated, err := Revoke(hold, model.ReasonCertificateHold, nil, true, now)
	require.NoError(t, err)
	assert.Equal(t, Hold, CurrentState(updated))
	assert.Equal(t, now, updated.Time)
}

func TestRevokedToAnythingRejectedWithoutForce(t *testing.T) {
	revoked := model.RevocationInfo{Revoked: true, Reason: model.ReasonKeyCompromise}
	_, err := Revoke(revoked, model.ReasonCACompromise, nil, false, time.Now())
	assert.True(t, errs.Is(err, errs.KindCertRevoked))
}

func TestRevokeSuspendedRequiresHold(t *testing.T) {
	good := model.RevocationInfo{}
	_, err := RevokeSuspended(good, model.ReasonKeyCompromise, time.Now())
	assert.True(t, errs.Is(err, errs.KindNotPermitted))

	hold := model.RevocationInfo{Revoked: true, Reason: model.ReasonCertificateHold, Time: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	revoked, err := RevokeSuspended(hold, model.ReasonKeyCompromise, time.Now())
	require.NoError(t, err)
	assert.Equal(t, Revoked, CurrentState(revoked))
	assert.Equal(t, hold.Time, revoked.Time)
}

func TestIsExpired(t *testing.T) {
	notAfter := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, IsExpired(notAfter, notAfter.Add(-time.Second)))
	assert.True(t, IsExpired(notAfter, notAfter.Add(time.Second)))
}
