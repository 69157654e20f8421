package pass

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doorledger/internal/clock"
	id "doorledger/pkg/domain"
)

var testTime = time.Date(2025, 6, 14, 21, 0, 0, 0, time.UTC)

var codec = NewCodec("test-pass-secret", time.Hour, clock.NewFixed(testTime))

var (
	registrationID = id.NewRegistrationID()
	eventID        = id.NewEventID()
	attendeeID     = id.NewAttendeeID()
)

func Test_IssueAndValidate(t *testing.T) {
	token, err := codec.Issue(registrationID, eventID, attendeeID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	p, err := codec.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, registrationID, p.RegistrationID)
	assert.Equal(t, eventID, p.EventID)
	assert.Equal(t, attendeeID, p.AttendeeID)
}

func Test_Issue_TimestampsComeFromClock(t *testing.T) {
	token, err := codec.Issue(registrationID, eventID, attendeeID)
	require.NoError(t, err)

	p, err := codec.Validate(token)
	require.NoError(t, err)
	assert.True(t, p.IssuedAt.Equal(testTime), "issued-at is the injected clock's time")
	assert.True(t, p.ExpiresAt.Equal(testTime.Add(time.Hour)))
}

func Test_Validate_Malformed(t *testing.T) {
	_, err := codec.Validate("not-a-token")
	require.ErrorIs(t, err, ErrInvalid)
}

func Test_Validate_Expired(t *testing.T) {
	// Issued an hour and a second before the validating codec's now.
	stale := NewCodec("test-pass-secret", time.Hour,
		clock.NewFixed(testTime.Add(-time.Hour-time.Second)))
	token, err := stale.Issue(registrationID, eventID, attendeeID)
	require.NoError(t, err)

	_, err = codec.Validate(token)
	require.ErrorIs(t, err, ErrExpired)
}

func Test_Validate_WrongSecret(t *testing.T) {
	other := NewCodec("other-secret", time.Hour, clock.NewFixed(testTime))
	token, err := other.Issue(registrationID, eventID, attendeeID)
	require.NoError(t, err)

	_, err = codec.Validate(token)
	require.ErrorIs(t, err, ErrInvalid)
}
