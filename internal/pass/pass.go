// Package pass issues and validates admission pass tokens. A pass is a
// signed, self-contained claim set: any holder of the shared secret can
// validate one without a database round trip.
package pass

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"doorledger/internal/clock"
	id "doorledger/pkg/domain"
)

// Validation failures stay distinct so callers can log which case occurred.
// User-facing responses must collapse both into one generic message.
var (
	ErrExpired = errors.New("pass expired")
	ErrInvalid = errors.New("pass invalid")
)

// Claims is the full content of a pass token. Nothing else may be embedded:
// the credential stays minimal to limit blast radius if leaked.
type Claims struct {
	RegistrationID string `json:"registration_id"`
	EventID        string `json:"event_id"`
	AttendeeID     string `json:"attendee_id"`
	jwt.RegisteredClaims
}

// Pass identifies the registration a validated token admits.
type Pass struct {
	RegistrationID id.RegistrationID
	EventID        id.EventID
	AttendeeID     id.AttendeeID
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Codec signs and validates pass tokens with a shared secret. Stateless and
// deterministic given the secret and the injected clock.
type Codec struct {
	signingKey []byte
	ttl        time.Duration
	clock      clock.Clock
}

func NewCodec(signingKey string, ttl time.Duration, clk clock.Clock) *Codec {
	return &Codec{signingKey: []byte(signingKey), ttl: ttl, clock: clk}
}

// Issue creates a signed pass token for a registration.
func (c *Codec) Issue(registrationID id.RegistrationID, eventID id.EventID, attendeeID id.AttendeeID) (string, error) {
	now := c.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegistrationID: registrationID.String(),
		EventID:        eventID.String(),
		AttendeeID:     attendeeID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Validate parses and verifies a pass token. Returns ErrExpired for expired
// passes and ErrInvalid for everything else (malformed, bad signature, wrong
// algorithm, garbled ids).
func (c *Codec) Validate(tokenString string) (Pass, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return c.signingKey, nil
	}, jwt.WithTimeFunc(c.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Pass{}, ErrExpired
		}
		return Pass{}, ErrInvalid
	}
	if !parsed.Valid {
		return Pass{}, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return Pass{}, ErrInvalid
	}

	registrationID, err := id.ParseRegistrationID(claims.RegistrationID)
	if err != nil {
		return Pass{}, ErrInvalid
	}
	eventID, err := id.ParseEventID(claims.EventID)
	if err != nil {
		return Pass{}, ErrInvalid
	}
	attendeeID, err := id.ParseAttendeeID(claims.AttendeeID)
	if err != nil {
		return Pass{}, ErrInvalid
	}

	p := Pass{
		RegistrationID: registrationID,
		EventID:        eventID,
		AttendeeID:     attendeeID,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}
