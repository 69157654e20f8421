// Package domain holds identifier types shared across the ledger. IDs are
// distinct UUID wrappers so the compiler rejects cross-entity mixups at the
// call site instead of the database rejecting them at runtime.
package domain

import (
	"github.com/google/uuid"

	dErrors "doorledger/pkg/domain-errors"
)

type (
	EventID        uuid.UUID
	AttendeeID     uuid.UUID
	RegistrationID uuid.UUID
	CheckinID      uuid.UUID
	PromoterID     uuid.UUID
	PayoutRunID    uuid.UUID
	UserID         uuid.UUID
	OrganizerID    uuid.UUID
	VenueID        uuid.UUID
)

func (id EventID) String() string        { return uuid.UUID(id).String() }
func (id AttendeeID) String() string     { return uuid.UUID(id).String() }
func (id RegistrationID) String() string { return uuid.UUID(id).String() }
func (id CheckinID) String() string      { return uuid.UUID(id).String() }
func (id PromoterID) String() string     { return uuid.UUID(id).String() }
func (id PayoutRunID) String() string    { return uuid.UUID(id).String() }
func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id OrganizerID) String() string    { return uuid.UUID(id).String() }
func (id VenueID) String() string        { return uuid.UUID(id).String() }

func (id EventID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id AttendeeID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id RegistrationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id CheckinID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id PromoterID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id PayoutRunID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id OrganizerID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id VenueID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }

func NewEventID() EventID               { return EventID(uuid.New()) }
func NewAttendeeID() AttendeeID         { return AttendeeID(uuid.New()) }
func NewRegistrationID() RegistrationID { return RegistrationID(uuid.New()) }
func NewCheckinID() CheckinID           { return CheckinID(uuid.New()) }
func NewPromoterID() PromoterID         { return PromoterID(uuid.New()) }
func NewPayoutRunID() PayoutRunID       { return PayoutRunID(uuid.New()) }
func NewUserID() UserID                 { return UserID(uuid.New()) }

// parseUUID enforces the shared invariant: IDs must be valid, non-nil UUIDs.
func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return parsed, nil
}

func ParseEventID(raw string) (EventID, error) {
	parsed, err := parseUUID(raw)
	return EventID(parsed), err
}

func ParseAttendeeID(raw string) (AttendeeID, error) {
	parsed, err := parseUUID(raw)
	return AttendeeID(parsed), err
}

func ParseRegistrationID(raw string) (RegistrationID, error) {
	parsed, err := parseUUID(raw)
	return RegistrationID(parsed), err
}

func ParseCheckinID(raw string) (CheckinID, error) {
	parsed, err := parseUUID(raw)
	return CheckinID(parsed), err
}

func ParsePromoterID(raw string) (PromoterID, error) {
	parsed, err := parseUUID(raw)
	return PromoterID(parsed), err
}

func ParsePayoutRunID(raw string) (PayoutRunID, error) {
	parsed, err := parseUUID(raw)
	return PayoutRunID(parsed), err
}

func ParseUserID(raw string) (UserID, error) {
	parsed, err := parseUUID(raw)
	return UserID(parsed), err
}
