package domain

import (
	"time"

	id "doorledger/pkg/domain"
)

// Registration is one attendee's claim to attend one event. The
// (attendee_id, event_id) pair is unique; the store enforces it with a
// constraint rather than a read-then-write check.
type Registration struct {
	ID                 id.RegistrationID
	AttendeeID         id.AttendeeID
	EventID            id.EventID
	ReferralPromoterID *id.PromoterID
	ReferredByUserID   *id.UserID
	Notes              string
	CreatedAt          time.Time
}

// Attributed reports whether a promoter gets commission credit for this
// registration.
func (r Registration) Attributed() bool {
	return r.ReferralPromoterID != nil
}
