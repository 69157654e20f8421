package domain

import (
	"time"

	id "doorledger/pkg/domain"
)

type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusClosed    EventStatus = "closed"
)

// PromoterAccessType controls who may promote an event. Public events accept
// self-service promoter assignment; invite-only events require the organizer
// or venue to assign promoters.
type PromoterAccessType string

const (
	PromoterAccessPublic PromoterAccessType = "public"
	PromoterAccessInvite PromoterAccessType = "invite"
)

// Event is the ledger's view of a ticketed occurrence. Profile fields managed
// by the surrounding product (title, imagery, description) are not mirrored
// here; the ledger only reads what admission and payout logic needs.
type Event struct {
	ID                 id.EventID
	OrganizerID        id.OrganizerID
	VenueID            id.VenueID
	Status             EventStatus
	PromoterAccessType PromoterAccessType
	Currency           string
	StartsAt           time.Time
	EndsAt             time.Time
	LockedAt           *time.Time
	ClosedAt           *time.Time
	ClosedBy           *id.UserID
	CloseoutNotes      string
}

// Closed reports whether a payout run has locked the event.
func (e Event) Closed() bool {
	return e.LockedAt != nil || e.ClosedAt != nil
}
