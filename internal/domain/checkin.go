package domain

import (
	"time"

	id "doorledger/pkg/domain"
)

// Checkin is the durable proof of physical admission for a registration.
// Undo stamps UndoAt instead of deleting the row, so the full admission
// history survives. At most one checkin per registration may be active
// (UndoAt nil) at a time; a partial unique index enforces this in the store.
type Checkin struct {
	ID             id.CheckinID
	RegistrationID id.RegistrationID
	CheckedInBy    id.UserID
	CheckedInAt    time.Time
	UndoAt         *time.Time
}

// Active reports whether this checkin still counts as admission.
func (c Checkin) Active() bool {
	return c.UndoAt == nil
}
