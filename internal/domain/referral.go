package domain

import (
	"time"

	"github.com/google/uuid"

	id "doorledger/pkg/domain"
)

// ReferralClick is a tracked visit carrying a referral code before
// registration. Multiple clicks per (event, referrer) are legitimate; only
// the first unconverted one preceding a registration converts.
type ReferralClick struct {
	ID             uuid.UUID
	EventID        id.EventID
	ReferrerUserID id.UserID
	CreatedAt      time.Time
	ConvertedAt    *time.Time
}

// Attribution is resolved referral credit for a registration about to be
// created. ClickID, when set, names the click to stamp converted in the same
// transaction as the registration insert; a registration that never commits
// must not consume the click.
type Attribution struct {
	PromoterID       *id.PromoterID
	ReferredByUserID *id.UserID
	ClickID          *uuid.UUID
}
