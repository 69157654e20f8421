package domain

import (
	"time"

	id "doorledger/pkg/domain"
)

// PayoutRun is one finalized commission computation for an event. Reset
// deletes the run and its lines wholesale; registration and checkin history
// is never touched.
type PayoutRun struct {
	ID        id.PayoutRunID
	EventID   id.EventID
	CreatedBy id.UserID
	CreatedAt time.Time
	Lines     []PayoutLine
}

// PayoutLine is one promoter's computed payout within a run. Amounts are
// integer minor units.
type PayoutLine struct {
	PayoutRunID id.PayoutRunID
	PromoterID  id.PromoterID
	Amount      int64
	Currency    string
}
