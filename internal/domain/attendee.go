package domain

import (
	"strings"
	"time"
	"unicode"

	id "doorledger/pkg/domain"
)

// Attendee is a natural person who may register for events. Long-lived and
// shared across events; created on first registration or at the door via
// quick-add.
type Attendee struct {
	ID          id.AttendeeID
	DisplayName string
	Email       string
	Phone       string
	AccountID   *id.UserID
	CreatedAt   time.Time
}

// NormalizeEmail lowercases and trims an email for identity matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips everything except digits and a leading plus so the
// same phone typed with spaces or dashes resolves to the same attendee.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range phone {
		if unicode.IsDigit(r) || (i == 0 && r == '+') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
