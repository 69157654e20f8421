// Package audit records privileged ledger mutations. Entries are append-only
// and recorded after the mutation commits; a failed append is logged by the
// caller and never fails the primary operation.
package audit

import (
	"context"
	"time"

	id "doorledger/pkg/domain"
)

// Entry is an immutable record of a privileged mutation.
type Entry struct {
	UserID       id.UserID
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]string
	CreatedAt    time.Time
}

// Actions recorded by the ledger.
const (
	ActionCheckin           = "attendee_checked_in"
	ActionCheckinUndo       = "checkin_undone"
	ActionQuickAdd          = "quick_add_created"
	ActionPromoterAssigned  = "promoter_assigned"
	ActionPayoutRunComputed = "payout_run_computed"
	ActionCloseoutReset     = "closeout_reset"
)

// Store persists audit entries. Append-only: there is no update or delete.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByResource(ctx context.Context, resourceType, resourceID string) ([]Entry, error)
}

// Recorder captures structured audit entries. It uses the storage layer for
// persistence so tests can swap sinks easily. Recording failures are the
// caller's to swallow: audit must never fail the primary operation.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return r.store.Append(ctx, entry)
}

func (r *Recorder) ListByResource(ctx context.Context, resourceType, resourceID string) ([]Entry, error) {
	return r.store.ListByResource(ctx, resourceType, resourceID)
}
