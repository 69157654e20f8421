// Package memory is the in-memory payout store used by unit tests and local
// development. Registrations and revenue rows are seeded read-only; the
// engine only aggregates them.
package memory

import (
	"context"
	"sync"
	"time"

	"doorledger/internal/domain"
	id "doorledger/pkg/domain"
	"doorledger/pkg/platform/sentinel"
)

type txKey struct{}

type revenueRow struct {
	eventID    id.EventID
	promoterID id.PromoterID
	amount     int64
}

type Store struct {
	mu            sync.Mutex
	events        map[id.EventID]domain.Event
	promoters     map[id.EventID][]domain.EventPromoter
	registrations map[id.RegistrationID]domain.Registration
	revenue       []revenueRow
	runs          map[id.PayoutRunID]domain.PayoutRun
}

func New() *Store {
	return &Store{
		events:        make(map[id.EventID]domain.Event),
		promoters:     make(map[id.EventID][]domain.EventPromoter),
		registrations: make(map[id.RegistrationID]domain.Registration),
		runs:          make(map[id.PayoutRunID]domain.PayoutRun),
	}
}

// WithTx serializes mutations under a coarse lock. In-memory there is no
// rollback; tests that need rollback semantics run against Postgres.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}

func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (domain.Event, error) {
	defer s.lock(ctx)()
	event, ok := s.events[eventID]
	if !ok {
		return domain.Event{}, sentinel.ErrNotFound
	}
	return event, nil
}

func (s *Store) ListEventPromoters(ctx context.Context, eventID id.EventID) ([]domain.EventPromoter, error) {
	defer s.lock(ctx)()
	return append([]domain.EventPromoter(nil), s.promoters[eventID]...), nil
}

func (s *Store) CountAttributedRegistrations(ctx context.Context, eventID id.EventID, promoterID id.PromoterID) (int64, error) {
	defer s.lock(ctx)()
	var count int64
	for _, reg := range s.registrations {
		if reg.EventID == eventID && reg.ReferralPromoterID != nil && *reg.ReferralPromoterID == promoterID {
			count++
		}
	}
	return count, nil
}

func (s *Store) SumAttributedRevenue(ctx context.Context, eventID id.EventID, promoterID id.PromoterID) (int64, error) {
	defer s.lock(ctx)()
	var total int64
	for _, row := range s.revenue {
		if row.eventID == eventID && row.promoterID == promoterID {
			total += row.amount
		}
	}
	return total, nil
}

func (s *Store) CreatePayoutRun(ctx context.Context, run domain.PayoutRun) error {
	defer s.lock(ctx)()
	if _, exists := s.runs[run.ID]; exists {
		return sentinel.ErrConflict
	}
	s.runs[run.ID] = run
	return nil
}

func (s *Store) ListPayoutRuns(ctx context.Context, eventID id.EventID) ([]domain.PayoutRun, error) {
	defer s.lock(ctx)()
	var runs []domain.PayoutRun
	for _, run := range s.runs {
		if run.EventID == eventID {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

func (s *Store) DeletePayoutLines(ctx context.Context, eventID id.EventID) (int64, error) {
	defer s.lock(ctx)()
	var deleted int64
	for runID, run := range s.runs {
		if run.EventID == eventID {
			deleted += int64(len(run.Lines))
			run.Lines = nil
			s.runs[runID] = run
		}
	}
	return deleted, nil
}

func (s *Store) DeletePayoutRuns(ctx context.Context, eventID id.EventID) (int64, error) {
	defer s.lock(ctx)()
	var deleted int64
	for runID, run := range s.runs {
		if run.EventID == eventID {
			delete(s.runs, runID)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) SetCloseout(ctx context.Context, eventID id.EventID, closedBy id.UserID, at time.Time, notes string) error {
	defer s.lock(ctx)()
	event, ok := s.events[eventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	lockedAt := at
	closedAt := at
	event.LockedAt = &lockedAt
	event.ClosedAt = &closedAt
	event.ClosedBy = &closedBy
	event.CloseoutNotes = notes
	event.Status = domain.EventStatusClosed
	s.events[eventID] = event
	return nil
}

func (s *Store) ClearCloseout(ctx context.Context, eventID id.EventID) error {
	defer s.lock(ctx)()
	event, ok := s.events[eventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	event.LockedAt = nil
	event.ClosedAt = nil
	event.ClosedBy = nil
	event.CloseoutNotes = ""
	event.Status = domain.EventStatusPublished
	s.events[eventID] = event
	return nil
}

// Seed helpers for tests.

func (s *Store) SeedEvent(event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
}

func (s *Store) SeedPromoter(assignment domain.EventPromoter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoters[assignment.EventID] = append(s.promoters[assignment.EventID], assignment)
}

func (s *Store) SeedRegistration(reg domain.Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[reg.ID] = reg
}

func (s *Store) DeleteRegistration(registrationID id.RegistrationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registrations, registrationID)
}

func (s *Store) SeedRevenue(eventID id.EventID, promoterID id.PromoterID, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revenue = append(s.revenue, revenueRow{eventID: eventID, promoterID: promoterID, amount: amount})
}

// Event returns the stored event. Test helper.
func (s *Store) Event(eventID id.EventID) (domain.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	return event, ok
}

// RunCount returns the number of payout runs for an event. Test helper.
func (s *Store) RunCount(eventID id.EventID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, run := range s.runs {
		if run.EventID == eventID {
			count++
		}
	}
	return count
}

// LineCount returns the number of payout lines across all of an event's
// runs. Test helper.
func (s *Store) LineCount(eventID id.EventID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, run := range s.runs {
		if run.EventID == eventID {
			count += len(run.Lines)
		}
	}
	return count
}
