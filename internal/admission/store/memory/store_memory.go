// Package memory is the in-memory admission store used by unit tests and
// local development. It mirrors the Postgres constraints: one registration
// per (attendee, event), one active checkin per registration.
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

type Store struct {
	mu            sync.Mutex
	events        map[id.EventID]domain.Event
	attendees     map[id.AttendeeID]domain.Attendee
	registrations map[id.RegistrationID]domain.Registration
	checkins      map[id.CheckinID]domain.Checkin
}

func New() *Store {
	return &Store{
		events:        make(map[id.EventID]domain.Event),
		attendees:     make(map[id.AttendeeID]domain.Attendee),
		registrations: make(map[id.RegistrationID]domain.Registration),
		checkins:      make(map[id.CheckinID]domain.Checkin),
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

func (s *Store) GetRegistration(ctx context.Context, registrationID id.RegistrationID) (domain.Registration, error) {
	defer s.lock(ctx)()
	reg, ok := s.registrations[registrationID]
	if !ok {
		return domain.Registration{}, sentinel.ErrNotFound
	}
	return reg, nil
}

func (s *Store) FindRegistration(ctx context.Context, eventID id.EventID, attendeeID id.AttendeeID) (*domain.Registration, error) {
	defer s.lock(ctx)()
	for _, reg := range s.registrations {
		if reg.EventID == eventID && reg.AttendeeID == attendeeID {
			r := reg
			return &r, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateRegistration(ctx context.Context, reg domain.Registration) error {
	defer s.lock(ctx)()
	for _, existing := range s.registrations {
		if existing.EventID == reg.EventID && existing.AttendeeID == reg.AttendeeID {
			return sentinel.ErrConflict
		}
	}
	s.registrations[reg.ID] = reg
	return nil
}

func (s *Store) DeleteRegistration(ctx context.Context, registrationID id.RegistrationID) error {
	defer s.lock(ctx)()
	delete(s.registrations, registrationID)
	for cid, c := range s.checkins {
		if c.RegistrationID == registrationID {
			delete(s.checkins, cid)
		}
	}
	return nil
}

func (s *Store) GetAttendee(ctx context.Context, attendeeID id.AttendeeID) (domain.Attendee, error) {
	defer s.lock(ctx)()
	attendee, ok := s.attendees[attendeeID]
	if !ok {
		return domain.Attendee{}, sentinel.ErrNotFound
	}
	return attendee, nil
}

func (s *Store) FindAttendeeByContact(ctx context.Context, email, phone string) (*domain.Attendee, error) {
	defer s.lock(ctx)()
	for _, attendee := range s.attendees {
		if (email != "" && attendee.Email == email) || (phone != "" && attendee.Phone == phone) {
			a := attendee
			return &a, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateAttendee(ctx context.Context, attendee domain.Attendee) error {
	defer s.lock(ctx)()
	s.attendees[attendee.ID] = attendee
	return nil
}

func (s *Store) GetCheckin(ctx context.Context, checkinID id.CheckinID) (domain.Checkin, error) {
	defer s.lock(ctx)()
	checkin, ok := s.checkins[checkinID]
	if !ok {
		return domain.Checkin{}, sentinel.ErrNotFound
	}
	return checkin, nil
}

func (s *Store) FindActiveCheckin(ctx context.Context, registrationID id.RegistrationID) (*domain.Checkin, error) {
	defer s.lock(ctx)()
	return s.findActiveLocked(registrationID), nil
}

func (s *Store) CreateCheckin(ctx context.Context, checkin domain.Checkin) error {
	defer s.lock(ctx)()
	if s.findActiveLocked(checkin.RegistrationID) != nil {
		return sentinel.ErrConflict
	}
	s.checkins[checkin.ID] = checkin
	return nil
}

func (s *Store) UndoCheckin(ctx context.Context, checkinID id.CheckinID, undoAt time.Time) (domain.Checkin, error) {
	defer s.lock(ctx)()
	checkin, ok := s.checkins[checkinID]
	if !ok {
		return domain.Checkin{}, sentinel.ErrNotFound
	}
	checkin.UndoAt = &undoAt
	s.checkins[checkinID] = checkin
	return checkin, nil
}

func (s *Store) findActiveLocked(registrationID id.RegistrationID) *domain.Checkin {
	for _, checkin := range s.checkins {
		if checkin.RegistrationID == registrationID && checkin.Active() {
			c := checkin
			return &c
		}
	}
	return nil
}

// Seed helpers for tests.

func (s *Store) SeedEvent(event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
}

func (s *Store) SeedAttendee(attendee domain.Attendee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attendees[attendee.ID] = attendee
}

func (s *Store) SeedRegistration(reg domain.Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[reg.ID] = reg
}

// ActiveCheckins returns the number of active checkins for a registration.
// Test helper for the at-most-one invariant.
func (s *Store) ActiveCheckins(registrationID id.RegistrationID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, checkin := range s.checkins {
		if checkin.RegistrationID == registrationID && checkin.Active() {
			count++
		}
	}
	return count
}

// CheckinCount returns all checkin rows for a registration, active or not.
func (s *Store) CheckinCount(registrationID id.RegistrationID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, checkin := range s.checkins {
		if checkin.RegistrationID == registrationID {
			count++
		}
	}
	return count
}
