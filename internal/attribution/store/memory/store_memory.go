// Package memory is the in-memory attribution store used by unit tests and
// local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"doorledger/internal/domain"
	id "doorledger/pkg/domain"
	"doorledger/pkg/platform/sentinel"
)

type assignmentKey struct {
	eventID    id.EventID
	promoterID id.PromoterID
}

type Store struct {
	mu          sync.Mutex
	events      map[id.EventID]domain.Event
	assignments map[assignmentKey]domain.EventPromoter
	promoters   map[id.PromoterID]domain.PromoterProfile
	organizers  map[id.OrganizerID]id.UserID
	venues      map[id.VenueID]id.UserID
	clicks      map[uuid.UUID]domain.ReferralClick
}

func New() *Store {
	return &Store{
		events:      make(map[id.EventID]domain.Event),
		assignments: make(map[assignmentKey]domain.EventPromoter),
		promoters:   make(map[id.PromoterID]domain.PromoterProfile),
		organizers:  make(map[id.OrganizerID]id.UserID),
		venues:      make(map[id.VenueID]id.UserID),
		clicks:      make(map[uuid.UUID]domain.ReferralClick),
	}
}

func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return domain.Event{}, sentinel.ErrNotFound
	}
	return event, nil
}

func (s *Store) FindEventPromoter(ctx context.Context, eventID id.EventID, promoterID id.PromoterID) (*domain.EventPromoter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assignment, ok := s.assignments[assignmentKey{eventID, promoterID}]
	if !ok {
		return nil, nil
	}
	a := assignment
	return &a, nil
}

func (s *Store) CreateEventPromoter(ctx context.Context, assignment domain.EventPromoter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey{assignment.EventID, assignment.PromoterID}
	if _, exists := s.assignments[key]; exists {
		return sentinel.ErrConflict
	}
	s.assignments[key] = assignment
	return nil
}

func (s *Store) GetPromoterProfile(ctx context.Context, promoterID id.PromoterID) (domain.PromoterProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.promoters[promoterID]
	if !ok {
		return domain.PromoterProfile{}, sentinel.ErrNotFound
	}
	return profile, nil
}

func (s *Store) FindPromoterByOwner(ctx context.Context, ownerUserID id.UserID) (*domain.PromoterProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, profile := range s.promoters {
		if profile.OwnerUserID == ownerUserID {
			p := profile
			return &p, nil
		}
	}
	return nil, nil
}

func (s *Store) GetOrganizerOwner(ctx context.Context, organizerID id.OrganizerID) (id.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.organizers[organizerID]
	if !ok {
		return id.UserID{}, sentinel.ErrNotFound
	}
	return owner, nil
}

func (s *Store) GetVenueOwner(ctx context.Context, venueID id.VenueID) (id.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.venues[venueID]
	if !ok {
		return id.UserID{}, sentinel.ErrNotFound
	}
	return owner, nil
}

func (s *Store) CreateReferralClick(ctx context.Context, click domain.ReferralClick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks[click.ID] = click
	return nil
}

func (s *Store) FindOldestUnconvertedClick(ctx context.Context, eventID id.EventID, referrerUserID id.UserID, since time.Time) (*domain.ReferralClick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []domain.ReferralClick
	for _, click := range s.clicks {
		if click.EventID == eventID && click.ReferrerUserID == referrerUserID &&
			click.ConvertedAt == nil && !click.CreatedAt.Before(since) {
			candidates = append(candidates, click)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	c := candidates[0]
	return &c, nil
}

func (s *Store) MarkClickConverted(ctx context.Context, clickID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	click, ok := s.clicks[clickID]
	if !ok {
		return sentinel.ErrNotFound
	}
	click.ConvertedAt = &at
	s.clicks[clickID] = click
	return nil
}

// Seed helpers for tests.

func (s *Store) SeedEvent(event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
}

func (s *Store) SeedPromoter(profile domain.PromoterProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoters[profile.ID] = profile
}

func (s *Store) SeedAssignment(assignment domain.EventPromoter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[assignmentKey{assignment.EventID, assignment.PromoterID}] = assignment
}

func (s *Store) SeedOrganizerOwner(organizerID id.OrganizerID, owner id.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizers[organizerID] = owner
}

func (s *Store) SeedVenueOwner(venueID id.VenueID, owner id.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.venues[venueID] = owner
}

func (s *Store) SeedClick(click domain.ReferralClick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks[click.ID] = click
}

// Click returns a click by id. Test helper.
func (s *Store) Click(clickID uuid.UUID) (domain.ReferralClick, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	click, ok := s.clicks[clickID]
	return click, ok
}

// AssignmentCount returns the number of promoter assignments for an event.
// Test helper.
func (s *Store) AssignmentCount(eventID id.EventID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for key := range s.assignments {
		if key.eventID == eventID {
			count++
		}
	}
	return count
}
