//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"doorledger/internal/attribution/store/postgres"
	"doorledger/internal/domain"
	id "doorledger/pkg/domain"
	"doorledger/pkg/platform/sentinel"
	"doorledger/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	// Truncate in dependency order
	err := s.postgres.TruncateTables(ctx,
		"referral_clicks", "event_promoters", "promoter_profiles",
		"events", "venues", "organizers")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seedEvent(organizerOwner, venueOwner uuid.UUID) domain.Event {
	ctx := context.Background()
	organizerID := uuid.New()
	venueID := uuid.New()
	eventID := id.NewEventID()
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := s.postgres.Pool.Exec(ctx,
		`INSERT INTO organizers (id, owner_user_id) VALUES ($1, $2)`, organizerID, organizerOwner)
	s.Require().NoError(err)
	_, err = s.postgres.Pool.Exec(ctx,
		`INSERT INTO venues (id, owner_user_id) VALUES ($1, $2)`, venueID, venueOwner)
	s.Require().NoError(err)
	_, err = s.postgres.Pool.Exec(ctx, `
		INSERT INTO events (id, organizer_id, venue_id, status, promoter_access_type, currency, starts_at, ends_at)
		VALUES ($1, $2, $3, 'published', 'public', 'USD', $4, $5)`,
		uuid.UUID(eventID), organizerID, venueID, now, now.Add(4*time.Hour))
	s.Require().NoError(err)

	event, err := s.store.GetEvent(ctx, eventID)
	s.Require().NoError(err)
	return event
}

func (s *PostgresStoreSuite) seedPromoter(owner uuid.UUID) id.PromoterID {
	ctx := context.Background()
	promoterID := id.NewPromoterID()
	_, err := s.postgres.Pool.Exec(ctx,
		`INSERT INTO promoter_profiles (id, owner_user_id) VALUES ($1, $2)`,
		uuid.UUID(promoterID), owner)
	s.Require().NoError(err)
	return promoterID
}

// TestAssignmentRoundTripAndConflict verifies the commission rule survives
// storage and that the primary key rejects duplicate assignment.
func (s *PostgresStoreSuite) TestAssignmentRoundTripAndConflict() {
	ctx := context.Background()
	event := s.seedEvent(uuid.New(), uuid.New())
	promoterID := s.seedPromoter(uuid.New())
	now := time.Now().UTC().Truncate(time.Microsecond)

	assignment := domain.EventPromoter{
		EventID:    event.ID,
		PromoterID: promoterID,
		Commission: domain.Percentage{RateBasisPoints: 750},
		CreatedAt:  now,
	}
	s.Require().NoError(s.store.CreateEventPromoter(ctx, assignment))

	found, err := s.store.FindEventPromoter(ctx, event.ID, promoterID)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(domain.CommissionPercentage, found.Commission.Type())
	s.Equal(domain.Percentage{RateBasisPoints: 750}, found.Commission)

	err = s.store.CreateEventPromoter(ctx, assignment)
	s.ErrorIs(err, sentinel.ErrConflict)

	// Unassigned pair reads back as absent, not an error.
	none, err := s.store.FindEventPromoter(ctx, event.ID, s.seedPromoter(uuid.New()))
	s.Require().NoError(err)
	s.Nil(none)
}

// TestOwnerLookups verifies the organizer/venue/promoter owner walk used by
// attribution fallback.
func (s *PostgresStoreSuite) TestOwnerLookups() {
	ctx := context.Background()
	organizerOwner := uuid.New()
	venueOwner := uuid.New()
	event := s.seedEvent(organizerOwner, venueOwner)
	promoterID := s.seedPromoter(organizerOwner)

	owner, err := s.store.GetOrganizerOwner(ctx, event.OrganizerID)
	s.Require().NoError(err)
	s.Equal(id.UserID(organizerOwner), owner)

	owner, err = s.store.GetVenueOwner(ctx, event.VenueID)
	s.Require().NoError(err)
	s.Equal(id.UserID(venueOwner), owner)

	profile, err := s.store.FindPromoterByOwner(ctx, id.UserID(organizerOwner))
	s.Require().NoError(err)
	s.Require().NotNil(profile)
	s.Equal(promoterID, profile.ID)

	// The venue owner has no promoter profile.
	profile, err = s.store.FindPromoterByOwner(ctx, id.UserID(venueOwner))
	s.Require().NoError(err)
	s.Nil(profile)
}

// TestOldestUnconvertedClickWins verifies ordering, the lookback bound, and
// that conversion is one-shot.
func (s *PostgresStoreSuite) TestOldestUnconvertedClickWins() {
	ctx := context.Background()
	event := s.seedEvent(uuid.New(), uuid.New())
	referrer := id.NewUserID()
	now := time.Now().UTC().Truncate(time.Microsecond)
	since := now.Add(-7 * 24 * time.Hour)

	stale := domain.ReferralClick{
		ID: uuid.New(), EventID: event.ID, ReferrerUserID: referrer,
		CreatedAt: now.Add(-8 * 24 * time.Hour),
	}
	oldest := domain.ReferralClick{
		ID: uuid.New(), EventID: event.ID, ReferrerUserID: referrer,
		CreatedAt: now.Add(-48 * time.Hour),
	}
	newer := domain.ReferralClick{
		ID: uuid.New(), EventID: event.ID, ReferrerUserID: referrer,
		CreatedAt: now.Add(-time.Hour),
	}
	for _, click := range []domain.ReferralClick{stale, oldest, newer} {
		s.Require().NoError(s.store.CreateReferralClick(ctx, click))
	}

	found, err := s.store.FindOldestUnconvertedClick(ctx, event.ID, referrer, since)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(oldest.ID, found.ID, "stale click is outside the lookback window")

	s.Require().NoError(s.store.MarkClickConverted(ctx, oldest.ID, now))

	// Converted clicks never convert twice.
	err = s.store.MarkClickConverted(ctx, oldest.ID, now)
	s.ErrorIs(err, sentinel.ErrNotFound)

	found, err = s.store.FindOldestUnconvertedClick(ctx, event.ID, referrer, since)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(newer.ID, found.ID)
}
