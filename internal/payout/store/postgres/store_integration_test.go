//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"doorledger/internal/domain"
	"doorledger/internal/payout/store/postgres"
	id "doorledger/pkg/domain"
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
		"payout_lines", "payout_runs", "revenue_entries", "event_promoters",
		"registrations", "attendees", "referral_clicks",
		"promoter_profiles", "events", "venues", "organizers")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seedEvent() id.EventID {
	ctx := context.Background()
	organizerID := uuid.New()
	venueID := uuid.New()
	eventID := id.NewEventID()
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := s.postgres.Pool.Exec(ctx,
		`INSERT INTO organizers (id, owner_user_id) VALUES ($1, $2)`, organizerID, uuid.New())
	s.Require().NoError(err)
	_, err = s.postgres.Pool.Exec(ctx,
		`INSERT INTO venues (id, owner_user_id) VALUES ($1, $2)`, venueID, uuid.New())
	s.Require().NoError(err)
	_, err = s.postgres.Pool.Exec(ctx, `
		INSERT INTO events (id, organizer_id, venue_id, status, promoter_access_type, currency, starts_at, ends_at)
		VALUES ($1, $2, $3, 'published', 'public', 'USD', $4, $5)`,
		uuid.UUID(eventID), organizerID, venueID, now, now.Add(4*time.Hour))
	s.Require().NoError(err)
	return eventID
}

func (s *PostgresStoreSuite) seedPromoter() id.PromoterID {
	ctx := context.Background()
	promoterID := id.NewPromoterID()
	_, err := s.postgres.Pool.Exec(ctx,
		`INSERT INTO promoter_profiles (id, owner_user_id) VALUES ($1, $2)`,
		uuid.UUID(promoterID), uuid.New())
	s.Require().NoError(err)
	return promoterID
}

func (s *PostgresStoreSuite) seedAttributedRegistration(eventID id.EventID, promoterID id.PromoterID) {
	ctx := context.Background()
	attendeeID := uuid.New()
	_, err := s.postgres.Pool.Exec(ctx,
		`INSERT INTO attendees (id, display_name) VALUES ($1, 'Guest')`, attendeeID)
	s.Require().NoError(err)
	_, err = s.postgres.Pool.Exec(ctx, `
		INSERT INTO registrations (id, attendee_id, event_id, referral_promoter_id)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), attendeeID, uuid.UUID(eventID), uuid.UUID(promoterID))
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seedRevenue(eventID id.EventID, promoterID id.PromoterID, amount int64) {
	ctx := context.Background()
	_, err := s.postgres.Pool.Exec(ctx, `
		INSERT INTO revenue_entries (id, event_id, promoter_id, amount_minor)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), uuid.UUID(eventID), uuid.UUID(promoterID), amount)
	s.Require().NoError(err)
}

// TestAggregatesScopedToEventAndPromoter verifies the payout inputs count and
// sum only the rows attributed to the requested pair.
func (s *PostgresStoreSuite) TestAggregatesScopedToEventAndPromoter() {
	ctx := context.Background()
	eventID := s.seedEvent()
	otherEvent := s.seedEvent()
	promoterID := s.seedPromoter()
	otherPromoter := s.seedPromoter()

	s.seedAttributedRegistration(eventID, promoterID)
	s.seedAttributedRegistration(eventID, promoterID)
	s.seedAttributedRegistration(eventID, otherPromoter)
	s.seedAttributedRegistration(otherEvent, promoterID)

	s.seedRevenue(eventID, promoterID, 1500)
	s.seedRevenue(eventID, promoterID, 2500)
	s.seedRevenue(otherEvent, promoterID, 9999)

	count, err := s.store.CountAttributedRegistrations(ctx, eventID, promoterID)
	s.Require().NoError(err)
	s.Equal(int64(2), count)

	total, err := s.store.SumAttributedRevenue(ctx, eventID, promoterID)
	s.Require().NoError(err)
	s.Equal(int64(4000), total)

	// No revenue rows yields zero, not an error.
	empty, err := s.store.SumAttributedRevenue(ctx, eventID, otherPromoter)
	s.Require().NoError(err)
	s.Equal(int64(0), empty)
}

// TestCreateAndListPayoutRuns verifies round-tripping a run with lines and
// newest-first ordering across runs.
func (s *PostgresStoreSuite) TestCreateAndListPayoutRuns() {
	ctx := context.Background()
	eventID := s.seedEvent()
	promoterA := s.seedPromoter()
	promoterB := s.seedPromoter()
	admin := id.NewUserID()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := domain.PayoutRun{
		ID:        id.NewPayoutRunID(),
		EventID:   eventID,
		CreatedBy: admin,
		CreatedAt: now.Add(-time.Hour),
	}
	first.Lines = []domain.PayoutLine{
		{PayoutRunID: first.ID, PromoterID: promoterA, Amount: 2000, Currency: "USD"},
		{PayoutRunID: first.ID, PromoterID: promoterB, Amount: 0, Currency: "USD"},
	}
	s.Require().NoError(s.store.CreatePayoutRun(ctx, first))

	second := domain.PayoutRun{
		ID:        id.NewPayoutRunID(),
		EventID:   eventID,
		CreatedBy: admin,
		CreatedAt: now,
	}
	s.Require().NoError(s.store.CreatePayoutRun(ctx, second))

	runs, err := s.store.ListPayoutRuns(ctx, eventID)
	s.Require().NoError(err)
	s.Require().Len(runs, 2)
	s.Equal(second.ID, runs[0].ID, "newest run first")
	s.Equal(first.ID, runs[1].ID)

	s.Require().Len(runs[1].Lines, 2)
	s.Equal(int64(2000), runs[1].Lines[0].Amount+runs[1].Lines[1].Amount)
	for _, line := range runs[1].Lines {
		s.Equal("USD", line.Currency)
	}
}

// TestDeleteRunsAndLines verifies reset deletions report row counts.
func (s *PostgresStoreSuite) TestDeleteRunsAndLines() {
	ctx := context.Background()
	eventID := s.seedEvent()
	promoterID := s.seedPromoter()

	run := domain.PayoutRun{
		ID:        id.NewPayoutRunID(),
		EventID:   eventID,
		CreatedBy: id.NewUserID(),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	run.Lines = []domain.PayoutLine{
		{PayoutRunID: run.ID, PromoterID: promoterID, Amount: 500, Currency: "USD"},
	}
	s.Require().NoError(s.store.CreatePayoutRun(ctx, run))

	lines, err := s.store.DeletePayoutLines(ctx, eventID)
	s.Require().NoError(err)
	s.Equal(int64(1), lines)

	runs, err := s.store.DeletePayoutRuns(ctx, eventID)
	s.Require().NoError(err)
	s.Equal(int64(1), runs)

	// A second pass deletes nothing.
	lines, err = s.store.DeletePayoutLines(ctx, eventID)
	s.Require().NoError(err)
	s.Equal(int64(0), lines)
}

// TestSetAndClearCloseout verifies the event lock fields round-trip through
// closeout and reset.
func (s *PostgresStoreSuite) TestSetAndClearCloseout() {
	ctx := context.Background()
	eventID := s.seedEvent()
	admin := id.NewUserID()
	at := time.Now().UTC().Truncate(time.Microsecond)

	s.Require().NoError(s.store.SetCloseout(ctx, eventID, admin, at, "cash drawer reconciled"))

	event, err := s.store.GetEvent(ctx, eventID)
	s.Require().NoError(err)
	s.Equal(domain.EventStatusClosed, event.Status)
	s.True(event.Closed())
	s.Require().NotNil(event.ClosedBy)
	s.Equal(admin, *event.ClosedBy)
	s.Equal("cash drawer reconciled", event.CloseoutNotes)

	s.Require().NoError(s.store.ClearCloseout(ctx, eventID))

	event, err = s.store.GetEvent(ctx, eventID)
	s.Require().NoError(err)
	s.Equal(domain.EventStatusPublished, event.Status)
	s.False(event.Closed())
	s.Nil(event.LockedAt)
	s.Nil(event.ClosedAt)
	s.Nil(event.ClosedBy)
	s.Empty(event.CloseoutNotes)
}
