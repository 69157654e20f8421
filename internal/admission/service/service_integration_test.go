//go:build integration

package service_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	admission "doorledger/internal/admission/service"
	admissionpg "doorledger/internal/admission/store/postgres"
	attribution "doorledger/internal/attribution/service"
	attributionpg "doorledger/internal/attribution/store/postgres"
	"doorledger/internal/audit"
	auditpg "doorledger/internal/audit/store/postgres"
	"doorledger/internal/clock"
	"doorledger/internal/pass"
	id "doorledger/pkg/domain"
	dErrors "doorledger/pkg/domain-errors"
	"doorledger/pkg/testutil/containers"
)

// ServiceSuite runs the admission service against real Postgres so the
// conflict handling is exercised inside an actual transaction, where an
// aborted statement would poison every later one.
type ServiceSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *admissionpg.Store
	attrSvc  *attribution.Service
	service  *admission.Service
}

func TestServiceSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())

	logger := slog.New(slog.DiscardHandler)
	clk := clock.NewSystem()
	recorder := audit.NewRecorder(auditpg.New(s.postgres.Pool))
	codec := pass.NewCodec("integration-pass-secret", time.Hour, clk)

	s.store = admissionpg.New(s.postgres.Pool)
	s.attrSvc = attribution.New(
		attributionpg.New(s.postgres.Pool), recorder, nil, logger, clk, 7*24*time.Hour)
	s.service = admission.New(
		s.store, codec, s.attrSvc, recorder, nil, nil, logger, clk)
}

func (s *ServiceSuite) SetupTest() {
	ctx := context.Background()
	// Truncate in dependency order
	err := s.postgres.TruncateTables(ctx,
		"checkins", "registrations", "attendees", "referral_clicks",
		"event_promoters", "promoter_profiles", "events", "venues", "organizers",
		"audit_log")
	s.Require().NoError(err)
}

func (s *ServiceSuite) seedEvent() id.EventID {
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

func (s *ServiceSuite) seedAttendee() id.AttendeeID {
	ctx := context.Background()
	attendeeID := id.NewAttendeeID()
	_, err := s.postgres.Pool.Exec(ctx,
		`INSERT INTO attendees (id, display_name) VALUES ($1, 'Guest')`,
		uuid.UUID(attendeeID))
	s.Require().NoError(err)
	return attendeeID
}

func (s *ServiceSuite) seedRegistration(eventID id.EventID) id.RegistrationID {
	ctx := context.Background()
	registrationID := id.NewRegistrationID()
	_, err := s.postgres.Pool.Exec(ctx, `
		INSERT INTO registrations (id, attendee_id, event_id)
		VALUES ($1, $2, $3)`,
		uuid.UUID(registrationID), uuid.UUID(s.seedAttendee()), uuid.UUID(eventID))
	s.Require().NoError(err)
	return registrationID
}

func (s *ServiceSuite) checkinRows(registrationID id.RegistrationID) int64 {
	var count int64
	err := s.postgres.Pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM checkins WHERE registration_id = $1`,
		uuid.UUID(registrationID)).Scan(&count)
	s.Require().NoError(err)
	return count
}

// TestCheckInTwiceIsIdempotent verifies a second scan succeeds with the
// winner's row instead of failing on the aborted-transaction path.
func (s *ServiceSuite) TestCheckInTwiceIsIdempotent() {
	ctx := context.Background()
	registrationID := s.seedRegistration(s.seedEvent())
	staff := id.NewUserID()

	first, err := s.service.CheckIn(ctx, registrationID, staff)
	s.Require().NoError(err)
	s.False(first.AlreadyCheckedIn)

	second, err := s.service.CheckIn(ctx, registrationID, staff)
	s.Require().NoError(err, "second scan must succeed, not 500")
	s.True(second.AlreadyCheckedIn)
	s.Equal(first.Checkin.ID, second.Checkin.ID, "the loser observes the winner's row")

	s.Equal(int64(1), s.checkinRows(registrationID), "second call creates zero new rows")
}

// TestConcurrentCheckInsAllSucceed verifies every racing scanner receives
// success and exactly one row is created.
func (s *ServiceSuite) TestConcurrentCheckInsAllSucceed() {
	ctx := context.Background()
	registrationID := s.seedRegistration(s.seedEvent())
	const scanners = 20

	var wg sync.WaitGroup
	results := make([]admission.CheckinResult, scanners)
	errs := make([]error, scanners)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = s.service.CheckIn(ctx, registrationID, id.NewUserID())
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < scanners; i++ {
		s.Require().NoError(errs[i], "scanner %d must receive success", i)
		if !results[i].AlreadyCheckedIn {
			created++
		}
	}
	s.Equal(1, created, "exactly one scanner creates the row")
	s.Equal(int64(1), s.checkinRows(registrationID))
}

// TestRegisterTwiceReturnsExistingRow verifies the duplicate-registration
// path survives inside the registration transaction.
func (s *ServiceSuite) TestRegisterTwiceReturnsExistingRow() {
	ctx := context.Background()
	eventID := s.seedEvent()
	attendeeID := s.seedAttendee()

	first, token, err := s.service.Register(ctx, admission.RegisterInput{
		EventID:    eventID,
		AttendeeID: attendeeID,
	})
	s.Require().NoError(err)
	s.NotEmpty(token)

	second, _, err := s.service.Register(ctx, admission.RegisterInput{
		EventID:    eventID,
		AttendeeID: attendeeID,
	})
	s.Require().NoError(err, "duplicate registration must succeed")
	s.Equal(first.ID, second.ID)

	var count int64
	err = s.postgres.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE attendee_id = $1 AND event_id = $2`,
		uuid.UUID(attendeeID), uuid.UUID(eventID)).Scan(&count)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

// TestFailedRegistrationLeavesClickUnconverted verifies the click converts
// with the registration transaction and not before it.
func (s *ServiceSuite) TestFailedRegistrationLeavesClickUnconverted() {
	ctx := context.Background()
	eventID := s.seedEvent()
	owner := id.NewUserID()
	promoterID := id.NewPromoterID()

	_, err := s.postgres.Pool.Exec(ctx,
		`INSERT INTO promoter_profiles (id, owner_user_id) VALUES ($1, $2)`,
		uuid.UUID(promoterID), uuid.UUID(owner))
	s.Require().NoError(err)
	_, err = s.postgres.Pool.Exec(ctx, `
		INSERT INTO event_promoters (event_id, promoter_id, commission_type, commission_config)
		VALUES ($1, $2, 'flat_per_head', '{"amount_per_head": 500}')`,
		uuid.UUID(eventID), uuid.UUID(promoterID))
	s.Require().NoError(err)

	clickID := uuid.New()
	_, err = s.postgres.Pool.Exec(ctx, `
		INSERT INTO referral_clicks (id, event_id, referrer_user_id)
		VALUES ($1, $2, $3)`,
		clickID, uuid.UUID(eventID), uuid.UUID(owner))
	s.Require().NoError(err)

	// Unknown attendee: the transaction rolls back.
	_, _, err = s.service.Register(ctx, admission.RegisterInput{
		EventID:     eventID,
		AttendeeID:  id.NewAttendeeID(),
		ExplicitRef: &promoterID,
	})
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))

	var convertedAt *time.Time
	err = s.postgres.Pool.QueryRow(ctx,
		`SELECT converted_at FROM referral_clicks WHERE id = $1`, clickID).Scan(&convertedAt)
	s.Require().NoError(err)
	s.Nil(convertedAt, "failed registration must not consume the click")

	// The retry gets the full referral linkage.
	registration, _, err := s.service.Register(ctx, admission.RegisterInput{
		EventID:     eventID,
		AttendeeID:  s.seedAttendee(),
		ExplicitRef: &promoterID,
	})
	s.Require().NoError(err)
	s.Require().NotNil(registration.ReferredByUserID)
	s.Equal(owner, *registration.ReferredByUserID)

	err = s.postgres.Pool.QueryRow(ctx,
		`SELECT converted_at FROM referral_clicks WHERE id = $1`, clickID).Scan(&convertedAt)
	s.Require().NoError(err)
	s.NotNil(convertedAt)

	// A duplicate registration returns the existing row without consuming a
	// fresh click.
	secondClick := uuid.New()
	_, err = s.postgres.Pool.Exec(ctx, `
		INSERT INTO referral_clicks (id, event_id, referrer_user_id)
		VALUES ($1, $2, $3)`,
		secondClick, uuid.UUID(eventID), uuid.UUID(owner))
	s.Require().NoError(err)

	again, _, err := s.service.Register(ctx, admission.RegisterInput{
		EventID:     eventID,
		AttendeeID:  registration.AttendeeID,
		ExplicitRef: &promoterID,
	})
	s.Require().NoError(err)
	s.Equal(registration.ID, again.ID)

	convertedAt = nil
	err = s.postgres.Pool.QueryRow(ctx,
		`SELECT converted_at FROM referral_clicks WHERE id = $1`, secondClick).Scan(&convertedAt)
	s.Require().NoError(err)
	s.Nil(convertedAt, "duplicate registration must not consume a click")
}
