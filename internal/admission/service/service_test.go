package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doorledger/internal/admission/store/memory"
	attribution "doorledger/internal/attribution/service"
	attrmemory "doorledger/internal/attribution/store/memory"
	"doorledger/internal/audit"
	auditmemory "doorledger/internal/audit/store/memory"
	"doorledger/internal/clock"
	"doorledger/internal/domain"
	"doorledger/internal/pass"
	id "doorledger/pkg/domain"
	dErrors "doorledger/pkg/domain-errors"
)

var testTime = time.Date(2025, 6, 14, 21, 0, 0, 0, time.UTC)

type stubAttribution struct {
	attr domain.Attribution
}

func (s stubAttribution) ResolveRegistration(context.Context, id.EventID, *id.PromoterID) (domain.Attribution, error) {
	return s.attr, nil
}

func (s stubAttribution) CommitConversion(context.Context, domain.Attribution) error {
	return nil
}

type fixture struct {
	service    *Service
	store      *memory.Store
	auditStore *auditmemory.Store
	codec      *pass.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	auditStore := auditmemory.New()
	codec := pass.NewCodec("test-pass-secret", time.Hour, clock.NewFixed(testTime))
	svc := New(
		store,
		codec,
		stubAttribution{},
		audit.NewRecorder(auditStore),
		nil, // no outbox in unit tests; emit is fire-and-forget
		nil,
		slog.New(slog.DiscardHandler),
		clock.NewFixed(testTime),
	)
	return &fixture{service: svc, store: store, auditStore: auditStore, codec: codec}
}

// referralFixture wires the real attribution resolver over its memory store
// so registration and click conversion can be observed together.
type referralFixture struct {
	*fixture
	attrStore *attrmemory.Store
}

func newReferralFixture(t *testing.T) *referralFixture {
	t.Helper()
	f := newFixture(t)
	attrStore := attrmemory.New()
	f.service.attribution = attribution.New(
		attrStore,
		audit.NewRecorder(f.auditStore),
		nil,
		slog.New(slog.DiscardHandler),
		clock.NewFixed(testTime),
		7*24*time.Hour,
	)
	return &referralFixture{fixture: f, attrStore: attrStore}
}

func (f *fixture) seedRegistration(t *testing.T) (domain.Event, domain.Attendee, domain.Registration) {
	t.Helper()
	event := domain.Event{
		ID:       id.NewEventID(),
		Status:   domain.EventStatusPublished,
		Currency: "USD",
	}
	attendee := domain.Attendee{
		ID:          id.NewAttendeeID(),
		DisplayName: "Dana Reyes",
		Email:       "dana@example.com",
	}
	registration := domain.Registration{
		ID:         id.NewRegistrationID(),
		AttendeeID: attendee.ID,
		EventID:    event.ID,
		CreatedAt:  testTime.Add(-time.Hour),
	}
	f.store.SeedEvent(event)
	f.store.SeedAttendee(attendee)
	f.store.SeedRegistration(registration)
	return event, attendee, registration
}

var doorStaff = id.NewUserID()

func Test_CheckIn_CreatesCheckin(t *testing.T) {
	f := newFixture(t)
	_, _, registration := f.seedRegistration(t)

	result, err := f.service.CheckIn(context.Background(), registration.ID, doorStaff)
	require.NoError(t, err)
	assert.False(t, result.AlreadyCheckedIn)
	assert.Equal(t, registration.ID, result.Checkin.RegistrationID)
	assert.Equal(t, testTime, result.Checkin.CheckedInAt)
	assert.Equal(t, 1, f.store.ActiveCheckins(registration.ID))

	entries := f.auditStore.All()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionCheckin, entries[0].Action)
}

func Test_CheckIn_SecondScanIsIdempotent(t *testing.T) {
	f := newFixture(t)
	_, _, registration := f.seedRegistration(t)

	first, err := f.service.CheckIn(context.Background(), registration.ID, doorStaff)
	require.NoError(t, err)

	second, err := f.service.CheckIn(context.Background(), registration.ID, doorStaff)
	require.NoError(t, err)
	assert.True(t, second.AlreadyCheckedIn)
	assert.Equal(t, first.Checkin.ID, second.Checkin.ID, "second scan returns the existing row")
	assert.Equal(t, 1, f.store.CheckinCount(registration.ID), "second call creates zero new rows")
}

func Test_CheckIn_UnknownRegistration(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CheckIn(context.Background(), id.NewRegistrationID(), doorStaff)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
}

func Test_CheckIn_ConcurrentScansYieldOneActiveRow(t *testing.T) {
	f := newFixture(t)
	_, _, registration := f.seedRegistration(t)

	const devices = 8
	var wg sync.WaitGroup
	errs := make([]error, devices)
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = f.service.CheckIn(context.Background(), registration.ID, doorStaff)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err, "every device receives success")
	}
	assert.Equal(t, 1, f.store.ActiveCheckins(registration.ID))
	assert.Equal(t, 1, f.store.CheckinCount(registration.ID))
}

func Test_CheckInByToken_HappyPath(t *testing.T) {
	f := newFixture(t)
	event, attendee, registration := f.seedRegistration(t)

	token, err := f.codec.Issue(registration.ID, event.ID, attendee.ID)
	require.NoError(t, err)

	result, err := f.service.CheckInByToken(context.Background(), token, event.ID, doorStaff)
	require.NoError(t, err)
	assert.Equal(t, registration.ID, result.Checkin.RegistrationID)
}

func Test_CheckInByToken_EventMismatchIsHardRejection(t *testing.T) {
	f := newFixture(t)
	event, attendee, registration := f.seedRegistration(t)

	token, err := f.codec.Issue(registration.ID, event.ID, attendee.ID)
	require.NoError(t, err)

	otherEvent := id.NewEventID()
	_, err = f.service.CheckInByToken(context.Background(), token, otherEvent, doorStaff)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeEventMismatch))
	assert.Equal(t, 0, f.store.CheckinCount(registration.ID), "mismatch must not admit")
}

func Test_CheckInByToken_GarbledToken(t *testing.T) {
	f := newFixture(t)
	event, _, _ := f.seedRegistration(t)

	_, err := f.service.CheckInByToken(context.Background(), "garbage", event.ID, doorStaff)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeTokenInvalid))
}

func Test_QuickAdd_CreatesAttendeeRegistrationCheckin(t *testing.T) {
	f := newFixture(t)
	event, _, _ := f.seedRegistration(t)

	result, err := f.service.QuickAdd(context.Background(), QuickAddInput{
		EventID:   event.ID,
		Name:      "Walk Up",
		Phone:     "+1 (555) 010-2345",
		Notes:     "paid cash at door",
		CreatedBy: doorStaff,
	})
	require.NoError(t, err)
	assert.Equal(t, "Walk Up", result.Attendee.DisplayName)
	assert.Equal(t, "+15550102345", result.Attendee.Phone, "phone is normalized")
	assert.Equal(t, event.ID, result.Registration.EventID)
	assert.Equal(t, "paid cash at door", result.Registration.Notes)
	assert.Equal(t, result.Registration.ID, result.Checkin.RegistrationID)
	assert.Equal(t, 1, f.store.ActiveCheckins(result.Registration.ID))
}

func Test_QuickAdd_ReusesExistingAttendee(t *testing.T) {
	f := newFixture(t)
	event, attendee, registration := f.seedRegistration(t)

	result, err := f.service.QuickAdd(context.Background(), QuickAddInput{
		EventID:   event.ID,
		Name:      "Dana R",
		Email:     "  DANA@example.com ",
		CreatedBy: doorStaff,
	})
	require.NoError(t, err)
	assert.Equal(t, attendee.ID, result.Attendee.ID, "matched by normalized email")
	assert.Equal(t, registration.ID, result.Registration.ID, "existing registration reused, never two rows")
}

func Test_QuickAdd_WithPromoterAttribution(t *testing.T) {
	f := newFixture(t)
	event, _, _ := f.seedRegistration(t)
	promoterID := id.NewPromoterID()

	result, err := f.service.QuickAdd(context.Background(), QuickAddInput{
		EventID:    event.ID,
		Name:       "Guest Of Promoter",
		Phone:      "5550100000",
		PromoterID: &promoterID,
		CreatedBy:  doorStaff,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Registration.ReferralPromoterID)
	assert.Equal(t, promoterID, *result.Registration.ReferralPromoterID)
}

func Test_QuickAdd_RequiresContact(t *testing.T) {
	f := newFixture(t)
	event, _, _ := f.seedRegistration(t)

	_, err := f.service.QuickAdd(context.Background(), QuickAddInput{
		EventID:   event.ID,
		Name:      "No Contact",
		CreatedBy: doorStaff,
	})
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest))
}

func Test_Undo_PreservesRowAndAllowsRecheckin(t *testing.T) {
	f := newFixture(t)
	_, _, registration := f.seedRegistration(t)

	first, err := f.service.CheckIn(context.Background(), registration.ID, doorStaff)
	require.NoError(t, err)

	undone, err := f.service.Undo(context.Background(), first.Checkin.ID, doorStaff)
	require.NoError(t, err)
	require.NotNil(t, undone.UndoAt)
	assert.Equal(t, 0, f.store.ActiveCheckins(registration.ID))
	assert.Equal(t, 1, f.store.CheckinCount(registration.ID), "undo never deletes")

	// Re-check-in after undo creates a fresh row.
	second, err := f.service.CheckIn(context.Background(), registration.ID, doorStaff)
	require.NoError(t, err)
	assert.False(t, second.AlreadyCheckedIn)
	assert.NotEqual(t, first.Checkin.ID, second.Checkin.ID)
	assert.Equal(t, 2, f.store.CheckinCount(registration.ID))
	assert.Equal(t, 1, f.store.ActiveCheckins(registration.ID))
}

func Test_Undo_AlreadyUndoneIsNoOp(t *testing.T) {
	f := newFixture(t)
	_, _, registration := f.seedRegistration(t)

	result, err := f.service.CheckIn(context.Background(), registration.ID, doorStaff)
	require.NoError(t, err)

	_, err = f.service.Undo(context.Background(), result.Checkin.ID, doorStaff)
	require.NoError(t, err)
	again, err := f.service.Undo(context.Background(), result.Checkin.ID, doorStaff)
	require.NoError(t, err)
	require.NotNil(t, again.UndoAt)
}

func Test_ValidatePass_DisplayPayload(t *testing.T) {
	f := newFixture(t)
	event, attendee, registration := f.seedRegistration(t)

	token, err := f.codec.Issue(registration.ID, event.ID, attendee.ID)
	require.NoError(t, err)

	display, err := f.service.ValidatePass(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, registration.ID, display.Registration.ID)
	assert.Equal(t, "Dana Reyes", display.DisplayName)
	assert.Equal(t, event.ID, display.Event.ID)
}

func Test_ValidatePass_UnknownRegistrationCollapsesToTokenInvalid(t *testing.T) {
	f := newFixture(t)

	// Valid signature, but the registration was deleted since issuance.
	token, err := f.codec.Issue(id.NewRegistrationID(), id.NewEventID(), id.NewAttendeeID())
	require.NoError(t, err)

	_, err = f.service.ValidatePass(context.Background(), token)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeTokenInvalid), "no oracle: missing registration looks like a bad pass")
}

func Test_Register_DuplicateReturnsExisting(t *testing.T) {
	f := newFixture(t)
	event, attendee, registration := f.seedRegistration(t)

	got, token, err := f.service.Register(context.Background(), RegisterInput{
		EventID:    event.ID,
		AttendeeID: attendee.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, registration.ID, got.ID)
	assert.NotEmpty(t, token)
}

// seedReferral prepares an event with an assigned promoter and one
// unconverted click from the promoter's owner.
func (f *referralFixture) seedReferral(t *testing.T) (domain.Event, domain.PromoterProfile, domain.ReferralClick) {
	t.Helper()
	event := domain.Event{
		ID:       id.NewEventID(),
		Status:   domain.EventStatusPublished,
		Currency: "USD",
	}
	f.store.SeedEvent(event)
	f.attrStore.SeedEvent(event)

	promoter := domain.PromoterProfile{ID: id.NewPromoterID(), OwnerUserID: id.NewUserID()}
	f.attrStore.SeedPromoter(promoter)
	f.attrStore.SeedAssignment(domain.EventPromoter{
		EventID:    event.ID,
		PromoterID: promoter.ID,
		Commission: domain.FlatPerHead{AmountPerHead: 500},
		CreatedAt:  testTime.Add(-24 * time.Hour),
	})

	click := domain.ReferralClick{
		ID:             uuid.New(),
		EventID:        event.ID,
		ReferrerUserID: promoter.OwnerUserID,
		CreatedAt:      testTime.Add(-time.Hour),
	}
	f.attrStore.SeedClick(click)
	return event, promoter, click
}

func Test_Register_ConvertsClickWithRegistration(t *testing.T) {
	f := newReferralFixture(t)
	event, promoter, click := f.seedReferral(t)
	attendee := domain.Attendee{ID: id.NewAttendeeID(), DisplayName: "Referred Guest"}
	f.store.SeedAttendee(attendee)

	got, _, err := f.service.Register(context.Background(), RegisterInput{
		EventID:     event.ID,
		AttendeeID:  attendee.ID,
		ExplicitRef: &promoter.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, got.ReferralPromoterID)
	assert.Equal(t, promoter.ID, *got.ReferralPromoterID)
	require.NotNil(t, got.ReferredByUserID)
	assert.Equal(t, promoter.OwnerUserID, *got.ReferredByUserID)

	converted, ok := f.attrStore.Click(click.ID)
	require.True(t, ok)
	assert.NotNil(t, converted.ConvertedAt)
}

func Test_Register_FailedRegistrationLeavesClickUnconverted(t *testing.T) {
	f := newReferralFixture(t)
	event, promoter, click := f.seedReferral(t)

	// Unknown attendee: the registration never commits, so the click must
	// survive for the next attempt.
	_, _, err := f.service.Register(context.Background(), RegisterInput{
		EventID:     event.ID,
		AttendeeID:  id.NewAttendeeID(),
		ExplicitRef: &promoter.ID,
	})
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))

	remaining, ok := f.attrStore.Click(click.ID)
	require.True(t, ok)
	require.Nil(t, remaining.ConvertedAt, "failed registration must not consume the click")

	// The retry gets full referral linkage.
	attendee := domain.Attendee{ID: id.NewAttendeeID(), DisplayName: "Second Try"}
	f.store.SeedAttendee(attendee)
	got, _, err := f.service.Register(context.Background(), RegisterInput{
		EventID:     event.ID,
		AttendeeID:  attendee.ID,
		ExplicitRef: &promoter.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, got.ReferredByUserID)
	assert.Equal(t, promoter.OwnerUserID, *got.ReferredByUserID)
}

func Test_Register_DuplicateDoesNotConsumeClick(t *testing.T) {
	f := newReferralFixture(t)
	event, promoter, click := f.seedReferral(t)
	attendee := domain.Attendee{ID: id.NewAttendeeID(), DisplayName: "Repeat Guest"}
	f.store.SeedAttendee(attendee)
	existing := domain.Registration{
		ID:         id.NewRegistrationID(),
		AttendeeID: attendee.ID,
		EventID:    event.ID,
		CreatedAt:  testTime.Add(-time.Hour),
	}
	f.store.SeedRegistration(existing)

	got, _, err := f.service.Register(context.Background(), RegisterInput{
		EventID:     event.ID,
		AttendeeID:  attendee.ID,
		ExplicitRef: &promoter.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)

	remaining, ok := f.attrStore.Click(click.ID)
	require.True(t, ok)
	assert.Nil(t, remaining.ConvertedAt, "duplicate registration must not consume the click")
}
