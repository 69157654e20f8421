// Package postgres implements the admission store. Uniqueness invariants
// are carried by constraints (see migrations/schema.sql): the partial unique
// index on active checkins and the (attendee_id, event_id) unique key on
// registrations. Concurrent writers race at the index, not in Go code.
//
// Duplicate inserts use ON CONFLICT DO NOTHING and report the conflict via
// rows affected. A raised unique violation would abort the surrounding
// transaction and the service could no longer read the winner's row on it.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"doorledger/internal/domain"
	id "doorledger/pkg/domain"
	"doorledger/pkg/platform/sentinel"
	txcontext "doorledger/pkg/platform/tx"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.WithTx(ctx, s.pool, fn)
}

func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (domain.Event, error) {
	const query = `
		SELECT id, organizer_id, venue_id, status, promoter_access_type, currency,
		       starts_at, ends_at, locked_at, closed_at, closed_by, closeout_notes
		FROM events WHERE id = $1
	`
	return scanEvent(txcontext.Executor(ctx, s.pool).QueryRow(ctx, query, uuid.UUID(eventID)))
}

func (s *Store) GetRegistration(ctx context.Context, registrationID id.RegistrationID) (domain.Registration, error) {
	const query = `
		SELECT id, attendee_id, event_id, referral_promoter_id, referred_by_user_id, notes, created_at
		FROM registrations WHERE id = $1
	`
	reg, err := scanRegistration(txcontext.Executor(ctx, s.pool).QueryRow(ctx, query, uuid.UUID(registrationID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Registration{}, sentinel.ErrNotFound
		}
		return domain.Registration{}, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

func (s *Store) FindRegistration(ctx context.Context, eventID id.EventID, attendeeID id.AttendeeID) (*domain.Registration, error) {
	const query = `
		SELECT id, attendee_id, event_id, referral_promoter_id, referred_by_user_id, notes, created_at
		FROM registrations WHERE event_id = $1 AND attendee_id = $2
	`
	reg, err := scanRegistration(txcontext.Executor(ctx, s.pool).QueryRow(ctx, query, uuid.UUID(eventID), uuid.UUID(attendeeID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find registration: %w", err)
	}
	return &reg, nil
}

func (s *Store) CreateRegistration(ctx context.Context, reg domain.Registration) error {
	const stmt = `
		INSERT INTO registrations (id, attendee_id, event_id, referral_promoter_id, referred_by_user_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (attendee_id, event_id) DO NOTHING
	`
	var promoterID, referredBy *uuid.UUID
	if reg.ReferralPromoterID != nil {
		pid := uuid.UUID(*reg.ReferralPromoterID)
		promoterID = &pid
	}
	if reg.ReferredByUserID != nil {
		rid := uuid.UUID(*reg.ReferredByUserID)
		referredBy = &rid
	}

	tag, err := txcontext.Executor(ctx, s.pool).Exec(ctx, stmt,
		uuid.UUID(reg.ID),
		uuid.UUID(reg.AttendeeID),
		uuid.UUID(reg.EventID),
		promoterID,
		referredBy,
		reg.Notes,
		reg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) DeleteRegistration(ctx context.Context, registrationID id.RegistrationID) error {
	// Checkins cascade via FK.
	const stmt = `DELETE FROM registrations WHERE id = $1`
	_, err := txcontext.Executor(ctx, s.pool).Exec(ctx, stmt, uuid.UUID(registrationID))
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return nil
}

func (s *Store) GetAttendee(ctx context.Context, attendeeID id.AttendeeID) (domain.Attendee, error) {
	const query = `
		SELECT id, display_name, email, phone, account_id, created_at
		FROM attendees WHERE id = $1
	`
	attendee, err := scanAttendee(txcontext.Executor(ctx, s.pool).QueryRow(ctx, query, uuid.UUID(attendeeID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Attendee{}, sentinel.ErrNotFound
		}
		return domain.Attendee{}, fmt.Errorf("get attendee: %w", err)
	}
	return attendee, nil
}

func (s *Store) FindAttendeeByContact(ctx context.Context, email, phone string) (*domain.Attendee, error) {
	const query = `
		SELECT id, display_name, email, phone, account_id, created_at
		FROM attendees
		WHERE ($1 <> '' AND email = $1) OR ($2 <> '' AND phone = $2)
		ORDER BY created_at
		LIMIT 1
	`
	attendee, err := scanAttendee(txcontext.Executor(ctx, s.pool).QueryRow(ctx, query, email, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find attendee by contact: %w", err)
	}
	return &attendee, nil
}

func (s *Store) CreateAttendee(ctx context.Context, attendee domain.Attendee) error {
	const stmt = `
		INSERT INTO attendees (id, display_name, email, phone, account_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	var accountID *uuid.UUID
	if attendee.AccountID != nil {
		aid := uuid.UUID(*attendee.AccountID)
		accountID = &aid
	}
	_, err := txcontext.Executor(ctx, s.pool).Exec(ctx, stmt,
		uuid.UUID(attendee.ID),
		attendee.DisplayName,
		attendee.Email,
		attendee.Phone,
		accountID,
		attendee.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create attendee: %w", err)
	}
	return nil
}

func (s *Store) GetCheckin(ctx context.Context, checkinID id.CheckinID) (domain.Checkin, error) {
	const query = `
		SELECT id, registration_id, checked_in_by, checked_in_at, undo_at
		FROM checkins WHERE id = $1
	`
	checkin, err := scanCheckin(txcontext.Executor(ctx, s.pool).QueryRow(ctx, query, uuid.UUID(checkinID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Checkin{}, sentinel.ErrNotFound
		}
		return domain.Checkin{}, fmt.Errorf("get checkin: %w", err)
	}
	return checkin, nil
}

func (s *Store) FindActiveCheckin(ctx context.Context, registrationID id.RegistrationID) (*domain.Checkin, error) {
	const query = `
		SELECT id, registration_id, checked_in_by, checked_in_at, undo_at
		FROM checkins WHERE registration_id = $1 AND undo_at IS NULL
	`
	checkin, err := scanCheckin(txcontext.Executor(ctx, s.pool).QueryRow(ctx, query, uuid.UUID(registrationID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active checkin: %w", err)
	}
	return &checkin, nil
}

func (s *Store) CreateCheckin(ctx context.Context, checkin domain.Checkin) error {
	const stmt = `
		INSERT INTO checkins (id, registration_id, checked_in_by, checked_in_at, undo_at)
		VALUES ($1, $2, $3, $4, NULL)
		ON CONFLICT (registration_id) WHERE undo_at IS NULL DO NOTHING
	`
	tag, err := txcontext.Executor(ctx, s.pool).Exec(ctx, stmt,
		uuid.UUID(checkin.ID),
		uuid.UUID(checkin.RegistrationID),
		uuid.UUID(checkin.CheckedInBy),
		checkin.CheckedInAt,
	)
	if err != nil {
		return fmt.Errorf("create checkin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) UndoCheckin(ctx context.Context, checkinID id.CheckinID, undoAt time.Time) (domain.Checkin, error) {
	const stmt = `
		UPDATE checkins SET undo_at = $2 WHERE id = $1
		RETURNING id, registration_id, checked_in_by, checked_in_at, undo_at
	`
	checkin, err := scanCheckin(txcontext.Executor(ctx, s.pool).QueryRow(ctx, stmt, uuid.UUID(checkinID), undoAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Checkin{}, sentinel.ErrNotFound
		}
		return domain.Checkin{}, fmt.Errorf("undo checkin: %w", err)
	}
	return checkin, nil
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		event                         domain.Event
		eventID, organizerID, venueID uuid.UUID
		closedBy                      *uuid.UUID
		status, accessType            string
		lockedAt, closedAt            *time.Time
	)
	err := row.Scan(&eventID, &organizerID, &venueID, &status, &accessType, &event.Currency,
		&event.StartsAt, &event.EndsAt, &lockedAt, &closedAt, &closedBy, &event.CloseoutNotes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, sentinel.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("scan event: %w", err)
	}
	event.ID = id.EventID(eventID)
	event.OrganizerID = id.OrganizerID(organizerID)
	event.VenueID = id.VenueID(venueID)
	event.Status = domain.EventStatus(status)
	event.PromoterAccessType = domain.PromoterAccessType(accessType)
	event.LockedAt = lockedAt
	event.ClosedAt = closedAt
	if closedBy != nil {
		cb := id.UserID(*closedBy)
		event.ClosedBy = &cb
	}
	return event, nil
}

func scanRegistration(row pgx.Row) (domain.Registration, error) {
	var (
		reg                 domain.Registration
		regID, attID, evtID uuid.UUID
		promoterID, refBy   *uuid.UUID
	)
	if err := row.Scan(&regID, &attID, &evtID, &promoterID, &refBy, &reg.Notes, &reg.CreatedAt); err != nil {
		return domain.Registration{}, err
	}
	reg.ID = id.RegistrationID(regID)
	reg.AttendeeID = id.AttendeeID(attID)
	reg.EventID = id.EventID(evtID)
	if promoterID != nil {
		pid := id.PromoterID(*promoterID)
		reg.ReferralPromoterID = &pid
	}
	if refBy != nil {
		rid := id.UserID(*refBy)
		reg.ReferredByUserID = &rid
	}
	return reg, nil
}

func scanAttendee(row pgx.Row) (domain.Attendee, error) {
	var (
		attendee  domain.Attendee
		attID     uuid.UUID
		accountID *uuid.UUID
	)
	if err := row.Scan(&attID, &attendee.DisplayName, &attendee.Email, &attendee.Phone, &accountID, &attendee.CreatedAt); err != nil {
		return domain.Attendee{}, err
	}
	attendee.ID = id.AttendeeID(attID)
	if accountID != nil {
		aid := id.UserID(*accountID)
		attendee.AccountID = &aid
	}
	return attendee, nil
}

func scanCheckin(row pgx.Row) (domain.Checkin, error) {
	var (
		checkin          domain.Checkin
		checkinID, regID uuid.UUID
		checkedInBy      uuid.UUID
	)
	if err := row.Scan(&checkinID, &regID, &checkedInBy, &checkin.CheckedInAt, &checkin.UndoAt); err != nil {
		return domain.Checkin{}, err
	}
	checkin.ID = id.CheckinID(checkinID)
	checkin.RegistrationID = id.RegistrationID(regID)
	checkin.CheckedInBy = id.UserID(checkedInBy)
	return checkin, nil
}
