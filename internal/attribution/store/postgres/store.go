// Package postgres implements the attribution store. Promoter assignment
// uniqueness is carried by the (event_id, promoter_id) primary key on
// event_promoters.
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

func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (domain.Event, error) {
	const query = `
		SELECT id, organizer_id, venue_id, status, promoter_access_type, currency,
		       starts_at, ends_at, locked_at, closed_at, closed_by, closeout_notes
		FROM events WHERE id = $1
	`
	row := txcontext.Executor(ctx, s.pool).QueryRow(ctx, query, uuid.UUID(eventID))

	var (
		event                       domain.Event
		evtID, organizerID, venueID uuid.UUID
		closedBy                    *uuid.UUID
		status, accessType          string
	)
	err := row.Scan(&evtID, &organizerID, &venueID, &status, &accessType, &event.Currency,
		&event.StartsAt, &event.EndsAt, &event.LockedAt, &event.ClosedAt, &closedBy, &event.CloseoutNotes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, sentinel.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}
	event.ID = id.EventID(evtID)
	event.OrganizerID = id.OrganizerID(organizerID)
	event.VenueID = id.VenueID(venueID)
	event.Status = domain.EventStatus(status)
	event.PromoterAccessType = domain.PromoterAccessType(accessType)
	if closedBy != nil {
		cb := id.UserID(*closedBy)
		event.ClosedBy = &cb
	}
	return event, nil
}

func (s *Store) FindEventPromoter(ctx context.Context, eventID id.EventID, promoterID id.PromoterID) (*domain.EventPromoter, error) {
	const query = `
		SELECT event_id, promoter_id, commission_type, commission_config, created_at
		FROM event_promoters WHERE event_id = $1 AND promoter_id = $2
	`
	assignment, err := scanEventPromoter(txcontext.Executor(ctx, s.pool).QueryRow(ctx, query,
		uuid.UUID(eventID), uuid.UUID(promoterID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find event promoter: %w", err)
	}
	return &assignment, nil
}

func (s *Store) CreateEventPromoter(ctx context.Context, assignment domain.EventPromoter) error {
	config, err := domain.MarshalCommissionRule(assignment.Commission)
	if err != nil {
		return fmt.Errorf("marshal commission rule: %w", err)
	}
	const stmt = `
		INSERT INTO event_promoters (event_id, promoter_id, commission_type, commission_config, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = txcontext.Executor(ctx, s.pool).Exec(ctx, stmt,
		uuid.UUID(assignment.EventID),
		uuid.UUID(assignment.PromoterID),
		string(assignment.Commission.Type()),
		config,
		assignment.CreatedAt,
	)
	if err != nil {
		if txcontext.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create event promoter: %w", err)
	}
	return nil
}

func (s *Store) GetPromoterProfile(ctx context.Context, promoterID id.PromoterID) (domain.PromoterProfile, error) {
	const query = `SELECT id, owner_user_id FROM promoter_profiles WHERE id = $1`
	var pid, owner uuid.UUID
	err := txcontext.Executor(ctx, s.pool).QueryRow(ctx, query, uuid.UUID(promoterID)).Scan(&pid, &owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PromoterProfile{}, sentinel.ErrNotFound
		}
		return domain.PromoterProfile{}, fmt.Errorf("get promoter profile: %w", err)
	}
	return domain.PromoterProfile{ID: id.PromoterID(pid), OwnerUserID: id.UserID(owner)}, nil
}

func (s *Store) FindPromoterByOwner(ctx context.Context, ownerUserID id.UserID) (*domain.PromoterProfile, error) {
	const query = `SELECT id, owner_user_id FROM promoter_profiles WHERE owner_user_id = $1 LIMIT 1`
	var pid, owner uuid.UUID
	err := txcontext.Executor(ctx, s.pool).QueryRow(ctx, query, uuid.UUID(ownerUserID)).Scan(&pid, &owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find promoter by owner: %w", err)
	}
	return &domain.PromoterProfile{ID: id.PromoterID(pid), OwnerUserID: id.UserID(owner)}, nil
}

func (s *Store) GetOrganizerOwner(ctx context.Context, organizerID id.OrganizerID) (id.UserID, error) {
	const query = `SELECT owner_user_id FROM organizers WHERE id = $1`
	var owner uuid.UUID
	err := txcontext.Executor(ctx, s.pool).QueryRow(ctx, query, uuid.UUID(organizerID)).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return id.UserID{}, sentinel.ErrNotFound
		}
		return id.UserID{}, fmt.Errorf("get organizer owner: %w", err)
	}
	return id.UserID(owner), nil
}

func (s *Store) GetVenueOwner(ctx context.Context, venueID id.VenueID) (id.UserID, error) {
	const query = `SELECT owner_user_id FROM venues WHERE id = $1`
	var owner uuid.UUID
	err := txcontext.Executor(ctx, s.pool).QueryRow(ctx, query, uuid.UUID(venueID)).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return id.UserID{}, sentinel.ErrNotFound
		}
		return id.UserID{}, fmt.Errorf("get venue owner: %w", err)
	}
	return id.UserID(owner), nil
}

func (s *Store) CreateReferralClick(ctx context.Context, click domain.ReferralClick) error {
	const stmt = `
		INSERT INTO referral_clicks (id, event_id, referrer_user_id, created_at, converted_at)
		VALUES ($1, $2, $3, $4, NULL)
	`
	_, err := txcontext.Executor(ctx, s.pool).Exec(ctx, stmt,
		click.ID,
		uuid.UUID(click.EventID),
		uuid.UUID(click.ReferrerUserID),
		click.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create referral click: %w", err)
	}
	return nil
}

func (s *Store) FindOldestUnconvertedClick(ctx context.Context, eventID id.EventID, referrerUserID id.UserID, since time.Time) (*domain.ReferralClick, error) {
	const query = `
		SELECT id, event_id, referrer_user_id, created_at, converted_at
		FROM referral_clicks
		WHERE event_id = $1 AND referrer_user_id = $2 AND converted_at IS NULL AND created_at >= $3
		ORDER BY created_at
		LIMIT 1
	`
	row := txcontext.Executor(ctx, s.pool).QueryRow(ctx, query,
		uuid.UUID(eventID), uuid.UUID(referrerUserID), since)

	var (
		click          domain.ReferralClick
		evtID, refUser uuid.UUID
	)
	if err := row.Scan(&click.ID, &evtID, &refUser, &click.CreatedAt, &click.ConvertedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find unconverted click: %w", err)
	}
	click.EventID = id.EventID(evtID)
	click.ReferrerUserID = id.UserID(refUser)
	return &click, nil
}

func (s *Store) MarkClickConverted(ctx context.Context, clickID uuid.UUID, at time.Time) error {
	const stmt = `UPDATE referral_clicks SET converted_at = $2 WHERE id = $1 AND converted_at IS NULL`
	tag, err := txcontext.Executor(ctx, s.pool).Exec(ctx, stmt, clickID, at)
	if err != nil {
		return fmt.Errorf("mark click converted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanEventPromoter(row pgx.Row) (domain.EventPromoter, error) {
	var (
		assignment    domain.EventPromoter
		evtID, promID uuid.UUID
		kind          string
		config        []byte
	)
	if err := row.Scan(&evtID, &promID, &kind, &config, &assignment.CreatedAt); err != nil {
		return domain.EventPromoter{}, err
	}
	rule, err := domain.ParseCommissionRule(domain.CommissionType(kind), config)
	if err != nil {
		return domain.EventPromoter{}, err
	}
	assignment.EventID = id.EventID(evtID)
	assignment.PromoterID = id.PromoterID(promID)
	assignment.Commission = rule
	return assignment, nil
}
