// Package postgres implements the payout store. Aggregates run inside the
// same transaction as the run insert and the event lock so a payout run
// always reflects one snapshot of attribution data.
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
		FOR UPDATE
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

func (s *Store) ListEventPromoters(ctx context.Context, eventID id.EventID) ([]domain.EventPromoter, error) {
	const query = `
		SELECT event_id, promoter_id, commission_type, commission_config, created_at
		FROM event_promoters WHERE event_id = $1
		ORDER BY promoter_id
	`
	rows, err := txcontext.Executor(ctx, s.pool).Query(ctx, query, uuid.UUID(eventID))
	if err != nil {
		return nil, fmt.Errorf("list event promoters: %w", err)
	}
	defer rows.Close()

	var promoters []domain.EventPromoter
	for rows.Next() {
		var (
			assignment    domain.EventPromoter
			evtID, promID uuid.UUID
			kind          string
			config        []byte
		)
		if err := rows.Scan(&evtID, &promID, &kind, &config, &assignment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event promoter: %w", err)
		}
		rule, err := domain.ParseCommissionRule(domain.CommissionType(kind), config)
		if err != nil {
			return nil, err
		}
		assignment.EventID = id.EventID(evtID)
		assignment.PromoterID = id.PromoterID(promID)
		assignment.Commission = rule
		promoters = append(promoters, assignment)
	}
	return promoters, rows.Err()
}

func (s *Store) CountAttributedRegistrations(ctx context.Context, eventID id.EventID, promoterID id.PromoterID) (int64, error) {
	const query = `
		SELECT COUNT(*) FROM registrations
		WHERE event_id = $1 AND referral_promoter_id = $2
	`
	var count int64
	err := txcontext.Executor(ctx, s.pool).QueryRow(ctx, query,
		uuid.UUID(eventID), uuid.UUID(promoterID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count attributed registrations: %w", err)
	}
	return count, nil
}

func (s *Store) SumAttributedRevenue(ctx context.Context, eventID id.EventID, promoterID id.PromoterID) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount_minor), 0) FROM revenue_entries
		WHERE event_id = $1 AND promoter_id = $2
	`
	var total int64
	err := txcontext.Executor(ctx, s.pool).QueryRow(ctx, query,
		uuid.UUID(eventID), uuid.UUID(promoterID)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum attributed revenue: %w", err)
	}
	return total, nil
}

func (s *Store) CreatePayoutRun(ctx context.Context, run domain.PayoutRun) error {
	exec := txcontext.Executor(ctx, s.pool)

	const runStmt = `
		INSERT INTO payout_runs (id, event_id, created_by, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := exec.Exec(ctx, runStmt,
		uuid.UUID(run.ID), uuid.UUID(run.EventID), uuid.UUID(run.CreatedBy), run.CreatedAt)
	if err != nil {
		if txcontext.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create payout run: %w", err)
	}

	const lineStmt = `
		INSERT INTO payout_lines (payout_run_id, promoter_id, amount_minor, currency)
		VALUES ($1, $2, $3, $4)
	`
	for _, line := range run.Lines {
		_, err := exec.Exec(ctx, lineStmt,
			uuid.UUID(line.PayoutRunID), uuid.UUID(line.PromoterID), line.Amount, line.Currency)
		if err != nil {
			return fmt.Errorf("create payout line: %w", err)
		}
	}
	return nil
}

func (s *Store) ListPayoutRuns(ctx context.Context, eventID id.EventID) ([]domain.PayoutRun, error) {
	const runQuery = `
		SELECT id, event_id, created_by, created_at
		FROM payout_runs WHERE event_id = $1
		ORDER BY created_at DESC
	`
	rows, err := txcontext.Executor(ctx, s.pool).Query(ctx, runQuery, uuid.UUID(eventID))
	if err != nil {
		return nil, fmt.Errorf("list payout runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.PayoutRun
	for rows.Next() {
		var (
			run                  domain.PayoutRun
			runID, evtID, byUser uuid.UUID
		)
		if err := rows.Scan(&runID, &evtID, &byUser, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payout run: %w", err)
		}
		run.ID = id.PayoutRunID(runID)
		run.EventID = id.EventID(evtID)
		run.CreatedBy = id.UserID(byUser)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		lines, err := s.listLines(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Lines = lines
	}
	return runs, nil
}

func (s *Store) listLines(ctx context.Context, runID id.PayoutRunID) ([]domain.PayoutLine, error) {
	const query = `
		SELECT payout_run_id, promoter_id, amount_minor, currency
		FROM payout_lines WHERE payout_run_id = $1
		ORDER BY promoter_id
	`
	rows, err := txcontext.Executor(ctx, s.pool).Query(ctx, query, uuid.UUID(runID))
	if err != nil {
		return nil, fmt.Errorf("list payout lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.PayoutLine
	for rows.Next() {
		var (
			line        domain.PayoutLine
			rID, promID uuid.UUID
		)
		if err := rows.Scan(&rID, &promID, &line.Amount, &line.Currency); err != nil {
			return nil, fmt.Errorf("scan payout line: %w", err)
		}
		line.PayoutRunID = id.PayoutRunID(rID)
		line.PromoterID = id.PromoterID(promID)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) DeletePayoutLines(ctx context.Context, eventID id.EventID) (int64, error) {
	const stmt = `
		DELETE FROM payout_lines
		WHERE payout_run_id IN (SELECT id FROM payout_runs WHERE event_id = $1)
	`
	tag, err := txcontext.Executor(ctx, s.pool).Exec(ctx, stmt, uuid.UUID(eventID))
	if err != nil {
		return 0, fmt.Errorf("delete payout lines: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeletePayoutRuns(ctx context.Context, eventID id.EventID) (int64, error) {
	const stmt = `DELETE FROM payout_runs WHERE event_id = $1`
	tag, err := txcontext.Executor(ctx, s.pool).Exec(ctx, stmt, uuid.UUID(eventID))
	if err != nil {
		return 0, fmt.Errorf("delete payout runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) SetCloseout(ctx context.Context, eventID id.EventID, closedBy id.UserID, at time.Time, notes string) error {
	const stmt = `
		UPDATE events
		SET status = 'closed', locked_at = $2, closed_at = $2, closed_by = $3, closeout_notes = $4
		WHERE id = $1
	`
	tag, err := txcontext.Executor(ctx, s.pool).Exec(ctx, stmt,
		uuid.UUID(eventID), at, uuid.UUID(closedBy), notes)
	if err != nil {
		return fmt.Errorf("set closeout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) ClearCloseout(ctx context.Context, eventID id.EventID) error {
	const stmt = `
		UPDATE events
		SET status = 'published', locked_at = NULL, closed_at = NULL, closed_by = NULL, closeout_notes = ''
		WHERE id = $1
	`
	tag, err := txcontext.Executor(ctx, s.pool).Exec(ctx, stmt, uuid.UUID(eventID))
	if err != nil {
		return fmt.Errorf("clear closeout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
